// Package command implements the outbox poller, Codec 12 command sender,
// response correlator and no-reply sweeper from spec §4.8, ported from
// async_packet_parser.py's _codec12_response_handler and the command
// outbox tables it reads/writes, re-expressed as explicit dependencies
// (a Store interface) rather than module-level globals.
package command

import (
	"context"
	"time"
)

// OutboxRow is one row of command_outbox awaiting delivery.
type OutboxRow struct {
	ID          int64
	IMEI        string
	CommandText string
	SendMethod  string
}

// SentRow is one row of command_sent: a command that has been
// transmitted and is awaiting (or has received) a device response.
type SentRow struct {
	ID           int64
	OutboxID     int64
	IMEI         string
	Status       string // "sent", "successful", "no_reply"
	SentAt       time.Time
	ResponseText string
}

// Store is the ops-store interface the correlator reads and writes.
// Implementations are expected to enforce per-IMEI ordering by
// OutboxRow.ID at the SQL level (ORDER BY id).
type Store interface {
	// PendingOutbox returns outbox rows with send_method="gprs" that
	// have not yet been sent, ordered by (imei, id).
	PendingOutbox(ctx context.Context) ([]OutboxRow, error)

	// HasOutstandingSent reports whether imei already has a
	// command_sent row in status "sent" (i.e. awaiting a response),
	// which blocks sending its next outbox row (spec §4.8 "per-IMEI
	// ordering").
	HasOutstandingSent(ctx context.Context, imei string) (bool, error)

	// MarkSent records a freshly transmitted command.
	MarkSent(ctx context.Context, outboxID int64, imei string, sentAt time.Time) error

	// MostRecentSent returns the most recent status="sent" row for
	// imei within the response grace window, or ok=false if none.
	MostRecentSent(ctx context.Context, imei string, grace time.Duration) (row SentRow, ok bool, err error)

	// MarkSuccessful resolves a command_sent row with the device's
	// response text.
	MarkSuccessful(ctx context.Context, sentID int64, responseText string) error

	// LogUnsolicitedResponse records a Codec 12 response that didn't
	// match any outstanding command_sent row (spec §4.8: "or logs an
	// unsolicited-response audit row").
	LogUnsolicitedResponse(ctx context.Context, imei, text string) error

	// SweepNoReply marks every status="sent" row older than cutoff as
	// "no_reply", idempotently, returning how many rows changed.
	SweepNoReply(ctx context.Context, cutoff time.Time) (int, error)
}

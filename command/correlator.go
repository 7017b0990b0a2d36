package command

import (
	"context"
	"log"
	"time"

	"github.com/megatechtrackers/teltonika-parser/codec"
	"github.com/megatechtrackers/teltonika-parser/device"
)

// Config bundles the correlator's timing knobs (spec §4.8).
type Config struct {
	PollInterval     time.Duration
	SweepInterval    time.Duration
	NoReplyThreshold time.Duration
	ResponseGrace    time.Duration
}

// Correlator runs the poller, sender, response handler and sweeper
// tasks described by spec §4.8. A single Correlator instance is shared
// by every session.Handler in the process (it implements
// session.CommandResponseHandler) and by the two background loops
// started with Run.
type Correlator struct {
	store  Store
	dir    *device.Directory
	cfg    Config
	logger *log.Logger
}

// New creates a Correlator.
func New(store Store, dir *device.Directory, cfg Config, logger *log.Logger) *Correlator {
	return &Correlator{store: store, dir: dir, cfg: cfg, logger: logger}
}

// Run drives the poller and sweeper loops until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) {
	pollTicker := time.NewTicker(c.cfg.PollInterval)
	sweepTicker := time.NewTicker(c.cfg.SweepInterval)
	defer pollTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			c.poll(ctx)
		case <-sweepTicker.C:
			c.sweep(ctx)
		}
	}
}

// poll sends every eligible outbox row once: a row is skipped (left
// pending) if its device has no active connection, or if the IMEI
// already has an outstanding "sent" command (spec §4.8 "per-IMEI
// ordering by outbox id, cross-IMEI concurrency").
func (c *Correlator) poll(ctx context.Context) {
	rows, err := c.store.PendingOutbox(ctx)
	if err != nil {
		c.warnf("listing pending outbox rows: %v", err)
		return
	}

	blocked := make(map[string]bool)
	for _, row := range rows {
		if blocked[row.IMEI] {
			continue
		}

		outstanding, err := c.store.HasOutstandingSent(ctx, row.IMEI)
		if err != nil {
			c.warnf("checking outstanding command for %s: %v", row.IMEI, err)
			continue
		}
		if outstanding {
			blocked[row.IMEI] = true
			continue
		}

		conn, ok := c.dir.ByIMEI(row.IMEI)
		if !ok || conn.Writer == nil {
			continue // no active connection; row stays pending
		}

		frame := codec.EncodeFrame(codec.EncodeCodec12Command(row.CommandText))
		if _, err := conn.Writer.Write(frame); err != nil {
			c.warnf("writing command frame to %s: %v", row.IMEI, err)
			continue
		}

		if err := c.store.MarkSent(ctx, row.ID, row.IMEI, time.Now()); err != nil {
			c.warnf("recording command_sent for %s: %v", row.IMEI, err)
		}
		blocked[row.IMEI] = true
	}
}

// sweep marks command_sent rows that have outlived NoReplyThreshold
// without a response as "no_reply" (spec §4.8 "sweeper").
func (c *Correlator) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.NoReplyThreshold)
	n, err := c.store.SweepNoReply(ctx, cutoff)
	if err != nil {
		c.warnf("sweeping stale command_sent rows: %v", err)
		return
	}
	if n > 0 && c.logger != nil {
		c.logger.Printf("INFO command: swept %d stale command_sent rows to no_reply", n)
	}
}

// HandleResponse implements session.CommandResponseHandler: it matches
// a decoded Codec 12 response against the most recent outstanding
// command_sent row for imei within the response grace window, or logs
// an unsolicited-response audit row if none matches (spec §4.8
// "Response handling").
func (c *Correlator) HandleResponse(imei string, text string) {
	ctx := context.Background()

	row, ok, err := c.store.MostRecentSent(ctx, imei, c.cfg.ResponseGrace)
	if err != nil {
		c.warnf("matching response for %s: %v", imei, err)
		return
	}
	if !ok {
		if err := c.store.LogUnsolicitedResponse(ctx, imei, text); err != nil {
			c.warnf("logging unsolicited response for %s: %v", imei, err)
		}
		return
	}

	if err := c.store.MarkSuccessful(ctx, row.ID, text); err != nil {
		c.warnf("marking command_sent %d successful: %v", row.ID, err)
	}
}

func (c *Correlator) warnf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("WARN command: "+format, args...)
	}
}

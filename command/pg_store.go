package command

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store, grounded on
// mapping.StoreLoader's pgxpool usage.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const pendingOutboxQuery = `
SELECT id, imei, command_text, send_method
FROM command_outbox
WHERE send_method = 'gprs'
  AND NOT EXISTS (
      SELECT 1 FROM command_sent cs WHERE cs.outbox_id = command_outbox.id
  )
ORDER BY imei, id`

func (s *PGStore) PendingOutbox(ctx context.Context) ([]OutboxRow, error) {
	rows, err := s.pool.Query(ctx, pendingOutboxQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.IMEI, &r.CommandText, &r.SendMethod); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) HasOutstandingSent(ctx context.Context, imei string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM command_sent WHERE imei = $1 AND status = 'sent')`, imei,
	).Scan(&exists)
	return exists, err
}

func (s *PGStore) MarkSent(ctx context.Context, outboxID int64, imei string, sentAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO command_sent (outbox_id, imei, status, sent_at) VALUES ($1, $2, 'sent', $3)`,
		outboxID, imei, sentAt)
	return err
}

func (s *PGStore) MostRecentSent(ctx context.Context, imei string, grace time.Duration) (SentRow, bool, error) {
	var row SentRow
	cutoff := time.Now().Add(-grace)
	err := s.pool.QueryRow(ctx,
		`SELECT id, outbox_id, imei, status, sent_at
		 FROM command_sent
		 WHERE imei = $1 AND status = 'sent' AND sent_at >= $2
		 ORDER BY sent_at DESC
		 LIMIT 1`, imei, cutoff,
	).Scan(&row.ID, &row.OutboxID, &row.IMEI, &row.Status, &row.SentAt)
	if err == pgx.ErrNoRows {
		return SentRow{}, false, nil
	}
	if err != nil {
		return SentRow{}, false, err
	}
	return row, true, nil
}

func (s *PGStore) MarkSuccessful(ctx context.Context, sentID int64, responseText string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE command_sent SET status = 'successful', response_text = $1 WHERE id = $2`,
		responseText, sentID)
	return err
}

func (s *PGStore) LogUnsolicitedResponse(ctx context.Context, imei, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO command_unsolicited_response (imei, response_text, received_at) VALUES ($1, $2, now())`,
		imei, text)
	return err
}

func (s *PGStore) SweepNoReply(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE command_sent SET status = 'no_reply' WHERE status = 'sent' AND sent_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

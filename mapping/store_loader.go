package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreLoader is the production Source: the relational IO mapping store
// consumed via mappings.by_imei / mappings.max_updated_at (spec §6
// "External services consumed"), backed by a pgx connection pool.
type StoreLoader struct {
	pool *pgxpool.Pool
}

// NewStoreLoader wraps an existing pgx pool and does not size it.
// main.go builds the pool with pgxpool.New from the DSN alone, so the
// database pool_size and pool_overflow config values are not applied;
// the pool runs with pgx's default connection limits.
func NewStoreLoader(pool *pgxpool.Pool) *StoreLoader {
	return &StoreLoader{pool: pool}
}

const loadQuery = `
SELECT imei, io_id, multiplier, io_type, io_name, value_name, trigger_value,
       target, column_name,
       extract(epoch from window_start)::bigint,
       extract(epoch from window_end)::bigint,
       is_alarm, is_sms, is_email, is_call, updated_at
FROM unit_io_mapping
WHERE imei = $1
`

func (s *StoreLoader) Load(ctx context.Context, imei string) ([]IoMapping, error) {
	rows, err := s.pool.Query(ctx, loadQuery, imei)
	if err != nil {
		return nil, fmt.Errorf("mapping: querying unit_io_mapping for %s: %w", imei, err)
	}
	defer rows.Close()

	var out []IoMapping
	for rows.Next() {
		var m IoMapping
		var ioType, target int
		var trigger *float64
		var windowStartSec, windowEndSec int64

		if err := rows.Scan(
			&m.IMEI, &m.IoID, &m.Multiplier, &ioType, &m.IoName, &m.ValueName,
			&trigger, &target, &m.ColumnName, &windowStartSec, &windowEndSec,
			&m.IsAlarm, &m.IsSMS, &m.IsEmail, &m.IsCall, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("mapping: scanning unit_io_mapping row: %w", err)
		}

		m.IoType = IoType(ioType)
		m.Target = Target(target)
		m.TriggerValue = trigger
		m.Window = Window{
			Start: time.Duration(windowStartSec) * time.Second,
			End:   time.Duration(windowEndSec) * time.Second,
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mapping: iterating unit_io_mapping rows: %w", err)
	}

	return out, nil
}

func (s *StoreLoader) MaxUpdatedAt(ctx context.Context, imei string) (time.Time, error) {
	var max *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(updated_at) FROM unit_io_mapping WHERE imei = $1`, imei,
	).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("mapping: querying max(updated_at) for %s: %w", imei, err)
	}
	if max == nil {
		return time.Time{}, nil
	}
	return *max, nil
}

package mapping

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// CSVLoader is the dev/test Source, ported from the original's
// csv_unit_io_mapping_loader.py: a flat CSV fixture with one row per
// IoMapping, re-read from disk on every Load (the LRU cache above this
// loader is what makes repeated lookups cheap, not caching inside the
// loader itself).
type CSVLoader struct {
	path string
	mu   sync.Mutex
}

// NewCSVLoader creates a loader reading mapping rows from path.
func NewCSVLoader(path string) *CSVLoader {
	return &CSVLoader{path: path}
}

var csvColumns = []string{
	"imei", "io_id", "multiplier", "io_type", "io_name", "value_name",
	"trigger_value", "target", "column_name", "window_start", "window_end",
	"is_alarm", "is_sms", "is_email", "is_call", "updated_at",
}

func (l *CSVLoader) readAll(ctx context.Context) ([]IoMapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("mapping: opening csv fixture %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("mapping: reading csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, want := range csvColumns {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("mapping: csv fixture missing column %q", want)
		}
	}

	var out []IoMapping
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := r.Read()
		if err != nil {
			break
		}
		m, err := parseCSVRow(idx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parseCSVRow(idx map[string]int, row []string) (IoMapping, error) {
	get := func(col string) string { return row[idx[col]] }

	ioID, err := strconv.ParseUint(get("io_id"), 10, 16)
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing io_id: %w", err)
	}
	multiplier, err := strconv.ParseFloat(get("multiplier"), 64)
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing multiplier: %w", err)
	}
	ioType, err := strconv.Atoi(get("io_type"))
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing io_type: %w", err)
	}
	target, err := strconv.Atoi(get("target"))
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing target: %w", err)
	}

	var trigger *float64
	if s := get("trigger_value"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return IoMapping{}, fmt.Errorf("mapping: parsing trigger_value: %w", err)
		}
		trigger = &v
	}

	windowStart, err := time.ParseDuration(get("window_start") + "m")
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing window_start: %w", err)
	}
	windowEnd, err := time.ParseDuration(get("window_end") + "m")
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing window_end: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339, get("updated_at"))
	if err != nil {
		return IoMapping{}, fmt.Errorf("mapping: parsing updated_at: %w", err)
	}

	return IoMapping{
		IMEI:         get("imei"),
		IoID:         uint16(ioID),
		Multiplier:   multiplier,
		IoType:       IoType(ioType),
		IoName:       get("io_name"),
		ValueName:    get("value_name"),
		TriggerValue: trigger,
		Target:       Target(target),
		ColumnName:   get("column_name"),
		Window:       Window{Start: windowStart, End: windowEnd},
		IsAlarm:      get("is_alarm") == "1" || get("is_alarm") == "true",
		IsSMS:        get("is_sms") == "1" || get("is_sms") == "true",
		IsEmail:      get("is_email") == "1" || get("is_email") == "true",
		IsCall:       get("is_call") == "1" || get("is_call") == "true",
		UpdatedAt:    updatedAt,
	}, nil
}

func (l *CSVLoader) Load(ctx context.Context, imei string) ([]IoMapping, error) {
	all, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []IoMapping
	for _, m := range all {
		if m.IMEI == imei {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *CSVLoader) MaxUpdatedAt(ctx context.Context, imei string) (time.Time, error) {
	rows, err := l.Load(ctx, imei)
	if err != nil {
		return time.Time{}, err
	}
	var max time.Time
	for _, m := range rows {
		if m.UpdatedAt.After(max) {
			max = m.UpdatedAt
		}
	}
	return max, nil
}

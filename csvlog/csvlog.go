package csvlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/megatechtrackers/teltonika-parser/clock"
)

// TrackPoint is one enriched GPS fix, the row shape written to trackdata.csv.
type TrackPoint struct {
	IMEI       string
	Vendor     string
	Timestamp  time.Time
	Latitude   float64
	Longitude  float64
	Altitude   int
	Angle      int
	Speed      int
	Satellites int
	Priority   int
	EventID    int
	Status     string
	Columns    map[string]string
	DynamicIO  map[string]any
}

// Event is a non-GPS, non-alarm enriched record (e.g. a status change),
// the row shape written to events.csv.
type Event struct {
	IMEI      string
	Vendor    string
	Timestamp time.Time
	EventID   int
	ValueName string
	Value     string
	Columns   map[string]string
}

// Alarm is an enriched record that passed alarm gating, the row shape
// written to alarms.csv.
type Alarm struct {
	IMEI      string
	Vendor    string
	Timestamp time.Time
	EventID   int
	ValueName string
	Value     string
	Target    int
	Columns   map[string]string
}

var trackHeader = []string{"imei", "vendor", "timestamp", "latitude", "longitude", "altitude", "angle", "speed", "satellites", "priority", "event_id", "status", "columns", "dynamic_io"}
var eventHeader = []string{"imei", "vendor", "timestamp", "event_id", "value_name", "value", "columns"}
var alarmHeader = []string{"imei", "vendor", "timestamp", "event_id", "value_name", "value", "target", "columns"}

// Logger writes the three fixed-column CSV streams used by the LOGS
// data_transfer_mode: trackdata, events and alarms. Each stream rotates
// to a new datestamped file daily via dailyWriter.
type Logger struct {
	clock clock.Clock

	trackW *dailyWriter
	eventW *dailyWriter
	alarmW *dailyWriter

	mu             sync.Mutex
	trackHeaderDay string
	eventHeaderDay string
	alarmHeaderDay string
}

// New creates a Logger writing trackdata/events/alarms CSVs under dir.
func New(dir string) *Logger {
	c := clock.NewSystemClock()
	return &Logger{
		clock:  c,
		trackW: newDailyWriter(dir, "trackdata", c),
		eventW: newDailyWriter(dir, "events", c),
		alarmW: newDailyWriter(dir, "alarms", c),
	}
}

func (l *Logger) today() string {
	now := l.clock.Now().UTC()
	return fmt.Sprintf("%04d%02d%02d", now.Year(), now.Month(), now.Day())
}

// Close stops every stream's rollover cron and closes any open file.
func (l *Logger) Close() error {
	l.trackW.Close()
	l.eventW.Close()
	l.alarmW.Close()
	return nil
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalAny(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// WriteTrackPoint appends one row to trackdata.csv, writing the header
// first if this is the first row of the day.
func (l *Logger) WriteTrackPoint(p TrackPoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		p.IMEI,
		p.Vendor,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%f", p.Latitude),
		fmt.Sprintf("%f", p.Longitude),
		fmt.Sprintf("%d", p.Altitude),
		fmt.Sprintf("%d", p.Angle),
		fmt.Sprintf("%d", p.Speed),
		fmt.Sprintf("%d", p.Satellites),
		fmt.Sprintf("%d", p.Priority),
		fmt.Sprintf("%d", p.EventID),
		p.Status,
		marshalMap(p.Columns),
		marshalAny(p.DynamicIO),
	}
	return l.writeRow(l.trackW, trackHeader, row, &l.trackHeaderDay)
}

// WriteEvent appends one row to events.csv.
func (l *Logger) WriteEvent(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		e.IMEI,
		e.Vendor,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%d", e.EventID),
		e.ValueName,
		e.Value,
		marshalMap(e.Columns),
	}
	return l.writeRow(l.eventW, eventHeader, row, &l.eventHeaderDay)
}

// WriteAlarm appends one row to alarms.csv.
func (l *Logger) WriteAlarm(a Alarm) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		a.IMEI,
		a.Vendor,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%d", a.EventID),
		a.ValueName,
		a.Value,
		fmt.Sprintf("%d", a.Target),
		marshalMap(a.Columns),
	}
	return l.writeRow(l.alarmW, alarmHeader, row, &l.alarmHeaderDay)
}

// writeRow writes header then row through a fresh csv.Writer. The header
// is re-emitted whenever the UTC date has moved on since the last row
// (lastHeaderDay starts as "" so the very first call always gets one) —
// each day's CSV file ends up self-describing on its own. A csv.Writer is
// cheap to construct per call and keeps us from holding a stale bufio
// buffer across a midnight rollover.
func (l *Logger) writeRow(w *dailyWriter, header, row []string, lastHeaderDay *string) error {
	today := l.today()
	cw := csv.NewWriter(w)
	if today != *lastHeaderDay {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("csvlog: writing header: %w", err)
		}
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("csvlog: writing row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	*lastHeaderDay = today
	return nil
}

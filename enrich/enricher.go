package enrich

import (
	"context"
	"fmt"
	"log"

	"github.com/megatechtrackers/teltonika-parser/clock"
	"github.com/megatechtrackers/teltonika-parser/codec"
	"github.com/megatechtrackers/teltonika-parser/mapping"
)

// LocationReference looks up the nearest point-of-interest reference
// for a coordinate pair, the *poi.nearest* external interface from
// spec §6.
type LocationReference interface {
	Nearest(ctx context.Context, lat, lon float64, maxKm float64) (referenceID int64, distanceM float64, found bool, err error)
}

// MappingSource is the subset of mapping.Cache the enricher needs.
type MappingSource interface {
	Get(ctx context.Context, imei string, ioID uint16) ([]mapping.IoMapping, error)
}

// Enricher converts decoded AVL records into published enrich.Record
// values.
type Enricher struct {
	mappings MappingSource
	location LocationReference
	clock    clock.Clock
	logger   *log.Logger

	locationMaxKm float64
}

// NewEnricher creates an Enricher. location may be nil if no POI
// service is configured, in which case location reference lookup is
// always skipped. clk may be nil, in which case the system clock
// stamps server_time; tests pass a fixed clock.Clock for determinism.
func NewEnricher(mappings MappingSource, location LocationReference, locationMaxKm float64, clk clock.Clock, logger *log.Logger) *Enricher {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Enricher{mappings: mappings, location: location, locationMaxKm: locationMaxKm, clock: clk, logger: logger}
}

// Enrich runs the full algorithm from spec §4.5 for one AVL record.
func (e *Enricher) Enrich(ctx context.Context, imei string, rec codec.AVLRecord) (Record, error) {
	out := Record{
		IMEI:       imei,
		EventID:    rec.IO.EventID,
		Priority:   uint8(rec.Priority),
		ServerTime: e.clock.Now().UTC().UnixMilli(),
		GPSTime:    rec.TimestampMS,
		Lat:        float64(rec.GPS.LatE7) / 1e7,
		Lon:        float64(rec.GPS.LonE7) / 1e7,
		Altitude:   rec.GPS.AltitudeM,
		Angle:      rec.GPS.AngleDeg,
		Satellites: rec.GPS.Satellites,
		Speed:      rec.GPS.SpeedKmh,
		Status:     "Normal",
		IsValid:    !rec.GPS.Invalid(),
		DynamicIO:  make(map[string]any),
		IoData:     make(map[string]int64),
		Columns:    make(map[string]string),
	}

	// io_data (spec §3 supplement): a raw decimal+hex dump of every IO
	// property on the record, independent of any mapping - always
	// populated the way _format_avl_record_to_dict's io_data dict is,
	// distinct from dynamic_io which only gets mapped/fallback values.
	for _, p := range rec.IO.Properties {
		out.IoData[fmt.Sprintf("io_%d", p.ID)] = p.Value
		out.IoData[fmt.Sprintf("io_%02X", p.ID)] = p.Value
	}

	// Preload every io_id's mappings present on this record so status
	// resolution and column writes share one cache round trip per id.
	byIoID := make(map[uint16][]mapping.IoMapping, len(rec.IO.Properties))
	for _, p := range rec.IO.Properties {
		if _, ok := byIoID[p.ID]; ok {
			continue
		}
		rows, err := e.mappings.Get(ctx, imei, p.ID)
		if err != nil {
			return Record{}, fmt.Errorf("enrich: loading mappings for io %d: %w", p.ID, err)
		}
		byIoID[p.ID] = rows
	}
	// event_id may reference an id with no IoProperty in this frame
	// (e.g. a pure status-change ping); its mapping is still needed for
	// status resolution.
	if _, ok := byIoID[rec.IO.EventID]; !ok {
		rows, err := e.mappings.Get(ctx, imei, rec.IO.EventID)
		if err != nil {
			return Record{}, fmt.Errorf("enrich: loading mappings for event_id %d: %w", rec.IO.EventID, err)
		}
		byIoID[rec.IO.EventID] = rows
	}

	hasAnyMapping := false
	for _, rows := range byIoID {
		if len(rows) > 0 {
			hasAnyMapping = true
			break
		}
	}

	var alarmCandidate *mapping.IoMapping

	// Status resolution (spec §4.5 step 4): find the IO property whose
	// id == event_id.
	for _, row := range byIoID[rec.IO.EventID] {
		if row.IoType != mapping.IoTypeDigital {
			continue
		}
		if row.Target != mapping.TargetStatus && row.Target != mapping.TargetBoth {
			continue
		}
		raw := findRawValue(rec.IO.Properties, rec.IO.EventID)
		if row.TriggerValue != nil && raw != nil && *row.TriggerValue == float64(*raw) {
			out.Status = fmt.Sprintf("%s %s", row.IoName, row.ValueName)
			r := row
			alarmCandidate = &r
			break
		}
	}

	// Column/JSON writes (spec §4.5 step 5).
	columnWritten := false
	for _, p := range rec.IO.Properties {
		for _, row := range byIoID[p.ID] {
			if row.Target != mapping.TargetColumn && row.Target != mapping.TargetBoth && row.Target != mapping.TargetJSON {
				continue
			}

			v := float64(p.Value)
			if row.Multiplier != 1.0 {
				v = v * row.Multiplier
			}

			if v == 0 {
				continue
			}

			if temperatureSentinel(row.IoName, p.Value) {
				continue
			}

			digital := row.IoType == mapping.IoTypeDigital && row.Multiplier == 1.0
			formatted := formatValue(v, row.Multiplier, digital)

			switch row.Target {
			case mapping.TargetColumn, mapping.TargetBoth:
				for _, col := range row.ColumnNames() {
					if schemaColumnSet[col] {
						out.Columns[col] = formatted
						columnWritten = true
					}
				}
			case mapping.TargetJSON:
				for _, col := range row.ColumnNames() {
					out.DynamicIO[col] = formatted
				}
			}
		}
	}

	// Fallback (spec §4.5 step 6): no mappings at all and nothing
	// written -> dump every raw value into dynamic_io.
	if !hasAnyMapping && !columnWritten {
		for _, p := range rec.IO.Properties {
			out.DynamicIO[fmt.Sprintf("io_%d", p.ID)] = p.Value
		}
	}

	// Alarm gating (spec §4.5 step 7).
	if alarmCandidate != nil && alarmCandidate.IsAlarm {
		gpsTime := rec.Timestamp()
		if alarmCandidate.Window.Contains(gpsTime) {
			out.IsAlarm = true
			out.IsSMS = alarmCandidate.IsSMS
			out.IsEmail = alarmCandidate.IsEmail
			out.IsCall = alarmCandidate.IsCall
		}
	}

	// Location reference (spec §4.5 step 8).
	if e.location != nil && out.IsValid && (out.Lat != 0 || out.Lon != 0) {
		refID, distM, found, err := e.location.Nearest(ctx, out.Lat, out.Lon, e.locationMaxKm)
		if err != nil {
			if e.logger != nil {
				e.logger.Printf("DEBUG enrich: location reference lookup failed: %v", err)
			}
		} else if found {
			km := distM / 1000
			out.ReferenceID = &refID
			out.DistanceKm = &km
		}
	}

	return out, nil
}

func findRawValue(props []codec.IoProperty, id uint16) *int64 {
	for _, p := range props {
		if p.ID == id {
			v := p.Value
			return &v
		}
	}
	return nil
}

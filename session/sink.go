package session

import (
	"context"

	"github.com/megatechtrackers/teltonika-parser/broker"
	"github.com/megatechtrackers/teltonika-parser/csvlog"
	"github.com/megatechtrackers/teltonika-parser/enrich"
)

// Sink is the classification-aware publish target a Handler writes
// enriched records to: either the broker (RABBITMQ mode) or the CSV
// writer (LOGS mode). Both implementations below satisfy spec §4.6's
// "Classification per record" rule from the caller's side: Handler
// always calls PublishTrackData, and conditionally calls PublishEvent /
// PublishAlarm, for every record.
type Sink interface {
	PublishTrackData(ctx context.Context, imei, deviceIP string, devicePort int, rec enrich.Record) bool
	PublishEvent(ctx context.Context, imei, deviceIP string, devicePort int, rec enrich.Record) bool
	PublishAlarm(ctx context.Context, imei, deviceIP string, devicePort int, rec enrich.Record) bool
}

// BrokerSink adapts a broker.Publisher to Sink, fixing the vendor name
// this parser node always publishes as.
type BrokerSink struct {
	Publisher *broker.Publisher
	Vendor    string
}

func (b BrokerSink) PublishTrackData(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	return b.Publisher.Publish(ctx, b.Vendor, imei, ip, port, broker.RecordTrackData, rec)
}

func (b BrokerSink) PublishEvent(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	return b.Publisher.Publish(ctx, b.Vendor, imei, ip, port, broker.RecordEvent, rec)
}

func (b BrokerSink) PublishAlarm(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	return b.Publisher.Publish(ctx, b.Vendor, imei, ip, port, broker.RecordAlarm, rec)
}

// CSVSink adapts a csvlog.Logger to Sink for data_transfer_mode=LOGS. A
// local disk write either succeeds synchronously or the process would
// already be failing loudly (disk full, permissions), so this sink
// always reports success once the write call returns without error,
// keeping the publish-before-ACK contract intact for the LOGS path too.
type CSVSink struct {
	Logger *csvlog.Logger
	Vendor string
}

func (c CSVSink) PublishTrackData(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	return c.Logger.WriteTrackPoint(toTrackPoint(c.Vendor, imei, rec)) == nil
}

func (c CSVSink) PublishEvent(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	return c.Logger.WriteEvent(csvlog.Event{
		IMEI:      imei,
		Vendor:    c.Vendor,
		Timestamp: rec.Timestamp(),
		EventID:   int(rec.EventID),
		ValueName: rec.Status,
		Columns:   rec.Columns,
	}) == nil
}

func (c CSVSink) PublishAlarm(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	target := 0
	if rec.IsSMS {
		target = 1
	}
	return c.Logger.WriteAlarm(csvlog.Alarm{
		IMEI:      imei,
		Vendor:    c.Vendor,
		Timestamp: rec.Timestamp(),
		EventID:   int(rec.EventID),
		ValueName: rec.Status,
		Target:    target,
		Columns:   rec.Columns,
	}) == nil
}

func toTrackPoint(vendor, imei string, rec enrich.Record) csvlog.TrackPoint {
	return csvlog.TrackPoint{
		IMEI:       imei,
		Vendor:     vendor,
		Timestamp:  rec.Timestamp(),
		Latitude:   rec.Lat,
		Longitude:  rec.Lon,
		Altitude:   int(rec.Altitude),
		Angle:      int(rec.Angle),
		Speed:      int(rec.Speed),
		Satellites: int(rec.Satellites),
		Priority:   int(rec.Priority),
		EventID:    int(rec.EventID),
		Status:     rec.Status,
		Columns:    rec.Columns,
		DynamicIO:  rec.DynamicIO,
	}
}

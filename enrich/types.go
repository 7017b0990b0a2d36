// Package enrich implements the record enricher (spec §4.5): it turns a
// decoded codec.AVLRecord plus the IMEI's IoMappings into the published
// Record shape, ported from async_packet_parser.py's
// _format_avl_record_to_dict / _format_io_value / _calculate_decimal_places.
package enrich

import (
	"encoding/json"
	"time"
)

// schemaColumns enumerates the fixed output columns the published
// record carries alongside its dynamic_io side-channel (spec §3
// "Enriched record"), in the order _format_avl_record_to_dict's
// base_record literal initializes them.
var schemaColumns = []string{
	"passenger_seat",
	"main_battery",
	"battery_voltage",
	"fuel",
	"dallas_temperature_1",
	"dallas_temperature_2",
	"dallas_temperature_3",
	"dallas_temperature_4",
	"ble_temperature_1",
	"ble_temperature_2",
	"ble_temperature_3",
	"ble_temperature_4",
	"ble_humidity_1",
	"ble_humidity_2",
	"ble_humidity_3",
	"ble_humidity_4",
	"green_driving_value",
}

var schemaColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(schemaColumns))
	for _, c := range schemaColumns {
		m[c] = true
	}
	return m
}()

// Record is one enriched, published record (spec §3). EventID/Priority
// are internal dispatch metadata (CSV logging, alarm classification)
// that the original never puts on the wire, so they're excluded from
// MarshalJSON's output; everything else mirrors base_record's keys.
type Record struct {
	IMEI        string
	EventID     uint16
	Priority    uint8
	ServerTime  int64 // unix ms, UTC now - set once by Enricher.Enrich
	GPSTime     int64 // unix ms, from the AVL record
	Lat         float64
	Lon         float64
	Altitude    int16
	Angle       uint16
	Satellites  uint8
	Speed       uint16
	Status      string
	IsValid     bool
	ReferenceID *int64
	DistanceKm  *float64
	DynamicIO   map[string]any
	IoData      map[string]int64
	Columns     map[string]string
	IsAlarm     bool
	IsSMS       bool
	IsEmail     bool
	IsCall      bool
}

// Timestamp converts GPSTime to a UTC time.Time.
func (r Record) Timestamp() time.Time {
	return time.UnixMilli(r.GPSTime).UTC()
}

// ServerTimestamp converts ServerTime to a UTC time.Time.
func (r Record) ServerTimestamp() time.Time {
	return time.UnixMilli(r.ServerTime).UTC()
}

// wireRecord is the JSON shape spec §3/§6 name for the published
// envelope's data object: schema columns flattened to top level,
// is_valid/is_alarm/is_sms/is_email/is_call rendered as 0/1 the way
// base_record does, reference_id/distance_km always present (null
// until a location reference is found), is_sms/is_email/is_call
// present only when is_alarm fired - the original only ever adds those
// three keys inside its alarm branch.
type wireRecord struct {
	IMEI       string  `json:"imei"`
	ServerTime string  `json:"server_time"`
	GPSTime    string  `json:"gps_time"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   int16   `json:"altitude"`
	Angle      uint16  `json:"angle"`
	Satellites uint8   `json:"satellites"`
	Speed      uint16  `json:"speed"`
	Status     string  `json:"status"`

	PassengerSeat      string `json:"passenger_seat"`
	MainBattery        string `json:"main_battery"`
	BatteryVoltage     string `json:"battery_voltage"`
	Fuel               string `json:"fuel"`
	DallasTemperature1 string `json:"dallas_temperature_1"`
	DallasTemperature2 string `json:"dallas_temperature_2"`
	DallasTemperature3 string `json:"dallas_temperature_3"`
	DallasTemperature4 string `json:"dallas_temperature_4"`
	BleTemperature1    string `json:"ble_temperature_1"`
	BleTemperature2    string `json:"ble_temperature_2"`
	BleTemperature3    string `json:"ble_temperature_3"`
	BleTemperature4    string `json:"ble_temperature_4"`
	BleHumidity1       string `json:"ble_humidity_1"`
	BleHumidity2       string `json:"ble_humidity_2"`
	BleHumidity3       string `json:"ble_humidity_3"`
	BleHumidity4       string `json:"ble_humidity_4"`
	GreenDrivingValue  string `json:"green_driving_value"`

	DynamicIO map[string]any   `json:"dynamic_io"`
	IoData    map[string]int64 `json:"io_data,omitempty"`

	IsValid     int      `json:"is_valid"`
	ReferenceID *int64   `json:"reference_id"`
	DistanceKm  *float64 `json:"distance_km"`
	IsAlarm     int      `json:"is_alarm"`
	IsSMS       *int     `json:"is_sms,omitempty"`
	IsEmail     *int     `json:"is_email,omitempty"`
	IsCall      *int     `json:"is_call,omitempty"`
}

// MarshalJSON renders Record the way _format_avl_record_to_dict builds
// base_record: snake_case keys, 0/1 booleans, schema columns flattened
// to top level instead of nested under Columns.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		IMEI:       r.IMEI,
		ServerTime: r.ServerTimestamp().Format(time.RFC3339Nano),
		GPSTime:    r.Timestamp().Format(time.RFC3339Nano),
		Latitude:   r.Lat,
		Longitude:  r.Lon,
		Altitude:   r.Altitude,
		Angle:      r.Angle,
		Satellites: r.Satellites,
		Speed:      r.Speed,
		Status:     r.Status,

		PassengerSeat:      r.Columns[schemaColumns[0]],
		MainBattery:        r.Columns[schemaColumns[1]],
		BatteryVoltage:     r.Columns[schemaColumns[2]],
		Fuel:               r.Columns[schemaColumns[3]],
		DallasTemperature1: r.Columns[schemaColumns[4]],
		DallasTemperature2: r.Columns[schemaColumns[5]],
		DallasTemperature3: r.Columns[schemaColumns[6]],
		DallasTemperature4: r.Columns[schemaColumns[7]],
		BleTemperature1:    r.Columns[schemaColumns[8]],
		BleTemperature2:    r.Columns[schemaColumns[9]],
		BleTemperature3:    r.Columns[schemaColumns[10]],
		BleTemperature4:    r.Columns[schemaColumns[11]],
		BleHumidity1:       r.Columns[schemaColumns[12]],
		BleHumidity2:       r.Columns[schemaColumns[13]],
		BleHumidity3:       r.Columns[schemaColumns[14]],
		BleHumidity4:       r.Columns[schemaColumns[15]],
		GreenDrivingValue:  r.Columns[schemaColumns[16]],

		DynamicIO:   r.DynamicIO,
		IoData:      r.IoData,
		IsValid:     boolToInt(r.IsValid),
		ReferenceID: r.ReferenceID,
		DistanceKm:  r.DistanceKm,
		IsAlarm:     boolToInt(r.IsAlarm),
	}
	if r.IsAlarm {
		w.IsSMS = intPtr(boolToInt(r.IsSMS))
		w.IsEmail = intPtr(boolToInt(r.IsEmail))
		w.IsCall = intPtr(boolToInt(r.IsCall))
	}
	return json.Marshal(w)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intPtr(v int) *int { return &v }

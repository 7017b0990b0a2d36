package enrich

import (
	"encoding/json"
	"testing"
)

func TestRecordMarshalJSONUsesSnakeCaseAndFlattensColumns(t *testing.T) {
	r := Record{
		IMEI:       "123456789012345",
		ServerTime: 1000,
		GPSTime:    2000,
		Lat:        51.5,
		Lon:        -0.1,
		Status:     "Normal",
		IsValid:    true,
		DynamicIO:  map[string]any{"io_66": int64(1)},
		IoData:     map[string]int64{"io_66": 1, "io_42": 1},
		Columns:    map[string]string{"main_battery": "12.500"},
	}

	body, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, key := range []string{"imei", "server_time", "gps_time", "latitude", "longitude", "is_valid", "main_battery", "passenger_seat", "dynamic_io", "io_data"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("expected key %q in published JSON, got %v", key, m)
		}
	}
	if _, ok := m["IMEI"]; ok {
		t.Fatalf("did not expect Go-cased field name IMEI in published JSON")
	}
	if _, ok := m["Columns"]; ok {
		t.Fatalf("did not expect nested Columns object, schema columns must flatten to top level")
	}
	if v, _ := m["is_valid"].(float64); v != 1 {
		t.Fatalf("expected is_valid=1, got %v", m["is_valid"])
	}
	if v, _ := m["main_battery"].(string); v != "12.500" {
		t.Fatalf("expected main_battery flattened to \"12.500\", got %v", m["main_battery"])
	}
	if v, _ := m["passenger_seat"].(string); v != "" {
		t.Fatalf("expected unset schema column to default to empty string, got %v", m["passenger_seat"])
	}
	if _, present := m["is_sms"]; present {
		t.Fatalf("did not expect is_sms when is_alarm is false")
	}
}

func TestRecordMarshalJSONIncludesAlarmFieldsOnlyWhenAlarmed(t *testing.T) {
	r := Record{IsAlarm: true, IsSMS: true, IsEmail: false, Columns: map[string]string{}}

	body, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(body, &m)

	if v, _ := m["is_alarm"].(float64); v != 1 {
		t.Fatalf("expected is_alarm=1, got %v", m["is_alarm"])
	}
	if v, ok := m["is_sms"].(float64); !ok || v != 1 {
		t.Fatalf("expected is_sms=1 present, got %v", m["is_sms"])
	}
	if v, ok := m["is_email"].(float64); !ok || v != 0 {
		t.Fatalf("expected is_email=0 present (not omitted), got %v", m["is_email"])
	}
}

func TestRecordMarshalJSONAlwaysIncludesNullLocationFields(t *testing.T) {
	r := Record{Columns: map[string]string{}}

	body, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(body, &m)

	refID, ok := m["reference_id"]
	if !ok {
		t.Fatalf("expected reference_id key present even when nil")
	}
	if refID != nil {
		t.Fatalf("expected reference_id null, got %v", refID)
	}
}

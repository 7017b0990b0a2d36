package broker

import (
	"context"
	"testing"
)

func TestPriorityForRecordType(t *testing.T) {
	if priorityFor(RecordAlarm) != 10 {
		t.Fatalf("expected alarm priority 10")
	}
	if priorityFor(RecordTrackData) != 0 || priorityFor(RecordEvent) != 0 {
		t.Fatalf("expected non-alarm priority 0")
	}
}

func TestShutdownFastFailsPublish(t *testing.T) {
	p := New(Config{Exchange: "tracking_data_exchange"}, nil)
	p.Shutdown()

	if p.Publish(context.Background(), "teltonika", "123", "1.2.3.4", 5027, RecordTrackData, map[string]any{"a": 1}) {
		t.Fatalf("expected Publish to fast-fail after Shutdown")
	}
}

func TestIsReadyFalseBeforeConnect(t *testing.T) {
	p := New(Config{}, nil)
	if p.IsReady() {
		t.Fatalf("expected IsReady false before Connect")
	}
}

package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeBroker struct{ ready bool }

func (f fakeBroker) IsReady() bool { return f.ready }

type fakeListener struct{ count int }

func (f fakeListener) ActiveConnections() int { return f.count }

func TestHealthOKWhenBrokerConnected(t *testing.T) {
	s := New(fakeBroker{ready: true}, fakeListener{count: 3}, time.Minute)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !st.BrokerConnected || st.ActiveConnections != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestHealthDegradedPastGrace(t *testing.T) {
	s := New(fakeBroker{ready: false}, fakeListener{}, 10*time.Millisecond)

	rr1 := httptest.NewRecorder()
	s.handle(rr1, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first disconnect to still be within grace, got %d", rr1.Code)
	}

	time.Sleep(30 * time.Millisecond)

	rr2 := httptest.NewRecorder()
	s.handle(rr2, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once past grace, got %d", rr2.Code)
	}
}

func TestHealthRecoversOnReconnect(t *testing.T) {
	broker := &fakeBroker{ready: false}
	s := New(broker, fakeListener{}, time.Millisecond)

	s.handle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	time.Sleep(5 * time.Millisecond)
	broker.ready = true

	rr := httptest.NewRecorder()
	s.handle(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after reconnect, got %d", rr.Code)
	}
}

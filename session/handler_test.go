package session

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/megatechtrackers/teltonika-parser/codec"
	"github.com/megatechtrackers/teltonika-parser/config"
	"github.com/megatechtrackers/teltonika-parser/device"
	"github.com/megatechtrackers/teltonika-parser/enrich"
	"github.com/megatechtrackers/teltonika-parser/mapping"
)

// recordingSink counts publishes and can be told to fail every call.
type recordingSink struct {
	mu        sync.Mutex
	track     int
	event     int
	alarm     int
	failNext  bool
}

func (s *recordingSink) PublishTrackData(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track++
	return !s.failNext
}

func (s *recordingSink) PublishEvent(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event++
	return !s.failNext
}

func (s *recordingSink) PublishAlarm(ctx context.Context, imei, ip string, port int, rec enrich.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm++
	return !s.failNext
}

type emptyMappingSource struct{}

func (emptyMappingSource) Get(ctx context.Context, imei string, ioID uint16) ([]mapping.IoMapping, error) {
	return nil, nil
}

func testConfig() config.TCPServerConfig {
	return config.TCPServerConfig{
		MaxPacketSizeBytes: 1024,
		ReadTimeoutSeconds: 1,
	}
}

func buildCodec8Frame(imei string) []byte {
	// Minimal Codec 8 payload: one record, zero IO elements.
	payload := []byte{
		0x08, // codec id
		0x01, // record count
	}
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, 1700000000000)
	payload = append(payload, ts...)
	payload = append(payload, 0x01) // priority
	gps := make([]byte, 15)
	payload = append(payload, gps...)
	eventID := make([]byte, 2)
	payload = append(payload, eventID...)
	payload = append(payload, 0x00)             // total io = 0
	payload = append(payload, 0x00, 0x00, 0x00, 0x00) // 4 empty size groups (1 count byte each)
	payload = append(payload, 0x01)             // trailing record count

	return codec.EncodeFrame(payload)
}

func runClientLogin(t *testing.T, conn net.Conn, imei string) {
	t.Helper()
	lenPrefix := make([]byte, 2)
	binary.BigEndian.PutUint16(lenPrefix, uint16(len(imei)))
	if _, err := conn.Write(lenPrefix); err != nil {
		t.Fatalf("writing imei length: %v", err)
	}
	if _, err := conn.Write([]byte(imei)); err != nil {
		t.Fatalf("writing imei: %v", err)
	}
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		t.Fatalf("reading login ack: %v", err)
	}
	if ack[0] != 0x01 {
		t.Fatalf("expected login ack 0x01, got %#x", ack[0])
	}
}

func TestHandlerHappyPathLoginAndAck(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dir := device.New()
	sink := &recordingSink{}
	enricher := enrich.NewEnricher(emptyMappingSource{}, nil, 0, nil, nil)
	h := New(server, testConfig(), dir, sink, enricher, nil, nil)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	imei := "123456789012345"
	runClientLogin(t, client, imei)

	frame := buildCodec8Frame(imei)
	if _, err := client.Write(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	ackBuf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(ackBuf); err != nil {
		t.Fatalf("reading data ack: %v", err)
	}
	if binary.BigEndian.Uint32(ackBuf) != 1 {
		t.Fatalf("expected ack count 1, got %d", binary.BigEndian.Uint32(ackBuf))
	}

	sink.mu.Lock()
	if sink.track != 1 {
		t.Fatalf("expected 1 trackdata publish, got %d", sink.track)
	}
	sink.mu.Unlock()

	client.Close()
	<-done
}

func TestHandlerWithholdsAckOnPublishFailure(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dir := device.New()
	sink := &recordingSink{failNext: true}
	enricher := enrich.NewEnricher(emptyMappingSource{}, nil, 0, nil, nil)
	h := New(server, testConfig(), dir, sink, enricher, nil, nil)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	imei := "123456789012345"
	runClientLogin(t, client, imei)

	frame := buildCodec8Frame(imei)
	if _, err := client.Write(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	ackBuf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err := client.Read(ackBuf)
	if err == nil {
		t.Fatalf("expected no ack to be written when publish fails")
	}

	client.Close()
	<-done
}

func TestHandlerRejectsInvalidIMEI(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dir := device.New()
	sink := &recordingSink{}
	enricher := enrich.NewEnricher(emptyMappingSource{}, nil, 0, nil, nil)
	h := New(server, testConfig(), dir, sink, enricher, nil, nil)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	lenPrefix := make([]byte, 2)
	binary.BigEndian.PutUint16(lenPrefix, 3)
	client.Write(lenPrefix)
	client.Write([]byte("abc"))

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected connection to close without an ack for an invalid imei")
	}

	client.Close()
	<-done
	if dir.Count() != 0 {
		t.Fatalf("expected no directory registration for a rejected connection")
	}
}

func TestIsValidIMEI(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123456789012345", true},
		{"", false},
		{"1234567890123456789012", false}, // length 21+
		{"12345678901234a", false},
	}
	for _, c := range cases {
		if got := isValidIMEI(c.in); got != c.want {
			t.Errorf("isValidIMEI(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

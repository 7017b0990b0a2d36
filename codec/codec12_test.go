package codec

import "testing"

func TestCodec12RoundTrip(t *testing.T) {
	payload := EncodeCodec12Command("getinfo")
	frame, err := DecodeCodec12(payload)
	if err != nil {
		t.Fatalf("DecodeCodec12: %v", err)
	}
	if frame.Type != Codec12Command || frame.Text != "getinfo" {
		t.Fatalf("round trip mismatch: %+v", frame)
	}
}

func TestCodec12QuantityMismatch(t *testing.T) {
	payload := EncodeCodec12Command("x")
	payload[len(payload)-1] = 2 // corrupt quantity2
	_, err := DecodeCodec12(payload)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != QuantityMismatch {
		t.Fatalf("expected QuantityMismatch, got %v", err)
	}
}

func TestIsCodec12PacketAndResponse(t *testing.T) {
	cmd := EncodeCodec12Command("getinfo")
	if !IsCodec12Packet(cmd) {
		t.Fatalf("expected IsCodec12Packet true for command frame")
	}
	if IsCodec12Response(cmd) {
		t.Fatalf("expected IsCodec12Response false for command frame")
	}

	resp := make([]byte, len(cmd))
	copy(resp, cmd)
	resp[1] = 1
	resp[2] = byte(Codec12Response)
	if !IsCodec12Response(resp) {
		t.Fatalf("expected IsCodec12Response true once type byte set to response")
	}
}

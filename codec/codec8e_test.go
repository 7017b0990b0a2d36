package codec

import "testing"

func buildCodec8EPayload() []byte {
	var b []byte
	b = append(b, CodecID8E)
	b = append(b, 1) // record count

	ts := int64(1704067200000)
	b = append(b,
		byte(ts>>56), byte(ts>>48), byte(ts>>40), byte(ts>>32),
		byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts))
	b = append(b, 0) // priority

	lon, lat := int32(670011000), int32(248607000)
	b = append(b, byte(lon>>24), byte(lon>>16), byte(lon>>8), byte(lon))
	b = append(b, byte(lat>>24), byte(lat>>16), byte(lat>>8), byte(lat))
	b = append(b, 0, 0, 0, 0, 5, 0, 0)

	b = append(b, 0, 2) // event_id u16 = 2
	b = append(b, 0, 2) // total_io u16 = 2 (one 1-byte group entry + one variable entry)

	// 1-byte group: count=1, id=1, value=9
	b = append(b, 0, 1, 0, 1, 9)
	// 2-byte group: count=0
	b = append(b, 0, 0)
	// 4-byte group: count=0
	b = append(b, 0, 0)
	// 8-byte group: count=0
	b = append(b, 0, 0)
	// variable group: count=1, {id=5, len=3, bytes}
	b = append(b, 0, 1, 0, 5, 0, 3, 'a', 'b', 'c')

	b = append(b, 1) // trailer record count
	return b
}

func TestDecodeCodec8EHappyPath(t *testing.T) {
	payload := buildCodec8EPayload()
	frame, err := DecodeCodec8E(payload)
	if err != nil {
		t.Fatalf("DecodeCodec8E: %v", err)
	}
	rec := frame.Records[0]
	if len(rec.IO.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d: %+v", len(rec.IO.Properties), rec.IO.Properties)
	}
	if rec.IO.Properties[0].ID != 1 || rec.IO.Properties[0].Value != 9 {
		t.Fatalf("unexpected fixed-width property: %+v", rec.IO.Properties[0])
	}
	variable := rec.IO.Properties[1]
	if variable.ID != 5 || string(variable.Bytes) != "abc" {
		t.Fatalf("unexpected variable property: %+v", variable)
	}
}

func TestDecodeCodec8ETotalIOMismatch(t *testing.T) {
	payload := buildCodec8EPayload()
	// corrupt total_io to 3 (offset 28-29: codec+count+ts8+priority+gps15+event_id2)
	payload[28] = 0
	payload[29] = 3
	_, err := DecodeCodec8E(payload)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != QuantityMismatch {
		t.Fatalf("expected QuantityMismatch, got %v", err)
	}
}

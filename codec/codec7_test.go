package codec

import (
	"math"
	"testing"
)

func TestDecodeCodec7WithCoords(t *testing.T) {
	var b []byte
	b = append(b, CodecID7)

	// priority=1 (high), seconds since epoch = 100
	word := uint32(1)<<30 | uint32(100)
	b = append(b, byte(word>>24), byte(word>>16), byte(word>>8), byte(word))

	b = append(b, bitGPSElement) // global mask

	subMask := byte(bitCoords | bitAltitude | bitAngle | bitSpeed | bitSatellites)
	b = append(b, subMask)

	latBits := math.Float32bits(24.8607)
	lonBits := math.Float32bits(67.0011)
	b = append(b, byte(latBits>>24), byte(latBits>>16), byte(latBits>>8), byte(latBits))
	b = append(b, byte(lonBits>>24), byte(lonBits>>16), byte(lonBits>>8), byte(lonBits))
	b = append(b, 0, 10) // altitude = 10
	b = append(b, 128)   // angle byte -> 128*360/256 = 180
	b = append(b, 50)    // speed
	b = append(b, 6)     // satellites

	frame, err := DecodeCodec7(b)
	if err != nil {
		t.Fatalf("DecodeCodec7: %v", err)
	}
	rec := frame.Records[0]
	if rec.Priority != PriorityHigh {
		t.Fatalf("expected priority high, got %v", rec.Priority)
	}
	if rec.TimestampMS != (codec7Epoch+100)*1000 {
		t.Fatalf("timestamp mismatch: got %d", rec.TimestampMS)
	}
	wantLatE7, wantLonE7 := int32(24.8607*1e7), int32(67.0011*1e7)
	if diff := rec.GPS.LatE7 - wantLatE7; diff < -10 || diff > 10 {
		t.Fatalf("expected lat ~%d (first word), got %d - check word order", wantLatE7, rec.GPS.LatE7)
	}
	if diff := rec.GPS.LonE7 - wantLonE7; diff < -10 || diff > 10 {
		t.Fatalf("expected lon ~%d (second word), got %d - check word order", wantLonE7, rec.GPS.LonE7)
	}
	if rec.GPS.AngleDeg != 180 {
		t.Fatalf("expected angle 180, got %d", rec.GPS.AngleDeg)
	}
	if rec.GPS.SpeedKmh != 50 {
		t.Fatalf("expected speed 50, got %d", rec.GPS.SpeedKmh)
	}
	if rec.GPS.Satellites != 6 {
		t.Fatalf("expected satellites 6, got %d", rec.GPS.Satellites)
	}
}

func TestDecodeCodec7NoCoordsSentinel(t *testing.T) {
	var b []byte
	b = append(b, CodecID7)
	word := uint32(0)<<30 | uint32(5)
	b = append(b, byte(word>>24), byte(word>>16), byte(word>>8), byte(word))
	b = append(b, bitGPSElement) // global mask: gps element present

	subMask := byte(0) // no coords bit
	b = append(b, subMask)

	frame, err := DecodeCodec7(b)
	if err != nil {
		t.Fatalf("DecodeCodec7: %v", err)
	}
	rec := frame.Records[0]
	if rec.GPS.LatE7 != 0 || rec.GPS.LonE7 != 0 {
		t.Fatalf("expected zero coords, got %+v", rec.GPS)
	}
	if rec.GPS.SpeedKmh != invalidSpeedSentinel {
		t.Fatalf("expected invalid speed sentinel %d, got %d", invalidSpeedSentinel, rec.GPS.SpeedKmh)
	}
	if !rec.GPS.Invalid() {
		t.Fatalf("expected invalid fix")
	}
}

func TestDecodeCodec7OutOfRangeCoordsForcesSentinel(t *testing.T) {
	var b []byte
	b = append(b, CodecID7)
	word := uint32(0)<<30 | uint32(5)
	b = append(b, byte(word>>24), byte(word>>16), byte(word>>8), byte(word))
	b = append(b, bitGPSElement)

	subMask := byte(bitCoords | bitSpeed | bitSatellites)
	b = append(b, subMask)

	// out-of-range latitude (> 90) and longitude (> 180) must each be
	// zeroed, leaving (0,0), same as an absent fix.
	latBits := math.Float32bits(200.0)
	lonBits := math.Float32bits(200.0)
	b = append(b, byte(latBits>>24), byte(latBits>>16), byte(latBits>>8), byte(latBits))
	b = append(b, byte(lonBits>>24), byte(lonBits>>16), byte(lonBits>>8), byte(lonBits))
	b = append(b, 50) // speed byte, overridden by the (0,0) sentinel below
	b = append(b, 6)  // satellites byte, overridden by the (0,0) sentinel below

	frame, err := DecodeCodec7(b)
	if err != nil {
		t.Fatalf("DecodeCodec7: %v", err)
	}
	rec := frame.Records[0]
	if rec.GPS.LatE7 != 0 || rec.GPS.LonE7 != 0 {
		t.Fatalf("expected coords zeroed by range check, got %+v", rec.GPS)
	}
	if rec.GPS.SpeedKmh != invalidSpeedSentinel {
		t.Fatalf("expected speed overridden to sentinel %d despite speed bit present, got %d", invalidSpeedSentinel, rec.GPS.SpeedKmh)
	}
	if rec.GPS.Satellites != 0 {
		t.Fatalf("expected satellites overridden to 0 despite satellites bit present, got %d", rec.GPS.Satellites)
	}
}

func TestDecodeCodec7IntGroups(t *testing.T) {
	var b []byte
	b = append(b, CodecID7)
	word := uint32(0)
	b = append(b, byte(word>>24), byte(word>>16), byte(word>>8), byte(word))
	b = append(b, byte(bitIOInt8)) // only int8 group present

	// int8 group: count=2, {id=1,val=7}, {id=2,val=9}
	b = append(b, 2, 1, 7, 2, 9)

	frame, err := DecodeCodec7(b)
	if err != nil {
		t.Fatalf("DecodeCodec7: %v", err)
	}
	props := frame.Records[0].IO.Properties
	if len(props) != 2 || props[0].Value != 7 || props[1].Value != 9 {
		t.Fatalf("unexpected int8 group decode: %+v", props)
	}
}

package codec

import "github.com/megatechtrackers/teltonika-parser/bytesreader"

// codec7Epoch is seconds-since-2007-01-01 UTC, the base the packed
// priority+timestamp word counts from (original codec7.py GhAvlDataTime).
const codec7Epoch = 1167609600 // 2007-01-01T00:00:00Z in Unix seconds

// Codec 7 global bitmask bits selecting which top-level groups are
// present in a record.
const (
	bitGPSElement = 1 << 0
	bitIOInt8     = 1 << 1
	bitIOInt16    = 1 << 2
	bitIOInt32    = 1 << 3
)

// Codec 7 GPS sub-element bitmask bits.
const (
	bitCoords         = 1 << 0
	bitAltitude       = 1 << 1
	bitAngle          = 1 << 2
	bitSpeed          = 1 << 3
	bitSatellites     = 1 << 4
	bitCellID         = 1 << 5
	bitSignalQuality  = 1 << 6
	bitOperatorCode   = 1 << 7
)

// IO property ids Codec 7 reserves for GPS sub-elements that don't fit
// the GPS struct (original codec7.py IoProperty constants).
//
// The original also carries a synthetic ALARM_PROPERTY_ID=204 emitted
// when priority==ALARM, but ALARM there is the literal enum value 10,
// not reachable from this word's 2-bit priority field (0-3) - so that
// branch is dead and isn't ported.
const (
	IoCellID        uint16 = 200
	IoSignalQuality uint16 = 201
	IoOperatorCode  uint16 = 202
)

const defaultSatellites uint8 = 3
const invalidSpeedSentinel uint16 = 255

// DecodeCodec7 decodes a single Codec 7 (GH) record. Unlike Codec
// 8/8E/16, a Codec 7 payload carries exactly one record with no
// count/trailer framing, mirroring the original codec7.py decoder.
func DecodeCodec7(payload []byte) (*Frame, error) {
	r := bytesreader.New(payload)

	codecID, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading codec id: %v", err)
	}
	if codecID != CodecID7 {
		return nil, newDecodeError(UnsupportedCodec, "got codec id %#x, want %#x", codecID, CodecID7)
	}

	word, err := r.ReadInt32()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading priority/timestamp word: %v", err)
	}
	priority := Priority(uint32(word) >> 30)
	secondsSinceEpoch := uint32(word) & 0x3FFFFFFF
	timestampMS := (int64(codec7Epoch) + int64(secondsSinceEpoch)) * 1000

	mask, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading global mask: %v", err)
	}

	var gps GPS
	var props []IoProperty

	if mask&bitGPSElement != 0 {
		g, gpsProps, err := decodeCodec7GPS(r)
		if err != nil {
			return nil, err
		}
		gps = g
		props = append(props, gpsProps...)
	} else {
		gps.SpeedKmh = uint16(invalidSpeedSentinel)
	}

	if mask&bitIOInt8 != 0 {
		group, err := decodeCodec7IntGroup(r, 1)
		if err != nil {
			return nil, err
		}
		props = append(props, group...)
	}
	if mask&bitIOInt16 != 0 {
		group, err := decodeCodec7IntGroup(r, 2)
		if err != nil {
			return nil, err
		}
		props = append(props, group...)
	}
	if mask&bitIOInt32 != 0 {
		group, err := decodeCodec7IntGroup(r, 4)
		if err != nil {
			return nil, err
		}
		props = append(props, group...)
	}

	rec := AVLRecord{
		TimestampMS: timestampMS,
		Priority:    priority,
		GPS:         gps,
		IO:          IO{Properties: props},
	}

	return &Frame{CodecID: codecID, Records: []AVLRecord{rec}}, nil
}

// decodeCodec7GPS reads the GPS sub-element. Whenever the decoded
// position ends up (0,0) - coords absent, or present but out of range -
// speed is forced to the invalid sentinel 255 and satellites to 0, per
// spec §4.3.
func decodeCodec7GPS(r *bytesreader.Reader) (GPS, []IoProperty, error) {
	var g GPS
	var extra []IoProperty

	subMask, err := r.ReadByte()
	if err != nil {
		return g, nil, newDecodeError(Truncated, "reading gps sub-mask: %v", err)
	}

	if subMask&bitCoords != 0 {
		latF, err := r.ReadFloat32()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading latitude: %v", err)
		}
		lonF, err := r.ReadFloat32()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading longitude: %v", err)
		}
		if latF < -90 || latF > 90 {
			latF = 0
		}
		if lonF < -180 || lonF > 180 {
			lonF = 0
		}
		g.LatE7 = int32(latF * 1e7)
		g.LonE7 = int32(lonF * 1e7)
	}

	g.Satellites = defaultSatellites

	if subMask&bitAltitude != 0 {
		alt, err := r.ReadInt16()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading altitude: %v", err)
		}
		g.AltitudeM = alt
	}

	if subMask&bitAngle != 0 {
		angleByte, err := r.ReadByte()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading angle: %v", err)
		}
		g.AngleDeg = uint16(angleByte) * 360 / 256
	}

	if subMask&bitSpeed != 0 {
		speedByte, err := r.ReadByte()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading speed: %v", err)
		}
		g.SpeedKmh = uint16(speedByte)
	}

	if subMask&bitSatellites != 0 {
		sats, err := r.ReadByte()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading satellites: %v", err)
		}
		g.Satellites = sats
	}

	if subMask&bitCellID != 0 {
		v, err := r.ReadUint16()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading cell id: %v", err)
		}
		extra = append(extra, IoProperty{ID: IoCellID, Value: int64(v)})
	}

	if subMask&bitSignalQuality != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading signal quality: %v", err)
		}
		extra = append(extra, IoProperty{ID: IoSignalQuality, Value: int64(v)})
	}

	if subMask&bitOperatorCode != 0 {
		v, err := r.ReadUint32()
		if err != nil {
			return g, nil, newDecodeError(Truncated, "reading operator code: %v", err)
		}
		extra = append(extra, IoProperty{ID: IoOperatorCode, Value: int64(v)})
	}

	// N/A position sentinel (original codec7.py: "if x == 0 and y == 0"),
	// applied regardless of whether the coords bit was present at all.
	if g.LatE7 == 0 && g.LonE7 == 0 {
		g.SpeedKmh = invalidSpeedSentinel
		g.Satellites = 0
	}

	return g, extra, nil
}

// decodeCodec7IntGroup reads a count-prefixed run of {id:u8, value} pairs
// at the given element width, the reduced-bitmask shape Codec 7 uses in
// place of Codec 8's four always-present size groups.
func decodeCodec7IntGroup(r *bytesreader.Reader, width int) ([]IoProperty, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading codec7 group count: %v", err)
	}

	props := make([]IoProperty, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := r.ReadByte()
		if err != nil {
			return nil, newDecodeError(Truncated, "reading codec7 io id: %v", err)
		}
		value, err := r.ReadUintOfWidth(width)
		if err != nil {
			return nil, newDecodeError(Truncated, "reading codec7 io value: %v", err)
		}
		props = append(props, IoProperty{ID: uint16(id), Value: int64(value)})
	}

	return props, nil
}

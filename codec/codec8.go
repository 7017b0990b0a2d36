package codec

import "github.com/megatechtrackers/teltonika-parser/bytesreader"

// ioGroupWidths is the element width, in bytes, of each of the four
// size-groups every Codec 8/16 record carries in turn.
var ioGroupWidths = [4]int{1, 2, 4, 8}

// DecodeCodec8 decodes a Codec 8 payload: {codec, count:u8, count ×
// avl_record, count:u8}. Grounded on original_source's data_decoder.py
// dispatch and codec8-equivalent record layout described in spec §4.3.
func DecodeCodec8(payload []byte) (*Frame, error) {
	return decodeCodec8Family(payload, CodecID8, false)
}

// DecodeCodec16 decodes a Codec 16 payload: identical shell to Codec 8
// but each record's GPS element is preceded by a one-byte origin_type,
// per spec §4.3 (the origin_type byte precedes GPS and widens the event
// header to two bytes, a deliberate choice to follow the spec's documented
// wire order over the retrieved original's codec16.py, which places the
// equivalent byte after the event id instead — see DESIGN.md).
func DecodeCodec16(payload []byte) (*Frame, error) {
	return decodeCodec8Family(payload, CodecID16, true)
}

func decodeCodec8Family(payload []byte, want byte, hasOrigin bool) (*Frame, error) {
	r := bytesreader.New(payload)

	codecID, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading codec id: %v", err)
	}
	if codecID != want {
		return nil, newDecodeError(UnsupportedCodec, "got codec id %#x, want %#x", codecID, want)
	}

	headerCount, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading record count: %v", err)
	}

	records := make([]AVLRecord, 0, headerCount)
	for i := 0; i < int(headerCount); i++ {
		rec, err := decodeAVLRecord(r, hasOrigin)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	trailerCount, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading trailer count: %v", err)
	}
	if trailerCount != headerCount {
		return nil, newDecodeError(QuantityMismatch, "header count %d != trailer count %d", headerCount, trailerCount)
	}

	return &Frame{CodecID: codecID, Records: records}, nil
}

func decodeAVLRecord(r *bytesreader.Reader, hasOrigin bool) (AVLRecord, error) {
	var rec AVLRecord

	ts, err := r.ReadInt64()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading timestamp: %v", err)
	}
	rec.TimestampMS = ts

	priority, err := r.ReadByte()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading priority: %v", err)
	}
	rec.Priority = Priority(priority)

	var origin uint8
	if hasOrigin {
		o, err := r.ReadByte()
		if err != nil {
			return rec, newDecodeError(Truncated, "reading origin_type: %v", err)
		}
		origin = o
	}

	gps, err := decodeGPS(r)
	if err != nil {
		return rec, err
	}
	rec.GPS = gps

	eventID, err := r.ReadUint16()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading event_id: %v", err)
	}

	totalIO, err := r.ReadByte()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading total_io: %v", err)
	}

	props, err := decodeIOGroups(r, false)
	if err != nil {
		return rec, err
	}
	if len(props) != int(totalIO) {
		return rec, newDecodeError(QuantityMismatch, "total_io %d != decoded property count %d", totalIO, len(props))
	}

	rec.IO = IO{EventID: eventID, OriginType: origin, Properties: props}
	return rec, nil
}

func decodeGPS(r *bytesreader.Reader) (GPS, error) {
	var g GPS

	lon, err := r.ReadInt32()
	if err != nil {
		return g, newDecodeError(Truncated, "reading longitude: %v", err)
	}
	lat, err := r.ReadInt32()
	if err != nil {
		return g, newDecodeError(Truncated, "reading latitude: %v", err)
	}
	alt, err := r.ReadInt16()
	if err != nil {
		return g, newDecodeError(Truncated, "reading altitude: %v", err)
	}
	angle, err := r.ReadUint16()
	if err != nil {
		return g, newDecodeError(Truncated, "reading angle: %v", err)
	}
	sats, err := r.ReadByte()
	if err != nil {
		return g, newDecodeError(Truncated, "reading satellites: %v", err)
	}
	speed, err := r.ReadUint16()
	if err != nil {
		return g, newDecodeError(Truncated, "reading speed: %v", err)
	}

	g.LonE7, g.LatE7 = lon, lat
	g.AltitudeM = alt
	g.AngleDeg = angle
	g.Satellites = sats
	g.SpeedKmh = speed
	return g, nil
}

// decodeIOGroups reads the four fixed-width groups (1/2/4/8 bytes) that
// Codec 8/16 share, or the 8E variant (u16 counts/ids) when wide is true.
// Codec 8E's trailing variable-length group is not read here; the caller
// reads it with decodeVariableGroup.
func decodeIOGroups(r *bytesreader.Reader, wide bool) ([]IoProperty, error) {
	var props []IoProperty

	for _, width := range ioGroupWidths {
		var count int
		if wide {
			c, err := r.ReadUint16()
			if err != nil {
				return nil, newDecodeError(Truncated, "reading group count (width %d): %v", width, err)
			}
			count = int(c)
		} else {
			c, err := r.ReadByte()
			if err != nil {
				return nil, newDecodeError(Truncated, "reading group count (width %d): %v", width, err)
			}
			count = int(c)
		}

		for i := 0; i < count; i++ {
			var id uint16
			if wide {
				v, err := r.ReadUint16()
				if err != nil {
					return nil, newDecodeError(Truncated, "reading io id: %v", err)
				}
				id = v
			} else {
				v, err := r.ReadByte()
				if err != nil {
					return nil, newDecodeError(Truncated, "reading io id: %v", err)
				}
				id = uint16(v)
			}

			value, err := r.ReadUintOfWidth(width)
			if err != nil {
				return nil, newDecodeError(Truncated, "reading io value (id %d, width %d): %v", id, width, err)
			}
			props = append(props, IoProperty{ID: id, Value: int64(value)})
		}
	}

	return props, nil
}

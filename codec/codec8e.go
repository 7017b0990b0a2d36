package codec

import "github.com/megatechtrackers/teltonika-parser/bytesreader"

// DecodeCodec8E decodes a Codec 8E payload: identical shell to Codec 8,
// but event_id and total_io are u16, each of the four fixed-width groups
// uses a u16 count, and a fifth variable-length group follows carrying
// {id:u16, len:u16, bytes[len]} elements (spec §4.3).
func DecodeCodec8E(payload []byte) (*Frame, error) {
	r := bytesreader.New(payload)

	codecID, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading codec id: %v", err)
	}
	if codecID != CodecID8E {
		return nil, newDecodeError(UnsupportedCodec, "got codec id %#x, want %#x", codecID, CodecID8E)
	}

	headerCount, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading record count: %v", err)
	}

	records := make([]AVLRecord, 0, headerCount)
	for i := 0; i < int(headerCount); i++ {
		rec, err := decodeAVLRecord8E(r)
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

func decodeAVLRecord8E(r *bytesreader.Reader) (AVLRecord, error) {
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

	gps, err := decodeGPS(r)
	if err != nil {
		return rec, err
	}
	rec.GPS = gps

	eventID, err := r.ReadUint16()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading event_id: %v", err)
	}

	totalIO, err := r.ReadUint16()
	if err != nil {
		return rec, newDecodeError(Truncated, "reading total_io: %v", err)
	}

	props, err := decodeIOGroups(r, true)
	if err != nil {
		return rec, err
	}

	variable, err := decodeVariableGroup(r)
	if err != nil {
		return rec, err
	}
	props = append(props, variable...)

	if len(props) != int(totalIO) {
		return rec, newDecodeError(QuantityMismatch, "total_io %d != decoded property count %d", totalIO, len(props))
	}

	rec.IO = IO{EventID: eventID, Properties: props}
	return rec, nil
}

func decodeVariableGroup(r *bytesreader.Reader) ([]IoProperty, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading variable group count: %v", err)
	}

	props := make([]IoProperty, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := r.ReadUint16()
		if err != nil {
			return nil, newDecodeError(Truncated, "reading variable io id: %v", err)
		}
		length, err := r.ReadUint16()
		if err != nil {
			return nil, newDecodeError(Truncated, "reading variable io length: %v", err)
		}
		data, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, newDecodeError(Truncated, "reading variable io value (id %d, len %d): %v", id, length, err)
		}
		props = append(props, IoProperty{ID: id, Bytes: data})
	}

	return props, nil
}

package codec

import "github.com/megatechtrackers/teltonika-parser/bytesreader"

// Decoded is the result of dispatching a payload to the right codec: at
// most one of Frame/Command is set.
type Decoded struct {
	Frame   *Frame
	Command *Codec12Frame
}

// Decode dispatches payload (already CRC-validated and stripped of the
// preamble/length/CRC envelope by Splitter) to the matching codec
// decoder, the Go equivalent of the original DataDecoder.decode switch.
func Decode(payload []byte) (*Decoded, error) {
	if len(payload) == 0 {
		return nil, newDecodeError(Truncated, "empty payload")
	}

	switch payload[0] {
	case CodecID8:
		f, err := DecodeCodec8(payload)
		if err != nil {
			return nil, err
		}
		return &Decoded{Frame: f}, nil
	case CodecID8E:
		f, err := DecodeCodec8E(payload)
		if err != nil {
			return nil, err
		}
		return &Decoded{Frame: f}, nil
	case CodecID16:
		f, err := DecodeCodec16(payload)
		if err != nil {
			return nil, err
		}
		return &Decoded{Frame: f}, nil
	case CodecID7:
		f, err := DecodeCodec7(payload)
		if err != nil {
			return nil, err
		}
		return &Decoded{Frame: f}, nil
	case CodecID12:
		c, err := DecodeCodec12(payload)
		if err != nil {
			return nil, err
		}
		return &Decoded{Command: c}, nil
	default:
		return nil, newDecodeError(UnsupportedCodec, "unknown codec id %#x", payload[0])
	}
}

// EncodeFrame wraps a payload (e.g. from EncodeCodec12Command) in the
// wire envelope: zero preamble, big-endian length, payload, big-endian
// CRC-16 trailer.
func EncodeFrame(payload []byte) []byte {
	l := len(payload)
	out := make([]byte, 0, headerLen+l+crcLen)
	out = append(out, 0, 0, 0, 0)
	out = append(out, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
	out = append(out, payload...)
	crc := bytesreader.CRC16(payload)
	out = append(out, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return out
}

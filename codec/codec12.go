package codec

import "github.com/megatechtrackers/teltonika-parser/bytesreader"

// DecodeCodec12 decodes a command/response frame: {codec=0x0C,
// quantity1:u8, type:u8, size:u32, text:ascii[size], quantity2:u8}.
// quantity1 must equal quantity2 (spec §3/§4.3).
func DecodeCodec12(payload []byte) (*Codec12Frame, error) {
	r := bytesreader.New(payload)

	codecID, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading codec id: %v", err)
	}
	if codecID != CodecID12 {
		return nil, newDecodeError(UnsupportedCodec, "got codec id %#x, want %#x", codecID, CodecID12)
	}

	quantity1, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading quantity1: %v", err)
	}

	frameType, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading type: %v", err)
	}

	size, err := r.ReadUint32()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading size: %v", err)
	}

	text, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, newDecodeError(Truncated, "reading text (size %d): %v", size, err)
	}

	quantity2, err := r.ReadByte()
	if err != nil {
		return nil, newDecodeError(Truncated, "reading quantity2: %v", err)
	}
	if quantity1 != quantity2 {
		return nil, newDecodeError(QuantityMismatch, "quantity1 %d != quantity2 %d", quantity1, quantity2)
	}

	return &Codec12Frame{Type: Codec12Type(frameType), Text: string(text)}, nil
}

// IsCodec12Packet reports whether payload's first byte is the Codec 12
// id, a cheap pre-check the connection handler uses to route a frame
// before committing to a full decode (mirrors original codec12.py's
// is_codec12_packet helper).
func IsCodec12Packet(payload []byte) bool {
	return len(payload) > 0 && payload[0] == CodecID12
}

// IsCodec12Response reports whether payload is a Codec 12 frame whose
// type byte marks it as a device response rather than a server command.
func IsCodec12Response(payload []byte) bool {
	return len(payload) > 2 && payload[0] == CodecID12 && Codec12Type(payload[2]) == Codec12Response
}

// EncodeCodec12Command builds the payload bytes for a Codec 12 command
// frame: {codec, quantity=1, type=0x05, size, text, quantity=1}. The
// caller (command package) wraps this in the preamble/length/CRC
// envelope via Frame/CRC helpers, matching the original's manual struct
// packing in async_packet_parser's command sender.
func EncodeCodec12Command(text string) []byte {
	textBytes := []byte(text)
	size := len(textBytes)

	out := make([]byte, 0, 1+1+1+4+size+1)
	out = append(out, CodecID12)
	out = append(out, 1) // quantity1
	out = append(out, byte(Codec12Command))
	out = append(out, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	out = append(out, textBytes...)
	out = append(out, 1) // quantity2
	return out
}

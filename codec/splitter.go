package codec

import (
	"log"

	"github.com/megatechtrackers/teltonika-parser/bytesreader"
)

// PingByte is the single-byte keepalive a device sends between data
// frames (spec §3).
const PingByte = 0xFF

const preambleLen = 4
const lengthLen = 4
const crcLen = 4
const headerLen = preambleLen + lengthLen

// Splitter is a stateful per-connection buffer that turns a stream of
// reads into a sequence of complete frames, the Go analogue of the
// teacher's rtcm/handler.RTCM.ReadNextRTCM3MessageFrame resync loop:
// bad leading bytes are discarded one at a time rather than treated as
// fatal, so a corrupted stream resynchronizes instead of killing the
// connection outright (the connection is still closed by the caller on
// a decode error per spec §7, but the splitter itself tolerates noise
// at the front of the buffer).
type Splitter struct {
	buf           []byte
	maxPacketSize int
	logger        *log.Logger
}

// NewSplitter creates a Splitter with the configured maximum accepted
// payload length.
func NewSplitter(maxPacketSize int, logger *log.Logger) *Splitter {
	return &Splitter{maxPacketSize: maxPacketSize, logger: logger}
}

// Feed appends newly read bytes to the internal buffer.
func (s *Splitter) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts the next complete unit from the buffer: either a ping
// (ok=true, frame=nil, ping=true) or a full frame payload with its
// preamble/length/CRC trailer stripped (ok=true, frame=payload). It
// returns ok=false when the buffer doesn't yet hold a complete unit;
// the caller should read more bytes and call Next again.
func (s *Splitter) Next() (payload []byte, ping bool, ok bool, err error) {
	for {
		if len(s.buf) == 0 {
			return nil, false, false, nil
		}

		if s.buf[0] == PingByte {
			s.buf = s.buf[1:]
			return nil, true, true, nil
		}

		if len(s.buf) < headerLen {
			return nil, false, false, nil
		}

		if s.buf[0] != 0 || s.buf[1] != 0 || s.buf[2] != 0 || s.buf[3] != 0 {
			s.logResync()
			s.buf = s.buf[1:]
			continue
		}

		length := int(s.buf[4])<<24 | int(s.buf[5])<<16 | int(s.buf[6])<<8 | int(s.buf[7])
		if length <= 0 || length > s.maxPacketSize {
			return nil, false, false, newDecodeError(InvalidPreamble,
				"payload length %d out of range (0, %d]", length, s.maxPacketSize)
		}

		total := headerLen + length + crcLen
		if len(s.buf) < total {
			return nil, false, false, nil
		}

		payload := s.buf[headerLen : headerLen+length]
		crcField := s.buf[headerLen+length : total]
		s.buf = s.buf[total:]

		wantCRC := uint32(crcField[0])<<24 | uint32(crcField[1])<<16 | uint32(crcField[2])<<8 | uint32(crcField[3])
		gotCRC := uint32(bytesreader.CRC16(payload))
		if wantCRC != gotCRC {
			return nil, false, false, newDecodeError(CrcMismatch,
				"want %#x got %#x", wantCRC, gotCRC)
		}

		return payload, false, true, nil
	}
}

func (s *Splitter) logResync() {
	if s.logger != nil {
		s.logger.Printf("WARN codec: invalid preamble, discarding one byte and resyncing")
	}
}

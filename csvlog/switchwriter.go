package csvlog

import (
	"io"
	"sync"
)

// switchWriter is a small io.Writer whose destination can be swapped out
// while writes are in flight. It plays the same role the teacher's
// external github.com/goblimey/go-tools/switchWriter package played for
// rtcmlogger/log.Writer: the daily rotator builds one of these once and
// repoints it at a fresh *os.File every time the day rolls over, so
// callers holding a reference to the switchWriter never need to know a
// rotation happened.
type switchWriter struct {
	mu     sync.Mutex
	target io.Writer
}

func newSwitchWriter() *switchWriter {
	return &switchWriter{}
}

// switchTo repoints the writer at a new target. A nil target makes Write
// a no-op that still reports success, mirroring the teacher's behaviour
// of swallowing writes made outside the logging window.
func (s *switchWriter) switchTo(target io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		return len(p), nil
	}
	return target.Write(p)
}

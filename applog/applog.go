// Package applog provides the node's daily-rotating application log
// (WARN/INFO/DEBUG lines from every package), a second direct
// adaptation of the teacher's rtcmlogger/log.Writer alongside
// csvlog's dailyWriter: same blackout-window-and-cron rollover, this
// time producing "parser.<yyyymmdd>.log" files instead of CSV.
package applog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/megatechtrackers/teltonika-parser/clock"
	"github.com/robfig/cron"
)

type dailyWriter struct {
	mu              sync.Mutex
	clock           clock.Clock
	dir             string
	currentYYYYMMDD string
	file            *os.File
	cronjob         *cron.Cron
}

func newDailyWriter(dir string, c clock.Clock) *dailyWriter {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("applog: cannot create log directory %s: %v", dir, err)
	}
	w := &dailyWriter{clock: c, dir: dir}
	cr := cron.New()
	cr.AddFunc("59 23 * * *", w.endOfDay)
	cr.Start()
	w.cronjob = cr
	return w
}

func (w *dailyWriter) Write(buf []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.blackout() {
		if w.file != nil {
			w.closeLocked()
		}
		return len(buf), nil
	}

	yyyymmdd := w.today()
	if w.file == nil || yyyymmdd != w.currentYYYYMMDD {
		file, err := os.OpenFile(filepath.Join(w.dir, fmt.Sprintf("parser.%s.log", yyyymmdd)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("applog: opening daily file: %w", err)
		}
		w.currentYYYYMMDD = yyyymmdd
		w.file = file
	}
	return w.file.Write(buf)
}

func (w *dailyWriter) today() string {
	now := w.clock.Now().In(time.UTC)
	return fmt.Sprintf("%04d%02d%02d", now.Year(), now.Month(), now.Day())
}

func (w *dailyWriter) blackout() bool {
	now := w.clock.Now().In(time.UTC)
	if now.Hour() == 0 && now.Minute() == 0 {
		return true
	}
	if now.Hour() == 23 && now.Minute() == 59 {
		return true
	}
	return false
}

func (w *dailyWriter) endOfDay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.blackout() {
		w.closeLocked()
	}
}

func (w *dailyWriter) closeLocked() {
	if w.file == nil {
		return
	}
	if err := w.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "applog: warning - error closing %s: %v\n", w.file.Name(), err)
	}
	w.file = nil
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cronjob != nil {
		w.cronjob.Stop()
	}
	w.closeLocked()
	return nil
}

// New creates a *log.Logger that writes datestamped lines to
// "<dir>/parser.<yyyymmdd>.log", rolling over at UTC midnight.
func New(dir string) (*log.Logger, func() error) {
	w := newDailyWriter(dir, clock.NewSystemClock())
	return log.New(w, "", log.LstdFlags), w.Close
}

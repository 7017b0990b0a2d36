// Package csvlog implements the LOGS data_transfer_mode output path: three
// daily-rotating CSV files (trackdata, events, alarms) written instead of
// publishing to the broker.
package csvlog

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

// dailyWriter satisfies io.Writer and writes to a datestamped file in dir,
// rolling over to a new file each day. It is a direct adaptation of the
// teacher's rtcmlogger/log.Writer: same blackout-window-around-midnight
// and cron-driven end-of-day rollover, generalised to an arbitrary
// directory and file prefix (the extension is always .csv) instead of a
// single hardcoded RTCM log.
type dailyWriter struct {
	mu              sync.Mutex
	clock           clock.Clock
	dir             string
	prefix          string
	currentYYYYMMDD string
	file            *os.File
	switchWriter    *switchWriter
	cronjob         *cron.Cron
}

const endOfDayHour = 23
const endOfDayMinute = 59

// newDailyWriter creates a dailyWriter writing "<prefix>.<yyyymmdd>.csv"
// files into dir, and starts the cron job that guards against a log file
// being left open past midnight if no record arrives to trigger rollover.
func newDailyWriter(dir, prefix string, c clock.Clock) *dailyWriter {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("csvlog: cannot create log directory %s: %v", dir, err)
	}
	w := &dailyWriter{
		clock:        c,
		dir:          dir,
		prefix:       prefix,
		switchWriter: newSwitchWriter(),
	}
	cr := cron.New()
	cr.AddFunc("59 23 * * *", w.endOfDay)
	cr.Start()
	w.cronjob = cr
	return w
}

func (w *dailyWriter) Write(buf []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.loggingAllowed() {
		if w.file != nil {
			w.switchWriter.switchTo(nil)
			w.closeLocked()
		}
		return len(buf), nil
	}

	yyyymmdd := w.todayYYYYMMDD()
	if w.file == nil || yyyymmdd != w.currentYYYYMMDD {
		file, err := openFile(filepath.Join(w.dir, w.filename(yyyymmdd)))
		if err != nil {
			return 0, fmt.Errorf("csvlog: opening daily file: %w", err)
		}
		w.currentYYYYMMDD = yyyymmdd
		w.file = file
		w.switchWriter.switchTo(file)
	}

	return w.switchWriter.Write(buf)
}

func (w *dailyWriter) filename(yyyymmdd string) string {
	return fmt.Sprintf("%s.%s.csv", w.prefix, yyyymmdd)
}

func (w *dailyWriter) todayYYYYMMDD() string {
	now := w.clock.Now().In(time.UTC)
	return fmt.Sprintf("%04d%02d%02d", now.Year(), now.Month(), now.Day())
}

// loggingAllowed mirrors the teacher's one-minute blackout either side of
// midnight UTC, giving the cron rollover time to close the previous file
// before a new record could otherwise reopen it.
func (w *dailyWriter) loggingAllowed() bool {
	now := w.clock.Now().In(time.UTC)
	if now.Hour() == 0 && now.Minute() == 0 {
		return false
	}
	if now.Hour() == endOfDayHour && now.Minute() == endOfDayMinute {
		return false
	}
	return true
}

func (w *dailyWriter) endOfDay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loggingAllowed() {
		return
	}
	w.closeLocked()
}

// closeLocked closes the current file. Callers must hold w.mu.
func (w *dailyWriter) closeLocked() {
	if w.file == nil {
		return
	}
	if err := w.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "csvlog: warning - error closing %s: %v\n", w.file.Name(), err)
	}
	w.file = nil
}

// Close flushes and closes the current file and stops the rollover cron.
func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cronjob != nil {
		w.cronjob.Stop()
	}
	w.closeLocked()
	return nil
}

func openFile(name string) (*os.File, error) {
	file, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, 2); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// Package listener implements the TCP accept loop with bounded
// admission control (spec §4.7 "Admission control"), ported from
// run.py's accept loop and its connection-counter lock.
package listener

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/megatechtrackers/teltonika-parser/config"
	"github.com/megatechtrackers/teltonika-parser/device"
	"github.com/megatechtrackers/teltonika-parser/enrich"
	"github.com/megatechtrackers/teltonika-parser/session"
)

// admission is the bounded active-connection counter (spec §8's
// active-connections-bounded invariant: active <= max_concurrent).
type admission struct {
	mu      sync.Mutex
	active  int
	max     int
}

// tryAcquire blocks up to timeout for a free slot, returning false if
// none frees up in time (spec §4.7 "connection_reject_timeout").
func (a *admission) tryAcquire(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		a.mu.Lock()
		if a.active < a.max {
			a.active++
			a.mu.Unlock()
			return true
		}
		a.mu.Unlock()

		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (a *admission) release() {
	a.mu.Lock()
	a.active--
	a.mu.Unlock()
}

// Listener accepts Teltonika TCP connections and hands each to its own
// session.Handler goroutine, rejecting new connections once
// MaxConcurrentConnections is in use.
type Listener struct {
	cfg      config.TCPServerConfig
	dir      *device.Directory
	sink     session.Sink
	enricher *enrich.Enricher
	cmdRsp   session.CommandResponseHandler
	logger   *log.Logger

	admit admission
	wg    sync.WaitGroup
}

// New creates a Listener. sink and cmdRsp may be shared across the
// whole process; a fresh session.Handler is created per connection.
func New(cfg config.TCPServerConfig, dir *device.Directory, sink session.Sink, enricher *enrich.Enricher, cmdRsp session.CommandResponseHandler, logger *log.Logger) *Listener {
	return &Listener{
		cfg:      cfg,
		dir:      dir,
		sink:     sink,
		enricher: enricher,
		cmdRsp:   cmdRsp,
		logger:   logger,
		admit:    admission{max: cfg.MaxConcurrentConnections},
	}
}

// Serve listens on cfg.ListenAddr and accepts connections until ctx is
// cancelled or the listener is closed. It blocks until the accept loop
// exits.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	rejectTimeout := time.Duration(l.cfg.ConnectionRejectTimeoutSecs * float64(time.Second))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.wg.Wait()
				return nil
			}
			if l.logger != nil {
				l.logger.Printf("WARN listener: accept error: %v", err)
			}
			continue
		}

		if !l.admit.tryAcquire(rejectTimeout) {
			if l.logger != nil {
				l.logger.Printf("WARN listener: rejecting connection from %s, at capacity", conn.RemoteAddr())
			}
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.admit.release()
			h := session.New(conn, l.cfg, l.dir, l.sink, l.enricher, l.cmdRsp, l.logger)
			h.Run(ctx)
		}()
	}
}

// ActiveConnections reports the current admitted-connection count, used
// by the health endpoint.
func (l *Listener) ActiveConnections() int {
	l.admit.mu.Lock()
	defer l.admit.mu.Unlock()
	return l.admit.active
}

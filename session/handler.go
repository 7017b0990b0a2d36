// Package session implements the per-device connection state machine
// (spec §4.7): ACCEPTED -> AUTHENTICATING -> READY <-> READING ->
// CLOSING, ported from original_source/parser_nodes/teltonika/run.py's
// handle_client_connection.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/megatechtrackers/teltonika-parser/codec"
	"github.com/megatechtrackers/teltonika-parser/config"
	"github.com/megatechtrackers/teltonika-parser/device"
	"github.com/megatechtrackers/teltonika-parser/enrich"
)

// CommandResponseHandler receives a decoded Codec 12 response frame so
// the command correlator can match it against an outstanding
// command_sent row (spec §4.8 "Response handling"). Expressed as an
// explicit dependency rather than a package-level callback registry.
type CommandResponseHandler interface {
	HandleResponse(imei string, text string)
}

// Vendor is fixed for this parser node; every session handles the same
// wire protocol.
const Vendor = "teltonika"

// Handler drives one accepted TCP connection through its full
// lifecycle. A Handler is used exactly once and discarded.
type Handler struct {
	conn   net.Conn
	addr   device.Addr
	cfg    config.TCPServerConfig
	dir    *device.Directory
	sink   Sink
	enrich *enrich.Enricher
	cmdRsp CommandResponseHandler
	logger *log.Logger
}

// New creates a Handler for an accepted connection.
func New(conn net.Conn, cfg config.TCPServerConfig, dir *device.Directory, sink Sink, enricher *enrich.Enricher, cmdRsp CommandResponseHandler, logger *log.Logger) *Handler {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	port, _ := strconv.Atoi(portStr)
	return &Handler{
		conn:   conn,
		addr:   device.Addr{IP: host, Port: port},
		cfg:    cfg,
		dir:    dir,
		sink:   sink,
		enrich: enricher,
		cmdRsp: cmdRsp,
		logger: logger,
	}
}

// Run drives the connection to completion. It never returns an error:
// every failure path is a WARN log plus a connection close, matching
// spec §7's "unhandled session error closes the session, the listener
// keeps accepting" rule.
func (h *Handler) Run(ctx context.Context) {
	defer h.conn.Close()
	setKeepalive(h.conn, h.cfg)

	imei, ok := h.authenticate()
	if !ok {
		return
	}

	h.dir.Register(h.addr, imei, h.conn)
	defer h.dir.Unregister(h.addr)

	h.readLoop(ctx, imei)
}

// authenticate reads the IMEI login frame and writes the single-byte
// ACK, spec §4.7's AUTHENTICATING state. It returns ok=false (and has
// already closed nothing; Run's deferred Close handles that) on any
// framing or validation failure, which spec §4.7 treats as REJECTED.
func (h *Handler) authenticate() (string, bool) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(h.conn, lenBuf); err != nil {
		h.warnf("reading imei length: %v", err)
		return "", false
	}
	n := int(binary.BigEndian.Uint16(lenBuf))
	if lenBuf[0] != 0 || n < 1 || n > 20 {
		h.warnf("invalid imei length prefix %d", n)
		return "", false
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(h.conn, buf); err != nil {
		h.warnf("reading imei body: %v", err)
		return "", false
	}
	imei := string(buf)
	if !isValidIMEI(imei) {
		h.warnf("rejecting invalid imei %q", imei)
		return "", false
	}

	if _, err := h.conn.Write([]byte{0x01}); err != nil {
		h.warnf("writing login ack: %v", err)
		return "", false
	}
	return imei, true
}

// isValidIMEI requires exactly 15 ASCII digits (spec §4.7 "IMEI
// validation"; §8 boundary tests: length 0 or 21 must be rejected).
func isValidIMEI(s string) bool {
	if len(s) != 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// readLoop is the READY<->READING cycle: read one framed packet (or
// ping), enrich and publish its records, write the data ACK only once
// every required publish for every record has succeeded, and repeat
// until ctx is cancelled, a read fails (including EOF when the peer
// closes), or a frame or decode error occurs. A read timeout alone does
// not end the loop (see fillBuffer).
func (h *Handler) readLoop(ctx context.Context, imei string) {
	splitter := codec.NewSplitter(h.cfg.MaxPacketSizeBytes, h.logger)
	readBuf := make([]byte, 8192)
	readTimeout := time.Duration(h.cfg.ReadTimeoutSeconds) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		payload, ping, ok, decodeErr := splitter.Next()
		if decodeErr != nil {
			h.warnf("frame error, closing connection: %v", decodeErr)
			return
		}
		if !ok {
			if err := h.fillBuffer(splitter, readBuf, readTimeout); err != nil {
				return
			}
			continue
		}
		if ping {
			h.dir.Touch(h.addr)
			continue
		}

		decoded, err := codec.Decode(payload)
		if err != nil {
			h.warnf("decode error, closing connection: %v", err)
			return
		}
		h.dir.Touch(h.addr)

		if decoded.Command != nil {
			if decoded.Command.Type == codec.Codec12Response && h.cmdRsp != nil {
				h.cmdRsp.HandleResponse(imei, decoded.Command.Text)
			}
			continue
		}

		if decoded.Frame == nil || len(decoded.Frame.Records) == 0 {
			continue
		}

		allPublished := h.publishRecords(ctx, imei, decoded.Frame.Records)
		if !allPublished {
			// Withhold the ACK: spec §4.7's core data-loss-prevention
			// invariant. The device will retransmit the frame.
			continue
		}
		h.writeAck(len(decoded.Frame.Records))
	}
}

// fillBuffer blocks for up to readTimeout waiting for more bytes. A
// timeout with the connection still alive (TCP keepalive hasn't fired)
// is not an error and the loop simply tries again; EOF closes the
// session.
func (h *Handler) fillBuffer(splitter *codec.Splitter, buf []byte, timeout time.Duration) error {
	h.conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := h.conn.Read(buf)
	if n > 0 {
		splitter.Feed(buf[:n])
	}
	if err != nil {
		if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

// publishRecords enriches and publishes every record, classifying each
// per spec §4.6: trackdata always, event when status != "Normal", alarm
// when is_alarm. It returns true only if every required publish for
// every record succeeded.
func (h *Handler) publishRecords(ctx context.Context, imei string, records []codec.AVLRecord) bool {
	ip := h.addr.IP
	port := h.addr.Port
	allOK := true

	for _, rec := range records {
		enriched, err := h.enrich.Enrich(ctx, imei, rec)
		if err != nil {
			h.warnf("enrich error: %v", err)
			allOK = false
			continue
		}

		if !h.sink.PublishTrackData(ctx, imei, ip, port, enriched) {
			allOK = false
		}
		if enriched.Status != "Normal" {
			if !h.sink.PublishEvent(ctx, imei, ip, port, enriched) {
				allOK = false
			}
		}
		if enriched.IsAlarm {
			if !h.sink.PublishAlarm(ctx, imei, ip, port, enriched) {
				allOK = false
			}
		}
	}
	return allOK
}

func (h *Handler) writeAck(count int) {
	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, uint32(count))
	if _, err := h.conn.Write(ack); err != nil {
		h.warnf("writing data ack: %v", err)
	}
}

func (h *Handler) warnf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf("WARN session[%s]: %s", h.addr, fmt.Sprintf(format, args...))
	}
}

// setKeepalive enables TCP keepalive on conn, the socket tuning run.py
// applies via setsockopt before entering its read loop. It sets a single
// keepalive period, KeepaliveIdleSeconds, via SetKeepAlivePeriod; the
// configured keepalive interval and count are not applied.
func setKeepalive(conn net.Conn, cfg config.TCPServerConfig) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.SetKeepAlive(true)
	tcpConn.SetKeepAlivePeriod(time.Duration(cfg.KeepaliveIdleSeconds) * time.Second)
}

// Package broker implements the durable-topic-exchange publisher (spec
// §4.6), ported from teltonika_infrastructure/rabbitmq_producer.py's
// RabbitMQProducer onto github.com/rabbitmq/amqp091-go.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RecordType enumerates the three routing-key suffixes spec §4.6 names.
type RecordType string

const (
	RecordTrackData RecordType = "trackdata"
	RecordEvent     RecordType = "event"
	RecordAlarm     RecordType = "alarm"
)

func priorityFor(rt RecordType) uint8 {
	if rt == RecordAlarm {
		return 10
	}
	return 0
}

// Envelope is the JSON message body published to the exchange (spec §6
// "Broker" wire shape).
type Envelope struct {
	MessageID     string `json:"message_id"`
	Vendor        string `json:"vendor"`
	VendorVersion string `json:"vendor_version"`
	Timestamp     string `json:"timestamp"`
	RecordType    string `json:"record_type"`
	IMEI          string `json:"imei"`
	DeviceIP      string `json:"device_ip"`
	DevicePort    int    `json:"device_port"`
	Data          any    `json:"data"`
	Metadata      struct {
		ParserNodeID string `json:"parser_node_id"`
	} `json:"metadata"`
}

// Config bundles the publisher's connection and timing parameters.
type Config struct {
	URL                     string
	Exchange                string
	PublisherConfirms       bool
	PublishTimeout          time.Duration
	ReconnectTimeout        time.Duration
	StartupBackoffCap       time.Duration
	ParserNodeID            string
}

// Publisher is a single long-lived connection/channel pair publishing
// to one durable topic exchange, matching RabbitMQProducer's shape:
// one mutex guarding only the connect/reconnect state, so publishes
// themselves can run concurrently once the channel exists.
type Publisher struct {
	cfg    Config
	logger *log.Logger

	mu          sync.Mutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	connected   bool
	shuttingDown bool
}

// New creates a Publisher. Connect must be called before Publish.
func New(cfg Config, logger *log.Logger) *Publisher {
	return &Publisher{cfg: cfg, logger: logger}
}

// Connect dials the broker with exponential backoff (capped at
// StartupBackoffCap, infinite retries), the steady-state startup
// behaviour from spec §4.6. ctx cancellation aborts the retry loop.
func (p *Publisher) Connect(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.dial(); err == nil {
			return nil
		} else if p.logger != nil {
			p.logger.Printf("WARN broker: connect failed, retrying in %s: %v", backoff, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.StartupBackoffCap {
			backoff = p.cfg.StartupBackoffCap
		}
	}
}

func (p *Publisher) dial() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: opening channel: %w", err)
	}
	if p.cfg.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("broker: enabling publisher confirms: %w", err)
		}
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: declaring exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.connected = true
	return nil
}

// IsReady reports connectivity without attempting to reconnect, the
// non-reconnecting state check RabbitMQProducer.is_ready() performs.
func (p *Publisher) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.shuttingDown
}

// Shutdown raises the fast-fail flag; every subsequent Publish call
// returns false immediately (spec §4.6 "Fast-fail flag").
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	p.shuttingDown = true
	p.mu.Unlock()
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish sends data on routing key tracking.<vendor>.<recordType>,
// persistent, with publisher-confirms gating the return value: it
// resolves true only once the broker has acknowledged (spec §4.6). The
// publish and confirm wait are bounded by PublishTimeout; when the
// publisher is marked disconnected, one reconnect attempt bounded by
// ReconnectTimeout runs first. It never retries internally — callers
// (the connection handler) must learn quickly whether to withhold the
// device ACK.
func (p *Publisher) Publish(ctx context.Context, vendor string, imei, deviceIP string, devicePort int, recordType RecordType, data any) bool {
	p.mu.Lock()
	shuttingDown := p.shuttingDown
	connected := p.connected
	p.mu.Unlock()

	if shuttingDown {
		return false
	}
	if !connected {
		if !p.reconnectBounded(ctx) {
			return false
		}
	}

	env := Envelope{
		MessageID:     newMessageID(),
		Vendor:        vendor,
		VendorVersion: "1.0",
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		RecordType:    string(recordType),
		IMEI:          imei,
		DeviceIP:      deviceIP,
		DevicePort:    devicePort,
		Data:          data,
	}
	env.Metadata.ParserNodeID = p.cfg.ParserNodeID

	body, err := json.Marshal(env)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("WARN broker: marshaling envelope: %v", err)
		}
		return false
	}

	routingKey := fmt.Sprintf("tracking.%s.%s", vendor, recordType)

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch == nil {
		p.markDisconnected()
		return false
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(publishCtx, p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priorityFor(recordType),
		Body:         body,
	})
	if err != nil {
		p.markDisconnected()
		return false
	}
	if confirmation == nil {
		return true
	}

	ok, err := confirmation.WaitContext(publishCtx)
	if err != nil || !ok {
		p.markDisconnected()
		return false
	}
	return true
}

func (p *Publisher) markDisconnected() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// reconnectBounded attempts a single reconnect bounded by
// ReconnectTimeout, returning false on timeout (spec §4.6: "the next
// publish attempts a bounded reconnect ... and returns false on
// timeout").
func (p *Publisher) reconnectBounded(ctx context.Context) bool {
	done := make(chan error, 1)
	go func() { done <- p.dial() }()

	select {
	case err := <-done:
		return err == nil
	case <-time.After(p.cfg.ReconnectTimeout):
		return false
	case <-ctx.Done():
		return false
	}
}

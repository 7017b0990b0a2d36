// Package loadreport implements the periodic load report (spec §6
// "Monitor") that posts this node's counters to an external monitor
// endpoint, grounded on monitoring_node/monitoring/metrics_collector.py's
// counter shape (connections, bytes, records, errors) and exposed
// internally through a prometheus/client_golang registry the way the
// rest of the pack's services do.
package loadreport

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Counters are the prometheus metrics this node maintains; Reporter
// reads their current values into each report without needing to scrape
// the /metrics HTTP surface itself.
type Counters struct {
	Connections prometheus.Counter
	BytesRead   prometheus.Counter
	Records     prometheus.Counter
	Errors      prometheus.Counter
}

// NewCounters registers a fresh set of counters on reg.
func NewCounters(reg prometheus.Registerer, namespace string) *Counters {
	c := &Counters{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "connections_total", Help: "Total accepted TCP connections."}),
		BytesRead:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bytes_read_total", Help: "Total bytes read from devices."}),
		Records:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "records_total", Help: "Total AVL records decoded."}),
		Errors:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "errors_total", Help: "Total decode/publish errors."}),
	}
	reg.MustRegister(c.Connections, c.BytesRead, c.Records, c.Errors)
	return c
}

// report is the JSON body POSTed to the monitor endpoint.
type report struct {
	NodeID      string  `json:"node_id"`
	Timestamp   string  `json:"timestamp"`
	Connections float64 `json:"connections_total"`
	BytesRead   float64 `json:"bytes_read_total"`
	Records     float64 `json:"records_total"`
	Errors      float64 `json:"errors_total"`
}

// Reporter periodically POSTs the current counter values to a monitor
// URL (spec §6's "external monitor /metrics" interface).
type Reporter struct {
	nodeID   string
	url      string
	interval time.Duration
	counters *Counters
	client   *http.Client
	logger   *log.Logger
}

// NewReporter creates a Reporter. If url is empty, Run is a no-op: not
// every deployment configures a monitor endpoint.
func NewReporter(nodeID, url string, interval time.Duration, counters *Counters, logger *log.Logger) *Reporter {
	return &Reporter{nodeID: nodeID, url: url, interval: interval, counters: counters, client: &http.Client{Timeout: 5 * time.Second}, logger: logger}
}

// Run posts a report every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	if r.url == "" {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.postOnce(ctx)
		}
	}
}

func (r *Reporter) postOnce(ctx context.Context) {
	body, err := json.Marshal(report{
		NodeID:      r.nodeID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: readCounter(r.counters.Connections),
		BytesRead:   readCounter(r.counters.BytesRead),
		Records:     readCounter(r.counters.Records),
		Errors:      readCounter(r.counters.Errors),
	})
	if err != nil {
		r.warnf("marshaling report: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.warnf("building request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.warnf("posting load report: %v", err)
		return
	}
	resp.Body.Close()
}

func (r *Reporter) warnf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("WARN loadreport: "+format, args...)
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

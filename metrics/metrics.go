// Package metrics collects djbs server counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dendrascience/dendra-blockstore/protocol"
	"github.com/dendrascience/dendra-blockstore/store"
)

// StatsSource supplies store-level gauges at scrape time.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type opCounters struct {
	requests   atomic.Uint64
	errors     atomic.Uint64
	latencySum atomic.Uint64 // microseconds
}

// Metrics collects request counters for the storage server.
type Metrics struct {
	ops map[protocol.Op]*opCounters

	bytesWritten      atomic.Uint64
	bytesRead         atomic.Uint64
	activeConnections atomic.Int64
	connectionsTotal  atomic.Uint64
	protocolErrors    atomic.Uint64

	source    StatsSource
	startTime time.Time
}

// NewMetrics creates a collector. source may be nil.
func NewMetrics(source StatsSource) *Metrics {
	m := &Metrics{
		ops:       make(map[protocol.Op]*opCounters, len(protocol.RequestOps)),
		source:    source,
		startTime: time.Now(),
	}
	for _, op := range protocol.RequestOps {
		m.ops[op] = &opCounters{}
	}
	return m
}

// RecordRequest records one handled request and its outcome.
func (m *Metrics) RecordRequest(op protocol.Op, latency time.Duration, err error) {
	c, ok := m.ops[op]
	if !ok {
		return
	}
	c.requests.Add(1)
	c.latencySum.Add(uint64(latency.Microseconds()))
	if err != nil {
		c.errors.Add(1)
	}
}

// RecordWrite adds payload bytes accepted by WRITE.
func (m *Metrics) RecordWrite(n int) { m.bytesWritten.Add(uint64(n)) }

// RecordRead adds bytes returned by READ.
func (m *Metrics) RecordRead(n int) { m.bytesRead.Add(uint64(n)) }

// RecordProtocolError counts malformed or oversized packets.
func (m *Metrics) RecordProtocolError() { m.protocolErrors.Add(1) }

// ConnectionOpened increments active connections.
func (m *Metrics) ConnectionOpened() {
	m.activeConnections.Add(1)
	m.connectionsTotal.Add(1)
}

// ConnectionClosed decrements active connections.
func (m *Metrics) ConnectionClosed() {
	m.activeConnections.Add(-1)
}

// Snapshot returns current metric values.
type Snapshot struct {
	Requests          map[protocol.Op]uint64
	Errors            map[protocol.Op]uint64
	BytesWritten      uint64
	BytesRead         uint64
	ActiveConnections int64
	ConnectionsTotal  uint64
	ProtocolErrors    uint64
	UptimeSeconds     float64
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Requests:          make(map[protocol.Op]uint64, len(m.ops)),
		Errors:            make(map[protocol.Op]uint64, len(m.ops)),
		BytesWritten:      m.bytesWritten.Load(),
		BytesRead:         m.bytesRead.Load(),
		ActiveConnections: m.activeConnections.Load(),
		ConnectionsTotal:  m.connectionsTotal.Load(),
		ProtocolErrors:    m.protocolErrors.Load(),
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
	for op, c := range m.ops {
		s.Requests[op] = c.requests.Load()
		s.Errors[op] = c.errors.Load()
	}
	return s
}

func writeMetric(w io.Writer, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n\n", name, value)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "djbs_uptime_seconds", "gauge", "Time since server started",
			fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()))

		fmt.Fprintf(w, "# HELP djbs_requests_total Requests handled per operation\n")
		fmt.Fprintf(w, "# TYPE djbs_requests_total counter\n")
		for _, op := range protocol.RequestOps {
			fmt.Fprintf(w, "djbs_requests_total{op=%q} %d\n", op.String(), m.ops[op].requests.Load())
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP djbs_request_errors_total Failed requests per operation\n")
		fmt.Fprintf(w, "# TYPE djbs_request_errors_total counter\n")
		for _, op := range protocol.RequestOps {
			fmt.Fprintf(w, "djbs_request_errors_total{op=%q} %d\n", op.String(), m.ops[op].errors.Load())
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP djbs_request_latency_ms Average request latency per operation\n")
		fmt.Fprintf(w, "# TYPE djbs_request_latency_ms gauge\n")
		for _, op := range protocol.RequestOps {
			c := m.ops[op]
			if n := c.requests.Load(); n > 0 {
				avg := float64(c.latencySum.Load()) / float64(n) / 1000.0
				fmt.Fprintf(w, "djbs_request_latency_ms{op=%q} %.3f\n", op.String(), avg)
			}
		}
		fmt.Fprintln(w)

		writeMetric(w, "djbs_bytes_written_total", "counter", "Payload bytes accepted by write", m.bytesWritten.Load())
		writeMetric(w, "djbs_bytes_read_total", "counter", "Block bytes returned by read", m.bytesRead.Load())
		writeMetric(w, "djbs_active_connections", "gauge", "Current worker connections", m.activeConnections.Load())
		writeMetric(w, "djbs_connections_total", "counter", "Worker connections accepted", m.connectionsTotal.Load())
		writeMetric(w, "djbs_protocol_errors_total", "counter", "Malformed or oversized packets", m.protocolErrors.Load())

		if m.source == nil {
			return
		}
		st, err := m.source.Stats(r.Context())
		if err != nil {
			fmt.Fprintf(w, "# store stats unavailable: %v\n", err)
			return
		}
		writeMetric(w, "djbs_blocks_total", "gauge", "Physical blocks in the store", st.BlocksTotal)
		writeMetric(w, "djbs_blocks_occupied", "gauge", "Allocated physical blocks", st.BlocksOccupied)
		writeMetric(w, "djbs_objects", "gauge", "File:Tag objects", st.Objects)
		writeMetric(w, "djbs_objects_committed", "gauge", "Committed File:Tag objects", st.Committed)
		writeMetric(w, "djbs_hash_index_entries", "gauge", "Entries in the content hash index", st.IndexEntries)
		writeMetric(w, "djbs_cow_copies_total", "counter", "Blocks copied on write", st.CowCopies)
		writeMetric(w, "djbs_dedup_hits_total", "counter", "Blocks folded onto a canonical block", st.DedupHits)
		writeMetric(w, "djbs_stale_index_hits_total", "counter", "Index entries found stale at commit", st.StaleHits)
	}
}

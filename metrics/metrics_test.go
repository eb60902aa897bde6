package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dendrascience/dendra-blockstore/protocol"
	"github.com/dendrascience/dendra-blockstore/store"
)

type fakeSource struct {
	stats store.Stats
	err   error
}

func (f fakeSource) Stats(context.Context) (store.Stats, error) {
	return f.stats, f.err
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordRequest(protocol.OpWrite, 2*time.Millisecond, nil)
	m.RecordRequest(protocol.OpWrite, 4*time.Millisecond, errors.New("boom"))
	m.RecordRequest(protocol.OpOK, time.Millisecond, nil)

	snap := m.Snapshot()
	if snap.Requests[protocol.OpWrite] != 2 {
		t.Errorf("expected 2 writes, got %d", snap.Requests[protocol.OpWrite])
	}
	if snap.Errors[protocol.OpWrite] != 1 {
		t.Errorf("expected 1 write error, got %d", snap.Errors[protocol.OpWrite])
	}
	if _, ok := snap.Requests[protocol.OpOK]; ok {
		t.Errorf("response ops should not be tracked")
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics(nil)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	snap := m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("expected 2 active connections, got %d", snap.ActiveConnections)
	}
	if snap.ConnectionsTotal != 3 {
		t.Errorf("expected 3 connections total, got %d", snap.ConnectionsTotal)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(fakeSource{stats: store.Stats{BlocksTotal: 64, BlocksOccupied: 5, Objects: 3, DedupHits: 2}})

	m.RecordRequest(protocol.OpCreate, time.Millisecond, nil)
	m.RecordRequest(protocol.OpRead, time.Millisecond, errors.New("missing"))
	m.RecordWrite(4096)
	m.RecordRead(8192)
	m.RecordProtocolError()
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	checks := []string{
		"djbs_uptime_seconds",
		`djbs_requests_total{op="create"} 1`,
		`djbs_requests_total{op="delete"} 0`,
		`djbs_request_errors_total{op="read"} 1`,
		"djbs_bytes_written_total 4096",
		"djbs_bytes_read_total 8192",
		"djbs_protocol_errors_total 1",
		"djbs_active_connections 1",
		"djbs_blocks_total 64",
		"djbs_blocks_occupied 5",
		"djbs_objects 3",
		"djbs_dedup_hits_total 2",
	}
	for _, check := range checks {
		if !strings.Contains(body, check) {
			t.Errorf("expected %q in metrics output", check)
		}
	}
}

func TestMetrics_HandlerStatsError(t *testing.T) {
	m := NewMetrics(fakeSource{err: errors.New("closed")})

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, "store stats unavailable") {
		t.Error("expected stats error comment")
	}
	if strings.Contains(body, "djbs_blocks_total") {
		t.Error("store gauges should be omitted when stats fail")
	}
}

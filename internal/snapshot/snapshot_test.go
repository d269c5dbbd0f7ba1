package snapshot

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/audit"
	"pumpfun-trading-bot/internal/pipeline"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/summary"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ring := audit.New()
	sum := summary.New(func() float64 { return 1.0 }, func() int { return 0 })
	stats := NewStats()

	return New("127.0.0.1", 0, db, ring, sum, nil, stats)
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest("GET", "/health", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestHandlePipelineStats_ReflectsObservedOutcomes(t *testing.T) {
	s := newTestServer(t)
	s.stats.Observe(pipeline.Outcome{Mint: "Mint1", Action: "bought"})
	s.stats.Observe(pipeline.Outcome{Mint: "Mint2", Action: "filtered", Reason: "already_graduated"})

	req, _ := http.NewRequest("GET", "/api/pipeline-stats", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestHandlePositions_ReturnsEmptyListWhenNoPositions(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/positions", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestHandleTradeAuditSummary_ReturnsZeroedSummaryWhenEmpty(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/trade-audit", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestHandleLogSummaries_ReturnsCurrentBucket(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/log-summaries", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestHandlePoolDetections_ReturnsEmptyListWhenNoneRecorded(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/pool-detections", nil)
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestStatsObserve_ComputesBuyRate(t *testing.T) {
	stats := NewStats()
	stats.Observe(pipeline.Outcome{Mint: "Mint1", Action: "bought"})
	stats.Observe(pipeline.Outcome{Mint: "Mint2", Action: "bought"})
	stats.Observe(pipeline.Outcome{Mint: "Mint3", Action: "filtered", Reason: "sol_in_curve_out_of_range"})

	snap := stats.snapshot()
	require.InDelta(t, 66.66, snap["buy_rate_pct"], 0.5)
}

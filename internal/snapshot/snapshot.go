// Package snapshot is the read-only aggregator facade (spec 4.M): a
// fiber.App exposing health, pipeline stats, positions, pnl, trade audit,
// log summaries, and pool detections, grounded on internal/signal.Server's
// route-registration/Start/Shutdown idiom. Every handler here only reads
// from the singletons it's given; it never mutates trading state.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/audit"
	"pumpfun-trading-bot/internal/monitor"
	"pumpfun-trading-bot/internal/pipeline"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/summary"
)

// Stats is the pipeline-stats view: running counts plus top rejection
// reasons, maintained by subscribing to pipeline.Engine.OnOutcome.
type Stats struct {
	mu sync.Mutex

	tokensDetected int
	bought         int
	rejected       map[string]int
	totalDurations int64
	durationCount  int64
}

// Server runs the read-only snapshot HTTP facade.
type Server struct {
	app *fiber.App

	db      *store.Store
	ring    *audit.Ring
	sum     *summary.Aggregator
	mon     *monitor.Monitor
	stats   *Stats
	host    string
	port    int
}

// NewStats constructs an empty Stats tracker.
func NewStats() *Stats {
	return &Stats{rejected: make(map[string]int)}
}

// Observe feeds one pipeline Outcome into the running stats; wire this as
// a pipeline.Engine.OnOutcome callback.
func (s *Stats) Observe(o pipeline.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensDetected++
	if o.Action == "bought" {
		s.bought++
	} else {
		s.rejected[o.Reason]++
	}
	for _, r := range o.FilterResults {
		s.totalDurations += r.DurationMs
		s.durationCount++
	}
}

func (s *Stats) snapshot() fiber.Map {
	s.mu.Lock()
	defer s.mu.Unlock()

	avgDuration := int64(0)
	if s.durationCount > 0 {
		avgDuration = s.totalDurations / s.durationCount
	}

	buyRate := 0.0
	if s.tokensDetected > 0 {
		buyRate = float64(s.bought) / float64(s.tokensDetected) * 100
	}

	top := topReasons(s.rejected, 5)

	return fiber.Map{
		"tokens_detected":   s.tokensDetected,
		"tokens_bought":     s.bought,
		"buy_rate_pct":      buyRate,
		"avg_stage_duration_ms": avgDuration,
		"top_rejection_reasons": top,
	}
}

func topReasons(m map[string]int, n int) []fiber.Map {
	type kv struct {
		Reason string
		Count  int
	}
	kvs := make([]kv, 0, len(m))
	for k, v := range m {
		kvs = append(kvs, kv{k, v})
	}
	for i := 0; i < len(kvs); i++ {
		for j := i + 1; j < len(kvs); j++ {
			if kvs[j].Count > kvs[i].Count {
				kvs[i], kvs[j] = kvs[j], kvs[i]
			}
		}
	}
	if n > len(kvs) {
		n = len(kvs)
	}
	out := make([]fiber.Map, n)
	for i := 0; i < n; i++ {
		out[i] = fiber.Map{"reason": kvs[i].Reason, "count": kvs[i].Count}
	}
	return out
}

// New constructs a Server wired against the process's read-only
// singletons.
func New(host string, port int, db *store.Store, ring *audit.Ring, sum *summary.Aggregator, mon *monitor.Monitor, stats *Stats) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{
		app:   app,
		db:    db,
		ring:  ring,
		sum:   sum,
		mon:   mon,
		stats: stats,
		host:  host,
		port:  port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/api/pipeline-stats", s.handlePipelineStats)
	s.app.Get("/api/positions", s.handlePositions)
	s.app.Get("/api/pnl", s.handlePnL)
	s.app.Get("/api/trade-audit", s.handleTradeAuditSummary)
	s.app.Get("/api/trade-audit/recent", s.handleTradeAuditRecent)
	s.app.Get("/api/trade-audit/alerts", s.handleTradeAuditAlerts)
	s.app.Get("/api/log-summaries", s.handleLogSummaries)
	s.app.Get("/api/pool-detections", s.handlePoolDetections)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().Unix(),
		"checks": fiber.Map{
			"store_open":     s.db != nil,
			"monitor_active": s.mon != nil && s.mon.ActiveCount() >= 0,
		},
	})
}

func (s *Server) handlePipelineStats(c *fiber.Ctx) error {
	return c.JSON(s.stats.snapshot())
}

func (s *Server) handlePositions(c *fiber.Ctx) error {
	positions, err := s.db.GetAllOpenPositions()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	monitored := 0
	if s.mon != nil {
		monitored = s.mon.ActiveCount()
	}
	return c.JSON(fiber.Map{"positions": positions, "monitored": monitored})
}

func (s *Server) handlePnL(c *fiber.Ctx) error {
	positions, err := s.db.GetAllOpenPositions()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	unrealized := 0.0
	for _, p := range positions {
		if p.LastPriceSOL != nil {
			unrealized += *p.LastPriceSOL - p.AmountSOL
		}
	}

	return c.JSON(fiber.Map{
		"unrealized_sol": unrealized,
		"open_positions": len(positions),
	})
}

func (s *Server) handleTradeAuditSummary(c *fiber.Ctx) error {
	return c.JSON(s.ring.Summary())
}

func (s *Server) handleTradeAuditRecent(c *fiber.Ctx) error {
	n := c.QueryInt("n", 20)
	return c.JSON(fiber.Map{"records": s.ring.Recent(n)})
}

func (s *Server) handleTradeAuditAlerts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"alerts": s.ring.Alerts()})
}

func (s *Server) handleLogSummaries(c *fiber.Ctx) error {
	n := c.QueryInt("n", 10)
	return c.JSON(fiber.Map{
		"current":   s.sum.Current(),
		"finalized": s.sum.Finalized(n),
		"report":    s.sum.CompactReport(),
	})
}

func (s *Server) handlePoolDetections(c *fiber.Ctx) error {
	action := c.Query("action", "")
	since := int64(c.QueryInt("since", 0))
	until := int64(c.QueryInt("until", int(time.Now().UnixMilli())))
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	detections, err := s.db.GetPoolDetections(action, since, until, limit, offset)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"detections": detections})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting snapshot server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

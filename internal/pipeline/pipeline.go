// Package pipeline runs each detected token through the four-stage
// cheap-gates/deep-filters/momentum-gate/buy state machine (spec 4.I),
// grounded on the teacher's trading.Executor.ProcessSignal dispatch and
// mutex-guarded single-flight idiom, generalized from "one signal at a
// time" to "one pipeline context per signature, single-slot-gated".
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/audit"
	"pumpfun-trading-bot/internal/blacklist"
	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/curve"
	"pumpfun-trading-bot/internal/exposure"
	"pumpfun-trading-bot/internal/listener"
	"pumpfun-trading-bot/internal/mintcache"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/txengine"
)

// Config holds every tunable the pipeline's stages read, mirroring
// config.Config's pumpfun/momentum/fee/exposure fields without importing
// the config package directly (the pipeline is wired against plain values
// so it can be unit-tested without a viper-backed Config).
type Config struct {
	SingleSlotMode bool

	MinSolInCurve   float64
	MaxSolInCurve   float64
	EnableMinMax    bool
	EnableScore     bool
	MinScoreRequired int

	MomentumEnabled           bool
	MomentumInitialDelayMs    int64
	MomentumRecheckIntervalMs int64
	MomentumMinTotalBuys      int
	MomentumMaxChecks         int

	QuoteAmountLamports uint64
	BuySlippageBps      uint64

	UseDynamicFee  bool
	FeePercentile  int
	MinFeeLamports uint64
	MaxFeeLamports uint64
	StaticFeeLamports uint64

	SafetyMarginLamports uint64

	FeeConfig curve.FeeConfig
}

// StageResult records one stage's pass/fail outcome for the detection log,
// in spec 4.I's verbatim {name, checked, passed, detail} shape.
type StageResult struct {
	Name       string `json:"name"`
	Checked    bool   `json:"checked"`
	Passed     bool   `json:"passed"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Outcome is the terminal result of running one token through the
// pipeline.
type Outcome struct {
	Mint         string
	Action       string // "bought", "filtered", "blacklisted", "skipped", "error"
	Reason       string
	FilterResults []StageResult
	Signature    string
}

// Engine owns the singletons every stage consults and runs one context per
// detected token (spec 4.I).
type Engine struct {
	cfg Config

	rpc      *blockchain.RPCClient
	txengine *txengine.Engine
	wallet   *blockchain.Wallet

	db        *store.Store
	blacklist *blacklist.Blacklist
	exposure  *exposure.Manager
	mints     *mintcache.Cache
	audit     *audit.Ring

	mu       sync.Mutex
	running  map[string]struct{} // mints with an in-flight pipeline context
	shutdown bool

	outcomeHandlersMu sync.RWMutex
	outcomeHandlers   []func(Outcome)
}

// SetAudit wires the trade-audit ring that stageBuy records intended-vs-
// actual SOL into (spec 4.L); buys processed before this is called are not
// audited.
func (e *Engine) SetAudit(ring *audit.Ring) {
	e.audit = ring
}

// OnOutcome registers a callback invoked with the terminal Outcome of every
// processed token, the fan-out point internal/summary subscribes to for
// its per-bucket counters.
func (e *Engine) OnOutcome(h func(Outcome)) {
	e.outcomeHandlersMu.Lock()
	e.outcomeHandlers = append(e.outcomeHandlers, h)
	e.outcomeHandlersMu.Unlock()
}

func (e *Engine) fireOutcome(o Outcome) {
	e.outcomeHandlersMu.RLock()
	handlers := append([]func(Outcome){}, e.outcomeHandlers...)
	e.outcomeHandlersMu.RUnlock()
	for _, h := range handlers {
		h(o)
	}
}

// NewEngine wires the pipeline's dependencies together.
func NewEngine(cfg Config, rpc *blockchain.RPCClient, txe *txengine.Engine, wallet *blockchain.Wallet, db *store.Store, bl *blacklist.Blacklist, exp *exposure.Manager, mints *mintcache.Cache) *Engine {
	return &Engine{
		cfg:       cfg,
		rpc:       rpc,
		txengine:  txe,
		wallet:    wallet,
		db:        db,
		blacklist: bl,
		exposure:  exp,
		mints:     mints,
		running:   make(map[string]struct{}),
	}
}

// Shutdown sets the graceful-shutdown flag; in-flight contexts return at
// their next checkpoint with reason "shutdown".
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
}

func (e *Engine) isShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// logSink buffers every stage line so the terminal block is emitted as one
// atomic record (spec 4.I: "concurrent pipelines never interleave
// output"), the same strings.Builder-accumulate-then-flush idiom
// internal/audit's CompactReport uses for its own text rendering.
type logSink struct {
	mint string
	b    strings.Builder
}

func newLogSink(mint string) *logSink {
	s := &logSink{mint: mint}
	fmt.Fprintf(&s.b, "=== pipeline %s ===\n", mint)
	return s
}

func (s *logSink) line(format string, args ...interface{}) {
	fmt.Fprintf(&s.b, format+"\n", args...)
}

func (s *logSink) flush(outcome, reason string) {
	fmt.Fprintf(&s.b, "--- outcome=%s reason=%q ---", outcome, reason)
	log.Info().Str("mint", s.mint).Msg(s.b.String())
}

// Process runs mint through all four stages exactly once for this
// signature/poolID pair, writing a detection log row regardless of
// outcome (spec §8 invariant: "the pipeline processes S at most once").
func (e *Engine) Process(ctx context.Context, token listener.DetectedToken, poolID string) Outcome {
	sink := newLogSink(token.Mint)

	finish := func(outcome Outcome) Outcome {
		sink.flush(outcome.Action, outcome.Reason)
		e.recordDetection(token, poolID, outcome, outcome.FilterResults)
		e.fireOutcome(outcome)
		return outcome
	}

	if e.cfg.SingleSlotMode {
		if !e.acquireSlot(token.Mint) {
			return finish(Outcome{Mint: token.Mint, Action: "skipped", Reason: "slot_busy"})
		}
		defer e.releaseSlot(token.Mint)
	}

	var results []StageResult

	if e.isShutdown() {
		return finish(Outcome{Mint: token.Mint, Action: "skipped", Reason: "shutdown"})
	}

	stage1, reason := e.stageCheapGates(token, poolID)
	results = append(results, stage1...)
	if reason != "" {
		sink.line("stage1 cheap_gates: rejected (%s)", reason)
		return finish(Outcome{Mint: token.Mint, Action: actionForReason(reason), Reason: reason, FilterResults: results})
	}
	sink.line("stage1 cheap_gates: passed")

	state, stage2, reason := e.stageDeepFilters(ctx, token)
	results = append(results, stage2...)
	if reason != "" {
		sink.line("stage2 deep_filters: rejected (%s)", reason)
		return finish(Outcome{Mint: token.Mint, Action: "filtered", Reason: reason, FilterResults: results})
	}
	sink.line("stage2 deep_filters: passed, sol_in_curve=%.4f", curve.SolInCurve(state))

	if e.isShutdown() {
		return finish(Outcome{Mint: token.Mint, Action: "skipped", Reason: "shutdown", FilterResults: results})
	}

	reason = e.stageMomentumGate(ctx, token)
	if reason != "" {
		sink.line("stage3 momentum_gate: rejected (%s)", reason)
		return finish(Outcome{Mint: token.Mint, Action: "filtered", Reason: reason, FilterResults: results})
	}
	sink.line("stage3 momentum_gate: passed")

	e.exposure.MarkPending(token.Mint)
	defer e.exposure.ReleasePending(token.Mint)

	signature, buyErr := e.stageBuy(ctx, token, state)
	if buyErr != nil {
		sink.line("stage4 buy: failed (%v)", buyErr)
		return finish(Outcome{Mint: token.Mint, Action: "error", Reason: buyErr.Error(), FilterResults: results})
	}

	sink.line("stage4 buy: confirmed signature=%s", signature)
	return finish(Outcome{Mint: token.Mint, Action: "bought", FilterResults: results, Signature: signature})
}

func actionForReason(reason string) string {
	if reason == "blacklisted" {
		return "blacklisted"
	}
	return "skipped"
}

func (e *Engine) acquireSlot(mint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.running) > 0 {
		return false
	}
	e.running[mint] = struct{}{}
	return true
}

func (e *Engine) releaseSlot(mint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, mint)
}

func (e *Engine) recordDetection(token listener.DetectedToken, poolID string, outcome Outcome, results []StageResult) {
	filterJSON, err := json.Marshal(results)
	if err != nil {
		filterJSON = []byte("[]")
	}

	_, err = e.db.InsertPoolDetection(&store.PoolDetection{
		PoolID:          poolID,
		TokenMint:       token.Mint,
		DetectedAt:      time.Now().UnixMilli(),
		Action:          outcome.Action,
		FilterResults:   filterJSON,
		RiskCheckPassed: outcome.Action == "bought",
		Summary:         fmt.Sprintf("%s: %s", outcome.Action, outcome.Reason),
	})
	if err != nil {
		log.Error().Err(err).Str("mint", token.Mint).Msg("failed to persist pool detection row")
	}

	seenAction := outcome.Action
	var filterReason *string
	if outcome.Reason != "" {
		r := outcome.Reason
		filterReason = &r
	}
	if err := e.db.RecordSeenPool(&store.SeenPool{
		PoolID:       poolID,
		TokenMint:    token.Mint,
		FirstSeen:    time.Now().UnixMilli(),
		ActionTaken:  seenAction,
		FilterReason: filterReason,
	}); err != nil {
		log.Error().Err(err).Str("mint", token.Mint).Msg("failed to record seen pool")
	}
}

// creatorBase58 renders a curve.State's fixed-width creator pubkey as its
// base58 address string, the encoding every other account reference in
// this module already uses.
func creatorBase58(state *curve.State) string {
	return base58.Encode(state.Creator[:])
}

// Package summary aggregates the process into 5-minute wall-clock-aligned
// log-summary buckets (spec §3), grounded on internal/health.Checker's
// periodic-ticker/mutex-guarded-snapshot idiom and internal/audit.Ring's
// fixed-capacity retention.
package summary

import (
	"fmt"
	"sync"
	"time"
)

const (
	// WindowDuration is the wall-clock-aligned bucket width (spec §3/§8:
	// "bucket end-time = start-time + 300 000 ms, aligned to wall clock").
	WindowDuration = 5 * time.Minute
	// MaxFinalized is the retention cap on finalized buckets.
	MaxFinalized = 72
	// MaxErrors is the per-bucket cap on deduplicated error strings.
	MaxErrors = 5
)

// Bucket is one 5-minute window's counters.
type Bucket struct {
	WindowStart int64
	WindowEnd   int64

	TokensDetected int
	TokensPassed   int

	BuysAttempted int
	BuysSucceeded int
	BuysFailed    int

	SellsAttempted int
	SellsSucceeded int
	SellsFailed    int

	VerificationAlerts int

	PositionsOpen    int
	WalletBalanceSOL float64

	RejectionReasons map[string]int
	Errors           []string
	errorSeen        map[string]struct{}
}

func newBucket(start int64) *Bucket {
	return &Bucket{
		WindowStart:      start,
		WindowEnd:        start + WindowDuration.Milliseconds(),
		RejectionReasons: make(map[string]int),
		errorSeen:        make(map[string]struct{}),
	}
}

func (b *Bucket) recordError(msg string) {
	if len(b.Errors) >= MaxErrors {
		return
	}
	if _, ok := b.errorSeen[msg]; ok {
		return
	}
	b.errorSeen[msg] = struct{}{}
	b.Errors = append(b.Errors, msg)
}

// snapshot returns a shallow copy safe to hand to a reader without holding
// the aggregator's lock.
func (b *Bucket) snapshot() Bucket {
	cp := *b
	cp.RejectionReasons = make(map[string]int, len(b.RejectionReasons))
	for k, v := range b.RejectionReasons {
		cp.RejectionReasons[k] = v
	}
	cp.Errors = append([]string{}, b.Errors...)
	cp.errorSeen = nil
	return cp
}

// Aggregator owns the current bucket and the finalized-bucket ring.
type Aggregator struct {
	mu sync.Mutex

	current    *Bucket
	finalized  []Bucket
	walletFn   func() float64
	positionsFn func() int
}

// New constructs an Aggregator. walletFn/positionsFn are polled when a
// bucket finalizes to snapshot the wallet balance and open-position count
// at that instant (spec §3: "positions-open and wallet-balance
// snapshots"); CompactReport also polls them for the in-progress bucket.
func New(walletFn func() float64, positionsFn func() int) *Aggregator {
	return &Aggregator{
		current:     newBucket(alignedWindowStart(time.Now())),
		walletFn:    walletFn,
		positionsFn: positionsFn,
	}
}

func alignedWindowStart(t time.Time) int64 {
	ms := t.UnixMilli()
	width := WindowDuration.Milliseconds()
	return ms - (ms % width)
}

// rollIfNeeded finalizes the current bucket and opens a new one if now has
// crossed the current bucket's end time. Must be called with mu held.
func (a *Aggregator) rollIfNeeded(now time.Time) {
	nowMs := now.UnixMilli()
	for nowMs >= a.current.WindowEnd {
		if a.walletFn != nil {
			a.current.WalletBalanceSOL = a.walletFn()
		}
		if a.positionsFn != nil {
			a.current.PositionsOpen = a.positionsFn()
		}
		a.finalized = append(a.finalized, a.current.snapshot())
		if len(a.finalized) > MaxFinalized {
			a.finalized = a.finalized[len(a.finalized)-MaxFinalized:]
		}
		a.current = newBucket(a.current.WindowEnd)
	}
}

// Tick forces a boundary check; a dedicated heartbeat ticker should call
// this even when no events arrive in an otherwise-idle window.
func (a *Aggregator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
}

// RecordDetection increments tokens-detected, and tokens-passed when the
// token cleared the pipeline's filters (bought or still in flight past
// the filter stages).
func (a *Aggregator) RecordDetection(passedFilters bool, rejectionReason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	a.current.TokensDetected++
	if passedFilters {
		a.current.TokensPassed++
	}
	if rejectionReason != "" {
		a.current.RejectionReasons[rejectionReason]++
	}
}

// RecordBuy updates buy attempt/outcome counters.
func (a *Aggregator) RecordBuy(succeeded bool, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	a.current.BuysAttempted++
	if succeeded {
		a.current.BuysSucceeded++
	} else {
		a.current.BuysFailed++
		if errMsg != "" {
			a.current.recordError(errMsg)
		}
	}
}

// RecordSell updates sell attempt/outcome counters.
func (a *Aggregator) RecordSell(succeeded bool, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	a.current.SellsAttempted++
	if succeeded {
		a.current.SellsSucceeded++
	} else {
		a.current.SellsFailed++
		if errMsg != "" {
			a.current.recordError(errMsg)
		}
	}
}

// RecordVerificationAlert increments the verification-alert counter (fed
// by internal/audit's mismatch flag).
func (a *Aggregator) RecordVerificationAlert() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	a.current.VerificationAlerts++
}

// Current returns a snapshot of the in-progress bucket.
func (a *Aggregator) Current() Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	return a.current.snapshot()
}

// Finalized returns up to n of the most recent finalized buckets, newest
// last.
func (a *Aggregator) Finalized(n int) []Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollIfNeeded(time.Now())
	if n <= 0 || n > len(a.finalized) {
		n = len(a.finalized)
	}
	out := make([]Bucket, n)
	copy(out, a.finalized[len(a.finalized)-n:])
	return out
}

// CompactReport renders the current bucket as a single operator-facing
// line, the same register as internal/audit.Ring.CompactReport. The wallet
// balance and open-position count are polled at call time, since the
// in-progress bucket only receives them when it finalizes.
func (a *Aggregator) CompactReport() string {
	b := a.Current()
	if a.walletFn != nil {
		b.WalletBalanceSOL = a.walletFn()
	}
	if a.positionsFn != nil {
		b.PositionsOpen = a.positionsFn()
	}
	return fmt.Sprintf(
		"window=[%d,%d) detected=%d passed=%d buys=%d/%d/%d sells=%d/%d/%d alerts=%d positions_open=%d wallet=%.4f SOL",
		b.WindowStart, b.WindowEnd, b.TokensDetected, b.TokensPassed,
		b.BuysAttempted, b.BuysSucceeded, b.BuysFailed,
		b.SellsAttempted, b.SellsSucceeded, b.SellsFailed,
		b.VerificationAlerts, b.PositionsOpen, b.WalletBalanceSOL,
	)
}

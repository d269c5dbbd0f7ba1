// Package audit is a ring-buffer trade audit comparing intended vs. actual
// trade amounts, surfacing mismatches and a compact operator report (spec
// 4.L), grounded on the teacher's trading.Metrics ring-buffer + mutex
// idiom.
package audit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity is the ring buffer's maximum record count.
const Capacity = 200

// mismatchThresholdPercent is the discrepancy magnitude above which a
// record is flagged has_mismatch.
const mismatchThresholdPercent = 5.0

// Side identifies whether a record is for a buy or a sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Record is one buy or sell confirmation compared against its intent.
type Record struct {
	ID          string
	Side        Side
	TokenMint   string
	Intended    float64
	Actual      float64
	Discrepancy float64 // percent, sign-preserving, SOL-denominated
	HasMismatch bool
	// ExpectedTokens/ActualTokens are the quote's tokens-out vs. the
	// tokens actually received; zero on sell records, since a sell's
	// input token amount is exact and carries no quantity slippage of
	// its own.
	ExpectedTokens uint64
	ActualTokens   uint64
	// SlippagePct is the token-quantity slippage (ActualTokens vs.
	// ExpectedTokens) for a buy; it mirrors Discrepancy for a sell, since
	// a sell has no separate token-quantity leg to measure.
	SlippagePct float64
	// Verified is false when the transaction engine could not confirm
	// the real on-chain amounts and fell back to intended/expected
	// values (spec §7); such a record always carries HasMismatch.
	Verified  bool
	Timestamp time.Time
}

// Summary aggregates the ring buffer's current contents.
type Summary struct {
	TotalRecords     int
	AverageDiscrepancy float64
	AverageSlippage  float64
	LastAuditTS      time.Time
}

// Ring is a fixed-capacity, mutex-guarded audit ring buffer.
type Ring struct {
	mu      sync.Mutex
	records []Record
	next    int
	filled  bool

	onAlertMu sync.RWMutex
	onAlert   func(Record)
}

// New constructs an empty audit ring.
func New() *Ring {
	return &Ring{records: make([]Record, Capacity)}
}

// OnAlert registers a callback invoked, outside the ring's lock, every time
// a pushed record carries HasMismatch (including every unverified record);
// cmd/bot wires this to internal/summary's RecordVerificationAlert.
func (r *Ring) OnAlert(h func(Record)) {
	r.onAlertMu.Lock()
	r.onAlert = h
	r.onAlertMu.Unlock()
}

func discrepancyPercent(intended, actual float64) float64 {
	if intended == 0 {
		return 0
	}
	return (actual - intended) / intended * 100
}

// RecordBuy pushes a buy confirmation, computing discrepancy = (actual -
// intended) / intended * 100 over the SOL legs and a separate token-quantity
// slippage over expectedTokens/actualTokens; has_mismatch is set whenever
// either exceeds 5% or verified is false (spec §3, §7).
func (r *Ring) RecordBuy(tokenMint string, intendedSOL, actualSOL float64, expectedTokens, actualTokens uint64, verified bool) Record {
	return r.push(SideBuy, tokenMint, intendedSOL, actualSOL, expectedTokens, actualTokens, verified)
}

// RecordSell pushes a sell confirmation with the same discrepancy formula
// against expected vs. received proceeds; a sell's token leg is exact, so
// expectedTokens/actualTokens are left zero.
func (r *Ring) RecordSell(tokenMint string, expectedSOL, receivedSOL float64, verified bool) Record {
	return r.push(SideSell, tokenMint, expectedSOL, receivedSOL, 0, 0, verified)
}

func (r *Ring) push(side Side, tokenMint string, intended, actual float64, expectedTokens, actualTokens uint64, verified bool) Record {
	discrepancy := discrepancyPercent(intended, actual)

	tokenSlippage := discrepancy
	if expectedTokens > 0 {
		tokenSlippage = (float64(actualTokens) - float64(expectedTokens)) / float64(expectedTokens) * 100
	}

	hasMismatch := absFloat(discrepancy) > mismatchThresholdPercent || absFloat(tokenSlippage) > mismatchThresholdPercent || !verified

	rec := Record{
		ID:             uuid.NewString(),
		Side:           side,
		TokenMint:      tokenMint,
		Intended:       intended,
		Actual:         actual,
		Discrepancy:    discrepancy,
		ExpectedTokens: expectedTokens,
		ActualTokens:   actualTokens,
		SlippagePct:    tokenSlippage,
		Verified:       verified,
		HasMismatch:    hasMismatch,
		Timestamp:      time.Now(),
	}

	r.mu.Lock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % Capacity
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()

	if hasMismatch {
		r.onAlertMu.RLock()
		h := r.onAlert
		r.onAlertMu.RUnlock()
		if h != nil {
			h(rec)
		}
	}

	return rec
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (r *Ring) snapshotLocked() []Record {
	if !r.filled {
		out := make([]Record, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]Record, Capacity)
	copy(out, r.records[r.next:])
	copy(out[Capacity-r.next:], r.records[:r.next])
	return out
}

// Summary returns aggregate totals/averages across all currently held
// records.
func (r *Ring) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.snapshotLocked()
	if len(records) == 0 {
		return Summary{}
	}

	var sumDiscrepancy, sumSlippage float64
	last := records[len(records)-1].Timestamp
	for _, rec := range records {
		sumDiscrepancy += rec.Discrepancy
		sumSlippage += rec.SlippagePct
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}

	n := float64(len(records))
	return Summary{
		TotalRecords:       len(records),
		AverageDiscrepancy: sumDiscrepancy / n,
		AverageSlippage:    sumSlippage / n,
		LastAuditTS:        last,
	}
}

// Recent returns the most recent n records, newest first.
func (r *Ring) Recent(n int) []Record {
	r.mu.Lock()
	all := r.snapshotLocked()
	r.mu.Unlock()

	reversed := make([]Record, len(all))
	for i, rec := range all {
		reversed[len(all)-1-i] = rec
	}
	if n > 0 && n < len(reversed) {
		return reversed[:n]
	}
	return reversed
}

// Alerts returns only mismatched records, newest first.
func (r *Ring) Alerts() []Record {
	var alerts []Record
	for _, rec := range r.Recent(0) {
		if rec.HasMismatch {
			alerts = append(alerts, rec)
		}
	}
	return alerts
}

// CompactReport renders a plain-text operator summary: one line per
// mismatch, newest first, prefixed "MISMATCH BUY" or "MISMATCH SELL",
// followed by a closing "audit:" totals line.
func (r *Ring) CompactReport() string {
	summary := r.Summary()
	var b strings.Builder

	for _, rec := range r.Alerts() {
		fmt.Fprintf(&b, "MISMATCH %s %s intended=%.6f actual=%.6f discrepancy=%.2f%%\n",
			strings.ToUpper(string(rec.Side)), rec.TokenMint, rec.Intended, rec.Actual, rec.Discrepancy)
	}

	fmt.Fprintf(&b, "audit: %d records, avg discrepancy %.2f%%, avg slippage %.2f%%\n",
		summary.TotalRecords, summary.AverageDiscrepancy, summary.AverageSlippage)

	return b.String()
}

// Package exposure tracks open-position SOL exposure, hourly trade rate,
// pending buys, and wallet buffer to gate every buy before it reaches the
// transaction layer (spec 4.E), grounded on the teacher's
// trading.PositionTracker/blockchain.BalanceTracker mutex-guarded map +
// atomic counters idiom.
package exposure

import (
	"fmt"
	"sync"
	"time"
)

// Position is the exposure manager's view of one open trade.
type Position struct {
	EntrySOL       float64
	CurrentValue   float64
	EntryTS        time.Time
	PoolID         string
}

// Manager tracks current exposure, trade rate, and pending buys in memory.
type Manager struct {
	mu sync.Mutex

	positions   map[string]Position
	pending     map[string]struct{}
	tradeTimes  []time.Time // trade timestamps, pruned to the last hour on each rate check

	maxTotalExposureSOL float64
	maxTradesPerHour    int
	minWalletBufferSOL  float64

	walletBalanceSOL float64
}

// New constructs an exposure Manager from validated guard-cap configuration.
func New(maxTotalExposureSOL float64, maxTradesPerHour int, minWalletBufferSOL float64) *Manager {
	return &Manager{
		positions:           make(map[string]Position),
		pending:             make(map[string]struct{}),
		maxTotalExposureSOL: maxTotalExposureSOL,
		maxTradesPerHour:    maxTradesPerHour,
		minWalletBufferSOL:  minWalletBufferSOL,
	}
}

// SetWalletBalance updates the cached wallet balance snapshot used by the
// buffer check. Refreshed on demand by the caller, not polled internally.
func (m *Manager) SetWalletBalance(sol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletBalanceSOL = sol
}

func (m *Manager) currentExposureLocked() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.EntrySOL
	}
	return total
}

func (m *Manager) tradesInLastHourLocked() int {
	cutoff := time.Now().Add(-time.Hour)
	count := 0
	kept := m.tradeTimes[:0]
	for _, t := range m.tradeTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
			count++
		}
	}
	m.tradeTimes = kept
	return count
}

// CheckBuy validates all four exposure guards for a proposed buy of
// requestedSOL against mint. Returns a distinct reason string on the first
// failing check, or "" if the buy may proceed.
func (m *Manager) CheckBuy(mint string, requestedSOL float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[mint]; ok {
		return "pending_trade"
	}

	if m.currentExposureLocked()+requestedSOL > m.maxTotalExposureSOL {
		return "exposure_cap"
	}

	if m.tradesInLastHourLocked() >= m.maxTradesPerHour {
		return "rate_limit"
	}

	if m.walletBalanceSOL-requestedSOL < m.minWalletBufferSOL {
		return "wallet_buffer"
	}

	return ""
}

// MarkPending records mint as having a buy in flight. The pipeline must
// call this before submitting the transaction and ReleasePending once it
// resolves (success or failure).
func (m *Manager) MarkPending(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[mint] = struct{}{}
}

// ReleasePending clears the in-flight marker for mint.
func (m *Manager) ReleasePending(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, mint)
}

// RecordOpen records a confirmed buy: opens the position and logs the
// trade timestamp against the hourly rate window.
func (m *Manager) RecordOpen(mint string, entrySOL float64, poolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.positions[mint] = Position{EntrySOL: entrySOL, CurrentValue: entrySOL, EntryTS: now, PoolID: poolID}
	m.tradeTimes = append(m.tradeTimes, now)
}

// UpdateValue refreshes a position's current mark-to-market value.
func (m *Manager) UpdateValue(mint string, currentValueSOL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[mint]; ok {
		p.CurrentValue = currentValueSOL
		m.positions[mint] = p
	}
}

// RecordClose removes a position from tracked exposure on close.
func (m *Manager) RecordClose(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, mint)
}

// CurrentExposure returns total SOL committed to open positions.
func (m *Manager) CurrentExposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentExposureLocked()
}

// HasPosition reports whether mint currently has an open position tracked.
func (m *Manager) HasPosition(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[mint]
	return ok
}

// String renders a compact operator-facing summary line.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("exposure=%.4f SOL positions=%d pending=%d wallet=%.4f SOL",
		m.currentExposureLocked(), len(m.positions), len(m.pending), m.walletBalanceSOL)
}

package summary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordDetection_IncrementsDetectedAndPassed(t *testing.T) {
	a := New(func() float64 { return 1.5 }, func() int { return 2 })

	a.RecordDetection(true, "")
	a.RecordDetection(false, "blacklisted")
	a.RecordDetection(false, "blacklisted")

	b := a.Current()
	require.Equal(t, 3, b.TokensDetected)
	require.Equal(t, 1, b.TokensPassed)
	require.Equal(t, 2, b.RejectionReasons["blacklisted"])
}

func TestRecordBuy_TracksSuccessAndFailureCounts(t *testing.T) {
	a := New(nil, nil)

	a.RecordBuy(true, "")
	a.RecordBuy(false, "outflow_guard: balance too low")
	a.RecordBuy(false, "outflow_guard: balance too low")

	b := a.Current()
	require.Equal(t, 3, b.BuysAttempted)
	require.Equal(t, 1, b.BuysSucceeded)
	require.Equal(t, 2, b.BuysFailed)
	require.Len(t, b.Errors, 1) // deduplicated
}

func TestRecordBuy_CapsErrorsAtFive(t *testing.T) {
	a := New(nil, nil)
	for i := 0; i < 10; i++ {
		a.RecordBuy(false, errorString(i))
	}

	b := a.Current()
	require.Len(t, b.Errors, MaxErrors)
}

func errorString(i int) string {
	return string(rune('a' + i))
}

func TestFinalized_RetainsAtMostMaxFinalizedBuckets(t *testing.T) {
	a := New(nil, nil)
	// Force many rollovers by manually rewinding the current bucket's
	// window boundaries rather than sleeping in real time.
	for i := 0; i < MaxFinalized+5; i++ {
		a.mu.Lock()
		a.current.WindowEnd = a.current.WindowStart // force rollIfNeeded to fire on next call
		a.mu.Unlock()
		a.Tick()
	}

	finalized := a.Finalized(0)
	require.LessOrEqual(t, len(finalized), MaxFinalized)
}

func TestCompactReport_IncludesWindowBounds(t *testing.T) {
	a := New(func() float64 { return 3.0 }, func() int { return 1 })
	report := a.CompactReport()
	require.Contains(t, report, "window=[")
	require.Contains(t, report, "wallet=3.0000 SOL")
}

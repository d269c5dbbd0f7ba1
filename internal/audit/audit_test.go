package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordBuy_FlagsMismatchWhenDiscrepancyExceedsFivePercent(t *testing.T) {
	r := New()
	rec := r.RecordBuy("Mint1", 0.001, 0.00124, 0, 0, true)
	assert.InDelta(t, 24.0, rec.Discrepancy, 0.01)
	assert.True(t, rec.HasMismatch)
}

func TestRecordBuy_NoMismatchWithinFivePercent(t *testing.T) {
	r := New()
	rec := r.RecordBuy("Mint1", 0.001, 0.00102, 0, 0, true)
	assert.False(t, rec.HasMismatch)
}

func TestRecordSell_ComputesSignPreservingDiscrepancy(t *testing.T) {
	r := New()
	rec := r.RecordSell("Mint1", 0.000915, 0.000900, true)
	assert.Less(t, rec.Discrepancy, 0.0)
	assert.InDelta(t, -1.64, rec.Discrepancy, 0.01)
}

func TestAlerts_OnlyReturnsMismatchedRecords(t *testing.T) {
	r := New()
	r.RecordBuy("Mint1", 0.001, 0.00102, 0, 0, true) // no mismatch
	r.RecordBuy("Mint2", 0.001, 0.00124, 0, 0, true) // mismatch

	alerts := r.Alerts()
	assert.Len(t, alerts, 1)
	assert.Equal(t, "Mint2", alerts[0].TokenMint)
}

func TestRing_WrapsAtCapacityKeepingMostRecent(t *testing.T) {
	r := New()
	for i := 0; i < Capacity+10; i++ {
		r.RecordBuy("Mint", 0.001, 0.001, 0, 0, true)
	}
	summary := r.Summary()
	assert.Equal(t, Capacity, summary.TotalRecords)
}

func TestCompactReport_BeginsWithMismatchBuyLine(t *testing.T) {
	r := New()
	r.RecordBuy("Mint1", 0.001, 0.00124, 0, 0, true)

	report := r.CompactReport()
	assert.True(t, strings.HasPrefix(report, "MISMATCH BUY Mint1"))
}

func TestRecordBuy_UnverifiedAlwaysFlagsMismatch(t *testing.T) {
	r := New()
	rec := r.RecordBuy("Mint1", 0.001, 0.001, 1000, 1000, false)
	assert.True(t, rec.HasMismatch)
	assert.False(t, rec.Verified)
}

func TestRecordBuy_TokenSlippageDistinctFromSolDiscrepancy(t *testing.T) {
	r := New()
	rec := r.RecordBuy("Mint1", 0.001, 0.001, 1000, 940, true)
	assert.InDelta(t, 0.0, rec.Discrepancy, 0.01)
	assert.InDelta(t, -6.0, rec.SlippagePct, 0.01)
	assert.True(t, rec.HasMismatch)
}

func TestOnAlert_FiresOnlyForMismatchedRecords(t *testing.T) {
	r := New()
	var alerted []string
	r.OnAlert(func(rec Record) { alerted = append(alerted, rec.TokenMint) })

	r.RecordBuy("Mint1", 0.001, 0.00102, 0, 0, true) // no mismatch
	r.RecordBuy("Mint2", 0.001, 0.00124, 0, 0, true) // mismatch

	assert.Equal(t, []string{"Mint2"}, alerted)
}

func TestRecent_ReturnsNewestFirst(t *testing.T) {
	r := New()
	r.RecordBuy("Mint1", 0.001, 0.001, 0, 0, true)
	r.RecordBuy("Mint2", 0.001, 0.001, 0, 0, true)

	recent := r.Recent(2)
	assert.Equal(t, "Mint2", recent[0].TokenMint)
	assert.Equal(t, "Mint1", recent[1].TokenMint)
}

package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/endpoint"
	"pumpfun-trading-bot/internal/mintcache"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	pool := endpoint.NewPool([]string{"http://localhost:0"}, endpoint.DefaultThresholds())
	rpc := blockchain.NewRPCClient(pool)
	cache := mintcache.New(time.Minute)
	t.Cleanup(cache.Stop)
	return New("ws://localhost:0", rpc, cache)
}

func TestHasCreateMarker_DetectsCreateInstructionLog(t *testing.T) {
	assert.True(t, hasCreateMarker([]string{"Program log: Instruction: Create"}))
	assert.False(t, hasCreateMarker([]string{"Program log: Instruction: Buy"}))
}

func TestHarvestMetadata_ExtractsNameSymbolURI(t *testing.T) {
	logs := []string{
		`Program data: name: "ALPHA", symbol: "A", uri: "https://example.com/meta.json"`,
	}
	name, symbol, uri := harvestMetadata(logs)
	assert.Equal(t, "ALPHA", name)
	assert.Equal(t, "A", symbol)
	assert.Equal(t, "https://example.com/meta.json", uri)
}

func TestSeenAndMarkSeen_DedupsSignatures(t *testing.T) {
	l := newTestListener(t)
	assert.False(t, l.seen("sig1"))
	l.markSeen("sig1")
	assert.True(t, l.seen("sig1"))
}

func TestMarkSeen_EvictsOldestFifthOnOverflow(t *testing.T) {
	l := newTestListener(t)
	for i := 0; i < dedupRingSize+1; i++ {
		l.markSeen(string(rune(i)))
	}
	l.mu.Lock()
	size := len(l.dedupSeq)
	l.mu.Unlock()
	assert.Less(t, size, dedupRingSize+1)
}

func TestResetDedup_ClearsAllEntries(t *testing.T) {
	l := newTestListener(t)
	l.markSeen("sig1")
	l.resetDedup()
	assert.False(t, l.seen("sig1"))
}

func TestExtractCreateAccounts_ReadsOuterInstructionOrdinals(t *testing.T) {
	tx := &blockchain.ParsedTransaction{}
	tx.Transaction.Message.Instructions = []blockchain.ParsedInstruction{
		{
			ProgramID: PumpProgramID,
			Accounts:  []string{"Mint1", "_", "Curve1", "AssocCurve1", "_", "_", "_", "Creator1"},
		},
	}

	detected, err := extractCreateAccounts(tx)
	require.NoError(t, err)
	assert.Equal(t, "Mint1", detected.Mint)
	assert.Equal(t, "Curve1", detected.BondingCurvePDA)
	assert.Equal(t, "AssocCurve1", detected.AssociatedCurve)
	assert.Equal(t, "Creator1", detected.Creator)
}

func TestExtractCreateAccounts_FallsBackToPostTokenBalances(t *testing.T) {
	tx := &blockchain.ParsedTransaction{}
	tx.Meta.PostTokenBalances = []blockchain.TokenBalance{{Mint: "FallbackMint"}}

	detected, err := extractCreateAccounts(tx)
	require.NoError(t, err)
	assert.Equal(t, "FallbackMint", detected.Mint)
}

func TestExtractCreateAccounts_ErrorsWhenNothingFound(t *testing.T) {
	tx := &blockchain.ParsedTransaction{}
	_, err := extractCreateAccounts(tx)
	require.Error(t, err)
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrationsToLatestVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.currentVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestRecordTradeIntentThenConfirm_YieldsConfirmedRowWithMatchingAmounts(t *testing.T) {
	s := newTestStore(t)

	id, err := s.RecordTradeIntent(&Trade{
		Side: "buy", TokenMint: "Mint1", AmountSOL: 0.001, AmountToken: 0,
		Price: 0, TS: 1000, PoolID: "Pool1", IntentTS: 1000,
	})
	require.NoError(t, err)

	require.NoError(t, s.ConfirmTrade(id, 0.00102, 500_000, 0.00000204, "sig123", 1500))

	trade, err := s.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", trade.Status)
	assert.Equal(t, 0.00102, trade.AmountSOL)
	assert.Equal(t, uint64(500_000), trade.AmountToken)
	assert.Equal(t, "sig123", *trade.TxSignature)
}

func TestConfirmTrade_RejectsReplayOfAlreadyConfirmedIntent(t *testing.T) {
	s := newTestStore(t)

	id, err := s.RecordTradeIntent(&Trade{Side: "buy", TokenMint: "Mint1", TS: 1000, PoolID: "Pool1", IntentTS: 1000})
	require.NoError(t, err)
	require.NoError(t, s.ConfirmTrade(id, 0.001, 1, 0.001, "sig1", 1100))

	err = s.ConfirmTrade(id, 0.002, 2, 0.001, "sig2", 1200)
	require.Error(t, err)
}

func TestRecoverStalePendingTrades_MarksOldPendingTradesFailed(t *testing.T) {
	s := newTestStore(t)

	staleTS := time.Now().Add(-2 * time.Minute).UnixMilli()
	id, err := s.RecordTradeIntent(&Trade{Side: "buy", TokenMint: "Mint1", TS: staleTS, PoolID: "Pool1", IntentTS: staleTS})
	require.NoError(t, err)

	n, err := s.RecoverStalePendingTrades(60 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	trade, err := s.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, "failed", trade.Status)
	assert.Equal(t, "timed out on startup recovery", *trade.ErrorMessage)
}

func TestRecordSeenPool_IsIdempotentOnDuplicateInsert(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordSeenPool(&SeenPool{PoolID: "Pool1", TokenMint: "Mint1", FirstSeen: 1000, ActionTaken: "bought"}))
	require.NoError(t, s.RecordSeenPool(&SeenPool{PoolID: "Pool1", TokenMint: "Mint1", FirstSeen: 2000, ActionTaken: "filtered"}))

	seen, err := s.HasSeenPool("Pool1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestInsertPosition_RoundTripsAndCanBeClosed(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertPosition(&Position{
		TokenMint: "Mint1", BondingCurvePDA: "Curve1", AssociatedCurve: "AssocCurve1", Creator: "Creator1",
		IntendedSOL: 0.1, EntryPrice: 0.0001, AmountToken: 1000, AmountSOL: 0.1,
		EntryTS: 1000, PoolID: "Pool1",
	})
	require.NoError(t, err)

	pos, err := s.GetOpenPosition("Mint1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "open", pos.Status)

	require.NoError(t, s.ClosePosition(id, 2000, "time_exit", 0.12))

	pos, err = s.GetOpenPosition("Mint1")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

package blacklist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_PopulatesFromExistingStoreRows(t *testing.T) {
	db := newTestStore(t)
	require.NoError(t, db.InsertBlacklistEntry(&store.BlacklistEntry{Address: "BadMint1", Type: "mint", AddedTS: 1000}))

	bl, err := Load(db)
	require.NoError(t, err)
	assert.True(t, bl.IsBlacklisted("BadMint1"))
	assert.Equal(t, 1, bl.Size())
}

func TestAdd_PersistsAndUpdatesMirror(t *testing.T) {
	db := newTestStore(t)
	bl, err := Load(db)
	require.NoError(t, err)

	require.NoError(t, bl.Add("BadCreator1", "creator", "rug history"))
	assert.True(t, bl.IsBlacklisted("BadCreator1"))

	reloaded, err := Load(db)
	require.NoError(t, err)
	assert.True(t, reloaded.IsBlacklisted("BadCreator1"))
}

func TestIsBlacklisted_FalseForUnknownAddress(t *testing.T) {
	db := newTestStore(t)
	bl, err := Load(db)
	require.NoError(t, err)
	assert.False(t, bl.IsBlacklisted("Unknown"))
}

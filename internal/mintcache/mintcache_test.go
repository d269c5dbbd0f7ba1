package mintcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_IsFirstWriteWins(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Add("Mint1", "listener", "sig1")
	c.Add("Mint1", "backfill", "sig2")

	entry, ok := c.Get("Mint1")
	require.True(t, ok)
	assert.Equal(t, "listener", entry.Source)
	assert.Equal(t, "sig1", entry.Signature)
}

func TestGet_ReturnsNothingAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Stop()

	c.Add("Mint1", "listener", "sig1")
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("Mint1")
	assert.False(t, ok)
}

func TestGet_MissingMintIsMiss(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	_, ok := c.Get("Nonexistent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Misses)
}

func TestStats_TracksInsertsBySourceAndHitRate(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Add("Mint1", "listener", "sig1")
	c.Add("Mint2", "listener", "sig2")
	c.Add("Mint3", "backfill", "sig3")

	c.Get("Mint1")
	c.Get("Mint2")
	c.Get("Missing")

	stats := c.Stats()
	assert.Equal(t, 2, stats.InsertsBySource["listener"])
	assert.Equal(t, 1, stats.InsertsBySource["backfill"])
	assert.Equal(t, 2, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.001)
}

func TestStop_HaltsSweeperWithoutPanic(t *testing.T) {
	c := New(time.Minute)
	c.Add("Mint1", "listener", "")
	c.Stop()
	assert.Equal(t, 1, c.Size())
}

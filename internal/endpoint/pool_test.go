package endpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskURL(t *testing.T) {
	masked := MaskURL("https://rpc.example.com/?api_key=supersecret")
	assert.Contains(t, masked, "api_key=%2A%2A%2A")
	assert.NotContains(t, masked, "supersecret")

	plain := MaskURL("https://api.mainnet-beta.solana.com")
	assert.Equal(t, "https://api.mainnet-beta.solana.com", plain)
}

func TestPool_RotatesToHealthyAfterMaxFailures(t *testing.T) {
	p := NewPool([]string{"https://a.example", "https://b.example"}, Thresholds{
		MaxFailures:      2,
		RecoveryWindow:   time.Minute,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
		MaxRotateRetries: 3,
	})

	require.Equal(t, "https://a.example", p.Current().URL)

	calls := 0
	err := p.Do(func(ep *Endpoint) error {
		calls++
		if ep.URL == "https://a.example" {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "https://b.example", p.Current().URL)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestPool_UnhealthyUntilRecoveryWindowElapses(t *testing.T) {
	p := NewPool([]string{"https://a.example"}, Thresholds{
		MaxFailures:      1,
		RecoveryWindow:   10 * time.Millisecond,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
		MaxRotateRetries: 1,
	})

	p.ReportFailure()
	ep := p.Current()
	assert.False(t, ep.isHealthy(p.thresholds.RecoveryWindow))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, ep.isHealthy(p.thresholds.RecoveryWindow))
}

func TestPool_RateLimitBacksOffWithoutRotating(t *testing.T) {
	p := NewPool([]string{"https://a.example", "https://b.example"}, Thresholds{
		MaxFailures:      5,
		RecoveryWindow:   time.Minute,
		BackoffBase:      time.Millisecond,
		BackoffCap:       4 * time.Millisecond,
		MaxRotateRetries: 2,
	})

	attempts := 0
	err := p.Do(func(ep *Endpoint) error {
		attempts++
		if attempts < 3 {
			return errors.New("429 Too Many Requests")
		}
		return nil
	})

	require.NoError(t, err)
	// still on the primary endpoint: 429s never rotate
	assert.Equal(t, "https://a.example", p.Current().URL)
}

func TestPool_SurfacesLastErrorWhenNoEndpointsRecover(t *testing.T) {
	p := NewPool([]string{"https://a.example", "https://b.example"}, Thresholds{
		MaxFailures:      1,
		RecoveryWindow:   time.Hour,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
		MaxRotateRetries: 2,
	})

	err := p.Do(func(ep *Endpoint) error {
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/endpoint"
)

type fakeListener struct{ connected bool }

func (f fakeListener) Connected() bool { return f.connected }

func newTestPool(t *testing.T, url string) *endpoint.Pool {
	t.Helper()
	return endpoint.NewPool([]string{url}, endpoint.Thresholds{
		MaxFailures:      5,
		RecoveryWindow:   time.Minute,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
		MaxRotateRetries: 1,
	})
}

func TestCheck_ReportsHealthyWhenRPCRespondsAndListenerConnected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":1000}}}`)
	}))
	defer ts.Close()

	pool := newTestPool(t, ts.URL)
	rpc := blockchain.NewRPCClient(pool)
	checker := NewChecker(rpc, pool, fakeListener{connected: true})

	checker.check(context.Background())
	require.True(t, checker.Ready())

	statuses := checker.GetStatuses()
	require.Len(t, statuses, 2)
}

func TestCheck_ReportsNotReadyWhenListenerDisconnected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":1000}}}`)
	}))
	defer ts.Close()

	pool := newTestPool(t, ts.URL)
	rpc := blockchain.NewRPCClient(pool)
	checker := NewChecker(rpc, pool, fakeListener{connected: false})

	checker.check(context.Background())
	require.False(t, checker.Ready())
}

func TestReady_FalseBeforeFirstCheck(t *testing.T) {
	checker := NewChecker(nil, endpoint.NewPool([]string{"http://localhost:0"}, endpoint.DefaultThresholds()), fakeListener{})
	require.False(t, checker.Ready())
}

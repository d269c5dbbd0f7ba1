package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/endpoint"
)

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

func TestGetAllTokenAccounts(t *testing.T) {
	mockResponse := `{
		"jsonrpc": "2.0",
		"result": {
			"value": [
				{"pubkey":"Account1","account":{"data":{"parsed":{"info":{"mint":"Mint1","tokenAmount":{"amount":"1000","decimals":6}}}}}},
				{"pubkey":"Account2","account":{"data":{"parsed":{"info":{"mint":"Mint2","tokenAmount":{"amount":"2000","decimals":9}}}}}}
			]
		},
		"id": 1
	}`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getTokenAccountsByOwner", req.Method)

		filter, ok := req.Params[1].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, TokenProgramID, filter["programId"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, mockResponse)
	}))
	defer ts.Close()

	client := NewRPCClient(newTestPool(t, ts.URL))

	accounts, err := client.GetAllTokenAccounts(context.Background(), "OwnerAddress")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "Mint1", accounts[0].Mint)
	require.Equal(t, uint64(1000), accounts[0].Amount)
	require.Equal(t, uint8(6), accounts[0].Decimals)
}

func TestGetTokenAccountsByOwner_BothPrograms(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		filter := req.Params[1].(map[string]interface{})

		var mint string
		switch filter["programId"] {
		case TokenProgramID:
			mint = "LegacyMint"
		case Token2022ProgramID:
			mint = "Mint2022"
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"pubkey":"acc","account":{"data":{"parsed":{"info":{"mint":%q,"tokenAmount":{"amount":"5","decimals":0}}}}}}]}}`, mint)
	}))
	defer ts.Close()

	client := NewRPCClient(newTestPool(t, ts.URL))
	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "Owner", "")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}

func TestGetLatestBlockhash(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":1000}}}`)
	}))
	defer ts.Close()

	client := NewRPCClient(newTestPool(t, ts.URL))
	bh, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", bh.Value.Blockhash)
	require.Equal(t, uint64(1000), bh.Value.LastValidBlockHeight)
}

func TestCall_RotatesOnHardFailureAcrossEndpoints(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":42}}`)
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	pool := endpoint.NewPool([]string{bad.URL, good.URL}, endpoint.Thresholds{
		MaxFailures:      1,
		RecoveryWindow:   time.Minute,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
		MaxRotateRetries: 2,
	})
	client := NewRPCClient(pool)

	balance, err := client.GetBalance(context.Background(), "Pubkey")
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance)
}

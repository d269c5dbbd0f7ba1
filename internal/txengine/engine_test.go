package txengine

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/endpoint"
)

func newEd25519Wallet(t *testing.T) *blockchain.Wallet {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	w, err := blockchain.NewWallet(base58.Encode(priv))
	require.NoError(t, err)
	return w
}

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

// stubServer dispatches JSON-RPC requests by method name to canned
// responses, simulating the sequence of calls a buy/sell orchestration
// issues against a single mock RPC endpoint.
func stubServer(t *testing.T, balanceLamports *uint64, tokenAmount *uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req blockchain.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "getLatestBlockhash":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":1000}}}`)
		case "getBalance":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":%d}}`, *balanceLamports)
		case "getTokenAccountBalance":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"amount":"%d","decimals":6}}}`, *tokenAmount)
		case "sendTransaction":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"sig123"}`)
		case "getSignatureStatuses":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}}`)
		case "getTransaction":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"slot":1,"meta":{"err":null,"fee":5000,"preBalances":[1000000000],"postBalances":[999000000]},"transaction":{"message":{"accountKeys":["Owner"]}}}}`)
		default:
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
		}
	}))
}

func newTestEngine(t *testing.T, balanceLamports, tokenAmount *uint64) (*Engine, *blockchain.Wallet) {
	t.Helper()
	ts := stubServer(t, balanceLamports, tokenAmount)
	t.Cleanup(ts.Close)

	pool := newTestPool(t, ts.URL)
	rpc := blockchain.NewRPCClient(pool)
	wallet := newEd25519Wallet(t)
	cache := blockchain.NewBlockhashCache(rpc, time.Hour, time.Hour)
	require.NoError(t, cache.Start())
	t.Cleanup(cache.Stop)
	builder := blockchain.NewTransactionBuilder(wallet, cache, 1000)

	return NewEngine(rpc, builder, wallet, 10_000), wallet
}

func TestOutflowGuard_RejectsWhenBalanceBelowExpected(t *testing.T) {
	balance := uint64(1_000) // far below any real buy
	token := uint64(0)
	engine, _ := newTestEngine(t, &balance, &token)

	req := BuyRequest{LamportsIn: 1_000_000, ATAExists: true, PriorityFeeLamports: 1_000}
	_, err := engine.OutflowGuard(context.Background(), req)
	require.Error(t, err)
}

func TestOutflowGuard_PassesWhenBalanceSufficient(t *testing.T) {
	balance := uint64(10_000_000_000)
	token := uint64(0)
	engine, _ := newTestEngine(t, &balance, &token)

	req := BuyRequest{LamportsIn: 1_000_000, ATAExists: true, PriorityFeeLamports: 1_000}
	expected, err := engine.OutflowGuard(context.Background(), req)
	require.NoError(t, err)
	require.Greater(t, expected, uint64(1_000_000))
}

func TestOutflowGuard_IncludesATARentWhenAbsent(t *testing.T) {
	balance := uint64(10_000_000_000)
	token := uint64(0)
	engine, _ := newTestEngine(t, &balance, &token)

	withATA, _ := engine.OutflowGuard(context.Background(), BuyRequest{LamportsIn: 1_000_000, ATAExists: true})
	withoutATA, _ := engine.OutflowGuard(context.Background(), BuyRequest{LamportsIn: 1_000_000, ATAExists: false})
	require.Equal(t, withATA+ATARentLamports, withoutATA)
}

func TestBuy_ComputesActualTokensAndSolFromBalanceDelta(t *testing.T) {
	balance := uint64(10_000_000_000)
	token := uint64(0)
	engine, wallet := newTestEngine(t, &balance, &token)

	req := BuyRequest{
		Accounts: BuyAccounts{
			Mint: "Mint1", BondingCurve: "Curve1", AssociatedCurve: "AssocCurve1",
			UserATA: "ATA1", User: wallet.Address(), CreatorVault: "Vault1",
			VolumeAccumulator: "Vol1", FeeConfig: "FeeCfg1",
		},
		LamportsIn:   1_000_000,
		MinTokensOut: 900,
		ATAExists:    true,
	}

	result, err := engine.Buy(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "sig123", result.Signature)
	// getTokenAccountBalance always answers with the same stub value (0),
	// so tokens-received is 0 in this harness; what's under test is that
	// the SOL delta matches preBalance (stubbed getBalance) versus the
	// post-read re-call to the same stub.
	require.Equal(t, uint64(0), result.ActualTokensReceived)
	require.Equal(t, uint64(0), result.ActualSOLSpent)
}

func TestSell_AddsBackParsedFeeToReceivedAmount(t *testing.T) {
	balance := uint64(10_000_000_000)
	token := uint64(0)
	engine, wallet := newTestEngine(t, &balance, &token)

	req := SellRequest{
		Accounts: SellAccounts{
			Mint: "Mint1", BondingCurve: "Curve1", AssociatedCurve: "AssocCurve1",
			UserATA: "ATA1", User: wallet.Address(), CreatorVault: "Vault1",
		},
		TokensIn:  1000,
		MinSolOut: 900_000,
	}

	result, err := engine.Sell(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "sig123", result.Signature)
	// getBalance answers the same value before and after, so the received
	// amount is exactly the 5000-lamport fee added back from getTransaction.
	require.Equal(t, uint64(5_000), result.ActualSOLReceived)
}

func TestEstimatePriorityFee_FallsBackToStaticWhenDisabled(t *testing.T) {
	policy := FeePolicy{UseDynamicFee: false, StaticLamports: 5_000}
	fee := EstimatePriorityFee(context.Background(), nil, nil, policy)
	require.Equal(t, uint64(5_000), fee)
}

func TestEstimatePriorityFee_ClampsSampledPercentileToRange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":[{"slot":1,"prioritizationFee":0},{"slot":2,"prioritizationFee":100000},{"slot":3,"prioritizationFee":200000}]}`)
	}))
	defer ts.Close()

	pool := newTestPool(t, ts.URL)
	rpc := blockchain.NewRPCClient(pool)

	policy := FeePolicy{UseDynamicFee: true, Percentile: 90, MinLamports: 1_000, MaxLamports: 50_000, StaticLamports: 5_000}
	fee := EstimatePriorityFee(context.Background(), rpc, []string{"Curve1"}, policy)
	require.Equal(t, uint64(50_000), fee) // clamped down from the 90th-pct sample
}

func TestClassifyError_DetectsBondingCurveComplete(t *testing.T) {
	err := fmt.Errorf("program error: BondingCurveComplete")
	require.True(t, IsBondingCurveComplete(err))

	classified := ClassifyError(err)
	require.Contains(t, classified.Message, "BONDING CURVE COMPLETE")
}

func TestClassifyError_FallsBackToGenericTranslationForOtherErrors(t *testing.T) {
	err := fmt.Errorf("blockhash not found")
	require.False(t, IsBondingCurveComplete(err))

	classified := ClassifyError(err)
	require.Contains(t, classified.Message, "BLOCKHASH EXPIRED")
}

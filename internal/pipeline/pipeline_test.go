package pipeline

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"pumpfun-trading-bot/internal/blacklist"
	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/curve"
	"pumpfun-trading-bot/internal/endpoint"
	"pumpfun-trading-bot/internal/exposure"
	"pumpfun-trading-bot/internal/listener"
	"pumpfun-trading-bot/internal/mintcache"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/txengine"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
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

func newEd25519Wallet(t *testing.T) *blockchain.Wallet {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	w, err := blockchain.NewWallet(base58.Encode(priv))
	require.NoError(t, err)
	return w
}

// encodedBondingCurve builds a fixed-layout bonding-curve account buffer
// matching curve.Decode's expectations, base64-encoded the way
// getAccountInfo's jsonParsed response carries raw account data.
func encodedBondingCurve(t *testing.T, complete bool) string {
	t.Helper()
	state := &curve.State{
		VirtualTokenReserves: 1_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    800_000_000_000,
		RealSolReserves:      10_000_000_000,
		TokenTotalSupply:     1_000_000_000_000,
		Complete:             complete,
	}
	raw := curve.Encode(state)
	return base64.StdEncoding.EncodeToString(raw)
}

// pipelineStubServer answers every RPC method the pipeline's four stages
// and the transaction engine issue during a full buy run.
func pipelineStubServer(t *testing.T, curveBase64 string, balanceLamports, tokenAmount *uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req blockchain.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "getAccountInfo":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"data":["%s","base64"]}}}`, curveBase64)
		case "getSignaturesForAddress":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":[]}`)
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
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"meta":{"fee":5000,"postBalances":[],"preBalances":[],"postTokenBalances":[],"preTokenBalances":[]},"transaction":{"message":{"accountKeys":[]}}}}`)
		case "getRecentPrioritizationFees":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":[]}`)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"unhandled method %s"}}`, req.Method)
		}
	}))
}

func newTestEngine(t *testing.T, curveBase64 string, balanceLamports, tokenAmount *uint64) (*Engine, *store.Store) {
	t.Helper()
	ts := pipelineStubServer(t, curveBase64, balanceLamports, tokenAmount)
	t.Cleanup(ts.Close)

	pool := newTestPool(t, ts.URL)
	rpc := blockchain.NewRPCClient(pool)
	wallet := newEd25519Wallet(t)

	cache := blockchain.NewBlockhashCache(rpc, time.Hour, time.Hour)
	require.NoError(t, cache.Start())
	t.Cleanup(cache.Stop)

	builder := blockchain.NewTransactionBuilder(wallet, cache, 0)
	txe := txengine.NewEngine(rpc, builder, wallet, 1_000_000)

	db := newTestStore(t)
	bl, err := blacklist.Load(db)
	require.NoError(t, err)

	exp := exposure.New(100, 1000, 0)
	exp.SetWalletBalance(100)

	mints := mintcache.New(time.Hour)
	t.Cleanup(mints.Stop)

	cfg := Config{
		QuoteAmountLamports: 1_000_000,
		BuySlippageBps:      1000,
		StaticFeeLamports:   1000,
		FeeConfig:           curve.FeeConfig{TotalBps: 100, ProtocolBps: 50, CreatorBps: 50},
	}

	engine := NewEngine(cfg, rpc, txe, wallet, db, bl, exp, mints)
	return engine, db
}

func sampleToken(mint string) listener.DetectedToken {
	return listener.DetectedToken{
		Mint:            mint,
		BondingCurvePDA: "BondingCurvePDA1111111111111111111111111111",
		AssociatedCurve: "AssociatedCurve111111111111111111111111111",
		Creator:         "4Nd1mBQtrMJVYVfKf3WGvoFXQB4C3x93xsSWZDbLy5Ln",
		Signature:       "sig-detect-1",
	}
}

func TestProcess_RejectsAlreadySeenPool(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, db := newTestEngine(t, encodedBondingCurve(t, false), &balance, &tokens)

	require.NoError(t, db.RecordSeenPool(&store.SeenPool{
		PoolID:      "pool-1",
		TokenMint:   "MintAAAA1111111111111111111111111111111111",
		FirstSeen:   time.Now().UnixMilli(),
		ActionTaken: "filtered",
	}))

	token := sampleToken("MintAAAA1111111111111111111111111111111111")
	outcome := engine.Process(context.Background(), token, "pool-1")

	require.Equal(t, "already_seen", outcome.Reason)
}

func TestProcess_RejectsBlacklistedMint(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, db := newTestEngine(t, encodedBondingCurve(t, false), &balance, &tokens)

	require.NoError(t, db.InsertBlacklistEntry(&store.BlacklistEntry{
		Address: "MintBBBB1111111111111111111111111111111111",
		Type:    "mint",
		AddedTS: time.Now().UnixMilli(),
	}))
	bl, err := blacklist.Load(db)
	require.NoError(t, err)
	engine.blacklist = bl

	token := sampleToken("MintBBBB1111111111111111111111111111111111")
	outcome := engine.Process(context.Background(), token, "pool-2")

	require.Equal(t, "blacklisted", outcome.Action)
	require.Equal(t, "blacklisted", outcome.Reason)
}

func TestProcess_RejectsGraduatedBondingCurve(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, _ := newTestEngine(t, encodedBondingCurve(t, true), &balance, &tokens)

	token := sampleToken("MintCCCC1111111111111111111111111111111111")
	outcome := engine.Process(context.Background(), token, "pool-3")

	require.Equal(t, "already_graduated", outcome.Reason)
	require.Equal(t, "filtered", outcome.Action)
}

func TestProcess_BuysWhenAllStagesPass(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, _ := newTestEngine(t, encodedBondingCurve(t, false), &balance, &tokens)

	token := sampleToken("MintDDDD1111111111111111111111111111111111")
	outcome := engine.Process(context.Background(), token, "pool-4")

	require.Equal(t, "bought", outcome.Action)
	require.NotEmpty(t, outcome.Signature)
}

func TestProcess_FiresOutcomeCallbackExactlyOnce(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, _ := newTestEngine(t, encodedBondingCurve(t, false), &balance, &tokens)

	var received []Outcome
	engine.OnOutcome(func(o Outcome) { received = append(received, o) })

	token := sampleToken("MintEEEE1111111111111111111111111111111111")
	engine.Process(context.Background(), token, "pool-5")

	require.Len(t, received, 1)
}

func TestProcess_SingleSlotModeSkipsConcurrentToken(t *testing.T) {
	balance, tokens := uint64(10_000_000_000), uint64(0)
	engine, _ := newTestEngine(t, encodedBondingCurve(t, false), &balance, &tokens)
	engine.cfg.SingleSlotMode = true
	engine.running["occupied-mint"] = struct{}{}

	token := sampleToken("MintFFFF1111111111111111111111111111111111")
	outcome := engine.Process(context.Background(), token, "pool-6")

	require.Equal(t, "slot_busy", outcome.Reason)
}

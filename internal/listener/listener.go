// Package listener subscribes to pump.fun program-log notifications over a
// Solana websocket RPC endpoint and turns them into detected-token events
// for the pipeline (spec 4.G). The teacher's internal/websocket package
// referenced a Client type from price_feed.go/wallet_monitor.go but never
// implemented it; this package is the real implementation, grounded on the
// gorilla/websocket dial-and-read-loop idiom used elsewhere in the pack
// (yohannesjx-sniperterminal's PredatorWorker.Run).
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/mintcache"
)

// PumpProgramID is the pump.fun bonding-curve program address subscribed
// to via logsSubscribe.
const PumpProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// dedupRingSize is the process-local "processed" set's capacity; the
// oldest 20% is evicted on overflow (spec 4.G step 2).
const dedupRingSize = 10_000

var createMarkerRe = regexp.MustCompile(`Program log: Instruction: Create`)
var nameRe = regexp.MustCompile(`name:\s*"?([^",\n]+)"?`)
var symbolRe = regexp.MustCompile(`symbol:\s*"?([^",\n]+)"?`)
var uriRe = regexp.MustCompile(`uri:\s*"?([^",\n]+)"?`)

// DetectedToken is the event emitted to the pipeline once a Create log has
// been fetched and parsed.
type DetectedToken struct {
	Mint             string
	BondingCurvePDA  string
	AssociatedCurve  string
	Creator          string
	Name             string
	Symbol           string
	URI              string
	Signature        string
	Slot             uint64
}

// Handler receives detected-token events off the listener.
type Handler func(DetectedToken)

// Listener subscribes to program-log notifications and drives the
// detect-and-dedup pipeline described in spec 4.G.
type Listener struct {
	wsURL string
	rpc   *blockchain.RPCClient
	cache *mintcache.Cache

	mu       sync.Mutex
	dedup    map[string]struct{}
	dedupSeq []string

	handlersMu sync.RWMutex
	handlers   []Handler

	connected atomic.Bool

	maxFetchRetries int
	backoffBase     time.Duration
}

// Connected reports whether the websocket connection is currently up,
// satisfying internal/health's ListenerState interface.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// New constructs a Listener. rpc is used for parsed-transaction fetches
// (spec 4.G step 4); cache receives every newly detected mint.
func New(wsURL string, rpc *blockchain.RPCClient, cache *mintcache.Cache) *Listener {
	return &Listener{
		wsURL:           wsURL,
		rpc:             rpc,
		cache:           cache,
		dedup:           make(map[string]struct{}),
		maxFetchRetries: 3,
		backoffBase:     500 * time.Millisecond,
	}
}

// OnDetected registers a callback invoked for every detected token.
func (l *Listener) OnDetected(h Handler) {
	l.handlersMu.Lock()
	l.handlers = append(l.handlers, h)
	l.handlersMu.Unlock()
}

// Run dials the websocket, subscribes to program logs at confirmed
// commitment, and processes notifications until ctx is cancelled. On
// disconnect it reconnects with a fixed backoff and re-subscribes,
// clearing the dedup set (spec 4.G: "A listener restart re-subscribes and
// clears the dedup set").
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.runOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("listener disconnected, reconnecting")
			l.resetDedup()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return nil
	}
}

func (l *Listener) resetDedup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dedup = make(map[string]struct{})
	l.dedupSeq = nil
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()
	l.connected.Store(true)
	defer l.connected.Store(false)

	subReq := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{PumpProgramID}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(subReq); err != nil {
		return fmt.Errorf("send logsSubscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		l.handleMessage(ctx, msg)
	}
}

type logsNotification struct {
	Params struct {
		Result struct {
			Value struct {
				Signature string   `json:"signature"`
				Err       interface{} `json:"err"`
				Logs      []string `json:"logs"`
			} `json:"value"`
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
		} `json:"result"`
	} `json:"params"`
}

func (l *Listener) handleMessage(ctx context.Context, raw json.RawMessage) {
	var notif logsNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return // not a notification (likely the subscribe ack); ignore
	}

	value := notif.Params.Result.Value
	if value.Signature == "" {
		return
	}

	// Step 1: drop if the transaction carries an error.
	if value.Err != nil {
		return
	}

	// Step 2: drop duplicates via the process-local dedup ring.
	if l.seen(value.Signature) {
		return
	}

	// Step 3: scan for the Create marker.
	if !hasCreateMarker(value.Logs) {
		return
	}

	l.markSeen(value.Signature)

	slot := notif.Params.Result.Context.Slot
	name, symbol, uri := harvestMetadata(value.Logs)

	go l.processSignature(ctx, value.Signature, slot, name, symbol, uri)
}

func hasCreateMarker(logs []string) bool {
	for _, line := range logs {
		if createMarkerRe.MatchString(line) {
			return true
		}
	}
	return false
}

func harvestMetadata(logs []string) (name, symbol, uri string) {
	for _, line := range logs {
		if name == "" {
			if m := nameRe.FindStringSubmatch(line); len(m) == 2 {
				name = m[1]
			}
		}
		if symbol == "" {
			if m := symbolRe.FindStringSubmatch(line); len(m) == 2 {
				symbol = m[1]
			}
		}
		if uri == "" {
			if m := uriRe.FindStringSubmatch(line); len(m) == 2 {
				uri = m[1]
			}
		}
	}
	return name, symbol, uri
}

func (l *Listener) seen(signature string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dedup[signature]
	return ok
}

func (l *Listener) markSeen(signature string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dedup[signature] = struct{}{}
	l.dedupSeq = append(l.dedupSeq, signature)
	if len(l.dedupSeq) > dedupRingSize {
		evict := len(l.dedupSeq) / 5 // oldest 20%
		for _, sig := range l.dedupSeq[:evict] {
			delete(l.dedup, sig)
		}
		l.dedupSeq = l.dedupSeq[evict:]
	}
}

// processSignature implements steps 4-7: fetch the parsed transaction,
// extract mint/PDA/creator, harvest log metadata (already done), populate
// the mint cache, and fan out to registered handlers.
func (l *Listener) processSignature(ctx context.Context, signature string, slot uint64, name, symbol, uri string) {
	tx, err := l.fetchParsedTransactionWithRetry(ctx, signature)
	if err != nil {
		log.Debug().Err(err).Str("signature", signature).Msg("parsed transaction fetch failed, dropping")
		return
	}

	detected, err := extractCreateAccounts(tx)
	if err != nil {
		log.Debug().Err(err).Str("signature", signature).Msg("parse failure, dropping")
		return
	}

	detected.Name = name
	detected.Symbol = symbol
	detected.URI = uri
	detected.Signature = signature
	detected.Slot = slot

	l.cache.Add(detected.Mint, "primary-feed", signature)

	l.handlersMu.RLock()
	handlers := append([]Handler(nil), l.handlers...)
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(detected)
	}
}

func (l *Listener) fetchParsedTransactionWithRetry(ctx context.Context, signature string) (*blockchain.ParsedTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < l.maxFetchRetries; attempt++ {
		tx, err := l.rpc.GetParsedTransaction(ctx, signature)
		if err == nil {
			return tx, nil
		}
		lastErr = err

		backoff := l.backoffBase * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// knownPumpOrdinals are the account indices within the pump.fun Create
// instruction's account list that carry the mint, bonding-curve PDA,
// associated-curve account, and creator, in that order.
const (
	ordinalMint            = 0
	ordinalBondingCurve     = 2
	ordinalAssociatedCurve  = 3
	ordinalCreator          = 7
)

// extractCreateAccounts inspects the outer pump-program instruction's
// account list at known ordinal positions and falls back to inner
// instructions. As a last resort it takes the mint of the first
// postTokenBalances entry; no PDA is derived in that case, so the
// bonding-curve PDA, associated-curve account and creator are left empty.
func extractCreateAccounts(tx *blockchain.ParsedTransaction) (DetectedToken, error) {
	if tx == nil {
		return DetectedToken{}, fmt.Errorf("nil parsed transaction")
	}

	for _, ix := range tx.Transaction.Message.Instructions {
		if ix.ProgramID != PumpProgramID {
			continue
		}
		if d, ok := accountsToToken(ix.Accounts); ok {
			return d, nil
		}
	}

	for _, inner := range tx.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if ix.ProgramID != PumpProgramID {
				continue
			}
			if d, ok := accountsToToken(ix.Accounts); ok {
				return d, nil
			}
		}
	}

	for _, bal := range tx.Meta.PostTokenBalances {
		if bal.Mint != "" {
			return DetectedToken{Mint: bal.Mint}, nil
		}
	}

	return DetectedToken{}, fmt.Errorf("no pump program instruction or token balance found in transaction")
}

// accountsToToken reads the Create instruction's account pubkey list
// (already resolved from index to string by the RPC node's jsonParsed
// encoding) at the known ordinal positions.
func accountsToToken(accounts []string) (DetectedToken, bool) {
	if len(accounts) <= ordinalCreator {
		return DetectedToken{}, false
	}

	mint := accounts[ordinalMint]
	if mint == "" {
		return DetectedToken{}, false
	}

	return DetectedToken{
		Mint:            mint,
		BondingCurvePDA: accounts[ordinalBondingCurve],
		AssociatedCurve: accounts[ordinalAssociatedCurve],
		Creator:         accounts[ordinalCreator],
	}, true
}

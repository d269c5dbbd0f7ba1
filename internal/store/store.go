// Package store is the persistent relational store for positions, trades,
// seen pools, the blacklist, and pool-detection records (spec 4.F),
// expanding the teacher's modernc.org/sqlite + WAL-pragma DSN pattern
// (internal/storage/db.go) to the full schema with additive,
// version-tracked migrations.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SchemaVersion is the current schema version. Migrations are additive and
// numbered 1, 2, ...
const SchemaVersion = 4

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Position is an open or closed trading position. BondingCurvePDA,
// AssociatedCurve, and Creator are carried alongside the mint (added in
// migrationV3) so the position monitor can re-fetch bonding-curve state
// and build a sell instruction without re-deriving or re-discovering them.
// IntendedSOL and RealizedSOL (added in migrationV4) let the monitor
// compute both the trading-PnL (vs. intended) and total-cost-PnL (vs.
// actual AmountSOL) spec 4.J requires, and record proceeds on close.
type Position struct {
	ID              int64
	TokenMint       string
	BondingCurvePDA string
	AssociatedCurve string
	Creator         string
	IntendedSOL     float64
	EntryPrice      float64
	AmountToken     uint64
	AmountSOL       float64
	EntryTS         int64
	PoolID          string
	Status          string // "open", "closed"
	ClosedTS        *int64
	ClosedReason    *string
	RealizedSOL     *float64
	TakeProfitSOL   *float64
	StopLossSOL     *float64
	LastPriceSOL    *float64
	LastCheckTS     *int64
}

// Trade is a single buy or sell attempt (intent through confirmation).
type Trade struct {
	ID           int64
	PositionID   *int64
	Side         string // "buy", "sell"
	TokenMint    string
	AmountSOL    float64
	AmountToken  uint64
	Price        float64
	TS           int64
	TxSignature  *string
	Status       string // "pending", "confirmed", "failed"
	PoolID       string
	IntentTS     int64
	ConfirmedTS  *int64
	ErrorMessage *string
}

// SeenPool records a detected pool for deduplication purposes only.
type SeenPool struct {
	PoolID       string
	TokenMint    string
	FirstSeen    int64
	ActionTaken  string // "bought", "filtered", "blacklisted", "skipped", "error"
	FilterReason *string
}

// BlacklistEntry is a blocked mint or creator address.
type BlacklistEntry struct {
	Address string
	Type    string // "mint", "creator"
	Reason  *string
	AddedTS int64
}

// PoolDetection is one detection-log row produced by the pipeline.
type PoolDetection struct {
	ID               int64
	PoolID           string
	TokenMint        string
	DetectedAt       int64
	Action           string
	FilterResults    json.RawMessage
	RiskCheckPassed  bool
	RiskCheckReason  *string
	PoolQuoteReserve *float64
	Summary          string
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and applies any pending migrations.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Int("schema_version", SchemaVersion).Msg("store initialized")
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return err
	}

	current, err := s.currentVersion()
	if err != nil {
		return err
	}

	migrations := []string{migrationV1, migrationV2, migrationV3, migrationV4}
	for v := current + 1; v <= len(migrations); v++ {
		if _, err := s.db.Exec(migrations[v-1]); err != nil {
			return fmt.Errorf("migration v%d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, v, nowMillis()); err != nil {
			return fmt.Errorf("migration v%d: record version: %w", v, err)
		}
	}

	return nil
}

func (s *Store) currentVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_mint TEXT NOT NULL UNIQUE,
	entry_price REAL NOT NULL,
	amount_token INTEGER NOT NULL,
	amount_sol REAL NOT NULL,
	entry_ts INTEGER NOT NULL,
	pool_id TEXT NOT NULL,
	status TEXT NOT NULL,
	closed_ts INTEGER,
	closed_reason TEXT,
	take_profit_sol REAL,
	stop_loss_sol REAL,
	last_price_sol REAL,
	last_check_ts INTEGER
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id INTEGER REFERENCES positions(id),
	side TEXT NOT NULL,
	token_mint TEXT NOT NULL,
	amount_sol REAL NOT NULL,
	amount_token INTEGER NOT NULL,
	price REAL NOT NULL,
	ts INTEGER NOT NULL,
	tx_signature TEXT,
	status TEXT NOT NULL,
	pool_id TEXT NOT NULL,
	intent_ts INTEGER NOT NULL,
	confirmed_ts INTEGER,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS seen_pools (
	pool_id TEXT PRIMARY KEY,
	token_mint TEXT NOT NULL,
	first_seen INTEGER NOT NULL,
	action_taken TEXT NOT NULL,
	filter_reason TEXT
);

CREATE TABLE IF NOT EXISTS blacklist (
	address TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	reason TEXT,
	added_ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_token_mint ON trades(token_mint);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
`

const migrationV2 = `
CREATE TABLE IF NOT EXISTS pool_detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pool_id TEXT NOT NULL,
	token_mint TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	action TEXT NOT NULL,
	filter_results TEXT NOT NULL,
	risk_check_passed INTEGER NOT NULL,
	risk_check_reason TEXT,
	pool_quote_reserve REAL,
	summary TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pool_detections_detected_at ON pool_detections(detected_at);
`

const migrationV3 = `
ALTER TABLE positions ADD COLUMN bonding_curve_pda TEXT NOT NULL DEFAULT '';
ALTER TABLE positions ADD COLUMN associated_curve TEXT NOT NULL DEFAULT '';
ALTER TABLE positions ADD COLUMN creator TEXT NOT NULL DEFAULT '';
`

const migrationV4 = `
ALTER TABLE positions ADD COLUMN intended_sol REAL NOT NULL DEFAULT 0;
ALTER TABLE positions ADD COLUMN realized_sol REAL;
`

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// RecoverStalePendingTrades marks any "pending" trade whose intent_ts is
// older than staleAfter as "failed" with a fixed reason. Meant to be run
// once at startup.
func (s *Store) RecoverStalePendingTrades(staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	res, err := s.db.Exec(`
		UPDATE trades SET status = 'failed', error_message = 'timed out on startup recovery'
		WHERE status = 'pending' AND intent_ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

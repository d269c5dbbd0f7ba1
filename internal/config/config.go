// Package config loads and validates the bot's environment-variable
// configuration surface (spec §6) into a typed, immutable record. Loading
// aggregates every validation failure into one diagnostic bundle and fails
// fast; there is no hot-reload — once validated, a Config never changes
// for the lifetime of the process.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode is the top-level operating mode.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeDryRun     Mode = "dry_run"
	ModeSmoke      Mode = "smoke"
	ModeAB         Mode = "ab"
	ModeStandby    Mode = "standby"
)

// Commitment is the RPC consistency level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Config holds the full validated configuration record.
type Config struct {
	BotMode Mode
	DataDir string

	WalletPrivateKeyEnv string

	RPCPrimaryURL    string
	RPCBackupURLs    []string
	RPCWebsocketURL  string
	CommitmentLevel  Commitment

	QuoteAmountLamports uint64
	BuySlippagePercent  float64
	SellSlippagePercent float64

	TakeProfitPercent float64
	StopLossPercent   float64
	MaxHoldDurationMs int64

	MaxTotalExposureSOL  float64
	MaxTradesPerHour     int
	MinWalletBufferSOL   float64

	PumpfunMinSolInCurve   float64
	PumpfunMaxSolInCurve   float64
	PumpfunEnableMinMax    bool
	PumpfunEnableScore     bool
	PumpfunMinScoreRequired int

	MomentumInitialDelayMs   int64
	MomentumRecheckIntervalMs int64
	MomentumMinTotalBuys     int
	MomentumMaxChecks        int
	MomentumEnabled          bool

	UseDynamicFee         bool
	PriorityFeePercentile int
	MinPriorityFeeLamports uint64
	MaxPriorityFeeLamports uint64
	StaticPriorityFeeLamports uint64

	PriceCheckIntervalMs int64

	PartialProfitPercent  float64
	PartialProfitMultiple float64

	LogLevel            string
	DashboardListenAddr string
}

// ValidationError aggregates every validation failure discovered while
// loading the configuration into one diagnostic bundle (spec §6: "all
// validation errors aggregate into one diagnostic bundle").
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration invalid (%d error(s)):\n  - %s", len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationError) hasErrors() bool {
	return len(e.Errors) > 0
}

// defaults lists every environment variable this config surface consults,
// alongside its viper default. Keeping this as one table makes the
// round-trip (env map -> struct -> env map) helper mechanical.
var defaults = map[string]interface{}{
	"bot_mode":    string(ModeDryRun),
	"data_dir":    "./data",

	"wallet_private_key_env": "WALLET_PRIVATE_KEY",

	"rpc_primary_url":    "https://api.mainnet-beta.solana.com",
	"rpc_backup_urls":    "",
	"rpc_websocket_url":  "",
	"commitment_level":   string(CommitmentConfirmed),

	"quote_amount":    1_000_000,
	"buy_slippage":    10.0,
	"sell_slippage":   10.0,

	"take_profit": 50.0,
	"stop_loss":   20.0,
	"max_hold_duration_ms": 0,

	"max_total_exposure_sol": 1.0,
	"max_trades_per_hour":    20,
	"min_wallet_buffer_sol":  0.05,

	"pumpfun_min_sol_in_curve":   0.0,
	"pumpfun_max_sol_in_curve":   0.0,
	"pumpfun_enable_min_max":     false,
	"pumpfun_enable_score":       false,
	"pumpfun_min_score_required": 0,

	"momentum_initial_delay_ms":    500,
	"momentum_recheck_interval_ms": 300,
	"momentum_min_total_buys":      3,
	"momentum_max_checks":          5,
	"momentum_enabled":             true,

	"use_dynamic_fee":             true,
	"priority_fee_percentile":     75,
	"min_priority_fee":            1000,
	"max_priority_fee":            5_000_000,
	"static_priority_fee_lamports": 100000,

	"price_check_interval": 500,

	"partial_profit_percent":  0.0,
	"partial_profit_multiple": 0.0,

	"log_level":              "info",
	"dashboard_listen_addr":  ":8090",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
		// BindEnv makes the binding explicit (and case-insensitive lookups
		// consistent) rather than relying solely on AutomaticEnv's prefix
		// matching.
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
	return v
}

// Load reads the configuration from the process environment, validates
// it, and returns either a complete Config or an aggregated
// *ValidationError. It never returns a partially valid Config.
func Load() (*Config, error) {
	return build(newViper())
}

// LoadFromEnv loads the configuration from an explicit env-var map instead
// of the process environment, without touching os.Setenv. Used by the
// configuration round-trip law (spec §8): Config -> RawEnv() -> LoadFromEnv
// -> identical validated record.
func LoadFromEnv(env map[string]string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for envKey, val := range env {
		v.Set(strings.ToLower(envKey), val)
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	backupRaw := v.GetString("rpc_backup_urls")
	var backups []string
	if backupRaw != "" {
		for _, u := range strings.Split(backupRaw, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				backups = append(backups, u)
			}
		}
	}

	cfg := &Config{
		BotMode: Mode(v.GetString("bot_mode")),
		DataDir: v.GetString("data_dir"),

		WalletPrivateKeyEnv: v.GetString("wallet_private_key_env"),

		RPCPrimaryURL:   v.GetString("rpc_primary_url"),
		RPCBackupURLs:   backups,
		RPCWebsocketURL: v.GetString("rpc_websocket_url"),
		CommitmentLevel: Commitment(v.GetString("commitment_level")),

		QuoteAmountLamports: v.GetUint64("quote_amount"),
		BuySlippagePercent:  v.GetFloat64("buy_slippage"),
		SellSlippagePercent: v.GetFloat64("sell_slippage"),

		TakeProfitPercent: v.GetFloat64("take_profit"),
		StopLossPercent:   v.GetFloat64("stop_loss"),
		MaxHoldDurationMs: v.GetInt64("max_hold_duration_ms"),

		MaxTotalExposureSOL: v.GetFloat64("max_total_exposure_sol"),
		MaxTradesPerHour:    v.GetInt("max_trades_per_hour"),
		MinWalletBufferSOL:  v.GetFloat64("min_wallet_buffer_sol"),

		PumpfunMinSolInCurve:    v.GetFloat64("pumpfun_min_sol_in_curve"),
		PumpfunMaxSolInCurve:    v.GetFloat64("pumpfun_max_sol_in_curve"),
		PumpfunEnableMinMax:     v.GetBool("pumpfun_enable_min_max"),
		PumpfunEnableScore:      v.GetBool("pumpfun_enable_score"),
		PumpfunMinScoreRequired: v.GetInt("pumpfun_min_score_required"),

		MomentumInitialDelayMs:    v.GetInt64("momentum_initial_delay_ms"),
		MomentumRecheckIntervalMs: v.GetInt64("momentum_recheck_interval_ms"),
		MomentumMinTotalBuys:      v.GetInt("momentum_min_total_buys"),
		MomentumMaxChecks:         v.GetInt("momentum_max_checks"),
		MomentumEnabled:           v.GetBool("momentum_enabled"),

		UseDynamicFee:             v.GetBool("use_dynamic_fee"),
		PriorityFeePercentile:     v.GetInt("priority_fee_percentile"),
		MinPriorityFeeLamports:    v.GetUint64("min_priority_fee"),
		MaxPriorityFeeLamports:    v.GetUint64("max_priority_fee"),
		StaticPriorityFeeLamports: v.GetUint64("static_priority_fee_lamports"),

		PriceCheckIntervalMs: v.GetInt64("price_check_interval"),

		PartialProfitPercent:  v.GetFloat64("partial_profit_percent"),
		PartialProfitMultiple: v.GetFloat64("partial_profit_multiple"),

		LogLevel:            v.GetString("log_level"),
		DashboardListenAddr: v.GetString("dashboard_listen_addr"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	verr := &ValidationError{}

	switch cfg.BotMode {
	case ModeProduction, ModeDryRun, ModeSmoke, ModeAB, ModeStandby:
	default:
		verr.add("BOT_MODE: unknown mode %q", cfg.BotMode)
	}

	switch cfg.CommitmentLevel {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
	default:
		verr.add("COMMITMENT_LEVEL: must be one of processed|confirmed|finalized, got %q", cfg.CommitmentLevel)
	}

	if cfg.DataDir == "" {
		verr.add("DATA_DIR: must not be empty")
	}
	if cfg.RPCPrimaryURL == "" {
		verr.add("RPC_PRIMARY_URL: must not be empty")
	}
	if cfg.WalletPrivateKeyEnv == "" {
		verr.add("WALLET_PRIVATE_KEY_ENV: must not be empty")
	}

	if cfg.QuoteAmountLamports == 0 {
		verr.add("QUOTE_AMOUNT: must be > 0")
	}

	if cfg.BuySlippagePercent < 0 || cfg.BuySlippagePercent > 100 {
		verr.add("BUY_SLIPPAGE: must be within [0,100], got %v", cfg.BuySlippagePercent)
	}
	if cfg.SellSlippagePercent < 0 || cfg.SellSlippagePercent > 100 {
		verr.add("SELL_SLIPPAGE: must be within [0,100], got %v", cfg.SellSlippagePercent)
	}

	if cfg.TakeProfitPercent <= 0 {
		verr.add("TAKE_PROFIT: must be > 0, got %v", cfg.TakeProfitPercent)
	}
	if cfg.StopLossPercent <= 0 {
		verr.add("STOP_LOSS: must be > 0, got %v", cfg.StopLossPercent)
	}
	if cfg.MaxHoldDurationMs < 0 {
		verr.add("MAX_HOLD_DURATION_MS: must be >= 0 (0 disables), got %v", cfg.MaxHoldDurationMs)
	}

	if cfg.MaxTotalExposureSOL <= 0 {
		verr.add("MAX_TOTAL_EXPOSURE_SOL: must be > 0, got %v", cfg.MaxTotalExposureSOL)
	}
	if cfg.MaxTradesPerHour <= 0 {
		verr.add("MAX_TRADES_PER_HOUR: must be > 0, got %v", cfg.MaxTradesPerHour)
	}
	if cfg.MinWalletBufferSOL < 0 {
		verr.add("MIN_WALLET_BUFFER_SOL: must be >= 0, got %v", cfg.MinWalletBufferSOL)
	}

	if cfg.PumpfunEnableMinMax && cfg.PumpfunMinSolInCurve > cfg.PumpfunMaxSolInCurve {
		verr.add("PUMPFUN_MIN_SOL_IN_CURVE/PUMPFUN_MAX_SOL_IN_CURVE: min must be <= max")
	}
	if cfg.PumpfunMinScoreRequired < 0 || cfg.PumpfunMinScoreRequired > 100 {
		verr.add("PUMPFUN_MIN_SCORE_REQUIRED: must be within [0,100], got %v", cfg.PumpfunMinScoreRequired)
	}

	if cfg.MomentumMinTotalBuys < 0 {
		verr.add("MOMENTUM_MIN_TOTAL_BUYS: must be >= 0")
	}
	if cfg.MomentumMaxChecks <= 0 {
		verr.add("MOMENTUM_MAX_CHECKS: must be > 0, got %v", cfg.MomentumMaxChecks)
	}

	if cfg.PriorityFeePercentile < 0 || cfg.PriorityFeePercentile > 100 {
		verr.add("PRIORITY_FEE_PERCENTILE: must be within [0,100], got %v", cfg.PriorityFeePercentile)
	}
	if cfg.MinPriorityFeeLamports > cfg.MaxPriorityFeeLamports {
		verr.add("MIN_PRIORITY_FEE/MAX_PRIORITY_FEE: min must be <= max")
	}

	if cfg.PriceCheckIntervalMs <= 0 {
		verr.add("PRICE_CHECK_INTERVAL: must be > 0, got %v", cfg.PriceCheckIntervalMs)
	}

	if cfg.PartialProfitPercent < 0 || cfg.PartialProfitPercent > 100 {
		verr.add("PARTIAL_PROFIT_PERCENT: must be within [0,100], got %v", cfg.PartialProfitPercent)
	}

	if verr.hasErrors() {
		return verr
	}
	return nil
}

// Redacted returns a copy of the environment-variable view of cfg with any
// value sourced from a secret-shaped key masked, safe to log.
func (cfg *Config) Redacted() map[string]string {
	m := cfg.RawEnv()
	for _, k := range []string{"WALLET_PRIVATE_KEY_ENV"} {
		if _, ok := m[k]; ok {
			m[k] = "***"
		}
	}
	return m
}

// RawEnv renders the config back into the environment-variable map that
// would reproduce it via Load, used by the config round-trip test (spec
// §8: "Configuration -> string env map -> re-parse -> identical validated
// record").
func (cfg *Config) RawEnv() map[string]string {
	m := map[string]string{
		"BOT_MODE": string(cfg.BotMode),
		"DATA_DIR": cfg.DataDir,

		"WALLET_PRIVATE_KEY_ENV": cfg.WalletPrivateKeyEnv,

		"RPC_PRIMARY_URL":   cfg.RPCPrimaryURL,
		"RPC_BACKUP_URLS":   strings.Join(cfg.RPCBackupURLs, ","),
		"RPC_WEBSOCKET_URL": cfg.RPCWebsocketURL,
		"COMMITMENT_LEVEL":  string(cfg.CommitmentLevel),

		"QUOTE_AMOUNT":  fmt.Sprintf("%d", cfg.QuoteAmountLamports),
		"BUY_SLIPPAGE":  fmt.Sprintf("%v", cfg.BuySlippagePercent),
		"SELL_SLIPPAGE": fmt.Sprintf("%v", cfg.SellSlippagePercent),

		"TAKE_PROFIT":           fmt.Sprintf("%v", cfg.TakeProfitPercent),
		"STOP_LOSS":             fmt.Sprintf("%v", cfg.StopLossPercent),
		"MAX_HOLD_DURATION_MS":  fmt.Sprintf("%d", cfg.MaxHoldDurationMs),

		"MAX_TOTAL_EXPOSURE_SOL": fmt.Sprintf("%v", cfg.MaxTotalExposureSOL),
		"MAX_TRADES_PER_HOUR":    fmt.Sprintf("%d", cfg.MaxTradesPerHour),
		"MIN_WALLET_BUFFER_SOL":  fmt.Sprintf("%v", cfg.MinWalletBufferSOL),

		"PUMPFUN_MIN_SOL_IN_CURVE":   fmt.Sprintf("%v", cfg.PumpfunMinSolInCurve),
		"PUMPFUN_MAX_SOL_IN_CURVE":   fmt.Sprintf("%v", cfg.PumpfunMaxSolInCurve),
		"PUMPFUN_ENABLE_MIN_MAX":     fmt.Sprintf("%v", cfg.PumpfunEnableMinMax),
		"PUMPFUN_ENABLE_SCORE":       fmt.Sprintf("%v", cfg.PumpfunEnableScore),
		"PUMPFUN_MIN_SCORE_REQUIRED": fmt.Sprintf("%d", cfg.PumpfunMinScoreRequired),

		"MOMENTUM_INITIAL_DELAY_MS":    fmt.Sprintf("%d", cfg.MomentumInitialDelayMs),
		"MOMENTUM_RECHECK_INTERVAL_MS": fmt.Sprintf("%d", cfg.MomentumRecheckIntervalMs),
		"MOMENTUM_MIN_TOTAL_BUYS":      fmt.Sprintf("%d", cfg.MomentumMinTotalBuys),
		"MOMENTUM_MAX_CHECKS":          fmt.Sprintf("%d", cfg.MomentumMaxChecks),
		"MOMENTUM_ENABLED":             fmt.Sprintf("%v", cfg.MomentumEnabled),

		"USE_DYNAMIC_FEE":              fmt.Sprintf("%v", cfg.UseDynamicFee),
		"PRIORITY_FEE_PERCENTILE":      fmt.Sprintf("%d", cfg.PriorityFeePercentile),
		"MIN_PRIORITY_FEE":             fmt.Sprintf("%d", cfg.MinPriorityFeeLamports),
		"MAX_PRIORITY_FEE":             fmt.Sprintf("%d", cfg.MaxPriorityFeeLamports),
		"STATIC_PRIORITY_FEE_LAMPORTS": fmt.Sprintf("%d", cfg.StaticPriorityFeeLamports),

		"PRICE_CHECK_INTERVAL": fmt.Sprintf("%d", cfg.PriceCheckIntervalMs),

		"PARTIAL_PROFIT_PERCENT":  fmt.Sprintf("%v", cfg.PartialProfitPercent),
		"PARTIAL_PROFIT_MULTIPLE": fmt.Sprintf("%v", cfg.PartialProfitMultiple),

		"LOG_LEVEL":              cfg.LogLevel,
		"DASHBOARD_LISTEN_ADDR":  cfg.DashboardListenAddr,
	}
	return m
}

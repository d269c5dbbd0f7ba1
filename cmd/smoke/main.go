// Command smoke is the operator-run connectivity/readiness harness (spec
// §5/§6): it drives the same components the bot process wires up, never
// its own trading engine, and never sends a transaction. It checks RPC
// reachability, wallet balance, and that a websocket URL is configured
// (it does not connect to it), then writes a
// rotating report to DATA_DIR/smoke-reports.json, grounded on the
// teacher's cmd/realtest step-numbered connectivity checks and
// cmd/verify-signal's colorized pass/fail summary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/config"
	"pumpfun-trading-bot/internal/endpoint"
)

// wallClockTimeout bounds the whole harness run (spec §5: "the smoke-test
// harness imposes an outer wall-clock timeout (default 5 min)").
const wallClockTimeout = 5 * time.Minute

// maxReports caps smoke-reports.json at the 50 most-recent runs (spec §6).
const maxReports = 50

// Check is one pass/fail connectivity or readiness probe.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is one smoke-test run, persisted to DATA_DIR/smoke-reports.json.
type Report struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	Checks    []Check   `json:"checks"`
	Pass      bool      `json:"pass"`
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	color.Cyan("=== pump.fun trading bot: smoke test ===")

	ctx, cancel := context.WithTimeout(context.Background(), wallClockTimeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		color.Red("CONFIG: FAIL (%v)", err)
		os.Exit(1)
	}

	report := Report{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Mode:      string(cfg.BotMode),
	}
	report.Checks = append(report.Checks, Check{Name: "config_load", Passed: true})

	urls := append([]string{cfg.RPCPrimaryURL}, cfg.RPCBackupURLs...)
	pool := endpoint.NewPool(urls, endpoint.DefaultThresholds())
	rpc := blockchain.NewRPCClient(pool)

	report.Checks = append(report.Checks, checkRPCConnectivity(ctx, rpc))
	report.Checks = append(report.Checks, checkWallet(ctx, cfg, rpc))
	report.Checks = append(report.Checks, checkWebsocketConfigured(cfg))

	report.Pass = true
	for _, c := range report.Checks {
		line := fmt.Sprintf("%-20s %s", c.Name, c.Detail)
		if c.Passed {
			color.Green("PASS  %s", line)
		} else {
			color.Red("FAIL  %s", line)
			report.Pass = false
		}
	}

	if err := appendReport(cfg.DataDir, report); err != nil {
		log.Warn().Err(err).Msg("failed to persist smoke report")
	}

	if report.Pass {
		color.Green("=== smoke test PASSED ===")
		os.Exit(0)
	}
	color.Red("=== smoke test FAILED ===")
	os.Exit(1)
}

func checkRPCConnectivity(ctx context.Context, rpc *blockchain.RPCClient) Check {
	start := time.Now()
	_, err := rpc.GetLatestBlockhash(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return Check{Name: "rpc_connectivity", Passed: false, Detail: err.Error()}
	}
	return Check{Name: "rpc_connectivity", Passed: true, Detail: fmt.Sprintf("getLatestBlockhash in %s", elapsed.Round(time.Millisecond))}
}

func checkWallet(ctx context.Context, cfg *config.Config, rpc *blockchain.RPCClient) Check {
	privateKey := os.Getenv(cfg.WalletPrivateKeyEnv)
	if privateKey == "" {
		return Check{Name: "wallet_balance", Passed: false, Detail: fmt.Sprintf("%s is unset", cfg.WalletPrivateKeyEnv)}
	}
	wallet, err := blockchain.NewWallet(privateKey)
	if err != nil {
		return Check{Name: "wallet_balance", Passed: false, Detail: err.Error()}
	}
	tracker := blockchain.NewBalanceTracker(wallet, rpc)
	if err := tracker.Refresh(ctx); err != nil {
		return Check{Name: "wallet_balance", Passed: false, Detail: err.Error()}
	}
	balanceSOL := tracker.BalanceSOL()
	passed := balanceSOL >= cfg.MinWalletBufferSOL
	return Check{
		Name:   "wallet_balance",
		Passed: passed,
		Detail: fmt.Sprintf("%s has %.6f SOL (buffer floor %.6f)", wallet.Address(), balanceSOL, cfg.MinWalletBufferSOL),
	}
}

func checkWebsocketConfigured(cfg *config.Config) Check {
	if cfg.RPCWebsocketURL == "" {
		return Check{Name: "websocket_url", Passed: false, Detail: "RPC_WEBSOCKET_URL is unset"}
	}
	return Check{Name: "websocket_url", Passed: true, Detail: cfg.RPCWebsocketURL}
}

// appendReport loads DATA_DIR/smoke-reports.json (if present), appends the
// new report, and truncates to the maxReports most recent before
// rewriting the file.
func appendReport(dataDir string, report Report) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "smoke-reports.json")

	var reports []Report
	if existing, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(existing, &reports)
	}
	reports = append(reports, report)
	if len(reports) > maxReports {
		reports = reports[len(reports)-maxReports:]
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

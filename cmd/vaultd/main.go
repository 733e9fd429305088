package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/vaultd/config"
	"github.com/alejandrodnm/vaultd/internal/adapters/feed"
	"github.com/alejandrodnm/vaultd/internal/adapters/notify"
	"github.com/alejandrodnm/vaultd/internal/adapters/oracle"
	"github.com/alejandrodnm/vaultd/internal/adapters/storage"
	"github.com/alejandrodnm/vaultd/internal/application/engine"
	"github.com/alejandrodnm/vaultd/internal/ports"
)

// El audit trail crece una fila por update procesado; 30 días es más que
// suficiente para inspección post-mortem.
const auditRetentionDays = 30

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")

	createVault := flag.String("create-vault", "", "create a vault with this name and exit")
	balance := flag.String("balance", "", "initial balance for -create-vault")

	openSymbol := flag.String("open", "", "open a position for this symbol and exit")
	vaultID := flag.String("vault", "", "vault ID for -open / -status")
	entry := flag.String("entry", "", "entry price for -open")

	status := flag.Bool("status", false, "print vault status and exit (requires -vault)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLite(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if pruned, err := store.PruneOutcomes(context.Background(), time.Now().AddDate(0, 0, -auditRetentionDays)); err != nil {
		slog.Warn("failed to prune audit trail", "err", err)
	} else if pruned > 0 {
		slog.Info("audit trail pruned", "rows", pruned)
	}

	clusters := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey)
	console := notify.NewConsole()

	var notifier ports.Notifier = console
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			slog.Error("failed to start telegram notifier", "err", err)
			os.Exit(1)
		}
		notifier = notify.NewMulti(console, tg)
	}

	prices := feed.NewTicker(cfg.Feed.BaseURL, cfg.Feed.Symbols, cfg.PollInterval())

	eng := engine.New(store, clusters, notifier, prices, engine.Config{
		RefreshTick:    cfg.RefreshTick(),
		ClusterMaxAge:  cfg.ClusterMaxAge(),
		LedgerTimeout:  cfg.LedgerTimeout(),
		RefreshWorkers: cfg.Engine.RefreshWorkers,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		slog.Error("failed to restore state", "err", err)
		os.Exit(1)
	}

	switch {
	case *createVault != "":
		runCreateVault(ctx, eng, *createVault, *balance)
		return
	case *openSymbol != "":
		runOpenPosition(ctx, eng, *vaultID, *openSymbol, *entry)
		return
	case *status:
		runStatus(ctx, eng, console, *vaultID)
		return
	}

	slog.Info("vaultd starting",
		"config", *configPath,
		"symbols", cfg.Feed.Symbols,
		"refresh_tick", cfg.RefreshTick(),
		"telegram", cfg.Telegram.Enabled,
	)

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("vaultd stopped cleanly")
}

func runCreateVault(ctx context.Context, eng *engine.Engine, name, balance string) {
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		slog.Error("invalid -balance", "value", balance, "err", err)
		os.Exit(1)
	}

	v, err := eng.CreateVault(ctx, name, amount)
	if err != nil {
		slog.Error("create vault failed", "err", err)
		os.Exit(1)
	}
	slog.Info("vault created", "id", v.ID, "name", v.Name, "balance", v.TotalBalance)
}

func runOpenPosition(ctx context.Context, eng *engine.Engine, vaultID, symbol, entry string) {
	if vaultID == "" {
		slog.Error("-open requires -vault")
		os.Exit(1)
	}
	price, err := decimal.NewFromString(entry)
	if err != nil {
		slog.Error("invalid -entry", "value", entry, "err", err)
		os.Exit(1)
	}

	p, err := eng.OpenPosition(ctx, vaultID, symbol, price)
	if err != nil {
		slog.Error("open position failed", "err", err)
		os.Exit(1)
	}
	slog.Info("position opened",
		"id", p.ID,
		"symbol", p.Symbol,
		"entry", p.EntryPrice,
		"margin", p.MarginInvested,
		"leverage", p.Leverage,
		"size", p.Size,
	)
}

func runStatus(ctx context.Context, eng *engine.Engine, console *notify.Console, vaultID string) {
	if vaultID == "" {
		slog.Error("-status requires -vault")
		os.Exit(1)
	}

	st, err := eng.VaultStatus(ctx, vaultID)
	if err != nil {
		slog.Error("vault status failed", "err", err)
		os.Exit(1)
	}
	console.PrintVaultStatus(st)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

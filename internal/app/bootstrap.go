package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Wakaba24/deriv-fast-backend/internal/api"
	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/engine"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
	"github.com/Wakaba24/deriv-fast-backend/internal/market"
	"github.com/Wakaba24/deriv-fast-backend/internal/storage"
)

// Bootstrap orchestrates the application startup sequence and holds the
// wired components.
type Bootstrap struct {
	Config   *infra.Config
	Journal  *storage.Journal // nil when disabled
	Defaults *domain.Defaults
	Client   *deriv.Client
	Stream   *market.Stream
	Engine   *engine.Engine
	Server   *api.Server

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires the whole system short of starting the loops. A missing
// API token fails here; everything else degrades at runtime instead.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Deriv Fast Backend...")

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Data directory + singleton instance lock. Two processes sharing
	// one journal DB or venue session would fight each other.
	workDir := infra.DataDir()
	if err := infra.EnsureDir(workDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Trade journal (Single-Writer WAL DB). An empty path leaves it
	// disabled; results then survive only as the in-memory last result.
	var journalSink engine.Journal
	if path := cfg.Journal.Path; path != "" {
		if err := infra.EnsureDir(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to create journal dir: %w", err)
		}
		journal, err := storage.NewJournal(path)
		if err != nil {
			return err
		}
		b.Journal = journal
		journalSink = journal
		slog.Info("✅ Trade journal initialized (WAL-mode)", "path", path)
	} else {
		slog.Info("⚠️ Trade journal disabled (JOURNAL_PATH not set)")
	}

	// 5. Core components around the single venue connection
	b.Defaults = domain.NewDefaults(
		cfg.Trading.DefaultSymbol,
		cfg.Trading.DefaultCurrency,
		cfg.Trading.DefaultBasis,
	)
	b.Client = deriv.NewClient(cfg, logger)
	b.Stream = market.NewStream(b.Client, b.Defaults, cfg.Market.TickBufferCapacity, cfg.Market.LogTicks, logger)
	b.Engine = engine.NewEngine(b.Client, b.Defaults, journalSink, cfg.SettlementTimeout(), logger)

	// 6. Inbound routing: the client dispatches stream events to the
	// components, and re-subscribes the feed after every authorization.
	b.Client.OnReady = func(ctx context.Context) { b.Stream.Resubscribe(ctx) }
	b.Client.OnTick = b.Stream.HandleTick
	b.Client.OnContract = b.Engine.HandleContractUpdate

	b.Server = api.NewServer(b.Client, b.Stream, b.Engine, b.Journal, b.Defaults, logger)

	return nil
}

// Start launches the connection loop and binds the engine lifecycle to ctx.
func (b *Bootstrap) Start(ctx context.Context) {
	b.Engine.Start(ctx)
	b.Client.Start(ctx)
	slog.Info("✅ Venue client started", "url", b.Config.Venue.WSURL)
}

// Shutdown stops the components in dependency order: the connection first
// so no new events arrive, then the engine, then the journal.
func (b *Bootstrap) Shutdown() {
	b.Client.Stop()
	b.Engine.Close()

	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Error("journal close failed", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}

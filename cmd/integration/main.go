package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
	"github.com/Wakaba24/deriv-fast-backend/internal/market"
)

// Live connectivity check against the real venue. Requires DERIV_API_TOKEN
// in the environment. It authorizes, reads a handful of ticks, and prices
// one proposal; nothing is bought.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting venue integration check...")

	cfg, err := infra.LoadConfig("")
	if err != nil {
		slog.Error("❌ Configuration invalid", "error", err)
		os.Exit(1)
	}
	slog.Info("🔑 Credentials loaded", "token", cfg.MaskedToken(), "app_id", cfg.Venue.AppID)

	client := deriv.NewClient(cfg, logger)
	defaults := domain.NewDefaults(cfg.Trading.DefaultSymbol, cfg.Trading.DefaultCurrency, cfg.Trading.DefaultBasis)
	stream := market.NewStream(client, defaults, cfg.Market.TickBufferCapacity, false, logger)

	ready := make(chan struct{}, 1)
	client.OnReady = func(ctx context.Context) {
		select {
		case ready <- struct{}{}:
		default:
		}
	}
	client.OnTick = stream.HandleTick
	client.OnContract = func(upd *deriv.ContractUpdate) {}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client.Start(ctx)
	defer client.Stop()

	slog.Info("STEP 1: Waiting for authorization...")
	select {
	case <-ready:
	case <-ctx.Done():
		slog.Error("❌ Authorization timed out", "last_error", client.LastError())
		os.Exit(1)
	}
	acct := client.Account()
	slog.Info("✅ Authorized",
		"login_id", acct.LoginID,
		"currency", acct.Currency,
		"virtual", acct.IsVirtual == 1)

	slog.Info("STEP 2: Subscribing to ticks...", "symbol", cfg.Trading.DefaultSymbol)
	if err := stream.Subscribe(ctx, cfg.Trading.DefaultSymbol); err != nil {
		slog.Error("❌ Subscribe failed", "error", err)
		os.Exit(1)
	}

	stall := time.After(15 * time.Second)
	for stream.Snapshot().BufferLen < 5 {
		select {
		case <-stall:
			slog.Error("❌ Tick stream stalled", "received", stream.Snapshot().BufferLen)
			os.Exit(1)
		case <-time.After(200 * time.Millisecond):
		}
	}
	snap := stream.Snapshot()
	slog.Info("✅ Ticks flowing",
		"symbol", snap.Symbol,
		"quote", snap.Latest.Quote.String(),
		"buffered", snap.BufferLen)

	slog.Info("STEP 3: Pricing a proposal (no purchase)...")
	resp, err := client.Request(ctx, deriv.MsgTypeProposal, &deriv.ProposalRequest{
		Proposal:     1,
		Amount:       json.Number("0.35"),
		Basis:        domain.BasisStake,
		ContractType: "DIGITEVEN",
		Currency:     acct.Currency,
		Duration:     5,
		DurationUnit: "t",
		Symbol:       cfg.Trading.DefaultSymbol,
	})
	if err != nil {
		slog.Error("❌ Proposal failed", "error", err)
		os.Exit(1)
	}
	prop, err := resp.Proposal()
	if err != nil {
		slog.Error("❌ Proposal payload malformed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Proposal priced",
		"ask_price", prop.AskPrice.String(),
		"payout", prop.Payout.String(),
		"longcode", prop.Longcode)

	slog.Info("🎉 Venue integration check passed!")
}

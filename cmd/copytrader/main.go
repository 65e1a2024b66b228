// Command copytrader bootstraps the ingestion/decoding/detection
// pipeline and, when enabled, the copy-execution and exit-manager
// subsystems: flag/env parsing, dependency wiring and signal handling.
// This is intentionally thin; all decision logic lives in internal/.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	flowctlpb "github.com/withobsrvr/flowctl/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/obsrvr-systems/solana-copytrader/internal/aggregators"
	"github.com/obsrvr-systems/solana-copytrader/internal/chainrpc"
	"github.com/obsrvr-systems/solana-copytrader/internal/classify"
	"github.com/obsrvr-systems/solana-copytrader/internal/config"
	"github.com/obsrvr-systems/solana-copytrader/internal/controlplane"
	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/exitmanager"
	"github.com/obsrvr-systems/solana-copytrader/internal/ledger"
	"github.com/obsrvr-systems/solana-copytrader/internal/logging"
	"github.com/obsrvr-systems/solana-copytrader/internal/lookup"
	"github.com/obsrvr-systems/solana-copytrader/internal/metadataapi"
	"github.com/obsrvr-systems/solana-copytrader/internal/metrics"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/orchestrator"
	"github.com/obsrvr-systems/solana-copytrader/internal/pipeline"
	"github.com/obsrvr-systems/solana-copytrader/internal/priceapi"
	"github.com/obsrvr-systems/solana-copytrader/internal/quality"
	"github.com/obsrvr-systems/solana-copytrader/internal/quote"
	"github.com/obsrvr-systems/solana-copytrader/internal/relay"
	"github.com/obsrvr-systems/solana-copytrader/internal/streamsource"
	"github.com/obsrvr-systems/solana-copytrader/internal/submit"
	"github.com/obsrvr-systems/solana-copytrader/internal/swapapi"
	"github.com/obsrvr-systems/solana-copytrader/internal/tradedetect"
	"github.com/obsrvr-systems/solana-copytrader/internal/watchlist"
	relaypb "github.com/obsrvr-systems/solana-copytrader/proto/relay"
	shredstreampb "github.com/obsrvr-systems/solana-copytrader/proto/shredstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "copytrader:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	go serveMetrics(reg, logger)

	if cfg.FlowctlEnabled {
		controller, err := wireControlPlane(ctx, cfg, m)
		if err != nil {
			logger.Warn("flowctl control plane unavailable, continuing without it", zap.Error(err))
		} else {
			defer controller.Stop()
		}
	}

	bus := events.NewBus()
	go bus.Run(ctx.Done())

	rpcProvider := chainrpc.NewJSONRPCClient(cfg.RPCEndpoint)

	watchSet := watchlist.NewSet()
	for _, raw := range cfg.WatchedWallets {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			logger.Warn("skipping malformed watched wallet", zap.String("address", raw), zap.Error(err))
			continue
		}
		watchSet.Add(pk)
	}

	resolver := lookup.NewResolver(chainrpc.TableFetcher{Provider: rpcProvider}, logger)
	registry := classify.NewRegistry(aggregators.ProgramA, aggregators.PrefixesA, aggregators.ProgramB, aggregators.PrefixesB)
	detector := tradedetect.NewDetector(rpcProvider, logger)

	allowedTokens := make(map[solana.PublicKey]struct{})
	var whitelistMints []solana.PublicKey
	for _, raw := range cfg.TradeAllowedTokens {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			logger.Warn("skipping malformed allowed token", zap.String("mint", raw), zap.Error(err))
			continue
		}
		allowedTokens[pk] = struct{}{}
		whitelistMints = append(whitelistMints, pk)
	}

	wallet, err := loadWallet(cfg.WalletPrivateKeyEnv)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}

	swapClient := swapapi.NewClient(cfg.QuoteAPIBaseURL, cfg.QuoteAPIKey)
	swapClient.Warmup(ctx)

	tradeSizeRaw := uint64(cfg.TradeAmountUsdc * 1_000_000) // USDC has 6 decimals
	quoteCache := quote.NewCache(swapClient, logger, wallet.PublicKey().String(), cfg.TradeSlippageBps, cfg.TradePriorityFeeMicroLamports, whitelistMints, tradeSizeRaw)

	buildFn := makeBuildFunc(swapClient, rpcProvider, wallet, cfg)
	go quoteCache.RunQuoteRefresh(ctx)
	go quoteCache.RunPrebuiltRefresh(ctx, buildFn)

	submitter := wireSubmitter(ctx, cfg, rpcProvider, wallet, logger)

	riskLimits := model.RiskLimits{
		MaxPositionUsdc:      decimal.NewFromFloat(cfg.RiskMaxPositionUsdc),
		MaxTotalExposureUsdc: decimal.NewFromFloat(cfg.RiskMaxTotalExposureUsdc),
		MaxOpenPositions:     cfg.RiskMaxOpenPositions,
		MinUsdcReserve:       decimal.NewFromFloat(cfg.RiskMinUsdcReserve),
	}
	posLedger := ledger.NewLedger(riskLimits, bus)

	metadataClient := metadataapi.NewClient(cfg.MetadataAPIBaseURL)
	qualityLimits := model.QualityLimits{
		MinLiquidityUsdc:   decimal.NewFromFloat(cfg.FilterMinLiquidityUsdc),
		MaxPriceImpactPct:  decimal.NewFromFloat(cfg.FilterMaxPriceImpactPct),
		MinTokenAgeSeconds: cfg.FilterMinTokenAgeSeconds,
		Min24hVolumeUsdc:   decimal.NewFromFloat(cfg.FilterMin24hVolumeUsdc),
		MaxRecentPumpPct:   decimal.NewFromFloat(cfg.FilterMaxRecentPumpPct),
		Whitelist:          allowedTokens,
	}
	qualityFilter := quality.NewFilter(qualityLimits, metadataClient, logger)
	if cfg.FilterEnabled {
		go qualityFilter.RunRefresh(ctx)
	}

	orchCfg := orchestrator.Config{
		CopyBuysOnly:             false,
		AllowedTokens:            allowedTokens,
		MinTradeUsdc:             decimal.NewFromFloat(0.1),
		TradeAmountUsdc:          decimal.NewFromFloat(cfg.TradeAmountUsdc),
		SlippageBps:              cfg.TradeSlippageBps,
		PriorityFeeMicroLamports: cfg.TradePriorityFeeMicroLamports,
		UserPubkey:               wallet.PublicKey(),
	}
	balanceSource := chainrpc.NewBalanceChecker(rpcProvider, wallet.PublicKey())
	orch := orchestrator.New(orchCfg, quoteCache, submitter, posLedger, qualityFilter, balanceSource, buildFn, bus, logger, m)

	handleTrade := func(ctx context.Context, trade *model.DetectedTrade) {
		orch.HandleTrade(ctx, trade)
	}
	pl := pipeline.New(registry, resolver, watchSet, detector, bus, m, logger, handleTrade, 8)

	if cfg.ExitEnabled {
		priceClient := priceapi.NewClient(cfg.PriceAPIBaseURL)
		var targets []exitmanager.TakeProfitTarget
		for _, t := range cfg.ExitTakeProfitTargets {
			targets = append(targets, exitmanager.TakeProfitTarget{
				ProfitPct: decimal.NewFromFloat(t.ProfitPct),
				SellPct:   decimal.NewFromFloat(t.SellPct),
			})
		}
		exitCfg := exitmanager.Config{
			TakeProfitTargets: targets,
			StopLossPct:       decimal.NewFromFloat(cfg.ExitStopLossPct),
			MaxHold:           cfg.MaxHold(),
			CheckInterval:     cfg.CheckInterval(),
		}
		if cfg.ExitTrailingStopPct != nil {
			v := decimal.NewFromFloat(*cfg.ExitTrailingStopPct)
			exitCfg.TrailingStopPct = &v
		}
		if cfg.ExitTrailingActivationPct != nil {
			v := decimal.NewFromFloat(*cfg.ExitTrailingActivationPct)
			exitCfg.TrailingActivationPct = &v
		}
		exitMgr := exitmanager.New(exitCfg, posLedger, posLedger, priceClient, quoteCache, submitter, buildFn, bus, logger, m)
		go exitMgr.Run(ctx)
	}

	conn, err := grpc.Dial(cfg.StreamEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial shred stream: %w", err)
	}
	defer conn.Close()

	source := streamsource.NewSource(shredstreampb.NewTransport(conn), cfg.ReconnectDelay(), cfg.StreamMaxAttempts, logger)
	go logConnState(ctx, source, logger)

	entryCh := make(chan streamsource.SlotEntries, 256)
	go source.Run(ctx, 0, entryCh)

	logger.Info("copytrader started", zap.String("stream_endpoint", cfg.StreamEndpoint), zap.Bool("exit_enabled", cfg.ExitEnabled), zap.Bool("bundle_relay", cfg.TradeUseBundleRelay))
	pl.Run(ctx, entryCh)
	logger.Info("copytrader shutting down")
	return nil
}

func serveMetrics(reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(":9090", mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func logConnState(ctx context.Context, source *streamsource.Source, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-source.States():
			if !ok {
				return
			}
			logger.Info("shred stream connection state",
				zap.String("state", sc.State.String()),
				zap.Error(sc.Err),
				zap.Time("at", sc.At),
			)
		}
	}
}

func loadWallet(envVar string) (solana.PrivateKey, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return solana.PrivateKey{}, fmt.Errorf("%s is not set", envVar)
	}
	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return solana.PrivateKey{}, fmt.Errorf("parse wallet private key: %w", err)
	}
	return key, nil
}

// wireSubmitter constructs the race submitter, bringing up the
// bundle relay only when configured and demoting to RPC-only
// permanently if its 2s/4s/8s init retries are exhausted.
func wireSubmitter(ctx context.Context, cfg *config.Config, provider chainrpc.Provider, wallet solana.PrivateKey, logger *zap.Logger) *submit.Submitter {
	if !cfg.TradeUseBundleRelay || cfg.RelayEndpoint == "" {
		return submit.NewSubmitter(provider, nil, logger)
	}

	conn, err := grpc.Dial(cfg.RelayEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warn("relay dial failed, running RPC-only", zap.Error(err))
		return submit.NewSubmitter(provider, nil, logger)
	}
	relayClient := relaypb.NewClient(conn)
	builder := relay.NewBundleBuilder(relayClient, cfg.TradeBundleTipLamports, wallet)
	submitter := submit.NewSubmitter(provider, builder, logger)

	go func() {
		for _, delay := range submit.RelayBackoffSchedule() {
			if _, err := relayClient.GetTipAccounts(ctx); err == nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		logger.Warn("bundle relay unreachable after retry budget exhausted, degrading to RPC-only permanently")
		submitter.DisableRelayPermanently()
	}()

	return submitter
}

// wireControlPlane registers this process with the flowctl control
// plane as a processor (shred entries in, trade events out) and starts
// its heartbeat loop. Registration failure inside Register falls back
// to a simulated service ID; only a dial error aborts here.
func wireControlPlane(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*controlplane.Controller, error) {
	conn, err := grpc.Dial(cfg.FlowctlEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial flowctl: %w", err)
	}

	info := &flowctlpb.ServiceInfo{
		ServiceType:      flowctlpb.ServiceType_SERVICE_TYPE_PROCESSOR,
		InputEventTypes:  []string{"shredstream.Entries"},
		OutputEventTypes: []string{"copytrader.TradeDetected"},
		HealthEndpoint:   "http://localhost:9090/metrics",
		MaxInflight:      100,
		Metadata: map[string]string{
			"network":      "solana-mainnet",
			"component_id": cfg.FlowctlComponentID,
		},
	}
	controller := controlplane.NewController(flowctlpb.NewControlPlaneClient(conn), m, cfg.FlowctlHeartbeatInterval, info)
	controller.Register(ctx)
	return controller, nil
}

// makeBuildFunc adapts the swap-build API and local signing into the
// quote cache's BuildFunc contract: re-quote-and-build against the exact input/output
// pair and size (the build endpoint requires the raw quote response
// from the same round trip that produced it, which a previously cached
// model.Quote snapshot doesn't retain), sign locally, and return the
// transaction's own signature and blockhash.
func makeBuildFunc(client *swapapi.Client, provider chainrpc.Provider, wallet solana.PrivateKey, cfg *config.Config) quote.BuildFunc {
	return func(ctx context.Context, q model.Quote) ([]byte, solana.Signature, solana.Hash, error) {
		amountRaw := q.InAmountRaw
		mode := q.Mode
		if mode == model.ExactOut {
			amountRaw = q.OutAmountRaw
		}
		unsignedBytes, _, err := client.QuoteAndBuild(ctx, q.InputMint.String(), q.OutputMint.String(), amountRaw, cfg.TradeSlippageBps, mode, wallet.PublicKey().String(), cfg.TradePriorityFeeMicroLamports)
		if err != nil {
			return nil, solana.Signature{}, solana.Hash{}, fmt.Errorf("build swap tx: %w", err)
		}

		tx, err := solana.TransactionFromBytes(unsignedBytes)
		if err != nil {
			return nil, solana.Signature{}, solana.Hash{}, fmt.Errorf("decode swap tx: %w", err)
		}
		blockhash, err := provider.GetLatestBlockhash(ctx)
		if err != nil {
			return nil, solana.Signature{}, solana.Hash{}, fmt.Errorf("fetch blockhash: %w", err)
		}
		tx.Message.RecentBlockhash = blockhash

		if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(wallet.PublicKey()) {
				return &wallet
			}
			return nil
		}); err != nil {
			return nil, solana.Signature{}, solana.Hash{}, fmt.Errorf("sign swap tx: %w", err)
		}

		signedBytes, err := tx.MarshalBinary()
		if err != nil {
			return nil, solana.Signature{}, solana.Hash{}, fmt.Errorf("marshal signed swap tx: %w", err)
		}
		var sig solana.Signature
		if len(tx.Signatures) > 0 {
			sig = tx.Signatures[0]
		}
		return signedBytes, sig, blockhash, nil
	}
}

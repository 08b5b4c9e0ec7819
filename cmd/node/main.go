package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/params"
	"github.com/uhyunpark/stoplimit/pkg/api"
	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/app/core/oracle"
	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
	"github.com/uhyunpark/stoplimit/pkg/app/venue"
	"github.com/uhyunpark/stoplimit/pkg/metrics"
	"github.com/uhyunpark/stoplimit/pkg/p2p"
	"github.com/uhyunpark/stoplimit/pkg/relay"
	"github.com/uhyunpark/stoplimit/pkg/storage"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file, console only when LOG_FILE is empty)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if len(os.Args) > 1 && os.Args[1] == "inspect" {
		if err := inspect(cfg, os.Stdout); err != nil {
			sugar.Fatalw("inspect_failed", "err", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		sugar.Errorw("node_failed", "err", err)
		os.Exit(1)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	genesis, err := params.LoadGenesis(cfg.Node.GenesisFile)
	if err != nil {
		return err
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "fills.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	gov, err := governance.New(store, genesis.GovernanceState(cfg.Engine.FeeNumerator))
	if err != nil {
		return err
	}

	// ---- Balances and local venue ----
	book, direct := vault.NewMemory(), vault.NewMemory()
	if err := genesis.Seed(book, direct); err != nil {
		return err
	}

	router := venue.NewRouter(book)
	for _, p := range genesis.Pools {
		pool, err := venue.NewPool(common.HexToAddress(p.Address), common.HexToAddress(p.Token0), common.HexToAddress(p.Token1))
		if err != nil {
			return err
		}
		router.AddPool(pool)
	}
	fillers := venue.NewRegistry()
	for _, f := range genesis.SwapFillers {
		fillers.Register(venue.NewSwapFiller(common.HexToAddress(f), router, logger))
	}

	oracles := oracle.NewRegistry()
	for _, o := range genesis.Oracles.Fixed {
		oracles.Register(common.HexToAddress(o.Address), oracle.NewFixed(o.RateValue()))
	}
	for _, o := range genesis.Oracles.Spot {
		oracles.Register(common.HexToAddress(o), venue.NewSpotOracle(router, book))
	}

	// ---- Settlement engine ----
	engine, err := settlement.New(settlement.Options{
		Address: cfg.Engine.Address,
		ChainID: cfg.Engine.ChainSource(),
		Ledger:  ledger.New(store),
		Config:  gov,
		Oracles: oracle.NewGateway(oracles, cfg.Engine.Comparison),
		Vault:   book,
		Direct:  direct,
		Logger:  logger,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	sep, err := engine.Signer().DomainSeparator()
	if err != nil {
		return err
	}
	fees := engine.Fees()
	sugar.Infow("engine_ready",
		"address", cfg.Engine.Address.Hex(),
		"chain_id", cfg.Engine.ChainID,
		"domain_separator", sep.Hex(),
		"owner", engine.Owner().Hex(),
		"fee_numerator", fees.Numerator,
		"fee_divisor", fees.Divisor,
		"stop_comparison", engine.Comparison().String(),
		"whitelisted", len(engine.Whitelisted()),
		"pools", len(router.Pools()))

	// ---- API Server ----
	apiServer := api.NewServer(api.Options{
		Engine:          engine,
		Fillers:         fillers,
		Logger:          logger,
		AllowedOrigins:  cfg.Node.AllowedOrigins,
		ShutdownTimeout: cfg.Node.ShutdownTimeout,
	})
	engine.AddSink(apiServer.Hub())

	// ---- Event sinks ----
	if cfg.Node.JournalFile != "" {
		journal, err := storage.NewJournal(cfg.Node.JournalFile)
		if err != nil {
			return err
		}
		defer journal.Close()
		engine.AddSink(journal)
		sugar.Infow("journal_enabled", "path", cfg.Node.JournalFile)
	}

	if cfg.Relay.URL != "" {
		nc, js, err := relay.Connect(cfg.Relay.URL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := relay.EnsureStream(ctx, js, cfg.Relay.Stream, cfg.Relay.SubjectPrefix); err != nil {
			return err
		}
		engine.AddSink(relay.NewPublisher(js, cfg.Relay.SubjectPrefix, logger))
		sugar.Infow("nats_relay_enabled", "url", cfg.Relay.URL, "stream", cfg.Relay.Stream)
	}

	if cfg.Gossip.Enabled {
		gossip, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddr: cfg.Gossip.ListenAddr,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Topic:      cfg.Gossip.Topic,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer gossip.Close()
		// Peer events are unverified; the hub keeps them on "peer:" channels marked remote.
		hub := apiServer.Hub()
		gossip.SetHandler(func(ctx context.Context, w p2p.EventWire) {
			if err := hub.PublishRemote(ctx, w.Origin, w.Event); err != nil {
				sugar.Debugw("gossip_forward_dropped", "origin", w.Origin, "err", err)
			}
		})
		engine.AddSink(gossip)
		sugar.Infow("gossip_enabled", "addrs", gossip.Addrs(), "topic", cfg.Gossip.Topic)
	}

	logBalances(sugar, engine, genesis)

	sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logBalances(sugar *zap.SugaredLogger, engine *settlement.Engine, g *params.Genesis) {
	for _, b := range g.Balances {
		bal := engine.VaultBalance(common.HexToAddress(b.Token), common.HexToAddress(b.Owner))
		sugar.Debugw("genesis_balance", "token", b.Token, "owner", b.Owner, "amount", bal.String())
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/ai"
	"github.com/NethermindEth/nfaclaw-agent/api"
	"github.com/NethermindEth/nfaclaw-agent/api/handlers"
	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/config"
	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
	"github.com/NethermindEth/nfaclaw-agent/metrics"
	"github.com/NethermindEth/nfaclaw-agent/persona"
	"github.com/NethermindEth/nfaclaw-agent/storage"
	"github.com/NethermindEth/nfaclaw-agent/utils"
)

func main() {
	// Parse command line flags
	apiPort := flag.Int("port", 3000, "API server port, 0 picks the first free port from 3000")
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	catalogPath := flag.String("catalog", "", "persona catalog YAML (default: embedded)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *apiPort, *catalogPath, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, port int, catalogPath string, logger *zap.Logger) error {
	chainClient, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, cfg.Addresses)
	if err != nil {
		return err
	}

	builder := persona.NewBuilder(nil)
	if catalogPath != "" {
		catalog, err := persona.LoadCatalog(catalogPath)
		if err != nil {
			return err
		}
		builder = persona.NewBuilder(catalog)
	}

	// Event stream: websocket clients always, NATS when configured.
	ws := communication.NewWSManager(logger)
	go ws.Run(ctx)
	events := communication.Fanout{ws}
	if cfg.NATSURL != "" {
		broker, err := communication.NewNATSBroker(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		events = append(events, broker)
	}

	// Badger holds the cron history, and the rate buckets when they must
	// survive restarts.
	dbConfig := storage.InMemoryConfig()
	if cfg.RateLimitStore == config.StoreBadger {
		dbConfig = storage.DefaultConfig(cfg.BadgerDir)
	}
	db, err := storage.Open(dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	go db.RunGCLoop(ctx)

	var rateStore gatekeeper.Store = gatekeeper.NewMemoryStore()
	if cfg.RateLimitStore == config.StoreBadger {
		rateStore = storage.NewRateStore(db)
	}

	m := metrics.New()
	m.RegisterStore(db.Metrics)
	svc := gatekeeper.NewService(gatekeeper.Options{
		IPLimiter:     gatekeeper.NewLimiter(rateStore, cfg.IPRateLimit.Max, cfg.IPRateLimit.Window, "ip"),
		WalletLimiter: gatekeeper.NewLimiter(rateStore, cfg.WalletRateLimit.Max, cfg.WalletRateLimit.Window, "wallet"),
		Verifier:      auth.NewVerifier(cfg.ChainID, cfg.Addresses.Miner.Hex(), chainClient),
		Chain:         chainClient,
		Personas:      builder,
		LLM:           ai.NewClient(cfg.LLM, logger),
		Events:        events,
		Metrics:       m,
		Logger:        logger,
	})

	h := &handlers.Handler{
		Chat:              svc,
		Cron:              chainClient,
		CronSecret:        cfg.CronSecret,
		Distribute:        cfg.Distribute,
		Refill:            cfg.Refill,
		CronRuns:          storage.NewCronRepository(db),
		Events:            events,
		WS:                ws,
		VerboseAuthErrors: cfg.AuthVerboseErrors,
		Logger:            logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(h, m.Handler(), cfg.ChatTimeout, logger)

	if port == 0 {
		port = utils.FindAvailableAPIPort(3000)
	}
	logger.Info("NFAClaw agent starting",
		zap.Uint64("chainId", cfg.ChainID),
		zap.String("miner", cfg.Addresses.Miner.Hex()),
		zap.String("rateLimitStore", cfg.RateLimitStore),
		zap.Bool("llm", cfg.LLM.APIKey != ""),
	)
	return api.StartServer(ctx, port, router, logger)
}

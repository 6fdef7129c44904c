package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/agent"
	"github.com/tradecouncil/tradecouncil/internal/api"
	"github.com/tradecouncil/tradecouncil/internal/bootstrap"
	"github.com/tradecouncil/tradecouncil/internal/config"
	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
	"github.com/tradecouncil/tradecouncil/internal/memory"
	"github.com/tradecouncil/tradecouncil/internal/orchestrator"
	"github.com/tradecouncil/tradecouncil/internal/progress"
)

// Exit codes: 1 fatal config, 2 database init, 3 seed failure.
const (
	exitConfig = 1
	exitDB     = 2
	exitSeed   = 3
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(exitConfig)
	}
	applyEnvOverrides(cfg)

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting TradeCouncil server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		os.Exit(exitDB)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to run migrations")
		os.Exit(exitDB)
	}

	if err := bootstrap.Seed(ctx, database); err != nil {
		log.Error().Err(err).Msg("Failed to seed database")
		os.Exit(exitSeed)
	}

	gw := buildGateway(cfg)

	memStore := memory.NewStore(database.Pool(), memory.NewHashEmbedder(cfg.Memory.Dimensions), "trading_lessons")

	runtime := agent.NewRuntime(gw, memStore, agent.RuntimeConfig{
		Model:         cfg.LLM.QuickThinkModel,
		MaxToolRounds: cfg.Analysis.MaxToolRounds,
		StepBudget:    cfg.Analysis.AgentStepBudget,
		RecallN:       cfg.Analysis.MemoryRecallN,
	})

	tools := agent.OfflineTools()
	if cfg.Analysis.OnlineTools {
		tools = agent.OnlineTools(gw, "")
	}

	bus := progress.NewBus()
	orch := orchestrator.New(database, runtime, bus, tools, memStore, orchestrator.Config{
		MaxDebateRounds: cfg.Analysis.MaxDebateRounds,
		MaxRiskRounds:   cfg.Analysis.MaxRiskRounds,
		SessionDeadline: cfg.Analysis.SessionDeadline,
	})

	server := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		Version:        cfg.App.Version,
		Debug:          cfg.App.Debug(),
		AllowedOrigins: allowedOrigins(cfg),
		GlobalRate:     cfg.API.GlobalRate,
		LoginRate:      cfg.API.LoginRate,
		StartRate:      cfg.API.StartRate,
		Store:          database,
		Analyzer:       orch,
		Market:         gw,
		Bus:            bus,
		Auth:           newTokenIssuer(cfg),
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	// Stop accepting requests first, then let running analyses finalize.
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Analysis sessions did not finalize before deadline")
	}

	log.Info().Msg("Server stopped")
}

// applyEnvOverrides maps the documented provider environment variables onto
// the loaded configuration.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		cfg.Providers.FREDAPIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Providers.FinnhubAPIKey = v
	}
}

// buildGateway assembles the provider set. A missing credential leaves its
// provider nil; the gateway then answers Unavailable for that capability
// instead of the process refusing to start.
func buildGateway(cfg *config.Config) *gateway.Gateway {
	providers := gateway.Providers{
		Quotes:    gateway.NewYahooQuoteProvider(),
		FearGreed: gateway.NewCNNFearGreedProvider(cfg.Providers.FearGreedURL, cfg.Gateway.CallTimeout),
	}

	if cfg.Providers.FinnhubAPIKey != "" {
		providers.News = gateway.NewFinnhubProvider(cfg.Providers.FinnhubAPIKey, "", cfg.Gateway.CallTimeout)
	} else {
		log.Warn().Msg("FINNHUB_API_KEY not set, news provider disabled")
	}

	if cfg.Providers.FREDAPIKey != "" {
		providers.Series = gateway.NewFREDProvider(cfg.Providers.FREDAPIKey, "", cfg.Gateway.CallTimeout)
	} else {
		log.Warn().Msg("FRED_API_KEY not set, economic data provider disabled")
	}

	if cfg.LLM.Enabled() {
		providers.LLM = gateway.NewLLMClient(gateway.LLMClientConfig{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      cfg.LLM.APIKey,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
	} else {
		log.Warn().Msg("LLM_API_KEY not set, analysis pipeline disabled")
	}

	return gateway.New(cfg.Gateway, providers)
}

// allowedOrigins appends the ALLOWED_ORIGINS environment variable to the
// configured CORS origin list.
func allowedOrigins(cfg *config.Config) []string {
	origins := cfg.API.AllowedOrigins
	if extra := os.Getenv("ALLOWED_ORIGINS"); extra != "" {
		for _, origin := range strings.Split(extra, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

// newTokenIssuer builds the JWT issuer. Without a configured secret a
// random one is generated, which invalidates outstanding tokens on every
// restart.
func newTokenIssuer(cfg *config.Config) *api.TokenIssuer {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Error().Err(err).Msg("Failed to generate JWT secret")
			os.Exit(exitConfig)
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("auth.jwt_secret not set, generated ephemeral secret; sessions will not survive restarts")
	}
	return api.NewTokenIssuer(secret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, cfg.Auth.CookieDomain, cfg.Auth.SecureCookies)
}

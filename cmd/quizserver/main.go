// Package main provides the quiz server binary that pairs players into
// rooms and serves duels over a WebSocket gateway.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/quizduel/server/internal/config"
	"github.com/quizduel/server/internal/game/engine"
	"github.com/quizduel/server/internal/game/question"
	"github.com/quizduel/server/internal/game/registry"
	"github.com/quizduel/server/internal/game/room"
	"github.com/quizduel/server/internal/gateway"
	"github.com/quizduel/server/internal/observability"
	"github.com/quizduel/server/internal/server"
	"github.com/quizduel/server/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	questionsDir := flag.String("questions-dir", "", "override for the static question bank directory")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *questionsDir != "" {
		cfg.Provider.QuestionsDir = *questionsDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting quiz server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("provider", cfg.Provider.Source),
	)

	provider, err := buildProvider(cfg.Provider, logger)
	if err != nil {
		logger.Fatal("building question provider", zap.Error(err))
	}

	opts := engine.Options{
		InitialTier: question.Tier(cfg.Game.InitialDifficulty),
		AutoAdjust:  cfg.Game.AutoDifficulty,
	}

	// Results persistence is optional; duels run fully in memory without it.
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		opts.Recorder = postgres.NewResultRepository(pool.DB())
	}

	eng := engine.New(registry.NewRegistry(), room.NewDirectory(), provider, logger, opts)
	gw := gateway.New(cfg.Server, cfg.Game, eng, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("gateway", gw)

	logger.Info("quiz server ready", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildProvider constructs the configured question source.
func buildProvider(cfg config.ProviderConfig, logger *zap.Logger) (question.Provider, error) {
	switch cfg.Source {
	case "anthropic":
		return question.NewLLMProvider(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Topic, logger), nil
	default:
		bankStart := time.Now()
		provider, err := question.LoadBankFromDir(cfg.QuestionsDir)
		if err != nil {
			return nil, err
		}
		for _, tier := range question.Tiers {
			logger.Info("question bank loaded",
				zap.String("tier", string(tier)),
				zap.Int("questions", provider.Size(tier)),
				zap.Duration("elapsed", time.Since(bankStart)),
			)
		}
		return provider, nil
	}
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/suPer8Hu/chatstream/internal/ai"
	"github.com/suPer8Hu/chatstream/internal/chat"
	"github.com/suPer8Hu/chatstream/internal/config"
	"github.com/suPer8Hu/chatstream/internal/db"
	"github.com/suPer8Hu/chatstream/internal/logger"
	"github.com/suPer8Hu/chatstream/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	log := logger.Must(logger.Options{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		Development: !cfg.IsProduction(),
		Service:     "worker",
	})
	defer func() { _ = log.Sync() }()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb, chat.Models()...); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	gw := db.NewGateway(gdb)
	defer func() { _ = gw.Close() }()

	// Provider registry (route by AI_PROVIDER + AI_MODEL)
	reg := ai.DefaultRegistry(ai.Settings{
		Model:             cfg.AIModel,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})

	svc := chat.NewService(gw, reg, chat.Options{
		Provider:          cfg.AIProvider,
		Model:             cfg.AIModel,
		ContextWindowSize: cfg.ChatContextWindowSize,
	}, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, rabbitmq.ConsumerOptions{
		Queue:       cfg.RabbitQueue,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.WorkerMaxRetries,
		RetryDelay:  cfg.WorkerRetryDelay,
		Final: func(err error) bool {
			return errors.Is(err, chat.ErrJobFailed)
		},
	}, log)
	if err != nil {
		log.Fatal("rabbit connect", zap.Error(err))
	}
	defer func() { _ = consumer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		jctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
		return svc.ProcessJob(jctx, jobID)
	})
	if err != nil {
		log.Error("worker stopped", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}

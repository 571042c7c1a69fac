package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/chatstream/internal/ai"
	"github.com/suPer8Hu/chatstream/internal/auth"
	"github.com/suPer8Hu/chatstream/internal/chat"
	"github.com/suPer8Hu/chatstream/internal/config"
	"github.com/suPer8Hu/chatstream/internal/db"
	"github.com/suPer8Hu/chatstream/internal/httpapi"
	"github.com/suPer8Hu/chatstream/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatstream/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatstream/internal/logger"
	"github.com/suPer8Hu/chatstream/internal/observability"
	"github.com/suPer8Hu/chatstream/internal/store/rabbitmq"
	"github.com/suPer8Hu/chatstream/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log := logger.Must(logger.Options{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		Development: !cfg.IsProduction(),
		Service:     "api",
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, chat.Models()...); err != nil {
		return err
	}
	gw := db.NewGateway(gdb)
	defer func() { _ = gw.Close() }()
	log.Info("database ready", zap.String("driver", db.Driver(cfg.DBDSN)))

	var (
		revoker auth.Revoker
		limiter middleware.Limiter = middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
	)
	if cfg.RedisAddr != "" {
		rs, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		revoker = rs
		limiter = middleware.SharedLimiter{Counter: rs, Limit: cfg.RateLimitPerMinute, Window: time.Minute}
		log.Info("redis ready", zap.String("addr", cfg.RedisAddr))
	} else {
		log.Warn("REDIS_ADDR not set, using in-process revocation and rate limiting")
	}

	authSvc, err := auth.NewService(gdb, cfg.JWTSecret, cfg.JWTTTL, revoker)
	if err != nil {
		return err
	}

	registry := ai.DefaultRegistry(providerSettings(cfg))
	if !registry.Has(cfg.AIProvider) {
		return fmt.Errorf("AI_PROVIDER %q is not one of %v", cfg.AIProvider, registry.Names())
	}
	chatSvc := chat.NewService(gw, registry, chat.Options{
		Provider:          cfg.AIProvider,
		Model:             cfg.AIModel,
		ContextWindowSize: cfg.ChatContextWindowSize,
	}, log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.New(promReg)

	engine := chat.NewEngine(gw, chat.EngineOptions{
		ChunkDelay:      cfg.FallbackChunkDelay,
		UpstreamTimeout: cfg.UpstreamTimeout,
	}, metrics, log)

	var jobs handlers.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		jobs = pub
		log.Info("rabbitmq ready", zap.String("queue", cfg.RabbitQueue))
	} else {
		local := chat.NewLocalDispatcher(chatSvc, cfg.JobTimeout, log)
		defer local.Wait()
		jobs = local
		log.Warn("RABBIT_URL not set, running jobs in-process")
	}

	h := &handlers.Handler{
		Auth:      authSvc,
		Chat:      chatSvc,
		Engine:    engine,
		Jobs:      jobs,
		DB:        gw,
		Metrics:   metrics,
		Log:       log,
		KeepAlive: cfg.SSEKeepAlive,
	}
	router := httpapi.NewRouter(h, httpapi.RouterOptions{
		CORSOrigins:   cfg.CORSOrigins,
		StreamLimiter: limiter,
		Gatherer:      promReg,
	})

	// no WriteTimeout: streams stay open for as long as the upstream runs
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.AIProvider),
			zap.Strings("available_providers", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			return err
		}
		log.Info("server stopped cleanly")
		return nil
	})
	return g.Wait()
}

func providerSettings(cfg config.Config) ai.Settings {
	return ai.Settings{
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
	}
}

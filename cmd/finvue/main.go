package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finvue/internal/advisor"
	"finvue/internal/amqp"
	"finvue/internal/auth"
	"finvue/internal/cache"
	"finvue/internal/cli"
	"finvue/internal/config"
	"finvue/internal/core"
	apphttp "finvue/internal/http"
	"finvue/internal/log"
	"finvue/internal/market"
	"finvue/internal/middleware/ratelimit"
	"finvue/internal/services"
	"finvue/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)
	structured := log.NewStructuredLogger(logger)

	res := cli.InitBackend(context.Background(), logger, cfg)
	cacheManager := cache.NewManager(logger)

	// Saved records are announced to the export worker when a broker is set.
	var (
		publisher  services.RecordPublisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		c, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, saved records will not be exported", log.FieldError, err)
		} else {
			amqpClient, publisher = c, c
		}
	}
	records := services.NewRecordService(res.Store, publisher, logger)

	sessions := session.NewRegistry(records, session.Options{
		Debounce: cfg.AutosaveDebounce,
		Logger:   logger.WithComponent(log.ComponentSession),
		OnSaved: func(ctx context.Context, userID string, year int, _ core.Record) {
			structured.LogRecordSaved(ctx, userID, year)
		},
	})

	var gen advisor.Generator = advisor.Unconfigured{}
	if cfg.GeminiAPIKey != "" {
		g, err := advisor.NewGenAIGenerator(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			logger.Error("Failed to initialize generative model", log.FieldError, err)
			os.Exit(1)
		}
		gen = g
	} else {
		logger.Warn("GEMINI_API_KEY not set, insights will use fallbacks")
	}
	acfg := advisor.DefaultConfig()
	acfg.AdviceModel = cfg.AdviceModel
	acfg.OutlookModel = cfg.AdviceModel
	acfg.ChatModel = cfg.ChatModel
	acfg.ImageModel = cfg.ImageModel
	advisorSvc, err := advisor.New(gen, res.Store, acfg, logger)
	if err != nil {
		logger.Error("Failed to initialize advisor", log.FieldError, err)
		os.Exit(1)
	}

	mcfg := market.DefaultConfig()
	mcfg.NewsURL = cfg.NewsFeedURL
	mcfg.RSSURL = cfg.NewsRSSURL
	mcfg.FXURL = cfg.FXURL
	marketClient := market.New(mcfg, &http.Client{Timeout: mcfg.Timeout}, cacheManager, logger)

	var mailer auth.Mailer = auth.NewLogMailer(logger)
	if cfg.SMTPHost != "" {
		mailer = auth.NewSMTPMailer(auth.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
		}, logger)
	}
	authSvc := auth.NewService(res.Store, mailer, auth.Config{
		Secret:              []byte(cfg.JWTSecret),
		TokenTTL:            cfg.JWTTTL,
		RequireConfirmation: cfg.RequireEmailConfirmation,
		PublicBaseURL:       cfg.PublicBaseURL,
	}, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
	cacheManager.Register("revoked_tokens", authSvc.RevocationCache())
	cacheManager.Register("rate_limit", limiter)
	cacheManager.StartCleanup(time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Auth:     authSvc,
		Sessions: sessions,
		Advisor:  advisorSvc,
		Market:   marketClient,
		Store:    res.Store,
		Limiter:  limiter,
		Logger:   logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		// Pending edits are flushed before the store goes away.
		if err := sessions.CloseAll(ctx); err != nil {
			logger.Error("Failed to flush sessions", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		}
		advisorSvc.Close()
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting FinVue server",
		"port", cfg.Port, log.FieldBackend, res.Type.String(), "amqp", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}

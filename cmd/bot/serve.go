package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/estudia/material-bot/config"
	"github.com/estudia/material-bot/internal/application/conversation"
	"github.com/estudia/material-bot/internal/infrastructure/cache"
	"github.com/estudia/material-bot/internal/infrastructure/external/dialogflow"
	tgapi "github.com/estudia/material-bot/internal/infrastructure/external/telegram"
	"github.com/estudia/material-bot/internal/infrastructure/metrics"
	"github.com/estudia/material-bot/internal/infrastructure/persistence/postgres"
	"github.com/estudia/material-bot/internal/infrastructure/persistence/redis"
	"github.com/estudia/material-bot/internal/infrastructure/storage/s3"
	httpserver "github.com/estudia/material-bot/internal/interface/http"
	"github.com/estudia/material-bot/internal/interface/http/handlers"
	"github.com/estudia/material-bot/internal/interface/telegram"
	"github.com/estudia/material-bot/pkg/logger"
)

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting material bot",
		logger.String("env", string(cfg.App.Environment)),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	applied, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed", logger.Int("applied", len(applied)))

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КЕШ ЛИСТИНГОВ (Redis или LRU в памяти)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		listingCache conversation.Cache
		redisCache   *redis.Cache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfig(cfg), log)
		if err != nil {
			log.Warn("failed to connect to Redis, falling back to in-memory cache", logger.Err(err))
			redisCache = nil
		} else {
			defer func() { _ = redisCache.Close() }()
			listingCache = redisCache
			log.Info("Redis connection established")
		}
	}
	if listingCache == nil {
		mem, err := cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("failed to create memory cache: %w", err)
		}
		listingCache = mem
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing external clients...")

	content, err := s3.New(ctx, s3.Config{
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		Endpoint:      cfg.Storage.Endpoint,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		PresignTTL:    cfg.Storage.PresignTTL,
		UsePathStyle:  cfg.Storage.UsePathStyle,
		MaxRetries:    cfg.Storage.MaxRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create content store: %w", err)
	}

	nlp, err := dialogflow.New(ctx, dialogflow.Config{
		ProjectID:       cfg.NLP.ProjectID,
		LanguageCode:    cfg.NLP.LanguageCode,
		CredentialsFile: cfg.NLP.CredentialsFile,
		RequestTimeout:  cfg.NLP.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create dialogflow engine: %w", err)
	}
	defer func() { _ = nlp.Close() }()

	clientConfig := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	clientConfig.SendRate = cfg.Telegram.SendRate
	clientConfig.SendBurst = cfg.Telegram.SendBurst
	clientConfig.Debug = cfg.App.Debug
	clientConfig.Logger = log
	tgClient := tgapi.NewClient(clientConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	observer, err := metrics.NewObserver("", nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ОРКЕСТРАТОР РАЗГОВОРА
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing conversation...")

	messages := conversation.DefaultMessages()
	if cfg.Bot.Greeting != "" {
		messages.Greeting = cfg.Bot.Greeting
	}

	orchestrator, err := conversation.NewOrchestrator(conversation.Deps{
		Channel:  tgapi.NewChannel(tgClient, log),
		NLP:      nlp,
		Content:  content,
		Store:    postgres.NewStore(dbConn),
		Cache:    listingCache,
		Observer: observer,
		Logger:   log,
	}, conversation.Options{
		Messages:    messages,
		MediaFolder: cfg.Bot.MediaFolder,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. СОЗДАНИЕ TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Telegram bot...")

	botConfig := telegram.DefaultBotConfig()
	if cfg.Telegram.UseWebhook {
		botConfig.Mode = telegram.ModeWebhook
	}
	botConfig.WebhookURL = cfg.Telegram.WebhookURL
	botConfig.WebhookSecret = cfg.Telegram.WebhookSecret
	botConfig.PollingTimeout = cfg.Telegram.PollingTimeout
	botConfig.MaxConcurrentChats = cfg.Bot.MaxConcurrentChats
	botConfig.TurnTimeout = cfg.Bot.TurnTimeout
	botConfig.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	botConfig.Logger = log

	bot, err := telegram.NewBot(botConfig, tgClient, orchestrator, observer)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	health := handlers.NewCompositeHealthChecker(version)
	health.AddCheck("postgres", handlers.NewPingCheck(dbConn))
	health.AddDetail("postgres_pool", func() any { return dbConn.Stats() })
	if redisCache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(redisCache))
	}

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Port = cfg.Observability.HTTPPort
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	httpConfig.WebhookSecret = cfg.Telegram.WebhookSecret

	httpDeps := httpserver.Dependencies{
		Logger:        log,
		HealthChecker: health,
		Metrics:       promhttp.Handler(),
	}
	if botConfig.Mode == telegram.ModeWebhook {
		httpDeps.Updates = bot
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// Канал для ошибок
	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	go func() {
		log.Info("starting Telegram bot", logger.String("mode", botConfig.Mode))
		if err := bot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("telegram bot error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("material bot is running",
		logger.String("http_address", httpConfig.Address()),
		logger.String("telegram_mode", botConfig.Mode),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-errCh:
		log.Error("service error", logger.Err(runErr))
	}
	stop()

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. Останавливаем бота и дожидаемся текущих ходов
	log.Info("stopping Telegram bot...")
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", logger.Err(err))
		shutdownErr = err
	}

	// 2. Останавливаем HTTP сервер
	log.Info("stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		shutdownErr = err
	}

	// 3. Dialogflow, Redis и база данных закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return runErr
}

// connectDatabase открывает пул с настройками из окружения.
func connectDatabase(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	dbConfig := postgres.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	if cfg.Database.MaxOpenConns > 0 {
		dbConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		dbConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		dbConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		dbConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	// NewConnection сам проверяет соединение пингом
	conn, err := postgres.NewConnection(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	if cfg.Redis.Host != "" {
		rc.Host = cfg.Redis.Host
	}
	if cfg.Redis.Port > 0 {
		rc.Port = cfg.Redis.Port
	}
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}
	if cfg.Cache.TTL > 0 {
		rc.TTL = cfg.Cache.TTL
	}
	return rc
}

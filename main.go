// Package main provides the entry point of the event RSVP engine
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/handlers"
	"github.com/amirphl/event-rsvp-engine/app/logging"
	"github.com/amirphl/event-rsvp-engine/app/middleware"
	"github.com/amirphl/event-rsvp-engine/app/router"
	"github.com/amirphl/event-rsvp-engine/app/scheduler"
	"github.com/amirphl/event-rsvp-engine/app/services"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	log       zerolog.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if len(os.Args) > 1 && os.Args[1] == "issue-token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.Fatal().Err(err).Msg("failed to issue token")
		}
		return
	}

	logger.Info().Msg("starting event RSVP engine")

	app, err := initializeApplication(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-sigChan
	logger.Info().Msg("shutting down gracefully")

	// Stop background workers before the server so in-flight sends settle
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}

	logger.Info().Msg("server stopped")
}

// issueToken prints an operator token pair. Operators are provisioned outside this service.
func issueToken(cfg *config.ProductionConfig, args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	operator := fs.Uint("operator", 0, "operator id to embed in the token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *operator == 0 {
		return fmt.Errorf("-operator is required")
	}

	tokenService, err := newTokenService(cfg, nil)
	if err != nil {
		return err
	}
	access, refresh, err := tokenService.GenerateOperatorTokens(*operator)
	if err != nil {
		return err
	}
	fmt.Printf("access_token=%s\nrefresh_token=%s\n", access, refresh)
	return nil
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("database connection established")

	return db, nil
}

// initializeCache connects to redis when caching is enabled
func initializeCache(cfg config.CacheConfig, log zerolog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Int("db", cfg.RedisDB).Msg("redis connection established")
	return rc, nil
}

// startCacheHealthMonitor periodically pings redis; the returned func stops it
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, log zerolog.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warn().Err(err).Msg("redis healthcheck failed")
				}
				c()
			}
		}
	}()
	return cancel
}

func newTokenService(cfg *config.ProductionConfig, rc *redis.Client) (services.TokenService, error) {
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
		rc,
		cfg.Cache.RedisPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	return tokenService, nil
}

// initializeApplication wires repositories, services, flows and handlers
func initializeApplication(cfg *config.ProductionConfig, log zerolog.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, log)
	if err != nil {
		return nil, err
	}

	// Repositories
	groupRepo := repository.NewContactGroupRepository(db)
	contactRepo := repository.NewContactRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	itineraryRepo := repository.NewTravelItineraryRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	campaignMessageRepo := repository.NewCampaignMessageRepository(db)
	chatRepo := repository.NewChatMessageRepository(db)
	outboundRepo := repository.NewWhatsAppMessageRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Services
	var transport services.WhatsAppClient
	if cfg.WhatsApp.MockMode {
		log.Warn().Msg("whatsapp mock mode enabled, no messages will leave the process")
		transport = services.NewMockWhatsAppClient()
	} else {
		transport = services.NewCloudAPIClient(&cfg.WhatsApp)
	}

	oracle, err := services.NewLLMDecisionOracle(&cfg.Oracle, log)
	if err != nil {
		return nil, err
	}

	var extractor services.ExtractionService
	if cfg.Extraction.Enabled {
		extractor = services.NewHTTPExtractionService(&cfg.Extraction)
	}

	mediaStore := services.NewDiskMediaStore(&cfg.Storage)

	var (
		locker services.ContactLocker
		cache  services.ConversationCache
	)
	if rc != nil {
		locker = services.NewRedisContactLocker(rc, cfg.Cache.RedisPrefix, cfg.Cache.LockTTL)
		cache = services.NewRedisConversationCache(rc, cfg.Cache.RedisPrefix, cfg.Cache.DefaultTTL)
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 30*time.Second, log))
	} else {
		locker = services.NewLocalContactLocker()
		cache = services.NoopConversationCache{}
	}

	tokenService, err := newTokenService(cfg, rc)
	if err != nil {
		return nil, err
	}

	// Flows
	conversationFlow := businessflow.NewConversationFlow(
		conversationRepo,
		groupRepo,
		uploadRepo,
		itineraryRepo,
		chatRepo,
		outboundRepo,
		oracle,
		extractor,
		mediaStore,
		transport,
		locker,
		cache,
		&cfg.Conversation,
		db,
		log,
	)

	webhookFlow := businessflow.NewWebhookFlow(
		contactRepo,
		chatRepo,
		outboundRepo,
		campaignMessageRepo,
		conversationFlow,
		transport,
		&cfg.WhatsApp,
		log,
	)

	campaignFlow := businessflow.NewCampaignFlow(
		campaignRepo,
		campaignMessageRepo,
		groupRepo,
		contactRepo,
		auditRepo,
		db,
	)

	chatFlow := businessflow.NewChatFlow(
		contactRepo,
		conversationRepo,
		chatRepo,
		outboundRepo,
		uploadRepo,
		itineraryRepo,
		auditRepo,
		transport,
		locker,
		cache,
		db,
		log,
	)

	contactFlow := businessflow.NewContactFlow(
		groupRepo,
		contactRepo,
		campaignRepo,
		itineraryRepo,
		auditRepo,
		cfg.Scheduler.DefaultCountry,
		db,
	)

	mediaFlow := businessflow.NewMediaFlow(uploadRepo, mediaStore)

	// Handlers
	appRouter := router.NewFiberRouter(cfg, router.Handlers{
		Auth:     handlers.NewAuthHandler(tokenService, log),
		Webhook:  handlers.NewWebhookHandler(webhookFlow, log),
		Campaign: handlers.NewCampaignHandler(campaignFlow, log),
		Chat:     handlers.NewChatHandler(chatFlow, log),
		Contact:  handlers.NewContactHandler(contactFlow, log),
		Media:    handlers.NewMediaHandler(mediaFlow, log),
	}, middleware.NewAuthMiddleware(tokenService), log)

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewCampaignScheduler(
			campaignRepo,
			campaignMessageRepo,
			conversationRepo,
			chatRepo,
			outboundRepo,
			transport,
			db,
			cfg.Scheduler,
			log,
		)
		stopFuncs = append(stopFuncs, sched.Start(context.Background()))
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		log:       log,
		stopFuncs: stopFuncs,
	}, nil
}

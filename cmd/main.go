package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/typing-arena/config"
	"github.com/Dosada05/typing-arena/db"
	"github.com/Dosada05/typing-arena/handlers"
	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/repositories"
	api "github.com/Dosada05/typing-arena/routes"
	"github.com/Dosada05/typing-arena/services"
	"github.com/Dosada05/typing-arena/spectate"
	"github.com/Dosada05/typing-arena/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	reapInterval    = time.Minute
	redisRecordTTL  = 7 * 24 * time.Hour
)

func main() {
	app := &cli.App{
		Name:           "typing-arena",
		Usage:          "Real-time typing competitions and tournaments over websockets",
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP and websocket server",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (overrides SERVER_PORT)"},
					&cli.StringFlag{Name: "store", Usage: "State store: memory, postgres, redis, s3 or mongo (overrides STATE_STORE)"},
					&cli.StringFlag{Name: "texts", Usage: "Path to a YAML passage corpus (overrides TEXTS_FILE)"},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Apply the postgres schema migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "database-url", Usage: "Postgres DSN (overrides DATABASE_URL)"},
				},
				Action: migrateSchema,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func serve(cCtx *cli.Context) error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cCtx.IsSet("port") {
		cfg.ServerPort = cCtx.Int("port")
	}
	if cCtx.IsSet("store") {
		cfg.StateStore = strings.ToLower(cCtx.String("store"))
	}
	if cCtx.IsSet("texts") {
		cfg.TextsFile = cCtx.String("texts")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Настройка логгера
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.String("store", cfg.StateStore))

	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище состояния комнат
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close state store", slog.Any("error", err))
		} else {
			logger.Info("state store closed")
		}
	}()
	logger.Info("state store ready", slog.String("store", cfg.StateStore))

	corpus, err := services.LoadTextCorpus(cfg.TextsFile)
	if err != nil {
		return err
	}
	logger.Info("text corpus loaded", slog.Int("passages", len(corpus.Passages)))

	// Инициализация WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := realtime.NewHub(logger)
	go wsHub.Run(hubCtx)
	logger.Info("WebSocket Hub started")

	// Реестр комнат
	clock := clockwork.NewRealClock()
	roomDeps := func(kind string) services.RoomDeps {
		return services.RoomDeps{
			Store:          store,
			Broadcaster:    wsHub.Scope(kind),
			Clock:          clock,
			Logger:         logger,
			ReconnectGrace: cfg.ReconnectGrace,
		}
	}
	registry := realtime.NewRegistry(logger, cfg.RoomIdleTTL)
	registry.RegisterKind(services.KindCompetition, func(roomID string) realtime.Room {
		return services.NewCompetitionCoordinator(roomID, corpus, roomDeps(services.KindCompetition))
	})
	registry.RegisterKind(services.KindTournament, func(roomID string) realtime.Room {
		return services.NewTournamentCoordinator(roomID, roomDeps(services.KindTournament))
	})
	registry.RegisterKind(spectate.Kind, func(roomID string) realtime.Room {
		return spectate.NewRoom(roomID, wsHub.Scope(spectate.Kind), clock, logger)
	})
	if err := registry.Start(reapInterval); err != nil {
		return err
	}
	logger.Info("room registry started", slog.Duration("idle_ttl", cfg.RoomIdleTTL))

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		logger,
		cfg.AllowedOrigins,
		handlers.NewRoomHandler(store, registry),
		handlers.NewWebSocketHandler(wsHub, registry, cfg.AllowedOrigins, logger),
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		// Websockets are hijacked, so rooms are closed before the hub drops their clients.
		if err := registry.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to close rooms: %w", err)
		}
		return nil
	})

	err = g.Wait()
	stopHub()
	if err != nil {
		return err
	}
	logger.Info("application exited")
	return nil
}

// openStore builds the configured StateStore and the function that releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.StateStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StateStore {
	case config.StorePostgres:
		dbConn, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPool(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return repositories.NewPostgresRoomStateRepository(dbConn), dbConn.Close, nil

	case config.StoreRedis:
		return storage.NewRedisStore(ctx, cfg.RedisURL, redisRecordTTL)

	case config.StoreMongo:
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)

	case config.StoreS3:
		store, err := storage.NewCloudflareR2Store(ctx, storage.CloudflareR2StoreConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Cloudflare R2 store: %w", err)
		}
		return store, noop, nil

	default:
		return storage.NewMemoryStore(), noop, nil
	}
}

func migrateSchema(cCtx *cli.Context) error {
	// Only DATABASE_URL matters here, so the full config is not validated.
	_ = godotenv.Load()
	dsn := cCtx.String("database-url")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return errors.New("DATABASE_URL environment variable is not set")
	}

	logger := newLogger(slog.LevelInfo)
	applied, err := db.Migrate(dsn)
	if err != nil {
		return err
	}
	if applied {
		logger.Info("migrations applied")
	} else {
		logger.Info("schema already up to date")
	}
	return nil
}

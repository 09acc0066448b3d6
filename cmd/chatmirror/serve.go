package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatmirror/chatmirror/internal/archive"
	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/embeddings"
	"github.com/chatmirror/chatmirror/internal/events"
	"github.com/chatmirror/chatmirror/internal/fetch"
	"github.com/chatmirror/chatmirror/internal/handlers"
	"github.com/chatmirror/chatmirror/internal/logger"
	"github.com/chatmirror/chatmirror/internal/media"
	"github.com/chatmirror/chatmirror/internal/mirror"
	"github.com/chatmirror/chatmirror/internal/pipeline"
	"github.com/chatmirror/chatmirror/internal/platform"
	"github.com/chatmirror/chatmirror/internal/platform/telegram"
	"github.com/chatmirror/chatmirror/internal/server"
	"github.com/chatmirror/chatmirror/internal/sticker"
	"github.com/chatmirror/chatmirror/internal/storage"
	"github.com/chatmirror/chatmirror/internal/storage/localfs"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideTelegramClient,
			providePlatformClient,
			provideDBConn,
			provideArchive,
			provideStickerStore,
			provideStorageProvider,
			provideHub,
			provideMediaResolver,
			provideRegistry,
			provideOrchestrator,
			provideDriver,
			provideMirror,
			handlers.NewPingHandler,
			provideMessagesHandler,
			provideWSHandler,
			provideServer,
		),
		fx.Invoke(
			ensureSchemas,
			bindHubHandler,
			startTelegram,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideTelegramClient(log *slog.Logger, cfg config.Config) (*telegram.Client, error) {
	client, err := telegram.New(log, cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	return client, nil
}

func providePlatformClient(client *telegram.Client) platform.Client { return client }

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideArchive(log *slog.Logger, pool *pgxpool.Pool) *archive.Archive {
	return archive.New(log, pool)
}

func provideStickerStore(pool *pgxpool.Pool) (*sticker.PostgresStore, sticker.Store) {
	store := sticker.NewPostgresStore(pool)
	return store, store
}

func provideStorageProvider(cfg config.Config) (storage.Provider, error) {
	provider, err := localfs.New(cfg.Storage.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("storage provider: %w", err)
	}
	return provider, nil
}

func provideHub(log *slog.Logger) *events.Hub {
	// The mirror service is bound later; the hub and the service reference
	// each other.
	return events.NewHub(log, nil)
}

func provideMediaResolver(lc fx.Lifecycle, log *slog.Logger, client platform.Client, store storage.Provider, stickers sticker.Store, cfg config.Config) *media.Resolver {
	resolver := media.New(log, client, store, stickers, cfg.Pipeline.AttachmentJobs)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		resolver.Wait()
		return nil
	}})
	return resolver
}

func provideRegistry(log *slog.Logger, cfg config.Config, mediaResolver *media.Resolver) (*pipeline.Registry, error) {
	registry := pipeline.NewRegistry()
	if err := registry.Register("media", mediaResolver); err != nil {
		return nil, err
	}
	if cfg.Embeddings.Enabled {
		embedder := embeddings.New(log, cfg.Embeddings.BaseURL, cfg.Embeddings.APIKey, cfg.Embeddings.Model)
		if err := registry.Register("embeddings", embedder); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func provideOrchestrator(log *slog.Logger, registry *pipeline.Registry, hub *events.Hub) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(log, registry, hub)
}

func provideDriver(log *slog.Logger, client platform.Client) *fetch.Driver {
	return fetch.NewDriver(log, client)
}

func provideMirror(lc fx.Lifecycle, log *slog.Logger, client platform.Client, driver *fetch.Driver, orch *pipeline.Orchestrator, arc *archive.Archive, hub *events.Hub, cfg config.Config) *mirror.Service {
	svc := mirror.New(log, client, driver, orch, arc, hub, cfg.Pipeline.FetchLimit)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		svc.Shutdown()
		return nil
	}})
	return svc
}

func provideMessagesHandler(log *slog.Logger, arc *archive.Archive) *handlers.MessagesHandler {
	return handlers.NewMessagesHandler(log, arc)
}

func provideWSHandler(hub *events.Hub) *handlers.WSHandler {
	return handlers.NewWSHandler(hub)
}

func provideServer(log *slog.Logger, cfg config.Config, ping *handlers.PingHandler, messages *handlers.MessagesHandler, ws *handlers.WSHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, ping, messages, ws)
}

func ensureSchemas(lc fx.Lifecycle, arc *archive.Archive, stickers *sticker.PostgresStore) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := arc.EnsureSchema(ctx); err != nil {
			return err
		}
		return stickers.EnsureSchema(ctx)
	}})
}

func bindHubHandler(hub *events.Hub, svc *mirror.Service) {
	hub.SetHandler(svc)
}

func startTelegram(lc fx.Lifecycle, client *telegram.Client) {
	var stop func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			stop = client.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stop != nil {
				stop()
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

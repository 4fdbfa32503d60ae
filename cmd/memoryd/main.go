// Command memoryd is the persistent semantic memory engine process. It
// loads configuration, picks a coordinator mode, opens the configured
// storage backend, and serves the resulting Memory Service over
// JSON-line RPC on stdio and, in http_server mode, over HTTP/SSE.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hearthlabs/memoryd/internal/cloudbackend"
	"github.com/hearthlabs/memoryd/internal/config"
	"github.com/hearthlabs/memoryd/internal/coordinator"
	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/federated"
	"github.com/hearthlabs/memoryd/internal/httpapi"
	"github.com/hearthlabs/memoryd/internal/rpc"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "memoryd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (default: MEMORYD_CONFIG_PATH or ~/.memoryd/config.yaml)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout is reserved for the JSON-line RPC protocol; every log line
	// goes to stderr regardless of transport.
	logger := zerolog.New(os.Stderr).Level(parseLevel(cfg.LogLevel)).With().Timestamp().Logger()
	logger.Info().Str("config_path", path).Str("storage_backend", cfg.Storage.Backend).Msg("memoryd starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := buildEmbeddingProvider(cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}

	mode, err := coordinator.Select(ctx, coordinator.Config{
		CoordinatorURL: cfg.Federated.CoordinatorURL,
		BindAddr:       cfg.HTTP.Addr,
		HTTPEnabled:    cfg.HTTP.Enabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("select coordinator mode: %w", err)
	}
	logger.Info().Str("mode", string(mode)).Msg("coordinator mode selected")

	backend, closeBackend, err := buildBackend(ctx, mode, cfg, provider, logger)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}
	defer closeBackend()

	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize storage backend: %w", err)
	}

	svc := service.New(backend, service.Config{HostnameTaggingEnabled: cfg.HostnameTaggingEnabled}, logger)

	var httpServer *httpServerHandle
	if mode == coordinator.ModeHTTPServer {
		httpServer = startHTTPServer(cfg.HTTP.Addr, cfg.HTTP.AuthToken, svc, logger)
		defer httpServer.Shutdown(context.Background())
	}

	rpcServer := rpc.NewServer(svc, logger)
	rpcErr := make(chan error, 1)
	go func() { rpcErr <- rpcServer.Serve() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-rpcErr:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		logger.Info().Msg("rpc stream closed")
	}

	logger.Info().Msg("memoryd shutdown complete")
	return nil
}

func parseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

func buildEmbeddingProvider(cfg config.EmbeddingConfig, logger zerolog.Logger) (embedding.Provider, error) {
	var inner embedding.Provider
	switch cfg.Provider {
	case "openai":
		p := embedding.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.Model, logger)
		p.Probe(context.Background())
		inner = p
	default:
		p := embedding.NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Model, logger)
		p.Probe(context.Background())
		inner = p
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return embedding.NewCachedProvider(inner, cacheSize)
}

// buildBackend opens the configured storage backend. In http_client
// mode the backend is always the HTTP-Federated backend regardless of
// the configured storage_backend, since a coordinator is already the
// writer of record.
func buildBackend(ctx context.Context, mode coordinator.Mode, cfg config.Config, provider embedding.Provider, logger zerolog.Logger) (storage.Backend, func(), error) {
	if mode == coordinator.ModeHTTPClient {
		b, err := federated.NewBackend(cfg.Federated.CoordinatorURL, cfg.Federated.AuthToken, 10*time.Second, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}

	switch cfg.Storage.Backend {
	case "cloud":
		return buildCloudBackend(cfg.Storage, provider, logger)
	case "federated":
		b, err := federated.NewBackend(cfg.Federated.CoordinatorURL, cfg.Federated.AuthToken, 10*time.Second, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		busyTimeout := 5000
		if mode == coordinator.ModeDirect {
			busyTimeout = 15000
		}
		b, err := sqlitebackend.Open(sqlitebackend.Options{
			Path:          cfg.Storage.Path,
			BusyTimeoutMS: busyTimeout,
		}, provider, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}
}

func buildCloudBackend(cfg config.StorageConfig, provider embedding.Provider, logger zerolog.Logger) (storage.Backend, func(), error) {
	if cfg.Cloud.VectorEndpoint == "" || cfg.Cloud.RelationalDSN == "" {
		return nil, nil, fmt.Errorf("cloud backend requires storage.cloud.vector_endpoint and storage.cloud.relational_dsn")
	}

	db, err := sql.Open("sqlite", cfg.Cloud.RelationalDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open relational store: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), cloudbackend.Schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply relational schema: %w", err)
	}
	rel := cloudbackend.NewSQLRelationalStore(db)

	vectors := cloudbackend.NewHTTPVectorIndex(cfg.Cloud.VectorEndpoint)

	var objects cloudbackend.ObjectStore
	if cfg.Cloud.ObjectBucket != "" {
		objects = cloudbackend.NewHTTPObjectStore(cfg.Cloud.ObjectBucket)
	}

	var redisClient redis.UniversalClient
	if cfg.Cloud.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cloud.RedisAddr})
	}
	repair := cloudbackend.NewRepairQueue(db, redisClient, cfg.Cloud.RedisChannel, logger)
	if err := repair.StartCron(cfg.Cloud.RepairCronSpec, func(ctx context.Context, entry cloudbackend.RepairEntry) error {
		return vectors.Upsert(ctx, entry.ContentHash, entry.Embedding, entry.Dimension)
	}); err != nil {
		logger.Warn().Err(err).Msg("repair queue cron did not start")
	}

	retry := cloudbackend.RetryOptions{
		MaxRetries: uint64(cfg.Cloud.MaxRetries),
		BaseDelay:  time.Duration(cfg.Cloud.BaseDelaySeconds * float64(time.Second)),
	}
	backend := cloudbackend.NewBackend(vectors, rel, objects, provider, repair, retry, cfg.Cloud.LargeContentThresholdBytes, logger)
	closer := func() {
		repair.StopCron()
		db.Close()
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return backend, closer, nil
}

type httpServerHandle struct {
	shutdown func(context.Context) error
}

func (h *httpServerHandle) Shutdown(ctx context.Context) {
	if h == nil || h.shutdown == nil {
		return
	}
	_ = h.shutdown(ctx)
}

func startHTTPServer(addr, authToken string, svc *service.Service, logger zerolog.Logger) *httpServerHandle {
	events := httpapi.NewEventBroker()
	handler := httpapi.NewHandler(svc, events, logger)
	router := httpapi.NewRouter(handler, nil, logger, authToken)

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Info().Str("addr", addr).Msg("http coordinator surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	return &httpServerHandle{shutdown: srv.Shutdown}
}

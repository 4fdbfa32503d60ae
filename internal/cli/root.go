// Package cli implements memoryctl, an operator CLI that opens the
// embedded storage backend directly and drives it through the same
// Service used by memoryd's transports.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/hearthlabs/memoryd/internal/config"
	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	configPath string
	outputJSON bool
)

// RootCmd is the top-level memoryctl command.
var RootCmd = &cobra.Command{
	Use:   "memoryctl",
	Short: "Operate a memoryd storage backend from the command line",
	Long:  "memoryctl inspects and repairs a memoryd storage backend directly, without going through the JSON-RPC or HTTP transports.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: MEMORYD_CONFIG_PATH or ~/.memoryd/config.yaml)")
	RootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON instead of a table")
}

// openService loads config and opens the embedded storage backend
// against a quiet logger, returning a ready-to-use Service plus a
// closer. Any other configured backend (cloud, federated) is refused
// with an error; memoryctl does not connect to a coordinator or a
// cloud service.
func openService() (*service.Service, func(), error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	if cfg.Storage.Backend != "embedded" && cfg.Storage.Backend != "" {
		return nil, nil, fmt.Errorf("memoryctl only opens embedded storage directly; backend %q needs memoryd running", cfg.Storage.Backend)
	}

	provider, err := buildEmbeddingProvider(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding provider: %w", err)
	}
	backend, err := sqlitebackend.Open(sqlitebackend.Options{
		Path:          cfg.Storage.Path,
		BusyTimeoutMS: 15000,
	}, provider, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	svc := service.New(backend, service.Config{HostnameTaggingEnabled: cfg.HostnameTaggingEnabled}, logger)
	return svc, func() { _ = backend.Close() }, nil
}

// buildEmbeddingProvider mirrors memoryd's own provider selection so
// that "memoryctl search" embeds queries with the same model memoryd
// used to embed the stored content.
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

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "memoryctl: %s: %v\n", msg, err)
	os.Exit(1)
}

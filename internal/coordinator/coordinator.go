// Package coordinator implements multi-client mode selection (spec
// §4.9): deciding whether this process opens storage directly, runs
// the HTTP coordinator itself, or federates to one already running.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Mode is the outcome of Select.
type Mode string

const (
	// ModeDirect: this process opens the embedded backend itself.
	ModeDirect Mode = "direct"
	// ModeHTTPServer: this process runs the coordinator and is the writer.
	ModeHTTPServer Mode = "http_server"
	// ModeHTTPClient: this process federates to an existing coordinator.
	ModeHTTPClient Mode = "http_client"
)

// Config controls liveness probing and port binding.
type Config struct {
	// CoordinatorURL is the base URL of a possibly-already-running
	// coordinator, e.g. "http://127.0.0.1:8443".
	CoordinatorURL string
	// BindAddr is the address this process would bind if it became
	// the coordinator, e.g. "127.0.0.1:8443".
	BindAddr string
	// HTTPEnabled selects http_server over direct when the port bind
	// succeeds.
	HTTPEnabled bool
	// ProbeTimeout bounds a single liveness probe attempt.
	ProbeTimeout time.Duration
	// ProbeMaxRetries bounds the liveness probe's exponential backoff.
	ProbeMaxRetries uint64
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.ProbeMaxRetries == 0 {
		c.ProbeMaxRetries = 2
	}
	return c
}

// Select implements the algorithm in §4.9: probe for an existing live
// coordinator, else try to bind the coordinator port, else fall back
// to direct mode.
func Select(ctx context.Context, cfg Config, logger zerolog.Logger) (Mode, error) {
	cfg = cfg.withDefaults()
	logger = logger.With().Str("component", "coordinator").Logger()

	if cfg.CoordinatorURL != "" && probeLiveness(ctx, cfg, logger) {
		logger.Info().Str("coordinator_url", cfg.CoordinatorURL).Msg("existing coordinator is live, selecting http_client mode")
		return ModeHTTPClient, nil
	}

	if cfg.BindAddr != "" {
		ln, err := net.Listen("tcp", cfg.BindAddr)
		if err == nil {
			ln.Close()
			if cfg.HTTPEnabled {
				logger.Info().Str("bind_addr", cfg.BindAddr).Msg("bound coordinator port, selecting http_server mode")
				return ModeHTTPServer, nil
			}
			logger.Info().Msg("coordinator port available but HTTP disabled by config, selecting direct mode")
			return ModeDirect, nil
		}
		logger.Info().Err(err).Str("bind_addr", cfg.BindAddr).Msg("failed to bind coordinator port, falling back to direct mode")
	}

	return ModeDirect, nil
}

func probeLiveness(ctx context.Context, cfg Config, logger zerolog.Logger) bool {
	client := &http.Client{Timeout: cfg.ProbeTimeout}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = cfg.ProbeTimeout * time.Duration(cfg.ProbeMaxRetries+1)
	retrier := backoff.WithMaxRetries(eb, cfg.ProbeMaxRetries)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.CoordinatorURL+"/api/health", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("liveness probe returned status %d", resp.StatusCode)
		}
		return nil
	}

	if err := backoff.Retry(operation, retrier); err != nil {
		logger.Debug().Err(err).Msg("coordinator liveness probe failed")
		return false
	}
	return true
}

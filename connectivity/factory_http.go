package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/reelscan/horosafe"
	"github.com/hazyhaar/reelscan/kit"
)

// maxHTTPResponseBody caps data read from a remote endpoint (10 MiB).
const maxHTTPResponseBody int64 = 10 << 20

// HTTPRouteConfig is the per-route config parsed from the routes table JSON.
type HTTPRouteConfig struct {
	Method      string `json:"method,omitempty"`
	TimeoutMs   int64  `json:"timeout_ms,omitempty"`
	MaxRetries  int    `json:"max_retries,omitempty"`
	BackoffMs   int64  `json:"backoff_ms,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// HTTPFactory creates Handlers that send the payload to a remote HTTP
// endpoint. Every handler gets its own circuit breaker plus the per-route
// timeout and retry policy:
//
//	router.RegisterTransport("http", connectivity.HTTPFactory(logger))
func HTTPFactory(logger *slog.Logger) TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := horosafe.ValidateServiceURL(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		var cfg HTTPRouteConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: route config: %w", err)
			}
		}
		if cfg.Method == "" {
			cfg.Method = http.MethodPost
		}
		if cfg.ContentType == "" {
			cfg.ContentType = "application/json"
		}
		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		backoff := 500 * time.Millisecond
		if cfg.BackoffMs > 0 {
			backoff = time.Duration(cfg.BackoffMs) * time.Millisecond
		}

		client := &http.Client{}

		base := func(ctx context.Context, payload []byte) ([]byte, error) {
			var body io.Reader
			if cfg.Method != http.MethodGet {
				body = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, cfg.Method, endpoint, body)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			if body != nil {
				req.Header.Set("Content-Type", cfg.ContentType)
			}
			req.Header.Set("Accept", "application/json")
			if id := kit.GetRunID(ctx); id != "" {
				req.Header.Set("X-Run-ID", id)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			data, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &ErrRemoteStatus{Endpoint: endpoint, Status: resp.StatusCode, Body: truncate(data, 512)}
			}
			return data, nil
		}

		h := Chain(
			Observe(logger, endpoint),
			WithRetry(RetryPolicy{Max: cfg.MaxRetries, Backoff: backoff}, logger),
			WithCircuitBreaker(NewCircuitBreaker(), endpoint),
			Timeout(timeout),
		)(base)

		return h, client.CloseIdleConnections, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

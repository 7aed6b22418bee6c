// CLAUDE:SUMMARY OCR microservice client over connectivity services: health, process-image, correct-texts; route seeding for the HTTP transport.
// Package ocr recovers burned-in text from sampled frames through the OCR
// microservice and groups near-duplicate readings through its correction
// endpoint.
package ocr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/reelscan/connectivity"
)

// Service names in the connectivity routes table.
const (
	ServiceHealth       = "ocr_health"
	ServiceProcessImage = "ocr_process_image"
	ServiceCorrectTexts = "ocr_correct_texts"
)

// ErrServiceUnavailable marks OCR or correction calls that could not be
// served. Callers degrade instead of failing the run.
var ErrServiceUnavailable = errors.New("ocr: service unavailable")

// ServiceError is a failed call to one OCR service.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ocr: %s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is makes every ServiceError match ErrServiceUnavailable.
func (e *ServiceError) Is(target error) bool { return target == ErrServiceUnavailable }

// ImageRequest is the process-image payload.
type ImageRequest struct {
	// Image is the base64-encoded frame.
	Image       string  `json:"image"`
	Filename    string  `json:"filename,omitempty"`
	ScaleFactor float64 `json:"scale_factor"`
	UseGPU      bool    `json:"use_gpu"`
}

// Metrics are the performance figures the OCR service reports.
type Metrics struct {
	ProcessingMs float64 `json:"processing_time_ms"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	ScaledWidth  int     `json:"scaled_width,omitempty"`
	ScaledHeight int     `json:"scaled_height,omitempty"`
	GPU          bool    `json:"gpu_used,omitempty"`
}

// ImageResponse is the process-image answer.
type ImageResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Metrics    Metrics `json:"metrics"`
}

// CorrectionRequest is the correct-texts payload.
type CorrectionRequest struct {
	Texts               []string `json:"texts"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
}

// WireGroup is one cluster returned by correct-texts.
type WireGroup struct {
	CorrectedText string   `json:"corrected_text"`
	OriginalTexts []string `json:"original_texts"`
	Confidence    float64  `json:"confidence"`
}

// CorrectionResponse is the correct-texts answer.
type CorrectionResponse struct {
	Groups []WireGroup `json:"groups"`
}

// Client calls the OCR services through a connectivity router.
type Client struct {
	router *connectivity.Router
	logger *slog.Logger
}

// NewClient creates a Client. The router must resolve the three OCR
// services, either through routes or local handlers.
func NewClient(router *connectivity.Router, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{router: router, logger: logger}
}

// Health checks that the OCR service answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, ServiceHealth, nil, nil)
	return err
}

// ProcessImage recognises the text of one image.
func (c *Client) ProcessImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	var resp ImageResponse
	if _, err := c.call(ctx, ServiceProcessImage, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CorrectTexts clusters near-duplicate texts into corrected groups.
func (c *Client) CorrectTexts(ctx context.Context, req CorrectionRequest) (*CorrectionResponse, error) {
	var resp CorrectionResponse
	if _, err := c.call(ctx, ServiceCorrectTexts, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, service string, req, resp any) ([]byte, error) {
	var payload []byte
	if req != nil {
		var err error
		if payload, err = json.Marshal(req); err != nil {
			return nil, fmt.Errorf("ocr: %s: marshal: %w", service, err)
		}
	}
	start := time.Now()
	out, err := c.router.Call(ctx, service, payload)
	if err != nil {
		return nil, &ServiceError{Service: service, Err: err}
	}
	if resp != nil {
		if len(out) == 0 {
			return nil, &ServiceError{Service: service, Err: errors.New("empty response")}
		}
		if err := json.Unmarshal(out, resp); err != nil {
			return nil, &ServiceError{Service: service, Err: fmt.Errorf("decode: %w", err)}
		}
	}
	c.logger.DebugContext(ctx, "ocr: call", "service", service, "duration", time.Since(start))
	return out, nil
}

// RouteConfig is the HTTP policy applied to the OCR routes.
type RouteConfig struct {
	// BaseURL of the OCR microservice. Default: http://127.0.0.1:8000.
	BaseURL string `yaml:"base_url"`
	// Timeout per call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
	// Retries after the first attempt. Default: 2; negative disables.
	Retries int `yaml:"retries"`
	// Backoff before the first retry, doubled each time. Default: 500ms.
	Backoff time.Duration `yaml:"backoff"`
}

func (c *RouteConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:8000"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// SeedRoutes writes the three OCR http routes into the routes table.
func SeedRoutes(ctx context.Context, db *sql.DB, cfg RouteConfig) error {
	cfg.defaults()
	base := strings.TrimRight(cfg.BaseURL, "/")
	post := connectivity.HTTPRouteConfig{
		TimeoutMs:  cfg.Timeout.Milliseconds(),
		MaxRetries: cfg.Retries,
		BackoffMs:  cfg.Backoff.Milliseconds(),
	}
	health := post
	health.Method = http.MethodGet
	health.MaxRetries = 0

	routes := []struct {
		service, path string
		cfg           connectivity.HTTPRouteConfig
	}{
		{ServiceHealth, "/health", health},
		{ServiceProcessImage, "/process-image", post},
		{ServiceCorrectTexts, "/correct-texts", post},
	}
	for _, r := range routes {
		if err := connectivity.UpsertRoute(ctx, db, r.service, connectivity.StrategyHTTP, base+r.path, r.cfg); err != nil {
			return fmt.Errorf("ocr: seed routes: %w", err)
		}
	}
	return nil
}

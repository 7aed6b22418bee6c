// CLAUDE:SUMMARY Defines the reelscan config file and parses it from YAML with defaults and validation.
// Package config loads the reelscan configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/reelscan/capture"
	"github.com/hazyhaar/reelscan/ffmpeg"
	"github.com/hazyhaar/reelscan/horosafe"
	"github.com/hazyhaar/reelscan/internal/browser"
	"github.com/hazyhaar/reelscan/ocr"
	"github.com/hazyhaar/reelscan/pipeline"
)

// Config is the top-level reelscan configuration. Component sections are
// the component configs themselves; their zero fields take the component
// defaults.
type Config struct {
	// Listen is the HTTP API address in serve mode.
	Listen string `yaml:"listen"`
	// LogLevel is debug, info, warn or error.
	LogLevel slog.Level `yaml:"log_level"`
	// StorePath is the SQLite run store. "off" disables it.
	StorePath string `yaml:"store_path"`
	// RouteWatch is the poll interval of the route table watcher.
	RouteWatch time.Duration `yaml:"route_watch"`

	Capture    capture.Config  `yaml:"capture"`
	Browser    browser.Config  `yaml:"browser"`
	FFmpeg     ffmpeg.Config   `yaml:"ffmpeg"`
	Pipeline   pipeline.Config `yaml:"pipeline"`
	OCRService ocr.RouteConfig `yaml:"ocr_service"`
	MCP        MCPConfig       `yaml:"mcp"`
}

// MCPConfig controls the MCP surfaces of serve mode.
type MCPConfig struct {
	// HTTPPath mounts the streamable HTTP transport on the API. "off"
	// disables it.
	HTTPPath string `yaml:"http_path"`
	// QUICAddr enables MCP over QUIC on this UDP address.
	QUICAddr string `yaml:"quic_addr"`
	// CertFile and KeyFile serve QUIC with a fixed certificate. Empty =
	// self-signed.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Default returns the configuration used without a config file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8090"
	}
	if c.Pipeline.WorkDir == "" {
		c.Pipeline.WorkDir = "work"
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.Pipeline.WorkDir, "reelscan.db")
	}
	if c.RouteWatch <= 0 {
		c.RouteWatch = 2 * time.Second
	}
	if c.MCP.HTTPPath == "" {
		c.MCP.HTTPPath = "/mcp"
	}
	if c.OCRService.BaseURL == "" {
		c.OCRService.BaseURL = "http://127.0.0.1:8000"
	}
}

// StoreEnabled reports whether the run store is configured.
func (c *Config) StoreEnabled() bool { return c.StorePath != "off" }

// Validate checks the values defaults cannot repair.
func (c *Config) Validate() error {
	if t := c.Capture.URLTemplate; t != "" && strings.Count(t, "%s") != 1 {
		return fmt.Errorf("config: capture.url_template must hold exactly one %%s: %q", t)
	}
	if err := horosafe.ValidateServiceURL(c.OCRService.BaseURL); err != nil {
		return fmt.Errorf("config: ocr_service.base_url: %w", err)
	}
	if c.Pipeline.OCR.SimilarityThreshold < 0 || c.Pipeline.OCR.SimilarityThreshold > 1 {
		return fmt.Errorf("config: pipeline.ocr.similarity_threshold out of [0,1]: %v", c.Pipeline.OCR.SimilarityThreshold)
	}
	if (c.MCP.CertFile == "") != (c.MCP.KeyFile == "") {
		return fmt.Errorf("config: mcp.cert_file and mcp.key_file go together")
	}
	if p := c.MCP.HTTPPath; p != "off" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("config: mcp.http_path must start with /: %q", p)
	}
	if c.Pipeline.Frames.MaxFrames < 0 {
		return fmt.Errorf("config: pipeline.frames.max_frames negative: %d", c.Pipeline.Frames.MaxFrames)
	}
	return nil
}

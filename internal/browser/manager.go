// CLAUDE:SUMMARY Manages the Chrome lifecycle for capture sessions: launch or remote connect, page-count recycling, shutdown.
// Package browser drives a Chrome instance through Rod for media capture:
// it opens stealth pages with heavy resources blocked, forwards every
// network response to the capture interceptor and controls the page's
// video element.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the browser automation mode. The zero value is
// LevelHeadless.
type StealthLevel int

const (
	LevelHeadless StealthLevel = iota // Rod headless + stealth
	LevelHeadful                      // Rod headful + stealth
	LevelPlain                        // Rod page without stealth patches
)

func (l StealthLevel) String() string {
	switch l {
	case LevelPlain:
		return "plain"
	case LevelHeadful:
		return "headful"
	default:
		return "headless"
	}
}

// ParseStealth parses "plain", "headless" or "headful". Empty means headless.
func ParseStealth(s string) (StealthLevel, error) {
	switch s {
	case "", "headless":
		return LevelHeadless, nil
	case "plain":
		return LevelPlain, nil
	case "headful":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown stealth level %q", s)
}

// UnmarshalText lets config files name the level.
func (l *StealthLevel) UnmarshalText(b []byte) error {
	v, err := ParseStealth(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Bin is the Chrome binary. Empty = launcher lookup/download.
	Bin string `yaml:"bin"`

	// Stealth sets the automation mode. Default: LevelHeadless.
	Stealth StealthLevel `yaml:"stealth"`

	// ResourceBlocking lists resource types aborted before download.
	// Default: images, fonts, stylesheets. Media is never blocked.
	ResourceBlocking []string `yaml:"resource_blocking"`

	// NavigateTimeout bounds page navigation. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`

	// RecycleAfter restarts Chrome after this many pages. 0 = never.
	RecycleAfter int `yaml:"recycle_after"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = []string{"images", "fonts", "stylesheets"}
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	pages   int
	closed  bool
}

// NewManager creates a browser Manager. Chrome is started lazily on the
// first page.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Browser returns a connected browser, launching or recycling Chrome when
// needed.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil && m.cfg.RecycleAfter > 0 && m.pages >= m.cfg.RecycleAfter {
		m.cfg.Logger.Info("browser: recycling", "pages", m.pages, "uptime", time.Since(m.startAt))
		m.cleanup()
	}
	if m.browser == nil {
		b, err := m.launch(ctx)
		if err != nil {
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
		m.pages = 0
	}
	m.pages++
	return m.browser, nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		l = l.Headless(m.cfg.Stealth != LevelHeadful)

		// Anti-detection and autoplay flags.
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("autoplay-policy", "no-user-gesture-required").
			Set("mute-audio")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Page is a managed browser page playing the target media.
type Page interface {
	Player() Player
	Close() error
}

// Opener opens a page and delivers every observed network response to
// onResponse until the page is closed.
type Opener interface {
	Open(ctx context.Context, pageURL string, onResponse func(Response)) (Page, error)
}

// Config configures a Capturer.
type Config struct {
	// URLTemplate builds the page URL from a target ID ("%s" placeholder).
	URLTemplate string           `yaml:"url_template"`
	Timing      Timing           `yaml:"timing"`
	Seek        SeekConfig       `yaml:"seek"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	// DisableSeek turns off forced playback.
	DisableSeek bool `yaml:"disable_seek"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.URLTemplate == "" {
		c.URLTemplate = "https://www.instagram.com/reel/%s/"
	}
	c.Timing.defaults()
	c.Seek.defaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of one capture.
type Result struct {
	// Session stays open; the caller closes it once muxing is over.
	Session   *Session        `json:"-"`
	Streams   map[Kind][]byte `json:"-"`
	Monitor   MonitorResult   `json:"monitor"`
	Intercept InterceptStats  `json:"intercept"`
	Stats     SessionStats    `json:"stats"`
	Seeks     int             `json:"seeks"`
}

// Empty reports whether no segment of any kind was captured.
func (r *Result) Empty() bool { return len(r.Streams) == 0 }

// Capturer runs capture sessions through an Opener.
type Capturer struct {
	cfg        Config
	opener     Opener
	classifier Classifier
}

// New creates a Capturer. classifier may be nil for the default chain.
func New(cfg Config, opener Opener, classifier Classifier) *Capturer {
	cfg.defaults()
	if classifier == nil {
		classifier = NewClassifier(cfg.Classifier)
	}
	return &Capturer{cfg: cfg, opener: opener, classifier: classifier}
}

// PageURL returns the page URL of targetID.
func (c *Capturer) PageURL(targetID string) string {
	if strings.Contains(c.cfg.URLTemplate, "%s") {
		return fmt.Sprintf(c.cfg.URLTemplate, targetID)
	}
	return strings.TrimRight(c.cfg.URLTemplate, "/") + "/" + targetID
}

// Capture opens the target page, intercepts segments until the completion
// monitor decides, and returns the reconstructed streams. A missing kind
// is reported in Result.Monitor.Warning, not as an error.
func (c *Capturer) Capture(ctx context.Context, targetID string) (*Result, error) {
	log := c.cfg.Logger
	session := NewSession(targetID)

	capCtx, cancel := context.WithCancel(ctx)
	session.OnClose(cancel)

	ic := NewInterceptor(session, c.classifier, log)
	pageURL := c.PageURL(targetID)

	page, err := c.opener.Open(capCtx, pageURL, func(r Response) { ic.Handle(capCtx, r) })
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrNoPage, pageURL, err)
	}
	defer page.Close()

	log.Info("capture: started", "session", session.ID, "target", targetID, "url", pageURL)

	var seeker *Seeker
	if !c.cfg.DisableSeek {
		seeker = StartSeeker(capCtx, page.Player(), c.cfg.Seek, log)
		session.OnClose(seeker.Stop)
	}

	mon := NewMonitor(session, c.cfg.Timing, WithMonitorLogger(log)).Wait(capCtx)

	res := &Result{Session: session, Monitor: mon}
	if seeker != nil {
		seeker.Stop()
		res.Seeks = seeker.Seeks()
	}
	if err := ctx.Err(); err != nil {
		session.Close()
		return nil, fmt.Errorf("capture: %w", err)
	}

	res.Streams = Reconstruct(session)
	res.Intercept = ic.Stats()
	res.Stats = session.Stats()
	if mon.Warning != nil {
		log.Warn("capture: partial", "session", session.ID, "warning", mon.Warning)
	}
	return res, nil
}

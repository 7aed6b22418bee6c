package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Player controls the embedded media element of the managed page.
type Player interface {
	// Prepare mutes the element, zeroes its volume, sets the playback rate
	// and starts playback.
	Prepare(ctx context.Context, rate float64) error
	// Duration returns the media duration in seconds, 0 while unknown.
	Duration(ctx context.Context) (float64, error)
	// SeekTo moves playback to the given offset in seconds.
	SeekTo(ctx context.Context, seconds float64) error
}

// SeekConfig bounds the forced-playback routine.
type SeekConfig struct {
	// PlaybackRate applied to the media element. Default: 16.
	PlaybackRate float64 `yaml:"playback_rate"`
	// Interval between seeks. Default: 750ms.
	Interval time.Duration `yaml:"interval"`
	// MaxDuration is the absolute lifetime of the routine. Default: 15s.
	MaxDuration time.Duration `yaml:"max_duration"`
	// Fractions of the total duration to seek to, cycled. Default: 0.1..0.9.
	Fractions []float64 `yaml:"fractions"`
}

func (c *SeekConfig) defaults() {
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = 16
	}
	if c.Interval <= 0 {
		c.Interval = 750 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 15 * time.Second
	}
	if len(c.Fractions) == 0 {
		c.Fractions = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	}
}

// Seeker drives the player through the timeline so the page requests
// segments from every part of the media quickly. It is a bounded,
// cancellable background task: it ends after MaxDuration, on Stop, or when
// the parent context is cancelled.
type Seeker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	seeks  atomic.Int32
}

// StartSeeker launches the routine against p.
func StartSeeker(ctx context.Context, p Player, cfg SeekConfig, logger *slog.Logger) *Seeker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.MaxDuration)
	s := &Seeker{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, p, cfg, logger)
	return s
}

// Stop cancels the routine and waits for it to exit. Idempotent.
func (s *Seeker) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed when the routine has exited.
func (s *Seeker) Done() <-chan struct{} { return s.done }

// Seeks returns how many seeks were issued.
func (s *Seeker) Seeks() int { return int(s.seeks.Load()) }

func (s *Seeker) run(ctx context.Context, p Player, cfg SeekConfig, logger *slog.Logger) {
	defer close(s.done)
	defer s.once.Do(s.cancel)

	if err := p.Prepare(ctx, cfg.PlaybackRate); err != nil {
		logger.Debug("capture: player prepare failed", "error", err)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		dur, err := p.Duration(ctx)
		if err != nil || dur <= 0 {
			// Metadata not loaded yet; retry on the next tick.
			continue
		}
		target := dur * cfg.Fractions[next%len(cfg.Fractions)]
		next++
		if err := p.SeekTo(ctx, target); err != nil {
			logger.Debug("capture: seek failed", "to", target, "error", err)
			continue
		}
		s.seeks.Add(1)
	}
}

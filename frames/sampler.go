package frames

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FramePattern is the printf pattern of extracted frame files.
const FramePattern = "frame_%04d.jpg"

// ExtractionError reports a probe or extraction failure with the engine
// diagnostic.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("frames: %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Engine probes durations and extracts frames.
type Engine interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
	ExtractFrames(ctx context.Context, videoPath, pattern string, interval time.Duration) error
}

// FrameSet is the result of one sampling run.
type FrameSet struct {
	Frames   []string `json:"frames"`
	Strategy Strategy `json:"strategy"`
}

// Config configures a Sampler.
type Config struct {
	Tiers     []Tier `yaml:"tiers"`
	MaxFrames int    `yaml:"max_frames"`

	Logger *slog.Logger `yaml:"-"`
}

// Sampler extracts frames from a video.
type Sampler struct {
	cfg    Config
	engine Engine
}

// NewSampler creates a Sampler.
func NewSampler(cfg Config, engine Engine) *Sampler {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = DefaultMaxFrames
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sampler{cfg: cfg, engine: engine}
}

// Sample probes videoPath, clears stale frames in outDir and extracts one
// frame per planned interval starting at t=0.
func (s *Sampler) Sample(ctx context.Context, videoPath, outDir string) (*FrameSet, error) {
	d, err := s.engine.Probe(ctx, videoPath)
	if err != nil {
		return nil, &ExtractionError{Op: "probe", Err: err}
	}
	plan := Plan(d, s.cfg.Tiers, s.cfg.MaxFrames)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("frames: mkdir: %w", err)
	}
	if err := clearFrames(outDir); err != nil {
		return nil, err
	}

	if err := s.engine.ExtractFrames(ctx, videoPath, filepath.Join(outDir, FramePattern), plan.Interval); err != nil {
		return nil, &ExtractionError{Op: "extract", Err: err}
	}

	frames, err := listFrames(outDir)
	if err != nil {
		return nil, err
	}
	// The engine may emit one extra frame at the tail.
	if len(frames) > plan.Target {
		for _, f := range frames[plan.Target:] {
			os.Remove(f)
		}
		frames = frames[:plan.Target]
	}

	s.cfg.Logger.Info("frames: extracted",
		"tier", plan.Tier, "duration", plan.Duration, "interval", plan.Interval,
		"target", plan.Target, "frames", len(frames))
	return &FrameSet{Frames: frames, Strategy: plan}, nil
}

func clearFrames(dir string) error {
	stale, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return fmt.Errorf("frames: glob: %w", err)
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("frames: clear stale: %w", err)
		}
	}
	return nil
}

func listFrames(dir string) ([]string, error) {
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("frames: glob: %w", err)
	}
	sort.Strings(frames)
	return frames, nil
}

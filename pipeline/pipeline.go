// CLAUDE:SUMMARY Run entry point: validates the target, serialises runs, chains capture → mux → frames → OCR, persists the run record and its events.
// Package pipeline chains capture, muxing, frame sampling and OCR into one
// run and records it in the run store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/reelscan/capture"
	"github.com/hazyhaar/reelscan/frames"
	"github.com/hazyhaar/reelscan/horosafe"
	"github.com/hazyhaar/reelscan/idgen"
	"github.com/hazyhaar/reelscan/kit"
	"github.com/hazyhaar/reelscan/mux"
	"github.com/hazyhaar/reelscan/ocr"
	"github.com/hazyhaar/reelscan/store"
)

// Work directory layout.
const (
	DownloadsDir = "downloads"
	FramesDir    = "frames"
	OCRDir       = "ocr"
)

// Event types recorded for a run. Every stage that begins emits
// EventStageStarted followed by exactly one of EventStageSucceeded,
// EventStageFailed or EventStageSkipped.
const (
	EventStageStarted   = "stage_started"
	EventStageSucceeded = "stage_succeeded"
	EventStageFailed    = "stage_failed"
	EventStageSkipped   = "stage_skipped"
	EventRunSucceeded   = "run_succeeded"
	EventRunFailed      = "run_failed"
)

// Stage names carried by events.
const (
	StageDownload = "download"
	StageFrames   = "frames"
	StageOCR      = "ocr"
)

// ErrNoVideo is returned when frame sampling has no video to read.
var ErrNoVideo = errors.New("pipeline: no video output to sample")

// Capturer acquires the media streams of a target.
type Capturer interface {
	Capture(ctx context.Context, targetID string) (*capture.Result, error)
}

// Engine is the media engine shared by muxing and frame sampling.
type Engine interface {
	mux.Engine
	frames.Engine
}

// Request is one pipeline invocation.
type Request struct {
	TargetID string `json:"target_id"`
	Stages   Stages `json:"stages"`
	// ServiceReady tells the OCR stage whether the OCR service is up.
	ServiceReady bool `json:"service_ready"`
}

// CaptureSummary describes the capture stage of a run.
type CaptureSummary struct {
	SessionID string                 `json:"session_id"`
	Monitor   capture.MonitorResult  `json:"monitor"`
	Intercept capture.InterceptStats `json:"intercept"`
	Stats     capture.SessionStats   `json:"stats"`
	Seeks     int                    `json:"seeks"`
}

// Report is the outcome of a run.
type Report struct {
	RunID    string           `json:"run_id"`
	TargetID string           `json:"target_id"`
	Stages   string           `json:"stages"`
	Status   string           `json:"status"`
	Capture  *CaptureSummary  `json:"capture,omitempty"`
	Output   *mux.Output      `json:"output,omitempty"`
	Frames   *frames.FrameSet `json:"frames,omitempty"`
	OCR      *ocr.Result      `json:"ocr,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Config configures a Pipeline.
type Config struct {
	// WorkDir holds downloads/, frames/ and ocr/. Default: "work".
	WorkDir string        `yaml:"work_dir"`
	Mux     mux.Config    `yaml:"mux"`
	Frames  frames.Config `yaml:"frames"`
	OCR     ocr.Config    `yaml:"ocr"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.WorkDir == "" {
		c.WorkDir = "work"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Mux.Dir == "" {
		c.Mux.Dir = filepath.Join(c.WorkDir, DownloadsDir)
	}
	if c.OCR.OutDir == "" {
		c.OCR.OutDir = filepath.Join(c.WorkDir, OCRDir)
	}
	if c.Mux.Logger == nil {
		c.Mux.Logger = c.Logger
	}
	if c.Frames.Logger == nil {
		c.Frames.Logger = c.Logger
	}
	if c.OCR.Logger == nil {
		c.OCR.Logger = c.Logger
	}
}

// Deps are the collaborators of a Pipeline. Store is optional.
type Deps struct {
	Capturer Capturer
	Engine   Engine
	OCR      *ocr.Client
	Store    *store.Store
}

// Pipeline runs requests one at a time.
type Pipeline struct {
	cfg      Config
	capturer Capturer
	muxer    *mux.Muxer
	sampler  *frames.Sampler
	ocr      *ocr.Pipeline
	client   *ocr.Client
	store    *store.Store
	events   *store.EventLogger
	newID    idgen.Generator
	sem      chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(p *Pipeline) { p.newID = gen }
}

// New creates a Pipeline.
func New(cfg Config, d Deps, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:      cfg,
		capturer: d.Capturer,
		muxer:    mux.New(cfg.Mux, d.Engine),
		sampler:  frames.NewSampler(cfg.Frames, d.Engine),
		client:   d.OCR,
		store:    d.Store,
		newID:    idgen.Run,
		sem:      make(chan struct{}, 1),
	}
	if d.OCR != nil {
		p.ocr = ocr.NewPipeline(cfg.OCR, d.OCR)
	}
	if d.Store != nil {
		p.events = store.NewEventLogger(d.Store.DB(), store.WithEventLogger(cfg.Logger))
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ServiceReady checks the OCR service health endpoint.
func (p *Pipeline) ServiceReady(ctx context.Context) bool {
	if p.client == nil {
		return false
	}
	if err := p.client.Health(ctx); err != nil {
		p.cfg.Logger.Warn("pipeline: ocr service not ready", "error", err)
		return false
	}
	return true
}

// Run executes req. Only one run is in flight at a time; concurrent calls
// wait for the previous one or for ctx. The returned report is non-nil
// whenever the run started, including on failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if err := horosafe.ValidateTargetID(req.TargetID); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	stages := req.Stages.normalize()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("pipeline: waiting for previous run: %w", ctx.Err())
	}

	start := time.Now()
	rep := &Report{RunID: p.newID(), TargetID: req.TargetID, Stages: stages.String(), Status: store.StatusRunning}
	ctx = kit.WithRunID(ctx, rep.RunID)
	log := p.cfg.Logger.With("run", rep.RunID, "target", req.TargetID)
	log.Info("pipeline: run started", "stages", rep.Stages, "transport", kit.GetTransport(ctx))

	if p.store != nil {
		if err := p.store.CreateRun(ctx, &store.Run{
			ID: rep.RunID, TargetID: rep.TargetID, Stages: rep.Stages, StartedAt: start,
		}); err != nil {
			log.Error("pipeline: record run", "error", err)
		}
	}

	err := p.run(ctx, req, stages, rep, log)
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Status = store.StatusFailed
		rep.Error = err.Error()
		log.Error("pipeline: run failed", "error", err, "duration", rep.Duration)
	} else {
		rep.Status = store.StatusSucceeded
		log.Info("pipeline: run finished", "duration", rep.Duration, "warnings", len(rep.Warnings))
	}
	p.finish(ctx, rep, start)
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, req Request, stages Stages, rep *Report, log *slog.Logger) error {
	if err := p.prepareDirs(); err != nil {
		return err
	}

	out, err := p.download(ctx, req.TargetID, stages.Download, rep)
	if err != nil {
		return err
	}
	rep.Output = out

	if !stages.Frames {
		return nil
	}
	p.event(ctx, rep.RunID, EventStageStarted, StageFrames, "", true)
	if out.VideoPath == "" {
		p.event(ctx, rep.RunID, EventStageFailed, StageFrames, ErrNoVideo.Error(), false)
		return ErrNoVideo
	}
	set, err := p.sampler.Sample(ctx, out.VideoPath, filepath.Join(p.cfg.WorkDir, FramesDir))
	if err != nil {
		p.event(ctx, rep.RunID, EventStageFailed, StageFrames, err.Error(), false)
		return fmt.Errorf("pipeline: frames: %w", err)
	}
	rep.Frames = set
	p.event(ctx, rep.RunID, EventStageSucceeded, StageFrames,
		fmt.Sprintf("tier=%s interval=%s frames=%d", set.Strategy.Tier, set.Strategy.Interval, len(set.Frames)), true)

	if !stages.OCR {
		return nil
	}
	p.event(ctx, rep.RunID, EventStageStarted, StageOCR, "", true)
	if p.ocr == nil {
		const msg = "ocr: no client configured"
		rep.Warnings = append(rep.Warnings, msg)
		p.event(ctx, rep.RunID, EventStageSkipped, StageOCR, msg, false)
		return nil
	}
	res, err := p.ocr.Run(ctx, set.Frames, req.ServiceReady)
	switch {
	case errors.Is(err, ocr.ErrServiceUnavailable):
		rep.Warnings = append(rep.Warnings, err.Error())
		p.event(ctx, rep.RunID, EventStageSkipped, StageOCR, err.Error(), false)
		log.Warn("pipeline: ocr skipped", "error", err)
		return nil
	case err != nil:
		p.event(ctx, rep.RunID, EventStageFailed, StageOCR, err.Error(), false)
		return fmt.Errorf("pipeline: ocr: %w", err)
	}
	rep.OCR = res
	if res.CorrectionError != "" {
		rep.Warnings = append(rep.Warnings, "ocr correction: "+res.CorrectionError)
	}
	p.event(ctx, rep.RunID, EventStageSucceeded, StageOCR,
		fmt.Sprintf("texts=%d groups=%d", len(res.Texts), len(res.Corrections)), true)
	return nil
}

// download captures and muxes the target, or reuses the cached outputs
// when capture is not selected.
func (p *Pipeline) download(ctx context.Context, targetID string, capturing bool, rep *Report) (*mux.Output, error) {
	p.event(ctx, rep.RunID, EventStageStarted, StageDownload, "", true)
	var streams map[capture.Kind][]byte
	if capturing {
		if p.capturer == nil {
			err := errors.New("pipeline: no capturer configured")
			p.event(ctx, rep.RunID, EventStageFailed, StageDownload, err.Error(), false)
			return nil, err
		}
		res, err := p.capturer.Capture(ctx, targetID)
		if err != nil {
			p.event(ctx, rep.RunID, EventStageFailed, StageDownload, err.Error(), false)
			return nil, fmt.Errorf("pipeline: capture: %w", err)
		}
		defer res.Session.Close()

		rep.Capture = &CaptureSummary{
			SessionID: res.Session.ID,
			Monitor:   res.Monitor,
			Intercept: res.Intercept,
			Stats:     res.Stats,
			Seeks:     res.Seeks,
		}
		if res.Monitor.Warning != nil {
			rep.Warnings = append(rep.Warnings, res.Monitor.Warning.Error())
		}
		streams = res.Streams
	}

	out, err := p.muxer.Mux(ctx, streams)
	if err != nil {
		p.event(ctx, rep.RunID, EventStageFailed, StageDownload, err.Error(), false)
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	for _, e := range []error{out.VideoErr, out.AudioErr} {
		if e != nil {
			rep.Warnings = append(rep.Warnings, e.Error())
		}
	}
	p.event(ctx, rep.RunID, EventStageSucceeded, StageDownload,
		fmt.Sprintf("video=%s audio=%s reused=%t", out.VideoPath, out.AudioPath, out.Reused), true)
	return out, nil
}

// prepareDirs wipes the frames and OCR directories and ensures the
// downloads directory exists.
func (p *Pipeline) prepareDirs() error {
	for _, dir := range []string{filepath.Join(p.cfg.WorkDir, FramesDir), p.cfg.OCR.OutDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("pipeline: wipe %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("pipeline: mkdir %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(p.cfg.Mux.Dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir downloads: %w", err)
	}
	return nil
}

func (p *Pipeline) event(ctx context.Context, runID, typ, stage, details string, ok bool) {
	if p.events == nil {
		return
	}
	p.events.Log(ctx, store.Event{RunID: runID, Type: typ, Stage: stage, Details: details, Success: ok})
}

// finish persists the outcome. It uses a fresh context so a cancelled run
// is still recorded.
func (p *Pipeline) finish(ctx context.Context, rep *Report, start time.Time) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	r := &store.Run{
		ID:         rep.RunID,
		TargetID:   rep.TargetID,
		Status:     rep.Status,
		Stages:     rep.Stages,
		StartedAt:  start,
		FinishedAt: start.Add(rep.Duration),
		Error:      rep.Error,
	}
	if len(rep.Warnings) > 0 {
		r.Warning = rep.Warnings[0]
	}
	if rep.Output != nil {
		r.VideoPath, r.AudioPath = rep.Output.VideoPath, rep.Output.AudioPath
	}
	if rep.Frames != nil {
		r.FrameCount = len(rep.Frames.Frames)
		r.Tier = rep.Frames.Strategy.Tier
		r.Interval = rep.Frames.Strategy.Interval
	}
	var (
		texts  []ocr.FrameText
		groups []ocr.CorrectionGroup
	)
	if rep.OCR != nil {
		r.OCRText = rep.OCR.Text
		texts, groups = rep.OCR.Texts, rep.OCR.Corrections
	}
	if data, err := json.Marshal(rep); err == nil {
		r.Result = data
	}
	if err := p.store.FinishRun(ctx, r, texts, groups); err != nil {
		p.cfg.Logger.Error("pipeline: record run outcome", "run", rep.RunID, "error", err)
	}
	typ := EventRunFailed
	if rep.Status == store.StatusSucceeded {
		typ = EventRunSucceeded
	}
	p.event(ctx, rep.RunID, typ, "", rep.Error, typ == EventRunSucceeded)
}

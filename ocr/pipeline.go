package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// ResultsFile is written in the output directory on every run.
const ResultsFile = "ocr_results.json"

// FrameText is the reading of one frame.
type FrameText struct {
	Frame       string  `json:"frame"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Significant bool    `json:"significant"`
	Metrics     Metrics `json:"metrics"`
}

// CorrectionGroup is one corrected cluster of near-duplicate readings.
type CorrectionGroup struct {
	CorrectedText string   `json:"corrected_text"`
	OriginalTexts []string `json:"original_texts"`
	// SourceFrame is the frame of the first original text.
	SourceFrame string  `json:"source_frame,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Result is the output of one OCR run.
type Result struct {
	Texts       []FrameText       `json:"texts"`
	Corrections []CorrectionGroup `json:"corrections"`
	// Text is the corrected texts joined by newlines, or the significant
	// raw texts when correction was unavailable.
	Text string `json:"text"`
	// Frames counts processed frames; Failed those the service rejected.
	Frames int `json:"frames"`
	Failed int `json:"failed"`
	// CorrectionError is set when correction was attempted and failed.
	CorrectionError string `json:"correction_error,omitempty"`
	ResultsPath     string `json:"-"`
}

// Config configures a Pipeline.
type Config struct {
	// OutDir receives ocr_results.json. Default: "ocr".
	OutDir string `yaml:"dir"`
	// ScaleFactor sent with each frame. Default: 0.5.
	ScaleFactor float64 `yaml:"scale_factor"`
	UseGPU      bool    `yaml:"use_gpu"`
	// MinSignificantLen is the rune count a text must exceed to count as
	// significant. Default: 3.
	MinSignificantLen int `yaml:"min_significant_len"`
	// SimilarityThreshold for correction grouping. Default: 0.8.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.OutDir == "" {
		c.OutDir = "ocr"
	}
	if c.ScaleFactor <= 0 {
		c.ScaleFactor = 0.5
	}
	if c.MinSignificantLen <= 0 {
		c.MinSignificantLen = 3
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs OCR over a frame set and corrects the readings.
type Pipeline struct {
	cfg    Config
	client *Client
	policy *bluemonday.Policy
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config, client *Client) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, client: client, policy: bluemonday.StrictPolicy()}
}

// Run reads every frame in order. serviceReady=false fails fast with
// ErrServiceUnavailable. Correction is best-effort: when it fails the raw
// readings are still returned.
func (p *Pipeline) Run(ctx context.Context, frames []string, serviceReady bool) (*Result, error) {
	if !serviceReady {
		return nil, fmt.Errorf("%w: not ready", ErrServiceUnavailable)
	}
	log := p.cfg.Logger
	start := time.Now()
	res := &Result{Texts: []FrameText{}, Corrections: []CorrectionGroup{}}

	var lastErr error
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ocr: %w", err)
		}
		res.Frames++
		ft, err := p.readFrame(ctx, frame)
		if err != nil {
			res.Failed++
			lastErr = err
			log.Warn("ocr: frame failed", "frame", filepath.Base(frame), "error", err)
			continue
		}
		if ft.Text == "" {
			continue
		}
		res.Texts = append(res.Texts, *ft)
	}
	if res.Frames > 0 && res.Failed == res.Frames {
		return nil, fmt.Errorf("ocr: every frame failed: %w", lastErr)
	}

	var significant []string
	for _, t := range res.Texts {
		if t.Significant {
			significant = append(significant, t.Text)
		}
	}

	if len(significant) > 0 {
		groups, err := p.correct(ctx, res.Texts)
		if err != nil {
			res.CorrectionError = err.Error()
			res.Text = strings.Join(significant, "\n")
			log.Warn("ocr: correction unavailable, keeping raw texts", "error", err)
		} else {
			res.Corrections = groups
			texts := make([]string, 0, len(groups))
			for _, g := range groups {
				texts = append(texts, g.CorrectedText)
			}
			res.Text = strings.Join(texts, "\n")
		}
	}

	path, err := p.persist(res)
	if err != nil {
		return nil, err
	}
	res.ResultsPath = path

	log.Info("ocr: done",
		"frames", res.Frames, "failed", res.Failed, "texts", len(res.Texts),
		"significant", len(significant), "groups", len(res.Corrections),
		"duration", time.Since(start))
	return res, nil
}

func (p *Pipeline) readFrame(ctx context.Context, frame string) (*FrameText, error) {
	data, err := os.ReadFile(frame)
	if err != nil {
		return nil, fmt.Errorf("ocr: read frame: %w", err)
	}
	resp, err := p.client.ProcessImage(ctx, ImageRequest{
		Image:       base64.StdEncoding.EncodeToString(data),
		Filename:    filepath.Base(frame),
		ScaleFactor: p.cfg.ScaleFactor,
		UseGPU:      p.cfg.UseGPU,
	})
	if err != nil {
		return nil, err
	}
	text := p.clean(resp.Text)
	return &FrameText{
		Frame:       frame,
		Text:        text,
		Confidence:  resp.Confidence,
		Significant: utf8.RuneCountInString(text) > p.cfg.MinSignificantLen,
		Metrics:     resp.Metrics,
	}, nil
}

// correct submits every raw text and maps each returned group back to the
// frame of its first original text.
func (p *Pipeline) correct(ctx context.Context, texts []FrameText) ([]CorrectionGroup, error) {
	raw := make([]string, 0, len(texts))
	frameOf := make(map[string]string, len(texts))
	for _, t := range texts {
		raw = append(raw, t.Text)
		if _, ok := frameOf[t.Text]; !ok {
			frameOf[t.Text] = t.Frame
		}
	}

	resp, err := p.client.CorrectTexts(ctx, CorrectionRequest{
		Texts:               raw,
		SimilarityThreshold: p.cfg.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}

	groups := make([]CorrectionGroup, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		cg := CorrectionGroup{
			CorrectedText: p.clean(g.CorrectedText),
			OriginalTexts: g.OriginalTexts,
			Confidence:    g.Confidence,
		}
		if cg.OriginalTexts == nil {
			cg.OriginalTexts = []string{}
		}
		if len(g.OriginalTexts) > 0 {
			cg.SourceFrame = frameOf[p.clean(g.OriginalTexts[0])]
		}
		groups = append(groups, cg)
	}
	return groups, nil
}

// maxCleanPasses bounds the sanitise and unescape rounds of clean.
const maxCleanPasses = 8

// clean strips markup from OCR output and trims whitespace. Entities are
// decoded and the result sanitised again until it is stable, so escaped
// markup cannot come back out as live tags. Input still changing after
// maxCleanPasses is returned in its escaped form.
func (p *Pipeline) clean(s string) string {
	for i := 0; i < maxCleanPasses; i++ {
		out := html.UnescapeString(p.policy.Sanitize(s))
		if out == s {
			return strings.TrimSpace(out)
		}
		s = out
	}
	return strings.TrimSpace(p.policy.Sanitize(s))
}

// persist overwrites ocr_results.json.
func (p *Pipeline) persist(res *Result) (string, error) {
	if err := os.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("ocr: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ocr: marshal results: %w", err)
	}
	path := filepath.Join(p.cfg.OutDir, ResultsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("ocr: write results: %w", err)
	}
	return path, nil
}

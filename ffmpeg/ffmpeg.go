// CLAUDE:SUMMARY Media engine over the ffmpeg/ffprobe binaries: duration probe, transcode/mux invocation, frame extraction.
// Package ffmpeg runs the ffmpeg and ffprobe binaries. Binaries are
// resolved via Config or exec.LookPath; every invocation is bound to the
// caller's context and failures carry the tail of stderr.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a binary cannot be located.
var ErrNotFound = errors.New("ffmpeg: binary not found")

// stderrTail bounds the diagnostic kept from a failed invocation.
const stderrTail = 800

// Config locates the binaries.
type Config struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	// JPEGQuality is the -q:v value for extracted frames (2 = best). Default: 2.
	JPEGQuality int `yaml:"jpeg_quality"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.FFmpegPath == "" {
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			c.FFmpegPath = p
		}
	}
	if c.FFprobePath == "" {
		if p, err := exec.LookPath("ffprobe"); err == nil {
			c.FFprobePath = p
		}
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ExecError is a failed engine invocation.
type ExecError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("ffmpeg: %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("ffmpeg: %s: %v: %s", e.Tool, e.Err, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Engine runs ffmpeg and ffprobe.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Available reports whether both binaries were found.
func (e *Engine) Available() bool {
	return e.cfg.FFmpegPath != "" && e.cfg.FFprobePath != ""
}

// Probe returns the container duration of path.
func (e *Engine) Probe(ctx context.Context, path string) (time.Duration, error) {
	if e.cfg.FFprobePath == "" {
		return 0, fmt.Errorf("%w: ffprobe", ErrNotFound)
	}
	out, err := e.run(ctx, "ffprobe", e.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	return parseDuration(out)
}

// Transcode runs ffmpeg with args. -y and -loglevel error are prepended.
func (e *Engine) Transcode(ctx context.Context, args []string) error {
	if e.cfg.FFmpegPath == "" {
		return fmt.Errorf("%w: ffmpeg", ErrNotFound)
	}
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	_, err := e.run(ctx, "ffmpeg", e.cfg.FFmpegPath, full...)
	return err
}

// ExtractFrames writes one JPEG per interval, starting at t=0, to
// pattern (a printf-style path such as dir/frame_%04d.jpg).
func (e *Engine) ExtractFrames(ctx context.Context, videoPath, pattern string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("ffmpeg: extract frames: interval must be positive")
	}
	fps := "fps=1/" + strconv.FormatFloat(interval.Seconds(), 'f', -1, 64)
	return e.Transcode(ctx, []string{
		"-i", videoPath,
		"-vf", fps,
		"-q:v", strconv.Itoa(e.cfg.JPEGQuality),
		pattern,
	})
}

func (e *Engine) run(ctx context.Context, tool, bin string, args ...string) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &ExecError{Tool: tool, Args: args, Stderr: msg, Err: err}
	}
	e.cfg.Logger.Debug("ffmpeg: exec", "tool", tool, "duration", time.Since(start))
	return stdout.Bytes(), nil
}

func parseDuration(out []byte) (time.Duration, error) {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("ffmpeg: probe: unparsable duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

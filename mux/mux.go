// CLAUDE:SUMMARY Writes reconstructed streams to disk and produces audio.mp3 + video.mp4 concurrently, with audio fallback and disk-cache reuse.
// Package mux turns reconstructed byte streams into playable files. The
// audio and video outputs are produced concurrently and fail
// independently; each has a fallback before its failure is surfaced.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/reelscan/capture"
)

// Output names.
const (
	VideoFile    = "video.mp4"
	AudioFile    = "audio.mp3"
	RawVideoFile = "raw_video.mp4"
	RawAudioFile = "raw_audio.mp4"
)

// ErrCaptureEmpty is returned when neither kind was captured and no cached
// output can be reused.
var ErrCaptureEmpty = errors.New("mux: no segments captured and no cached output")

// TranscodeError is the failure of one output.
type TranscodeError struct {
	Output string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("mux: %s: %v", e.Output, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Engine probes and transcodes media files.
type Engine interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
	Transcode(ctx context.Context, args []string) error
}

// Output lists the produced files. A path is empty when its output failed.
type Output struct {
	VideoPath string `json:"video_path,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	// Reused is true when cached files were returned without muxing.
	Reused bool `json:"reused"`
	// AudioFallback is true when audio was derived from the video stream.
	AudioFallback bool  `json:"audio_fallback"`
	VideoErr      error `json:"-"`
	AudioErr      error `json:"-"`
}

// Config configures a Muxer.
type Config struct {
	// Dir receives raw and muxed files. It doubles as the disk cache.
	Dir string `yaml:"dir"`
	// AudioBitrate for the AAC track of video.mp4. Default: 128k.
	AudioBitrate string `yaml:"audio_bitrate"`
	// MP3Quality is the libmp3lame VBR quality. Default: 2.
	MP3Quality int `yaml:"mp3_quality"`
	// KeepRaw keeps raw_*.mp4 after a successful mux.
	KeepRaw bool `yaml:"keep_raw"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Dir == "" {
		c.Dir = "downloads"
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = "128k"
	}
	if c.MP3Quality <= 0 {
		c.MP3Quality = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Muxer produces the output files of a capture.
type Muxer struct {
	cfg    Config
	engine Engine
}

// New creates a Muxer.
func New(cfg Config, engine Engine) *Muxer {
	cfg.defaults()
	return &Muxer{cfg: cfg, engine: engine}
}

// Dir returns the output directory.
func (m *Muxer) Dir() string { return m.cfg.Dir }

// Mux writes streams to disk and produces video.mp4 and audio.mp3. It fails
// only when no output could be produced.
func (m *Muxer) Mux(ctx context.Context, streams map[capture.Kind][]byte) (*Output, error) {
	log := m.cfg.Logger
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mux: mkdir: %w", err)
	}
	videoOut := filepath.Join(m.cfg.Dir, VideoFile)
	audioOut := filepath.Join(m.cfg.Dir, AudioFile)

	if len(streams[capture.KindVideo]) == 0 && len(streams[capture.KindAudio]) == 0 {
		return m.reuse(videoOut, audioOut)
	}

	// Stale outputs must not be mistaken for this run's results.
	for _, p := range []string{videoOut, audioOut} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("mux: remove stale %s: %w", filepath.Base(p), err)
		}
	}

	var rawVideo, rawAudio string
	if data := streams[capture.KindVideo]; len(data) > 0 {
		rawVideo = filepath.Join(m.cfg.Dir, RawVideoFile)
		if err := os.WriteFile(rawVideo, data, 0o644); err != nil {
			return nil, fmt.Errorf("mux: write raw video: %w", err)
		}
	}
	if data := streams[capture.KindAudio]; len(data) > 0 {
		rawAudio = filepath.Join(m.cfg.Dir, RawAudioFile)
		if err := os.WriteFile(rawAudio, data, 0o644); err != nil {
			return nil, fmt.Errorf("mux: write raw audio: %w", err)
		}
	}

	out := &Output{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.AudioFallback, out.AudioErr = m.audio(ctx, rawVideo, rawAudio, audioOut)
	}()
	go func() {
		defer wg.Done()
		out.VideoErr = m.video(ctx, rawVideo, rawAudio, videoOut)
	}()
	wg.Wait()

	if out.AudioErr == nil {
		out.AudioPath = audioOut
	} else {
		log.Warn("mux: audio output failed", "error", out.AudioErr)
	}
	if out.VideoErr == nil {
		out.VideoPath = videoOut
	} else {
		log.Warn("mux: video output failed", "error", out.VideoErr)
	}

	if out.VideoPath == "" && out.AudioPath == "" {
		return out, fmt.Errorf("mux: no output produced: %w", errors.Join(out.VideoErr, out.AudioErr))
	}
	if !m.cfg.KeepRaw {
		for _, p := range []string{rawVideo, rawAudio} {
			if p != "" {
				os.Remove(p)
			}
		}
	}
	log.Info("mux: done", "video", out.VideoPath, "audio", out.AudioPath, "audio_fallback", out.AudioFallback)
	return out, nil
}

// audio encodes audio.mp3 from the raw audio stream, falling back to the
// audio track of the raw video.
func (m *Muxer) audio(ctx context.Context, rawVideo, rawAudio, dst string) (fallback bool, err error) {
	if rawAudio != "" {
		err = m.engine.Transcode(ctx, m.mp3Args(rawAudio, dst))
		if err == nil {
			return false, nil
		}
		m.cfg.Logger.Warn("mux: mp3 from audio stream failed, trying video", "error", err)
	}
	if rawVideo == "" {
		if err == nil {
			err = errors.New("no audio or video segments")
		}
		return false, &TranscodeError{Output: AudioFile, Err: err}
	}
	if ferr := m.engine.Transcode(ctx, m.mp3Args(rawVideo, dst)); ferr != nil {
		return true, &TranscodeError{Output: AudioFile, Err: errors.Join(err, ferr)}
	}
	return true, nil
}

func (m *Muxer) mp3Args(src, dst string) []string {
	return []string{"-i", src, "-vn", "-c:a", "libmp3lame", "-q:a", strconv.Itoa(m.cfg.MP3Quality), dst}
}

// video muxes the raw video with the raw audio. Output length is the
// shorter of both streams. Without audio, or when the merge fails, the
// video stream is copied alone with whatever audio it carries.
func (m *Muxer) video(ctx context.Context, rawVideo, rawAudio, dst string) error {
	if rawVideo == "" {
		return &TranscodeError{Output: VideoFile, Err: errors.New("no video segments")}
	}

	var mergeErr error
	if rawAudio != "" {
		args := []string{"-i", rawVideo, "-i", rawAudio, "-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy", "-c:a", "aac", "-b:a", m.cfg.AudioBitrate}
		if d := m.minDuration(ctx, rawVideo, rawAudio); d > 0 {
			args = append(args, "-t", strconv.FormatFloat(d.Seconds(), 'f', 3, 64))
		}
		args = append(args, "-shortest", dst)
		if mergeErr = m.engine.Transcode(ctx, args); mergeErr == nil {
			return nil
		}
		m.cfg.Logger.Warn("mux: merge failed, copying video alone", "error", mergeErr)
	}

	args := []string{"-i", rawVideo, "-map", "0:v:0", "-map", "0:a?",
		"-c:v", "copy", "-c:a", "aac", "-b:a", m.cfg.AudioBitrate, dst}
	if err := m.engine.Transcode(ctx, args); err != nil {
		return &TranscodeError{Output: VideoFile, Err: errors.Join(mergeErr, err)}
	}
	return nil
}

// minDuration probes both inputs; 0 when either is unknown.
func (m *Muxer) minDuration(ctx context.Context, a, b string) time.Duration {
	da, err := m.engine.Probe(ctx, a)
	if err != nil || da <= 0 {
		return 0
	}
	db, err := m.engine.Probe(ctx, b)
	if err != nil || db <= 0 {
		return 0
	}
	return min(da, db)
}

// reuse returns cached outputs from a previous run.
func (m *Muxer) reuse(videoOut, audioOut string) (*Output, error) {
	out := &Output{Reused: true}
	if nonEmpty(videoOut) {
		out.VideoPath = videoOut
	}
	if nonEmpty(audioOut) {
		out.AudioPath = audioOut
	}
	if out.VideoPath == "" && out.AudioPath == "" {
		return nil, ErrCaptureEmpty
	}
	m.cfg.Logger.Info("mux: reusing cached output", "video", out.VideoPath, "audio", out.AudioPath)
	return out, nil
}

func nonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

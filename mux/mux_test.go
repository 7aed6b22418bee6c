package mux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/reelscan/capture"
)

// fakeEngine writes the last argument as the output file unless fail
// returns an error for the invocation.
type fakeEngine struct {
	mu        sync.Mutex
	calls     [][]string
	durations map[string]time.Duration
	fail      func(args []string) error
}

func (f *fakeEngine) Probe(_ context.Context, path string) (time.Duration, error) {
	if d, ok := f.durations[filepath.Base(path)]; ok {
		return d, nil
	}
	return 0, errors.New("probe: unknown")
}

func (f *fakeEngine) Transcode(_ context.Context, args []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(args); err != nil {
			return err
		}
	}
	return os.WriteFile(args[len(args)-1], []byte("out"), 0o644)
}

func (f *fakeEngine) callsTo(file string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if filepath.Base(c[len(c)-1]) == file {
			out = append(out, c)
		}
	}
	return out
}

func inputOf(args []string) string {
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			return filepath.Base(args[i+1])
		}
	}
	return ""
}

func newMuxer(t *testing.T, eng Engine) *Muxer {
	t.Helper()
	return New(Config{Dir: t.TempDir(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, eng)
}

func streams(video, audio string) map[capture.Kind][]byte {
	s := map[capture.Kind][]byte{}
	if video != "" {
		s[capture.KindVideo] = []byte(video)
	}
	if audio != "" {
		s[capture.KindAudio] = []byte(audio)
	}
	return s
}

func TestMux_BothKinds(t *testing.T) {
	eng := &fakeEngine{durations: map[string]time.Duration{
		RawVideoFile: 12 * time.Second,
		RawAudioFile: 11500 * time.Millisecond,
	}}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("vvv", "aaa"))
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if out.VideoPath == "" || out.AudioPath == "" || out.AudioFallback {
		t.Fatalf("output = %+v", out)
	}

	video := eng.callsTo(VideoFile)
	if len(video) != 1 {
		t.Fatalf("video calls = %d", len(video))
	}
	joined := strings.Join(video[0], " ")
	for _, want := range []string{"-c:v copy", "-c:a aac", "-b:a 128k", "-t 11.500", "-shortest"} {
		if !strings.Contains(joined, want) {
			t.Errorf("video args %q missing %q", joined, want)
		}
	}
	audio := eng.callsTo(AudioFile)
	if len(audio) != 1 || inputOf(audio[0]) != RawAudioFile || !slices.Contains(audio[0], "libmp3lame") {
		t.Fatalf("audio calls = %v", audio)
	}

	if _, err := os.Stat(filepath.Join(m.Dir(), RawVideoFile)); !errors.Is(err, os.ErrNotExist) {
		t.Error("raw video not removed after success")
	}
}

func TestMux_AudioFallsBackToVideo(t *testing.T) {
	eng := &fakeEngine{fail: func(args []string) error {
		if filepath.Base(args[len(args)-1]) == AudioFile && inputOf(args) == RawAudioFile {
			return errors.New("invalid data found when processing input")
		}
		return nil
	}}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("vvv", "aaa"))
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if !out.AudioFallback || out.AudioPath == "" || out.AudioErr != nil {
		t.Fatalf("output = %+v", out)
	}
	calls := eng.callsTo(AudioFile)
	if len(calls) != 2 || inputOf(calls[1]) != RawVideoFile {
		t.Fatalf("audio calls = %v", calls)
	}
}

func TestMux_VideoOnly(t *testing.T) {
	eng := &fakeEngine{}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("vvv", ""))
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if out.VideoPath == "" || out.AudioPath == "" || !out.AudioFallback {
		t.Fatalf("output = %+v", out)
	}
	video := eng.callsTo(VideoFile)
	if len(video) != 1 || slices.Contains(video[0], "-shortest") {
		t.Fatalf("video-only args = %v", video)
	}
}

func TestMux_AudioOnlyIsolatesVideoFailure(t *testing.T) {
	eng := &fakeEngine{}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("", "aaa"))
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if out.AudioPath == "" || out.VideoPath != "" {
		t.Fatalf("output = %+v", out)
	}
	var te *TranscodeError
	if !errors.As(out.VideoErr, &te) || te.Output != VideoFile {
		t.Fatalf("video err = %v", out.VideoErr)
	}
}

func TestMux_AllOutputsFail(t *testing.T) {
	eng := &fakeEngine{fail: func([]string) error { return errors.New("boom") }}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("vvv", "aaa"))
	if err == nil {
		t.Fatal("Mux succeeded with every transcode failing")
	}
	var te *TranscodeError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TranscodeError", err)
	}
	if out == nil || out.VideoPath != "" || out.AudioPath != "" {
		t.Fatalf("output = %+v", out)
	}
}

func TestMux_MergeFailureFallsBackToVideoCopy(t *testing.T) {
	eng := &fakeEngine{fail: func(args []string) error {
		if slices.Contains(args, "1:a:0") {
			return errors.New("could not find tag for codec")
		}
		return nil
	}}
	m := newMuxer(t, eng)

	out, err := m.Mux(context.Background(), streams("vvv", "aaa"))
	if err != nil || out.VideoPath == "" {
		t.Fatalf("Mux = %+v, %v", out, err)
	}
	if n := len(eng.callsTo(VideoFile)); n != 2 {
		t.Fatalf("video calls = %d, want merge + copy", n)
	}
}

func TestMux_EmptyCaptureReusesCache(t *testing.T) {
	eng := &fakeEngine{}
	m := newMuxer(t, eng)
	if err := os.WriteFile(filepath.Join(m.Dir(), VideoFile), []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := m.Mux(context.Background(), nil)
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if !out.Reused || out.VideoPath == "" || out.AudioPath != "" {
		t.Fatalf("output = %+v", out)
	}
	if len(eng.calls) != 0 {
		t.Fatal("engine invoked on cache reuse")
	}
}

func TestMux_EmptyCaptureNoCache(t *testing.T) {
	m := newMuxer(t, &fakeEngine{})
	if err := os.WriteFile(filepath.Join(m.Dir(), AudioFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mux(context.Background(), streams("", "")); !errors.Is(err, ErrCaptureEmpty) {
		t.Fatalf("err = %v, want ErrCaptureEmpty", err)
	}
}

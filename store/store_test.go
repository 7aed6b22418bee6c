package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/reelscan/connectivity"
	"github.com/hazyhaar/reelscan/dbopen"
	"github.com/hazyhaar/reelscan/idgen"
	"github.com/hazyhaar/reelscan/ocr"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema), dbopen.WithSchema(connectivity.Schema)))
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	r := &Run{ID: "run_1", TargetID: "C0dE", Stages: "download,frames,ocr", StartedAt: start}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusRunning || !got.FinishedAt.IsZero() || !got.StartedAt.Equal(start) {
		t.Fatalf("running = %+v", got)
	}

	r.Status = StatusSucceeded
	r.FinishedAt = start.Add(20 * time.Second)
	r.VideoPath = "downloads/video.mp4"
	r.FrameCount = 6
	r.Tier = "very_short"
	r.Interval = 2 * time.Second
	r.OCRText = "HELLO"
	r.Result = []byte(`{"ok":true}`)
	texts := []ocr.FrameText{
		{Frame: "f1.jpg", Text: "Hello", Confidence: 0.9, Significant: true},
		{Frame: "f2.jpg", Text: "hi", Confidence: 0.4},
	}
	groups := []ocr.CorrectionGroup{{CorrectedText: "HELLO", OriginalTexts: []string{"Hello"}, SourceFrame: "f1.jpg", Confidence: 0.95}}
	if err := s.FinishRun(ctx, r, texts, groups); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err = s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSucceeded || got.Interval != 2*time.Second || got.Tier != "very_short" || string(got.Result) != `{"ok":true}` {
		t.Fatalf("finished = %+v", got)
	}

	gotTexts, err := s.Texts(ctx, "run_1")
	if err != nil || len(gotTexts) != 2 || !gotTexts[0].Significant || gotTexts[1].Significant {
		t.Fatalf("Texts = %+v, %v", gotTexts, err)
	}
	gotGroups, err := s.Corrections(ctx, "run_1")
	if err != nil || len(gotGroups) != 1 || gotGroups[0].OriginalTexts[0] != "Hello" || gotGroups[0].SourceFrame != "f1.jpg" {
		t.Fatalf("Corrections = %+v, %v", gotGroups, err)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	s := newStore(t)
	err := s.FinishRun(context.Background(), &Run{ID: "nope", Status: StatusFailed}, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	if _, err := newStore(t).GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i, target := range []string{"a", "b", "a"} {
		r := &Run{ID: "run_" + string(rune('1'+i)), TargetID: target, Stages: "all", StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil || len(all) != 3 || all[0].ID != "run_3" {
		t.Fatalf("ListRuns = %v, %v", all, err)
	}
	onlyA, err := s.ListRuns(ctx, "a", 10)
	if err != nil || len(onlyA) != 2 {
		t.Fatalf("ListRuns(a) = %v, %v", onlyA, err)
	}
}

func TestOpen_File(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sub", "reelscan.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := connectivity.UpsertRoute(context.Background(), s.DB(), "ocr_health", "noop", "", nil); err != nil {
		t.Fatalf("routes table missing: %v", err)
	}
}

func TestEventLogger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	l := NewEventLogger(s.DB(),
		WithEventIDGenerator(idgen.Sequence("evt_")),
		WithEventLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	l.Log(ctx, Event{RunID: "run_1", Type: "stage_started", Stage: "download", Success: true})
	l.Log(ctx, Event{RunID: "run_1", Type: "stage_failed", Stage: "frames", Details: "moov atom not found"})
	l.Log(ctx, Event{RunID: "run_2", Type: "stage_started", Stage: "download", Success: true})

	events, err := l.Events(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ID != "evt_1" || events[1].Success || events[1].Details != "moov atom not found" {
		t.Fatalf("events = %+v", events)
	}
}

func TestEventLogger_WriteFailureDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l := NewEventLogger(db, WithEventLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	l.Log(context.Background(), Event{RunID: "r", Type: "x"})
}

package capture

import (
	"bytes"
	"context"
	"testing"
)

func TestSplitSegmentURL(t *testing.T) {
	tests := []struct {
		raw        string
		base       string
		start, end int64
		hasRange   bool
	}{
		{"https://cdn.example/v/a.mp4?bytestart=100&byteend=199&oh=x", "https://cdn.example/v/a.mp4", 100, 199, true},
		{"https://cdn.example/v/a.mp4?range=0-99", "https://cdn.example/v/a.mp4", 0, 99, true},
		{"https://cdn.example/v/a.mp4?bytestart=5", "https://cdn.example/v/a.mp4", 5, -1, true},
		{"https://cdn.example/v/a.mp4?sig=1", "https://cdn.example/v/a.mp4", 0, -1, false},
		{"https://cdn.example/v/a.mp4", "https://cdn.example/v/a.mp4", 0, -1, false},
	}
	for _, tt := range tests {
		base, start, end, has := splitSegmentURL(tt.raw)
		if base != tt.base || start != tt.start || end != tt.end || has != tt.hasRange {
			t.Errorf("splitSegmentURL(%q) = (%q, %d, %d, %v)", tt.raw, base, start, end, has)
		}
	}
}

func TestInterceptor_RoutesByKindAndBaseURL(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, nil, discardLogger())
	ctx := context.Background()

	ic.Handle(ctx, Response{URL: "https://cdn/v.mp4?bytestart=10&byteend=19", ContentType: "video/mp4", Body: bodyOf(bytes.Repeat([]byte("b"), 10))})
	ic.Handle(ctx, Response{URL: "https://cdn/v.mp4?bytestart=0&byteend=9", ContentType: "video/mp4", Body: bodyOf(bytes.Repeat([]byte("a"), 10))})
	ic.Handle(ctx, Response{URL: "https://cdn/a.mp4?bytestart=0&byteend=3", ContentType: "audio/mp4", Body: bodyOf([]byte("aud!"))})
	ic.Handle(ctx, Response{URL: "https://site/app.js", ContentType: "application/javascript", Size: 1 << 20, Body: bodyOf([]byte("js"))})

	st := ic.Stats()
	if st.Accepted[KindVideo] != 2 || st.Accepted[KindAudio] != 1 {
		t.Fatalf("accepted = %v", st.Accepted)
	}
	if st.Ignored != 1 {
		t.Fatalf("ignored = %d, want 1", st.Ignored)
	}

	groups := s.Groups(KindVideo)
	if len(groups) != 1 || groups[0].BaseURL != "https://cdn/v.mp4" {
		t.Fatalf("video groups = %+v", groups)
	}
	snap := s.Snapshot()
	if snap.Counts[KindVideo] != 2 || snap.Counts[KindAudio] != 1 {
		t.Fatalf("counts = %v", snap.Counts)
	}
}

func TestInterceptor_ClosedSessionDropsSilently(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, nil, discardLogger())
	s.Close()

	ic.Handle(context.Background(), Response{URL: "https://cdn/v.mp4", ContentType: "video/mp4", Body: bodyOf([]byte("x"))})

	if st := ic.Stats(); st.Dropped != 1 || st.Accepted[KindVideo] != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestInterceptor_SessionClosedDuringBodyRead(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, nil, discardLogger())

	ic.Handle(context.Background(), Response{
		URL:         "https://cdn/v.mp4",
		ContentType: "video/mp4",
		Body: func(context.Context) ([]byte, error) {
			s.Close()
			return []byte("late"), nil
		},
	})

	if st := ic.Stats(); st.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", st.Dropped)
	}
	if s.Snapshot().Counts[KindVideo] != 0 {
		t.Fatal("late segment stored in closed session")
	}
}

func TestInterceptor_BodyErrorSkipped(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, nil, discardLogger())

	ic.Handle(context.Background(), Response{
		URL:         "https://cdn/v.mp4",
		ContentType: "video/mp4",
		Body:        func(context.Context) ([]byte, error) { return nil, errTargetClosed },
	})
	ic.Handle(context.Background(), Response{URL: "https://cdn/v.mp4?bytestart=0&byteend=1", ContentType: "video/mp4", Body: bodyOf([]byte("ok"))})

	st := ic.Stats()
	if st.BodyErrors != 1 || st.Accepted[KindVideo] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestInterceptor_UnknownSizeReadsBody(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, NewClassifier(ClassifierConfig{SizeFallbackBytes: 8}), discardLogger())

	reads := 0
	ic.Handle(context.Background(), Response{
		URL:         "https://cdn/o1/blob",
		ContentType: "application/octet-stream",
		Body: func(context.Context) ([]byte, error) {
			reads++
			return []byte("0123456789"), nil
		},
	})

	if s.Snapshot().Counts[KindVideo] != 1 {
		t.Fatal("size fallback did not classify the read body as video")
	}
	if reads != 1 {
		t.Fatalf("body read %d times, want 1", reads)
	}
}

func TestInterceptor_UnknownSizeBodyError(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, NewClassifier(ClassifierConfig{SizeFallbackBytes: 8}), discardLogger())

	ic.Handle(context.Background(), Response{
		URL:         "https://cdn/o1/blob",
		ContentType: "application/octet-stream",
		Body:        func(context.Context) ([]byte, error) { return nil, errTargetClosed },
	})

	st := ic.Stats()
	if st.BodyErrors != 1 || st.Ignored != 0 {
		t.Fatalf("stats = %+v, want one body error and nothing ignored", st)
	}
	if s.Snapshot().Counts[KindVideo] != 0 {
		t.Fatal("segment stored from failed body")
	}
}

func TestInterceptor_DuplicateRangeStoredOnce(t *testing.T) {
	s := NewSession("T1")
	ic := NewInterceptor(s, nil, discardLogger())
	r := Response{URL: "https://cdn/v.mp4?bytestart=0&byteend=1", ContentType: "video/mp4", Body: bodyOf([]byte("ab"))}

	ic.Handle(context.Background(), r)
	ic.Handle(context.Background(), r)

	if n := s.Snapshot().Counts[KindVideo]; n != 1 {
		t.Fatalf("video count = %d, want 1", n)
	}
	if st := ic.Stats(); st.DuplicateHit != 1 {
		t.Fatalf("duplicates = %d", st.DuplicateHit)
	}
}

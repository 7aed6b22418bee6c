package capture

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// BodyFunc reads a response payload. It fails when the originating page or
// target has been torn down.
type BodyFunc func(ctx context.Context) ([]byte, error)

// InterceptStats counts what the interceptor did with observed responses.
type InterceptStats struct {
	Accepted     map[Kind]int `json:"accepted"`
	Ignored      int          `json:"ignored"`
	Dropped      int          `json:"dropped"`
	BodyErrors   int          `json:"body_errors"`
	EmptyBodies  int          `json:"empty_bodies"`
	DuplicateHit int          `json:"duplicates"`
}

// Interceptor classifies responses and routes media segments into the
// owning session.
type Interceptor struct {
	session    *Session
	classifier Classifier
	logger     *slog.Logger

	mu    sync.Mutex
	stats InterceptStats
}

// NewInterceptor creates an Interceptor feeding session.
func NewInterceptor(session *Session, classifier Classifier, logger *slog.Logger) *Interceptor {
	if classifier == nil {
		classifier = NewClassifier(ClassifierConfig{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		session:    session,
		classifier: classifier,
		logger:     logger,
		stats:      InterceptStats{Accepted: make(map[Kind]int)},
	}
}

// Handle processes one observed response. It never fails: responses for a
// closed session are dropped, unreadable payloads are skipped.
func (i *Interceptor) Handle(ctx context.Context, r Response) {
	if i.session.Closed() {
		i.count(func(s *InterceptStats) { s.Dropped++ })
		return
	}

	kind, ok := i.classifier.Classify(r)
	if !ok && r.Size <= 0 && r.Body != nil {
		// Size unknown from headers: read once and retry the size fallback.
		data, err := r.Body(ctx)
		if err != nil {
			i.logger.Debug("capture: unsized body unavailable",
				"session", i.session.ID, "url", trimURL(r.URL), "error", err)
			i.count(func(s *InterceptStats) { s.BodyErrors++ })
			return
		}
		r.Size = int64(len(data))
		body := data
		r.Body = func(context.Context) ([]byte, error) { return body, nil }
		kind, ok = i.classifier.Classify(r)
	}
	if !ok || r.Body == nil {
		i.count(func(s *InterceptStats) { s.Ignored++ })
		return
	}

	data, err := r.Body(ctx)
	if err != nil {
		i.logger.Debug("capture: segment body unavailable",
			"session", i.session.ID, "url", trimURL(r.URL), "error", err)
		i.count(func(s *InterceptStats) { s.BodyErrors++ })
		return
	}
	if len(data) == 0 {
		i.count(func(s *InterceptStats) { s.EmptyBodies++ })
		return
	}

	base, start, end, hasRange := splitSegmentURL(r.URL)
	if hasRange && end < start {
		end = start + int64(len(data)) - 1
	}

	if !i.session.add(kind, base, data, start, end, hasRange) {
		if i.session.Closed() {
			i.count(func(s *InterceptStats) { s.Dropped++ })
		} else {
			i.count(func(s *InterceptStats) { s.DuplicateHit++ })
		}
		return
	}

	i.count(func(s *InterceptStats) { s.Accepted[kind]++ })
	i.logger.Debug("capture: segment",
		"session", i.session.ID, "kind", kind, "bytes", len(data), "start", start, "base", trimURL(base))
}

// Stats returns a copy of the interceptor counters.
func (i *Interceptor) Stats() InterceptStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.stats
	out.Accepted = make(map[Kind]int, len(i.stats.Accepted))
	for k, n := range i.stats.Accepted {
		out.Accepted[k] = n
	}
	return out
}

func (i *Interceptor) count(fn func(*InterceptStats)) {
	i.mu.Lock()
	fn(&i.stats)
	i.mu.Unlock()
}

// splitSegmentURL strips the query from raw (the baseURL grouping key) and
// extracts the byte range from "bytestart"/"byteend" or "range=a-b".
func splitSegmentURL(raw string) (base string, start, end int64, hasRange bool) {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i], 0, -1, false
		}
		return raw, 0, -1, false
	}
	q := u.Query()
	u.RawQuery = ""
	u.Fragment = ""
	base = u.String()

	if s := q.Get("bytestart"); s != "" {
		bs, err1 := strconv.ParseInt(s, 10, 64)
		be, err2 := strconv.ParseInt(q.Get("byteend"), 10, 64)
		if err1 == nil {
			if err2 != nil {
				be = -1
			}
			return base, bs, be, true
		}
	}
	if s := q.Get("range"); s != "" {
		lo, hi, found := strings.Cut(s, "-")
		bs, err1 := strconv.ParseInt(lo, 10, 64)
		if err1 == nil {
			be := int64(-1)
			if found {
				if v, err := strconv.ParseInt(hi, 10, 64); err == nil {
					be = v
				}
			}
			return base, bs, be, true
		}
	}
	return base, 0, -1, false
}

func trimURL(u string) string {
	if len(u) > 120 {
		return u[:120] + "..."
	}
	return u
}

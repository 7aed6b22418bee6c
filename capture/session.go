// CLAUDE:SUMMARY Capture session: per-target segment map (kind → baseURL → chunks), counters, closed flag and teardown hooks.
// Package capture intercepts media segments delivered to a managed browser
// page, decides when enough of them have arrived, and rebuilds one byte
// stream per media kind.
package capture

import (
	"sync"
	"time"

	"github.com/hazyhaar/reelscan/idgen"
)

// Kind is the logical media stream a segment belongs to.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Kinds lists every kind in reconstruction order.
var Kinds = []Kind{KindVideo, KindAudio}

// Chunk is one intercepted byte-range segment.
type Chunk struct {
	Data       []byte
	ByteStart  int64
	ByteEnd    int64
	CapturedAt time.Time
}

// Group is the ordered chunk list of one (kind, baseURL) stream.
type Group struct {
	BaseURL string
	Chunks  []Chunk
}

type group struct {
	baseURL    string
	chunks     []Chunk
	seen       map[[2]int64]bool
	nextOffset int64
}

// Session is one end-to-end attempt to acquire a media asset. It owns its
// segment map exclusively; all methods are safe for concurrent use.
type Session struct {
	ID        string
	TargetID  string
	StartedAt time.Time

	mu           sync.Mutex
	closed       bool
	groups       map[Kind][]*group
	index        map[Kind]map[string]*group
	counts       map[Kind]int
	bytes        map[Kind]int64
	duplicates   int
	lastProgress time.Time
	onClose      []func()
	now          func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionClock sets the clock used for progress timestamps (tests).
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.ID = id }
}

// NewSession opens a session for targetID.
func NewSession(targetID string, opts ...SessionOption) *Session {
	s := &Session{
		TargetID: targetID,
		groups:   make(map[Kind][]*group),
		index:    make(map[Kind]map[string]*group),
		counts:   make(map[Kind]int),
		bytes:    make(map[Kind]int64),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.ID == "" {
		s.ID = idgen.Session()
	}
	s.StartedAt = s.now()
	s.lastProgress = s.StartedAt
	return s
}

// add stores data in the (kind, baseURL) group. When hasRange is false the
// chunk is placed right after everything already in the group, so
// range-less segments keep their arrival order. Returns false when the
// session is closed or the exact range is already present.
func (s *Session) add(kind Kind, baseURL string, data []byte, start, end int64, hasRange bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	byURL := s.index[kind]
	if byURL == nil {
		byURL = make(map[string]*group)
		s.index[kind] = byURL
	}
	g := byURL[baseURL]
	if g == nil {
		g = &group{baseURL: baseURL, seen: make(map[[2]int64]bool)}
		byURL[baseURL] = g
		s.groups[kind] = append(s.groups[kind], g)
	}

	if !hasRange {
		start = g.nextOffset
		end = start + int64(len(data)) - 1
	}
	key := [2]int64{start, end}
	if g.seen[key] {
		s.duplicates++
		return false
	}
	g.seen[key] = true
	if end+1 > g.nextOffset {
		g.nextOffset = end + 1
	}

	now := s.now()
	g.chunks = append(g.chunks, Chunk{Data: data, ByteStart: start, ByteEnd: end, CapturedAt: now})
	s.counts[kind]++
	s.bytes[kind] += int64(len(data))
	s.lastProgress = now
	return true
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OnClose registers fn to run once when the session closes. If the session
// is already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close marks the session closed and runs teardown hooks (monitor and
// seek timers). Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Snapshot returns the counters the completion monitor evaluates.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Kind]int, len(s.counts))
	for k, n := range s.counts {
		counts[k] = n
	}
	return Snapshot{Start: s.StartedAt, LastProgress: s.lastProgress, Counts: counts}
}

// Groups returns a copy of the chunk groups of kind in first-seen order.
func (s *Session) Groups(kind Kind) []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, 0, len(s.groups[kind]))
	for _, g := range s.groups[kind] {
		chunks := make([]Chunk, len(g.chunks))
		copy(chunks, g.chunks)
		out = append(out, Group{BaseURL: g.baseURL, Chunks: chunks})
	}
	return out
}

// SessionStats summarises what a session holds.
type SessionStats struct {
	Segments   map[Kind]int   `json:"segments"`
	Bytes      map[Kind]int64 `json:"bytes"`
	Streams    map[Kind]int   `json:"streams"`
	Duplicates int            `json:"duplicates"`
}

// Stats returns segment, byte and stream counts per kind.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStats{
		Segments:   make(map[Kind]int),
		Bytes:      make(map[Kind]int64),
		Streams:    make(map[Kind]int),
		Duplicates: s.duplicates,
	}
	for _, k := range Kinds {
		st.Segments[k] = s.counts[k]
		st.Bytes[k] = s.bytes[k]
		st.Streams[k] = len(s.groups[k])
	}
	return st
}

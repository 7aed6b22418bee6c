package capture

import (
	"context"
	"log/slog"
	"time"
)

// Timing holds the named durations of the completion heuristic. The total
// number of segments a session will emit is unknown, so completion is
// decided by polling these windows rather than by an end-of-stream signal.
type Timing struct {
	// PollInterval is the monitor tick. Default: 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`
	// GracePeriod of quiet after both kinds are present. Default: 3s.
	GracePeriod time.Duration `yaml:"grace_period"`
	// SafetyMargin since start after which both kinds present is enough,
	// even if segments keep arriving. Default: 10s.
	SafetyMargin time.Duration `yaml:"safety_margin"`
	// NoProgressWindow of quiet after which a partial capture is accepted.
	// Default: 6s.
	NoProgressWindow time.Duration `yaml:"no_progress_window"`
	// HardMax is the wall-clock ceiling of a capture. Default: 45s.
	HardMax time.Duration `yaml:"hard_max"`
}

func (t *Timing) defaults() {
	if t.PollInterval <= 0 {
		t.PollInterval = 500 * time.Millisecond
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = 3 * time.Second
	}
	if t.SafetyMargin <= 0 {
		t.SafetyMargin = 10 * time.Second
	}
	if t.NoProgressWindow <= 0 {
		t.NoProgressWindow = 6 * time.Second
	}
	if t.HardMax <= 0 {
		t.HardMax = 45 * time.Second
	}
}

// State is a completion monitor state.
type State int

const (
	StateWaiting State = iota
	StateSufficient
	StateTimeout
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSufficient:
		return "sufficient"
	case StateTimeout:
		return "timeout"
	case StateDone:
		return "done"
	default:
		return "waiting"
	}
}

// Reason names the rule that ended a capture.
type Reason string

const (
	ReasonComplete     Reason = "complete"
	ReasonSafetyMargin Reason = "safety_margin"
	ReasonNoProgress   Reason = "no_progress"
	ReasonHardTimeout  Reason = "hard_timeout"
	ReasonCancelled    Reason = "cancelled"
)

// Snapshot is the session view the monitor evaluates.
type Snapshot struct {
	Start        time.Time
	LastProgress time.Time
	Counts       map[Kind]int
}

// Decision is the outcome of one evaluation. Done is false while waiting.
type Decision struct {
	Done   bool
	State  State
	Reason Reason
}

// Evaluate applies the completion rules in priority order:
//  1. both kinds present and quiet for GracePeriod;
//  2. both kinds present and SafetyMargin elapsed since start;
//  3. some data present and quiet for NoProgressWindow (partial);
//  4. HardMax elapsed since start.
func (t Timing) Evaluate(s Snapshot, now time.Time) Decision {
	t.defaults()
	video, audio := s.Counts[KindVideo] > 0, s.Counts[KindAudio] > 0
	quiet := now.Sub(s.LastProgress)
	elapsed := now.Sub(s.Start)

	switch {
	case video && audio && quiet >= t.GracePeriod:
		return Decision{Done: true, State: StateSufficient, Reason: ReasonComplete}
	case video && audio && elapsed >= t.SafetyMargin:
		return Decision{Done: true, State: StateSufficient, Reason: ReasonSafetyMargin}
	case (video || audio) && quiet >= t.NoProgressWindow:
		return Decision{Done: true, State: StateSufficient, Reason: ReasonNoProgress}
	case elapsed >= t.HardMax:
		return Decision{Done: true, State: StateTimeout, Reason: ReasonHardTimeout}
	}
	return Decision{State: StateWaiting}
}

// MonitorResult reports how a capture ended.
type MonitorResult struct {
	State   State         `json:"state"`
	Outcome State         `json:"outcome"`
	Reason  Reason        `json:"reason"`
	Counts  map[Kind]int  `json:"counts"`
	Elapsed time.Duration `json:"elapsed"`
	Missing []Kind        `json:"missing,omitempty"`
	// Warning is set to a *CaptureTimeoutError when a kind is missing but
	// the other was captured. It is not fatal.
	Warning error `json:"-"`
}

// Partial reports whether at least one kind is missing.
func (r MonitorResult) Partial() bool { return len(r.Missing) > 0 }

// Monitor is the polling completion state machine of one session.
type Monitor struct {
	session *Session
	timing  Timing
	now     func() time.Time
	logger  *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock sets the clock used for evaluation (tests).
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor for session.
func NewMonitor(session *Session, timing Timing, opts ...MonitorOption) *Monitor {
	timing.defaults()
	m := &Monitor{session: session, timing: timing, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Wait polls until the session is complete, the hard ceiling is reached,
// ctx is cancelled or the session is closed. The polling timer is released
// on return.
func (m *Monitor) Wait(ctx context.Context) MonitorResult {
	ticker := time.NewTicker(m.timing.PollInterval)
	defer ticker.Stop()

	closed := make(chan struct{})
	m.session.OnClose(func() { close(closed) })

	for {
		snap := m.session.Snapshot()
		if d := m.timing.Evaluate(snap, m.now()); d.Done {
			res := m.result(snap, d.State, d.Reason)
			m.logger.Info("capture: complete",
				"session", m.session.ID, "reason", res.Reason, "outcome", res.Outcome,
				"video", snap.Counts[KindVideo], "audio", snap.Counts[KindAudio],
				"elapsed", res.Elapsed)
			return res
		}

		select {
		case <-ctx.Done():
			return m.result(m.session.Snapshot(), StateTimeout, ReasonCancelled)
		case <-closed:
			return m.result(m.session.Snapshot(), StateTimeout, ReasonCancelled)
		case <-ticker.C:
		}
	}
}

func (m *Monitor) result(snap Snapshot, outcome State, reason Reason) MonitorResult {
	res := MonitorResult{
		State:   StateDone,
		Outcome: outcome,
		Reason:  reason,
		Counts:  snap.Counts,
		Elapsed: m.now().Sub(snap.Start),
	}
	for _, k := range Kinds {
		if snap.Counts[k] == 0 {
			res.Missing = append(res.Missing, k)
		}
	}
	if len(res.Missing) == 1 {
		res.Warning = &CaptureTimeoutError{Missing: res.Missing[0], Reason: reason}
	}
	return res
}

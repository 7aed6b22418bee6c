// CLAUDE:SUMMARY SQLite run store: runs, per-frame OCR texts, correction groups and run events, opened through dbopen.
// Package store persists pipeline runs and their OCR output in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/reelscan/connectivity"
	"github.com/hazyhaar/reelscan/dbopen"
	"github.com/hazyhaar/reelscan/ocr"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the stored record of one pipeline run.
type Run struct {
	ID         string          `json:"run_id"`
	TargetID   string          `json:"target_id"`
	Status     string          `json:"status"`
	Stages     string          `json:"stages"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	VideoPath  string          `json:"video_path,omitempty"`
	AudioPath  string          `json:"audio_path,omitempty"`
	FrameCount int             `json:"frame_count"`
	Tier       string          `json:"tier,omitempty"`
	Interval   time.Duration   `json:"interval"`
	OCRText    string          `json:"ocr_text,omitempty"`
	Warning    string          `json:"warning,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Store wraps the run database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
		dbopen.WithSchema(connectivity.Schema),
	)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened database whose schema is applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a running record.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO runs (run_id, target_id, status, stages, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TargetID, r.Status, r.Stages, r.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// FinishRun writes the outcome of a run together with its OCR texts and
// correction groups, in one transaction.
func (s *Store) FinishRun(ctx context.Context, r *Run, texts []ocr.FrameText, groups []ocr.CorrectionGroup) error {
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ?, video_path = ?, audio_path = ?,
				frame_count = ?, tier = ?, interval_ms = ?, ocr_text = ?, warning = ?,
				error = ?, result = ?
			WHERE run_id = ?`,
			r.Status, r.FinishedAt.UnixMilli(), r.VideoPath, r.AudioPath,
			r.FrameCount, r.Tier, r.Interval.Milliseconds(), r.OCRText, r.Warning,
			r.Error, string(result), r.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM ocr_texts WHERE run_id = ?`, r.ID); err != nil {
			return err
		}
		for i, t := range texts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ocr_texts (run_id, seq, frame, text, confidence, significant)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, i, t.Frame, t.Text, t.Confidence, t.Significant); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM corrections WHERE run_id = ?`, r.ID); err != nil {
			return err
		}
		for i, g := range groups {
			originals, err := json.Marshal(g.OriginalTexts)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO corrections (run_id, seq, corrected_text, original_texts, source_frame, confidence)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, i, g.CorrectedText, string(originals), g.SourceFrame, g.Confidence); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `run_id, target_id, status, stages, started_at, COALESCE(finished_at, 0),
	video_path, audio_path, frame_count, tier, interval_ms, ocr_text, warning, error, result`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r                 Run
		started, finished int64
		intervalMs        int64
		result            string
	)
	err := row.Scan(&r.ID, &r.TargetID, &r.Status, &r.Stages, &started, &finished,
		&r.VideoPath, &r.AudioPath, &r.FrameCount, &r.Tier, &intervalMs, &r.OCRText,
		&r.Warning, &r.Error, &result)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		r.FinishedAt = time.UnixMilli(finished)
	}
	r.Interval = time.Duration(intervalMs) * time.Millisecond
	r.Result = json.RawMessage(result)
	return &r, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. targetID filters
// when non-empty.
func (s *Store) ListRuns(ctx context.Context, targetID string, limit int) ([]*Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if targetID != "" {
		q += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	q += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Texts returns the OCR readings of a run in frame order.
func (s *Store) Texts(ctx context.Context, runID string) ([]ocr.FrameText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, text, confidence, significant FROM ocr_texts
		WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: texts: %w", err)
	}
	defer rows.Close()

	var out []ocr.FrameText
	for rows.Next() {
		var t ocr.FrameText
		if err := rows.Scan(&t.Frame, &t.Text, &t.Confidence, &t.Significant); err != nil {
			return nil, fmt.Errorf("store: scan text: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Corrections returns the correction groups of a run.
func (s *Store) Corrections(ctx context.Context, runID string) ([]ocr.CorrectionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT corrected_text, original_texts, source_frame, confidence FROM corrections
		WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: corrections: %w", err)
	}
	defer rows.Close()

	var out []ocr.CorrectionGroup
	for rows.Next() {
		var (
			g         ocr.CorrectionGroup
			originals string
		)
		if err := rows.Scan(&g.CorrectedText, &originals, &g.SourceFrame, &g.Confidence); err != nil {
			return nil, fmt.Errorf("store: scan correction: %w", err)
		}
		if err := json.Unmarshal([]byte(originals), &g.OriginalTexts); err != nil {
			return nil, fmt.Errorf("store: decode originals: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

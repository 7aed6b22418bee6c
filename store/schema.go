package store

// Schema is the DDL of the run store. The connectivity routes table lives
// in the same database (connectivity.Schema).
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    target_id    TEXT NOT NULL,
    status       TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed')),
    stages       TEXT NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    video_path   TEXT NOT NULL DEFAULT '',
    audio_path   TEXT NOT NULL DEFAULT '',
    frame_count  INTEGER NOT NULL DEFAULT 0,
    tier         TEXT NOT NULL DEFAULT '',
    interval_ms  INTEGER NOT NULL DEFAULT 0,
    ocr_text     TEXT NOT NULL DEFAULT '',
    warning      TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    result       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target_id, started_at DESC);

CREATE TABLE IF NOT EXISTS ocr_texts (
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    frame       TEXT NOT NULL,
    text        TEXT NOT NULL,
    confidence  REAL NOT NULL DEFAULT 0,
    significant INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS corrections (
    run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL,
    corrected_text TEXT NOT NULL,
    original_texts TEXT NOT NULL DEFAULT '[]',
    source_frame   TEXT NOT NULL DEFAULT '',
    confidence     REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
    event_id   TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL,
    event_type TEXT NOT NULL,
    stage      TEXT NOT NULL DEFAULT '',
    details    TEXT NOT NULL DEFAULT '',
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, created_at);
`

package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Runs: one row per dispatcher invocation
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    mode TEXT NOT NULL,            -- local, distributed
    classifier TEXT NOT NULL,      -- legacy, strict
    discovered INTEGER DEFAULT 0,
    dispatched INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    failed_count INTEGER DEFAULT 0,
    skipped_done INTEGER DEFAULT 0,
    skipped_ledger INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

-- Run files: terminal outcome of every dispatched file
CREATE TABLE IF NOT EXISTS run_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    path TEXT NOT NULL,
    status TEXT NOT NULL,          -- success, failed, skipped
    error_type TEXT,
    error_message TEXT,
    attempts INTEGER DEFAULT 0,
    output_folder TEXT,
    content_hash TEXT,
    worker TEXT,
    duration_ms INTEGER DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    UNIQUE(run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
CREATE INDEX IF NOT EXISTS idx_run_files_status ON run_files(status);
CREATE INDEX IF NOT EXISTS idx_run_files_path ON run_files(path);
`

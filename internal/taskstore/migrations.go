package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    category TEXT,
    status TEXT NOT NULL DEFAULT 'running',
    decision TEXT,
    best_score REAL DEFAULT 0,
    final_score REAL DEFAULT 0,
    iterations INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    elapsed_ms INTEGER DEFAULT 0,
    error TEXT,
    max_iterations INTEGER NOT NULL,
    token_budget INTEGER NOT NULL,
    time_budget_ms INTEGER NOT NULL,
    quality_threshold REAL NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS iterations (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id),
    idx INTEGER NOT NULL,
    score REAL,
    evaluated BOOLEAN NOT NULL DEFAULT TRUE,
    decision TEXT NOT NULL,
    tokens_input INTEGER DEFAULT 0,
    tokens_output INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    output TEXT,
    suggestion TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(task_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_iterations_task_id ON iterations(task_id);

CREATE TABLE IF NOT EXISTS findings (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id),
    iteration_idx INTEGER NOT NULL,
    severity TEXT NOT NULL,
    dimension TEXT,
    title TEXT NOT NULL,
    description TEXT,
    location TEXT,
    fix TEXT,
    resolved_by INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_findings_task_id ON findings(task_id);
CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity);
`

package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New opens the SQLite database at path. Use ":memory:" for tests.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite writes are single-file; one writer connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ SQLite database connected")

	return &DB{db}, nil
}

// Initialize creates all required tables.
func (db *DB) Initialize() error {
	log.Println("🔍 Checking database schema...")

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run schema statement: %w", err)
		}
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES users(id),
		started_at    TIMESTAMP NOT NULL,
		ended_at      TIMESTAMP,
		active        INTEGER NOT NULL DEFAULT 1,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_activity TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions(user_id) WHERE active = 1`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(id),
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		intent       TEXT NOT NULL DEFAULT '',
		entities     TEXT NOT NULL DEFAULT '',
		side_effects TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS pending_flows (
		user_id     TEXT PRIMARY KEY REFERENCES users(id),
		kind        TEXT NOT NULL,
		step_index  INTEGER NOT NULL DEFAULT 0,
		collected   TEXT NOT NULL DEFAULT '[]',
		retry_count INTEGER NOT NULL DEFAULT 0,
		edit_field  TEXT NOT NULL DEFAULT '',
		expires_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL REFERENCES users(id),
		category         TEXT NOT NULL,
		content          TEXT NOT NULL,
		importance       INTEGER NOT NULL,
		decay_factor     REAL NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TIMESTAMP,
		archived         INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, archived)`,
	`CREATE TABLE IF NOT EXISTS tool_invocations (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		tool           TEXT NOT NULL,
		input          TEXT NOT NULL DEFAULT '',
		result         TEXT NOT NULL DEFAULT '',
		success        INTEGER NOT NULL,
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES users(id),
		title           TEXT NOT NULL,
		due_at          TIMESTAMP,
		source          TEXT NOT NULL DEFAULT 'chat',
		done            INTEGER NOT NULL DEFAULT 0,
		completed_at    TIMESTAMP,
		idempotency_key TEXT,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idempotency
		ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_pending ON tasks(user_id, done, due_at)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      TEXT PRIMARY KEY REFERENCES users(id),
		name         TEXT NOT NULL DEFAULT '',
		focus_area   TEXT NOT NULL DEFAULT '',
		wake_time    TEXT NOT NULL DEFAULT '',
		sleep_time   TEXT NOT NULL DEFAULT '',
		energy_peak  TEXT NOT NULL DEFAULT '',
		main_goal    TEXT NOT NULL DEFAULT '',
		checkin_time TEXT NOT NULL DEFAULT '',
		mode         TEXT NOT NULL DEFAULT 'default',
		attributes   TEXT NOT NULL DEFAULT '{}',
		energy_level INTEGER NOT NULL DEFAULT 0,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_events (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL REFERENCES users(id),
		title     TEXT NOT NULL,
		starts_at TIMESTAMP NOT NULL,
		ends_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_user_start ON calendar_events(user_id, starts_at)`,
	`CREATE TABLE IF NOT EXISTS finance_entries (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		amount     REAL NOT NULL,
		category   TEXT NOT NULL DEFAULT '',
		note       TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_finance_idempotency
		ON finance_entries(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS review_items (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES users(id),
		topic         TEXT NOT NULL,
		ease_factor   REAL NOT NULL DEFAULT 2.5,
		interval_days INTEGER NOT NULL DEFAULT 0,
		repetitions   INTEGER NOT NULL DEFAULT 0,
		due_at        TIMESTAMP NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_user_due ON review_items(user_id, due_at)`,
	`CREATE TABLE IF NOT EXISTS flow_audit (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		detail     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

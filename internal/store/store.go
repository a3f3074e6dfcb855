// Package store persists jobs, extractions and rankings in SQLite.
// Extractions and rankings are stored as JSON blobs keyed by job, so any past
// job can be rescored without tracker I/O.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tareqmamari/inc-correlator/internal/score"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id           TEXT PRIMARY KEY,
	seed             TEXT NOT NULL,
	window           TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress         INTEGER DEFAULT 0,
	total_candidates INTEGER,
	error            TEXT,
	created_at       TEXT NOT NULL,
	completed_at     TEXT,
	username         TEXT
);

CREATE TABLE IF NOT EXISTS extractions (
	job_id TEXT PRIMARY KEY,
	data   TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE TABLE IF NOT EXISTS rankings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL,
	weights    TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rankings_job ON rankings(job_id);
`

const timeLayout = time.RFC3339

// JobRecord is one persisted job row.
type JobRecord struct {
	JobID       string  `db:"job_id" json:"job_id"`
	Seed        string  `db:"seed" json:"seed"`
	Window      string  `db:"window" json:"window"`
	Status      string  `db:"status" json:"status"`
	Progress    int     `db:"progress" json:"progress"`
	Total       *int    `db:"total_candidates" json:"total_candidates,omitempty"`
	Error       *string `db:"error" json:"error,omitempty"`
	CreatedAt   string  `db:"created_at" json:"created_at"`
	CompletedAt *string `db:"completed_at" json:"completed_at,omitempty"`
	Username    *string `db:"username" json:"username,omitempty"`
}

// Store wraps the SQLite database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new pending job row.
func (s *Store) CreateJob(ctx context.Context, jobID, seed, window, username string) error {
	var user *string
	if username != "" {
		user = &username
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, seed, window, status, created_at, username)
		 VALUES (?, ?, ?, 'pending', ?, ?)`,
		jobID, strings.ToUpper(seed), window, s.now().UTC().Format(timeLayout), user)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob returns one job row, nil when absent.
func (s *Store) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM jobs WHERE job_id = ?`, jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &rec, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	recs := []JobRecord{}
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM jobs ORDER BY created_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return recs, nil
}

// UpdateJobStatus updates status and optionally progress, total and error.
// Terminal statuses also stamp completed_at.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status string, progress, total *int, errMsg *string) error {
	sets := []string{"status = ?"}
	args := []interface{}{status}

	if progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *progress)
	}
	if total != nil {
		sets = append(sets, "total_candidates = ?")
		args = append(args, *total)
	}
	if errMsg != nil {
		sets = append(sets, "error = ?")
		args = append(args, *errMsg)
	}
	if status == "completed" || status == "failed" {
		sets = append(sets, "completed_at = ?")
		args = append(args, s.now().UTC().Format(timeLayout))
	}
	args = append(args, jobID)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE job_id = ?", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job and its extraction and rankings.
func (s *Store) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM rankings WHERE job_id = ?`, jobID); err != nil {
		return false, fmt.Errorf("failed to delete rankings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extractions WHERE job_id = ?`, jobID); err != nil {
		return false, fmt.Errorf("failed to delete extraction: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveExtraction stores the extraction payload of a job, replacing any
// previous one.
func (s *Store) SaveExtraction(ctx context.Context, jobID string, data interface{}) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO extractions (job_id, data) VALUES (?, ?)`,
		jobID, string(blob))
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// GetExtraction decodes the extraction payload into out. Returns false when
// the job has no extraction.
func (s *Store) GetExtraction(ctx context.Context, jobID string, out interface{}) (bool, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, `SELECT data FROM extractions WHERE job_id = ?`, jobID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get extraction: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return false, fmt.Errorf("failed to decode extraction: %w", err)
	}
	return true, nil
}

// SaveRanking appends a ranking for a job together with the weights that
// produced it. Rescoring a job keeps history.
func (s *Store) SaveRanking(ctx context.Context, jobID string, weights score.Weights, data interface{}) error {
	weightsBlob, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode ranking: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rankings (job_id, weights, data, created_at) VALUES (?, ?, ?, ?)`,
		jobID, string(weightsBlob), string(blob), s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save ranking: %w", err)
	}
	return nil
}

// LatestRanking decodes the most recent ranking of a job into out. Returns
// false when the job has none.
func (s *Store) LatestRanking(ctx context.Context, jobID string, out interface{}) (bool, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob,
		`SELECT data FROM rankings WHERE job_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, jobID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get ranking: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return false, fmt.Errorf("failed to decode ranking: %w", err)
	}
	return true, nil
}

// SetConfig stores a JSON-encoded config value under key.
func (s *Store) SetConfig(ctx context.Context, key string, value interface{}) error {
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode config %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
		key, string(blob))
	if err != nil {
		return fmt.Errorf("failed to save config %q: %w", key, err)
	}
	return nil
}

// GetConfig decodes a config value into out. Returns false when unset.
func (s *Store) GetConfig(ctx context.Context, key string, out interface{}) (bool, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, `SELECT value FROM config WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get config %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return false, fmt.Errorf("failed to decode config %q: %w", key, err)
	}
	return true, nil
}

// ScoringConfig returns the stored scoring configuration, falling back to
// the defaults for anything unset.
func (s *Store) ScoringConfig(ctx context.Context) (*score.Config, error) {
	cfg := score.DefaultConfig()
	if _, err := s.GetConfig(ctx, "weights", &cfg.Weights); err != nil {
		return nil, err
	}
	if _, err := s.GetConfig(ctx, "thresholds", &cfg.Thresholds); err != nil {
		return nil, err
	}
	if _, err := s.GetConfig(ctx, "penalties", &cfg.Penalties); err != nil {
		return nil, err
	}
	if _, err := s.GetConfig(ctx, "bonuses", &cfg.Bonuses); err != nil {
		return nil, err
	}
	if _, err := s.GetConfig(ctx, "related_groups", &cfg.RelatedGroups); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetWeights stores the default scoring weights.
func (s *Store) SetWeights(ctx context.Context, w score.Weights) error {
	return s.SetConfig(ctx, "weights", w)
}

// TopResults returns the stored ranking size, or fallback when unset.
func (s *Store) TopResults(ctx context.Context, fallback int) (int, error) {
	var top int
	ok, err := s.GetConfig(ctx, "top_results", &top)
	if err != nil {
		return 0, err
	}
	if !ok || top <= 0 {
		return fallback, nil
	}
	return top, nil
}

// SetTopResults stores the default ranking size.
func (s *Store) SetTopResults(ctx context.Context, top int) error {
	return s.SetConfig(ctx, "top_results", top)
}

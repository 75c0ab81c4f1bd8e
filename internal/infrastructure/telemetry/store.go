// Package telemetry provides the execution report store. Reports are
// process-local observability data; the belief model itself is never
// persisted.
package telemetry

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Report is one row of execution telemetry.
type Report struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"taskId"`
	Kind      string  `json:"kind"`
	Plan      string  `json:"plan"`
	Predicted float64 `json:"predicted"`
	Observed  float64 `json:"observed"`
	Explored  bool    `json:"explored"`
	LatencyNS int64   `json:"latencyNs"`
	Timestamp int64   `json:"timestamp"`
}

// Store records execution reports in SQLite, falling back to an in-memory
// slice when no path is given or the database cannot be opened.
type Store struct {
	mu          sync.RWMutex
	dbPath      string
	db          *sql.DB
	reports     []Report
	initialized bool
	useInMemory bool
}

// Option configures the Store.
type Option func(*Store)

// WithInMemory forces the in-memory backend.
func WithInMemory() Option {
	return func(s *Store) { s.useInMemory = true }
}

// NewStore creates a report store. An empty or ":memory:" path selects the
// in-memory backend.
func NewStore(dbPath string, opts ...Option) *Store {
	s := &Store{dbPath: dbPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database and creates the schema. Open failures fall
// back to in-memory storage rather than failing the engine.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if s.useInMemory || s.dbPath == "" || s.dbPath == ":memory:" {
		s.useInMemory = true
		s.initialized = true
		return nil
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		s.useInMemory = true
		s.initialized = true
		return nil
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			plan TEXT NOT NULL,
			predicted REAL NOT NULL,
			observed REAL NOT NULL,
			explored INTEGER NOT NULL,
			latency_ns INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind);
		CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);
	`)
	if err != nil {
		db.Close()
		s.useInMemory = true
		s.initialized = true
		return nil
	}

	s.db = db
	s.initialized = true
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	s.reports = nil
	s.initialized = false
	return nil
}

// Append stores one report, assigning an id and timestamp when absent.
func (s *Store) Append(r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}

	if s.useInMemory || s.db == nil {
		s.reports = append(s.reports, r)
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO reports (id, task_id, kind, plan, predicted, observed, explored, latency_ns, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Kind, r.Plan, r.Predicted, r.Observed, boolToInt(r.Explored), r.LatencyNS, r.Timestamp,
	)
	return err
}

// Recent returns up to n reports, newest first.
func (s *Store) Recent(n int) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	if s.useInMemory || s.db == nil {
		out := make([]Report, 0, n)
		for i := len(s.reports) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, s.reports[i])
		}
		return out, nil
	}

	rows, err := s.db.Query(
		`SELECT id, task_id, kind, plan, predicted, observed, explored, latency_ns, timestamp
		 FROM reports ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var explored int
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Kind, &r.Plan, &r.Predicted, &r.Observed, &explored, &r.LatencyNS, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Explored = explored != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored reports.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.useInMemory || s.db == nil {
		return len(s.reports), nil
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

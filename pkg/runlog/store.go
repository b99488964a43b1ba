package runlog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailroute/mailroute/pkg/logging"
)

// Store persists run records. The store is append-only: records are never
// updated or deleted.
type Store interface {
	Append(ctx context.Context, rec *RunRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]RunRecord, error)
}

// PostgresStore persists run records in the runs table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore creates a store on the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.F("component", "runlog")),
	}
}

// Append inserts a run record. A zero ID is assigned before insert.
func (s *PostgresStore) Append(ctx context.Context, rec *RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, user_id, run_time, data_type, source, destination, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.RunTime, rec.DataType, rec.Source, rec.Destination, string(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// ListByUser returns the most recent runs for a user, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, run_time, data_type, source, destination, status
		FROM runs
		WHERE user_id = $1
		ORDER BY run_time DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RunTime, &rec.DataType, &rec.Source, &rec.Destination, &status); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		rec.Status = Status(status)
		records = append(records, rec)
	}

	return records, rows.Err()
}

var _ Store = (*PostgresStore)(nil)

// MemoryStore is an in-memory Store for tests and for running without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	records []RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec *RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RunRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RunTime.After(out[j].RunTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

// Log appends a run record best-effort: failures are logged, never returned.
// Audit persistence must not change the outcome of a pipeline run.
func Log(ctx context.Context, store Store, logger logging.Logger, rec *RunRecord) {
	if err := store.Append(ctx, rec); err != nil {
		logger.Error("Failed to persist run record",
			logging.Err(err),
			logging.F("user_id", rec.UserID),
			logging.F("status", string(rec.Status)))
	}
}

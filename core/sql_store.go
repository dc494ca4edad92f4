package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

const (
	sqlCreateResources = `CREATE TABLE IF NOT EXISTS ord_resources (
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	marked_for_cleanup BOOLEAN NOT NULL DEFAULT false
)`
	sqlCreateAgents = `CREATE TABLE IF NOT EXISTS agent_records (
	agent_id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	sqlListResources = `SELECT document FROM ord_resources ORDER BY id`
	sqlListAgents    = `SELECT document FROM agent_records ORDER BY agent_id`
	sqlUpsert        = `INSERT INTO ord_resources (id, document, updated_at, marked_for_cleanup)
VALUES ($1, $2, $3, false)
ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at, marked_for_cleanup = false`
	sqlMark = `UPDATE ord_resources SET marked_for_cleanup = true WHERE id = $1`
)

// SQLStore is a ResourceStore backed by Postgres through the pgx stdlib driver.
// Records are kept as JSON documents so the record shape check applies the
// same way it does for the Redis store.
type SQLStore struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// NewSQLStore opens a Postgres connection pool and verifies it.
func NewSQLStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v: %w", err, ErrInvalidConfiguration)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %v: %w", err, ErrStoreUnavailable)
	}
	return NewSQLStoreWithDB(db), nil
}

// NewSQLStoreWithDB wraps an existing *sql.DB.
func NewSQLStoreWithDB(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: &NoOpLogger{},
		now:    time.Now,
	}
}

// SetLogger configures the logger for this store
func (s *SQLStore) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the registry tables if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateResources, sqlCreateAgents} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create registry tables: %v: %w", err, ErrStoreUnavailable)
		}
	}
	return nil
}

func (s *SQLStore) queryDocuments(ctx context.Context, query string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %v: %w", err, ErrStoreUnavailable)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan failed: %v: %w", err, ErrStoreUnavailable)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %v: %w", err, ErrStoreUnavailable)
	}
	return docs, nil
}

// ListResources implements ResourceStore.
func (s *SQLStore) ListResources(ctx context.Context) ([]*Resource, error) {
	docs, err := s.queryDocuments(ctx, sqlListResources)
	if err != nil {
		return nil, err
	}
	out := make([]*Resource, 0, len(docs))
	for _, doc := range docs {
		res, err := DecodeResource(doc)
		if err != nil {
			s.logger.Warn("Skipping unreadable resource row", map[string]interface{}{
				"operation": "store_list_resources",
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// ListAgentRecords implements ResourceStore.
func (s *SQLStore) ListAgentRecords(ctx context.Context) ([]*AgentRecord, error) {
	docs, err := s.queryDocuments(ctx, sqlListAgents)
	if err != nil {
		return nil, err
	}
	out := make([]*AgentRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := DecodeAgentRecord(doc)
		if err != nil {
			s.logger.Warn("Skipping unreadable agent row", map[string]interface{}{
				"operation": "store_list_agents",
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertResource implements ResourceStore. Re-registering clears a cleanup mark.
func (s *SQLStore) UpsertResource(ctx context.Context, resource *Resource) error {
	if resource == nil || resource.ID == "" {
		return fmt.Errorf("resource id is required: %w", ErrInvalidResource)
	}
	doc, err := EncodeRegistration(resource)
	if err != nil {
		return fmt.Errorf("failed to marshal resource %s: %w", resource.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, sqlUpsert, resource.ID, doc, s.now().UTC()); err != nil {
		s.logger.Error("Failed to upsert resource", map[string]interface{}{
			"operation":   "store_upsert",
			"resource_id": resource.ID,
			"error":       err.Error(),
		})
		return fmt.Errorf("failed to upsert resource %s: %v: %w", resource.ID, err, ErrStoreUnavailable)
	}
	return nil
}

// MarkForCleanup implements CleanupMarker.
func (s *SQLStore) MarkForCleanup(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlMark, id); err != nil {
		return fmt.Errorf("failed to mark %s for cleanup: %v: %w", id, err, ErrStoreUnavailable)
	}
	return nil
}

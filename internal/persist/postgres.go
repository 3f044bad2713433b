package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/secrets"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS swrcache_snapshots (
	name     TEXT PRIMARY KEY,
	payload  JSONB,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const loadSnapshot = `SELECT payload FROM swrcache_snapshots WHERE name = $1`

const saveSnapshot = `
INSERT INTO swrcache_snapshots (name, payload, saved_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`

// PostgresAdapter keeps named snapshots in a jsonb column, one row per name.
type PostgresAdapter struct {
	db   *sql.DB
	name string
}

// OpenPostgres connects to dsn, ensures the snapshot table exists and
// returns an adapter for the snapshot called name.
func OpenPostgres(ctx context.Context, dsn, name string) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres %s: %w", secrets.MaskDSN(dsn), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", secrets.MaskDSN(dsn), err)
	}
	p := NewPostgres(db, name)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.WithComponent("persist").Info("Postgres snapshot store ready", "dsn", secrets.MaskDSN(dsn), "name", name)
	return p, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB, name string) *PostgresAdapter {
	return &PostgresAdapter{db: db, name: name}
}

// EnsureSchema creates the snapshot table if needed.
func (p *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createSnapshotTable); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Load reads the snapshot row.
func (p *PostgresAdapter) Load(ctx context.Context) ([]byte, error) {
	var payload pqtype.NullRawMessage
	err := p.db.QueryRowContext(ctx, loadSnapshot, p.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", p.name, err)
	}
	if !payload.Valid || len(payload.RawMessage) == 0 {
		return nil, ErrNoSnapshot
	}
	return payload.RawMessage, nil
}

// Save upserts the snapshot row.
func (p *PostgresAdapter) Save(ctx context.Context, snapshot []byte) error {
	payload := pqtype.NullRawMessage{RawMessage: snapshot, Valid: len(snapshot) > 0}
	if _, err := p.db.ExecContext(ctx, saveSnapshot, p.name, payload); err != nil {
		return fmt.Errorf("save snapshot %q: %w", p.name, err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresAdapter) Close() error {
	return p.db.Close()
}

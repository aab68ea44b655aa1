package slot

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/potholewatch/potholewatch/internal/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS slot_entries (
	slot_key   TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores slots in a single table through the pgx stdlib driver.
type Postgres struct {
	db    *sql.DB
	quota int64
}

// NewPostgres connects with dsn and ensures the slot table exists.
func NewPostgres(ctx context.Context, dsn string, quota int64) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, pgError(err, "", "open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, pgError(err, "", "ping")
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, pgError(err, "", "migrate")
	}
	return &Postgres{db: db, quota: quota}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM slot_entries WHERE slot_key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pgError(err, key, "get")
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if p.quota > 0 && int64(len(value)) > p.quota {
		return quotaError(p.Name(), key, int64(len(value)), p.quota)
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO slot_entries (slot_key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (slot_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return pgError(err, key, "set")
	}
	return nil
}

func pgError(err error, key, op string) error {
	b := errors.New(err).
		Component("slot").
		Category(errors.CategoryDatabase).
		Context("backend", "postgres").
		Context("operation", op)
	if key != "" {
		b = b.Context("key", key)
	}
	return b.Build()
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error { return p.db.Close() }

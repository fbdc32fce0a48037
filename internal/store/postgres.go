package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/p2pconsole/internal/domain"
)

// Schema creates the audit table. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS admin_actions (
	id          BIGSERIAL PRIMARY KEY,
	request_id  UUID NOT NULL UNIQUE,
	admin_id    BIGINT NOT NULL,
	kind        TEXT NOT NULL,
	target_id   BIGINT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS admin_actions_created_at_idx ON admin_actions (created_at DESC);
`

// Recorder keeps the trail of admin actions.
type Recorder interface {
	Record(ctx context.Context, e domain.AuditEntry) error
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

// Record inserts e. A request id that was already recorded is ignored.
func (s *Store) Record(ctx context.Context, e domain.AuditEntry) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO admin_actions (request_id, admin_id, kind, target_id, reason, outcome, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.RequestID, e.AdminID, e.Kind, e.TargetID, e.Reason, e.Outcome, e.Message,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			slog.Debug("audit entry already recorded", "request_id", e.RequestID)
			return nil
		}
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

// Recent lists the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Db.Query(ctx,
		`SELECT request_id::text, admin_id, kind, target_id, reason, outcome, message, created_at
		 FROM admin_actions ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.RequestID, &e.AdminID, &e.Kind, &e.TargetID, &e.Reason, &e.Outcome, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Nop is used when no audit database is configured.
type Nop struct{}

func (Nop) Record(context.Context, domain.AuditEntry) error { return nil }

func (Nop) Recent(context.Context, int) ([]domain.AuditEntry, error) { return nil, nil }

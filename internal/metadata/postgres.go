package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"docpipe/internal/logger"
	"docpipe/pkg/models"
)

type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,40}$`)

// PostgresStore keeps file records in a single table. A row trigger publishes
// inserts and text changes on a NOTIFY channel named after the table.
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	channel string
	log     zerolog.Logger
}

// Open creates a pgx pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*PostgresStore, error) {
	log := logger.WithComponent("postgres-store")

	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docpipe"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Str("table", cfg.Table).Msg("Connected to metadata store")
	return NewPostgresStore(pool, cfg.Table), nil
}

// NewPostgresStore wraps an existing pool. table must already be validated.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		table:   table,
		channel: table + "_changes",
		log:     logger.WithComponent("postgres-store"),
	}
}

// Migrate creates the table, the notify function and the change trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.migrationSQL()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	s.log.Info().Str("table", s.table).Str("channel", s.channel).Msg("Metadata schema migrated")
	return nil
}

func (s *PostgresStore) migrationSQL() string {
	table := pgx.Identifier{s.table}.Sanitize()
	fn := pgx.Identifier{s.table + "_notify_change"}.Sanitize()
	trigger := pgx.Identifier{s.table + "_change_trigger"}.Sanitize()

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    file_id      TEXT PRIMARY KEY,
    callback_url TEXT NOT NULL,
    text         TEXT[],
    status       TEXT NOT NULL DEFAULT 'registered',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'INSERT' OR NEW.text IS DISTINCT FROM OLD.text THEN
        PERFORM pg_notify('%[4]s', json_build_object('file_id', NEW.file_id, 'op', TG_OP)::text);
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS %[3]s ON %[1]s;
CREATE TRIGGER %[3]s
    AFTER INSERT OR UPDATE ON %[1]s
    FOR EACH ROW EXECUTE FUNCTION %[2]s();
`, table, fn, trigger, s.channel)
}

func (s *PostgresStore) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	query := fmt.Sprintf(`SELECT file_id, callback_url, text, status, created_at, updated_at FROM %s WHERE file_id = $1`,
		pgx.Identifier{s.table}.Sanitize())

	var rec models.FileRecord
	var status string
	err := s.pool.QueryRow(ctx, query, fileID).Scan(
		&rec.FileID, &rec.CallbackURL, &rec.Text, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fileID, err)
	}
	rec.Status = models.Status(status)
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *models.FileRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (file_id, callback_url, text, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (file_id) DO UPDATE SET
    callback_url = EXCLUDED.callback_url,
    text         = EXCLUDED.text,
    status       = EXCLUDED.status,
    updated_at   = NOW()`, pgx.Identifier{s.table}.Sanitize())

	var text []string
	if len(rec.Text) > 0 {
		text = rec.Text
	}
	status := rec.Status
	if status == "" {
		status = models.StatusRegistered
	}

	if _, err := s.pool.Exec(ctx, query, rec.FileID, rec.CallbackURL, text, string(status)); err != nil {
		return fmt.Errorf("put %s: %w", rec.FileID, err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, fileID string, status models.Status) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE file_id = $1`,
		pgx.Identifier{s.table}.Sanitize())

	tag, err := s.pool.Exec(ctx, query, fileID, string(status))
	if err != nil {
		return fmt.Errorf("set status %s: %w", fileID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status %s: %w", fileID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, fileID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, fileID); err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// Listen holds one pooled connection on LISTEN and hands every notification
// to handler until ctx is canceled or the connection fails.
func (s *PostgresStore) Listen(ctx context.Context, handler ChangeHandler) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.log.Info().Str("channel", s.channel).Msg("Listening for metadata changes")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var change Change
		if err := json.Unmarshal([]byte(notification.Payload), &change); err != nil || change.FileID == "" {
			s.log.Warn().Str("payload", notification.Payload).Msg("Ignoring malformed change notification")
			continue
		}
		if err := handler(ctx, change); err != nil {
			s.log.Warn().Err(err).Str("file_id", change.FileID).Msg("Change handler failed")
		}
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

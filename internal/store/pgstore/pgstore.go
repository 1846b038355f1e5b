// Package pgstore implements the store contract on PostgreSQL. The tree
// lives in a single key/value table; live subscriptions use LISTEN/NOTIFY
// with a row trigger announcing changed paths.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fosdem-friends/talktrack/internal/store"
	"github.com/fosdem-friends/talktrack/internal/tracing"
)

// notifyChannel is the NOTIFY channel the change trigger fires on.
const notifyChannel = "talktrack_changes"

// Listener reconnect backoff bounds, passed to pq.NewListener.
const (
	listenerMinInterval = time.Second
	listenerMaxInterval = 30 * time.Second
)

// retryDelay spaces out snapshot rebuilds after a transient List failure.
const retryDelay = time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS talktrack_kv (
	path       text PRIMARY KEY,
	value      bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION talktrack_kv_notify() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('talktrack_changes', OLD.path);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('talktrack_changes', NEW.path);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS talktrack_kv_changed ON talktrack_kv;
CREATE TRIGGER talktrack_kv_changed
AFTER INSERT OR UPDATE OR DELETE ON talktrack_kv
FOR EACH ROW EXECUTE FUNCTION talktrack_kv_notify();
`

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection. The DSN is kept
// for the dedicated listener connections Watch opens.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore ping: %w", err)
	}
	return &Store{db: db, dsn: dsn, logger: logger}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle. Active watches keep their own
// listener connections and stop via their contexts.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the key/value table and change trigger if missing.
// Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pgstore schema: %w", err)
	}
	return nil
}

// Get reads the value at an exact path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "talktrack_kv", tracing.DBOperationQuery)
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM talktrack_kv WHERE path = $1`, path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		// A missing key is an answer, not a database failure.
		endSpan(nil)
		return nil, store.ErrNotFound
	}
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("pgstore get %s: %w", path, err)
	}
	return value, nil
}

// List reads every value under prefix.
func (s *Store) List(ctx context.Context, prefix string) (snap store.Snapshot, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "talktrack_kv", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM talktrack_kv WHERE path LIKE $1 ESCAPE '\'`,
		escapeLike(prefix)+`/%`)
	if err != nil {
		return nil, fmt.Errorf("pgstore list %s: %w", prefix, err)
	}
	defer rows.Close()

	snap = make(store.Snapshot)
	for rows.Next() {
		var path string
		var value []byte
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("pgstore list scan: %w", err)
		}
		snap[strings.TrimPrefix(path, prefix+"/")] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore list rows: %w", err)
	}
	return snap, nil
}

// escapeLike escapes LIKE metacharacters in a path so group names containing
// % or _ cannot widen the match.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Set upserts a value at a path. The row trigger announces the change.
func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "talktrack_kv", tracing.DBOperationExec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO talktrack_kv (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		path, value)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("pgstore set %s: %w", path, err)
	}
	return nil
}

// Delete removes the value at a path.
func (s *Store) Delete(ctx context.Context, path string) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "talktrack_kv", tracing.DBOperationDelete)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM talktrack_kv WHERE path = $1`, path)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("pgstore delete %s: %w", path, err)
	}
	return nil
}

// Now returns the database server's clock.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("pgstore now: %w", err)
	}
	return now.UTC(), nil
}

// Watch subscribes to a subtree on a dedicated LISTEN connection.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan store.Snapshot, error) {
	listener := pq.NewListener(s.dsn, listenerMinInterval, listenerMaxInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				s.logger.Warn("pgstore listener event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()))
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("pgstore listen: %w", err)
	}

	notify := make(chan struct{}, 1)
	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil notification signals a listener reconnect; changes
				// may have been missed, so rebuild unconditionally.
				if n == nil || store.UnderPrefix(n.Extra, prefix) {
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	out := make(chan store.Snapshot)
	go func() {
		defer close(out)
		for {
			snap, err := s.List(ctx, prefix)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("watch snapshot rebuild failed",
					slog.String("prefix", prefix),
					slog.String("error", err.Error()))
				select {
				case <-time.After(retryDelay):
					continue
				case <-ctx.Done():
					return
				}
			}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

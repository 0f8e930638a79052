package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lists (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	key   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS lists_key_id ON lists(key, id);
CREATE TABLE IF NOT EXISTS hashes (
	key   TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);
`

// sqlitePollInterval bounds how long a blocked pop waits between scans.
const sqlitePollInterval = 50 * time.Millisecond

// SQLite is a single-host Broker persisted in a SQLite database file. Every
// write runs in an immediate transaction, so several processes sharing the
// file see the same atomicity as with a network broker. Blocking pops poll.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and initializes) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create broker dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite broker: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite broker: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) Del(ctx context.Context, keys ...string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			for _, stmt := range []string{
				`DELETE FROM kv WHERE key = ?`,
				`DELETE FROM lists WHERE key = ?`,
				`DELETE FROM hashes WHERE key = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, k); err != nil {
					return fmt.Errorf("del %s: %w", k, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLite) RPush(ctx context.Context, key string, values ...string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, v := range values {
			if _, err := tx.ExecContext(ctx, `INSERT INTO lists(key, value) VALUES(?, ?)`, key, v); err != nil {
				return fmt.Errorf("rpush %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *SQLite) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLite) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM lists WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("lrange %s: %w", key, err)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	lo, hi, ok := lrangeBounds(start, stop, int64(len(all)))
	if !ok {
		return []string{}, nil
	}
	return all[lo:hi], nil
}

// popOnce removes the head of the first non-empty list in a single transaction.
func (s *SQLite) popOnce(ctx context.Context, keys []string) (string, string, error) {
	var key, value string
	err := s.tx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			var id int64
			err := tx.QueryRowContext(ctx,
				`SELECT id, value FROM lists WHERE key = ? ORDER BY id LIMIT 1`, k).Scan(&id, &value)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("pop %s: %w", k, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id); err != nil {
				return fmt.Errorf("pop %s: %w", k, err)
			}
			key = k
			return nil
		}
		return ErrNil
	})
	return key, value, err
}

func (s *SQLite) BlockingPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		key, value, err := s.popOnce(ctx, keys)
		if !errors.Is(err, ErrNil) {
			return key, value, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", ErrNil
		}
		select {
		case <-time.After(min(remaining, sqlitePollInterval)):
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func (s *SQLite) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM hashes WHERE key = ? AND field = ?`, key, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	return v, nil
}

func hsetTx(ctx context.Context, tx *sql.Tx, key, field, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO hashes(key, field, value) VALUES(?, ?, ?)
		 ON CONFLICT(key, field) DO UPDATE SET value = excluded.value`,
		key, field, value)
	if err != nil {
		return fmt.Errorf("hset %s %s: %w", key, field, err)
	}
	return nil
}

func (s *SQLite) HSet(ctx context.Context, key, field, value string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return hsetTx(ctx, tx, key, field, value)
	})
}

func (s *SQLite) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		out[f] = v
	}
	return out, rows.Err()
}

func (s *SQLite) HDel(ctx context.Context, key string, fields ...string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, f := range fields {
			if _, err := tx.ExecContext(ctx, `DELETE FROM hashes WHERE key = ? AND field = ?`, key, f); err != nil {
				return fmt.Errorf("hdel %s %s: %w", key, f, err)
			}
		}
		return nil
	})
}

func (s *SQLite) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	var cur int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var v string
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM hashes WHERE key = ? AND field = ?`, key, field).Scan(&v)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("hincrby %s %s: %w", key, field, err)
		default:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("hincrby %s %s: value is not an integer", key, field)
			}
			cur = parsed
		}
		cur += n
		return hsetTx(ctx, tx, key, field, strconv.FormatInt(cur, 10))
	})
	return cur, err
}

func (s *SQLite) HSwap(ctx context.Context, key, field, value string) (string, bool, error) {
	var old string
	var existed bool
	err := s.tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM hashes WHERE key = ? AND field = ?`, key, field).Scan(&old)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("hswap %s %s: %w", key, field, err)
		default:
			existed = true
		}
		return hsetTx(ctx, tx, key, field, value)
	})
	return old, existed, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

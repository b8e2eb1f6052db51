package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	store       TEXT    NOT NULL,
	cache_key   TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	status      INTEGER NOT NULL,
	header_json TEXT    NOT NULL,
	body        BLOB    NOT NULL,
	stored_at   INTEGER NOT NULL,
	PRIMARY KEY (store, cache_key)
);`

// NewSQLiteStorage 打开（必要时创建）basePath/swcache.db 作为存储。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dsn := filepath.Join(abs, "swcache.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Lookup(ctx context.Context, name string) (Store, bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return nil, false, err
	}
	return &sqliteStore{db: s.db, name: name}, true, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM stores WHERE name = ?`, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) DeleteFunc(ctx context.Context, pred func(string) bool) ([]string, error) {
	return deleteMatching(ctx, s, pred)
}

func (s *sqliteStorage) Match(ctx context.Context, key Key) (*Response, error) {
	return matchAcross(ctx, s, key)
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func (st *sqliteStore) Name() string {
	return st.name
}

func (st *sqliteStore) Match(ctx context.Context, key Key) (*Response, error) {
	if !key.Cacheable() {
		return nil, ErrNotFound
	}
	row := st.db.QueryRowContext(ctx,
		`SELECT url, status, header_json, body, stored_at FROM entries WHERE store = ? AND cache_key = ?`,
		st.name, string(key),
	)

	var (
		resp       Response
		headerJSON string
		storedAt   int64
	)
	if err := row.Scan(&resp.URL, &resp.Status, &headerJSON, &resp.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("match entry: %w", err)
	}
	resp.Header = http.Header{}
	if headerJSON != "" {
		if err := json.Unmarshal([]byte(headerJSON), &resp.Header); err != nil {
			return nil, fmt.Errorf("decode header: %w", err)
		}
	}
	resp.StoredAt = time.UnixMilli(storedAt).UTC()
	return &resp, nil
}

func (st *sqliteStore) Put(ctx context.Context, key Key, resp *Response) error {
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}
	if resp == nil {
		return errors.New("nil response")
	}
	headerJSON, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	// store 行不存在时不写入，避免已删除的 store 残留条目。
	res, err := st.db.ExecContext(ctx,
		`INSERT INTO entries (store, cache_key, url, status, header_json, body, stored_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)
		 ON CONFLICT(store, cache_key) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			header_json = excluded.header_json,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		st.name, string(key), resp.URL, resp.Status, string(headerJSON), body, time.Now().UnixMilli(), st.name,
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, st.name)
	}
	return nil
}

func (st *sqliteStore) Delete(ctx context.Context, key Key) (bool, error) {
	res, err := st.db.ExecContext(ctx, `DELETE FROM entries WHERE store = ? AND cache_key = ?`, st.name, string(key))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (st *sqliteStore) Keys(ctx context.Context) ([]Key, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT cache_key FROM entries WHERE store = ? ORDER BY cache_key`, st.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, Key(key))
	}
	return keys, rows.Err()
}

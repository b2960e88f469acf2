package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "kibot/pkg/logx"
)

//go:embed migrations.sql
var schema string

// sqliteStore keeps every document as one row of the documents table.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// sqliteDSN passes pragmas through the modernc driver so every pooled
// connection gets them, not only the first.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; documents are small and saves are rare.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	var body []byte
	switch err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, name).Scan(&body); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return body, nil
}

func (s *sqliteStore) Save(ctx context.Context, name string, doc []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	const upsert = `INSERT INTO documents(name, body, updated_at) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, upsert, name, doc, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	s.log.Debug("document saved", logx.String("name", name), logx.Int("bytes", len(doc)))
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

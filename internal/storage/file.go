package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "kibot/pkg/logx"
)

// fileStore keeps one file per document:
//
//	<dir>/<name>.json
//
// Writes go to <name>.json.tmp first and are renamed over the target, so a
// crash mid-write leaves the previous document intact.
type fileStore struct {
	log logx.Logger
	dir string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Load(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) Save(ctx context.Context, name string, doc []byte) error {
	_ = ctx
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(name)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		return err
	}
	s.log.Debug("document saved", logx.String("name", name), logx.Int("bytes", len(doc)))
	return nil
}

func (s *fileStore) Close() error { return nil }

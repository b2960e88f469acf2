package storage

import (
	"context"
	"errors"
	"strings"

	logx "kibot/pkg/logx"
)

// Store is the minimal persistence API used by subscription and dedup stores.
type Store interface {
	// Load returns the stored document, or ErrNotFound when it was never saved.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save replaces the whole document.
	Save(ctx context.Context, name string, doc []byte) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("document name required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.New("invalid document name: " + name)
	}
	return nil
}

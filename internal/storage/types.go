package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("document not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": one JSON document per name under Path (a directory)
//   - "sqlite": SQLite database file at Path
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

package app

import (
	"fmt"
	"strings"
	"time"

	"kibot/internal/config"
	"kibot/internal/storage"
)

const defaultDataDir = "./data"

// mapStorageConfig defaults to one JSON file per document under ./data.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultDataDir}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultDataDir
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

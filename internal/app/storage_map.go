package app

import (
	"strings"
	"time"

	"checkinbot/internal/config"
	"checkinbot/internal/storage"
)

const defaultStoragePath = "data/checkinbot.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStoragePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

package app

import (
	"jobsched/internal/config"
	"jobsched/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg == nil {
		return storage.Config{}, false
	}
	sc := cfg.Storage
	driver := sc.DriverName()
	if driver == config.StorageNone {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        sc.Path,
		BusyTimeout: sc.BusyTimeoutDuration(),
	}, true
}

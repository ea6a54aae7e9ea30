package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the root of the YAML configuration.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	DB     `yaml:"db"`
}

type DB struct {
	Memtable    MemtableConfig    `yaml:"memtable"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Journal     JournalConfig     `yaml:"journal"`
}

type MemtableConfig struct {
	// FlushThresholdBytes is the memtable size that triggers a flush.
	FlushThresholdBytes int64 `yaml:"flush_threshold"`
}

type PersistenceConfig struct {
	RootPath string `yaml:"path"`
	// CompactThreshold starts a background compaction once this many
	// SSTables exist; 0 disables it.
	CompactThreshold int `yaml:"compact_threshold"`
}

type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sync fsyncs the journal after every write.
	Sync bool `yaml:"sync"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		DB: DB{
			Memtable: MemtableConfig{
				FlushThresholdBytes: 4 << 20,
			},
			Persistence: PersistenceConfig{
				RootPath:         "./data",
				CompactThreshold: 0,
			},
			Journal: JournalConfig{
				Enabled: true,
				Sync:    false,
			},
		},
	}
}

var ErrInvalidConfig = errors.New("invalid config")

var levels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

func (c Config) Validate() error {
	var errs []error
	if c.Memtable.FlushThresholdBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: db.memtable.flush_threshold is negative", ErrInvalidConfig))
	}
	if c.Persistence.CompactThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w: db.persistence.compact_threshold is negative", ErrInvalidConfig))
	}
	if c.Persistence.RootPath == "" {
		errs = append(errs, fmt.Errorf("%w: db.persistence.path is empty", ErrInvalidConfig))
	}
	if c.Logger.Level != "" && !isLevel(c.Logger.Level) {
		errs = append(errs, fmt.Errorf("%w: logger.level %q", ErrInvalidConfig, c.Logger.Level))
	}
	return errors.Join(errs...)
}

func isLevel(s string) bool {
	for _, l := range levels {
		if strings.EqualFold(s, l) {
			return true
		}
	}
	return false
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse parses a raw JSON config into Config, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the provided config to disk at the given path (pretty-printed JSON).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("save config: path is empty")
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Mirror.Extension == "" {
		cfg.Mirror.Extension = ".xml"
	}
	if !strings.HasPrefix(cfg.Mirror.Extension, ".") {
		cfg.Mirror.Extension = "." + cfg.Mirror.Extension
	}
	if cfg.Mirror.RetryMax == 0 {
		cfg.Mirror.RetryMax = 3
	}
	if cfg.Mirror.RetryBackoffMs <= 0 {
		cfg.Mirror.RetryBackoffMs = 500
	}
	if cfg.Mirror.Workers <= 0 {
		cfg.Mirror.Workers = 2
	}
	if cfg.Mirror.DebounceMs < 0 {
		cfg.Mirror.DebounceMs = 0
	}
	if cfg.Mirror.StabilizationMs < 0 {
		cfg.Mirror.StabilizationMs = 0
	}
	if cfg.Mirror.DuplicateWindowMs == 0 {
		cfg.Mirror.DuplicateWindowMs = 2000
	}
	if cfg.Mirror.CensusIntervalSec == 0 {
		cfg.Mirror.CensusIntervalSec = 60
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "backup.log"
	}
	if cfg.Logging.MaxBytes <= 0 {
		cfg.Logging.MaxBytes = 1 << 20
	}
	if cfg.Logging.BackupCount < 0 {
		cfg.Logging.BackupCount = 0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Runtime.StateDbPath == "" {
		cfg.Runtime.StateDbPath = filepath.Join(cfg.Paths.LogDir, "state.db")
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8080"
	}
}

// Validate performs the fatal startup checks: this is the only error class
// that may keep the service from entering its run loop. Everything that can
// go wrong later is handled per-file and surfaced through the journal.
func Validate(cfg *Config) error {
	if cfg.Version <= 0 {
		return errors.New("version must be > 0")
	}
	dirs := []struct {
		name string
		path string
	}{
		{"paths.sourceDir", cfg.Paths.SourceDir},
		{"paths.destDir", cfg.Paths.DestDir},
		{"paths.logDir", cfg.Paths.LogDir},
	}
	for _, d := range dirs {
		if d.path == "" {
			return fmt.Errorf("%s is required", d.name)
		}
		if !filepath.IsAbs(d.path) {
			return fmt.Errorf("%s must be absolute: %s", d.name, d.path)
		}
		info, err := os.Stat(d.path)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory: %s", d.name, d.path)
		}
	}
	for i := 0; i < len(dirs); i++ {
		for j := i + 1; j < len(dirs); j++ {
			if filepath.Clean(dirs[i].path) == filepath.Clean(dirs[j].path) {
				return fmt.Errorf("%s and %s must be distinct directories", dirs[i].name, dirs[j].name)
			}
		}
	}
	if err := checkReadable(cfg.Paths.SourceDir); err != nil {
		return fmt.Errorf("paths.sourceDir not readable: %w", err)
	}
	if err := checkWritable(cfg.Paths.DestDir); err != nil {
		return fmt.Errorf("paths.destDir not writable: %w", err)
	}
	if err := checkWritable(cfg.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.logDir not writable: %w", err)
	}
	if cfg.Mirror.Extension == "." {
		return errors.New("mirror.extension must not be empty")
	}
	if cfg.Mirror.RetryMax < 0 {
		return errors.New("mirror.retryMax must be >= 0")
	}
	if cfg.Logging.File == "" || cfg.Logging.File != filepath.Base(cfg.Logging.File) {
		return fmt.Errorf("logging.file must be a bare file name: %s", cfg.Logging.File)
	}
	if cfg.Runtime.StateDbPath != "" && !filepath.IsAbs(cfg.Runtime.StateDbPath) {
		return errors.New("runtime.stateDbPath must be absolute if set")
	}
	return nil
}

func checkReadable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// an empty directory returns io.EOF, which is fine
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

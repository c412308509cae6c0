package config

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Store holds the live session configuration. Sessions read it once when they
// are built; a reload only affects sessions created afterwards.
type Store struct {
	current atomic.Pointer[Config]
	path    string
}

// NewStore wraps an already loaded configuration. path may be empty when the
// configuration did not come from a file.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	if cfg == nil {
		cfg = Default()
	}
	s.current.Store(cfg)
	return s
}

// Get returns the current configuration. Callers must treat it as read-only.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Set replaces the current configuration.
func (s *Store) Set(cfg *Config) {
	if cfg != nil {
		s.current.Store(cfg)
	}
}

// Reload re-reads the backing file. On failure the previous configuration is kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.Set(cfg)
	return nil
}

// Follow reloads the store every time the watcher reports a change. It blocks
// until ctx ends and returns at once for a store without a file.
func (s *Store) Follow(ctx context.Context) {
	if s.path == "" {
		return
	}
	for range WatchConfig(ctx, s.path) {
		if err := s.Reload(); err != nil {
			slog.Warn("Config reload failed, keeping previous configuration", "file", s.path, "error", err)
			continue
		}
		slog.Info("Configuration reloaded", "file", s.path)
	}
}

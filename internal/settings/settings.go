// Package settings provides the asynchronously loaded user settings store
// read by the bridge before every round.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// ErrNotLoaded is returned by Set before the initial load finished.
var ErrNotLoaded = errors.New("settings: not loaded")

// Backend persists settings.
type Backend interface {
	Load(ctx context.Context) (map[string]interface{}, error)
	Save(ctx context.Context, key string, value interface{}) error
}

// Store is an in-memory view of a Backend with defaults. Values are
// available once Load completes; OnLoaded waits for that.
type Store struct {
	logger   *zap.Logger
	backend  Backend
	defaults map[string]interface{}

	mu     sync.RWMutex
	values map[string]interface{}

	loaded   chan struct{}
	loadOnce sync.Once
	loadErr  error
}

var _ schemas.SettingsStore = (*Store)(nil)

// NewStore creates a Store. Call Load (or Start) to populate it.
func NewStore(logger *zap.Logger, backend Backend, defaults map[string]interface{}) *Store {
	d := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Store{
		logger:   logger.Named("settings"),
		backend:  backend,
		defaults: d,
		values:   make(map[string]interface{}),
		loaded:   make(chan struct{}),
	}
}

// Start loads the backend in the background.
func (s *Store) Start(ctx context.Context) {
	go func() {
		if err := s.Load(ctx); err != nil {
			s.logger.Warn("Settings failed to load; using defaults.", zap.Error(err))
		}
	}()
}

// Load reads the backend once. A failed load still marks the store as
// loaded so readers fall back to defaults instead of blocking forever.
func (s *Store) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		defer close(s.loaded)
		values, err := s.backend.Load(ctx)
		if err != nil {
			s.loadErr = fmt.Errorf("loading settings: %w", err)
			return
		}
		s.mu.Lock()
		for k, v := range values {
			s.values[k] = v
		}
		s.mu.Unlock()
		s.logger.Debug("Settings loaded.", zap.Int("count", len(values)))
	})
	return s.loadErr
}

// OnLoaded blocks until the initial load finished or ctx is done.
func (s *Store) OnLoaded(ctx context.Context) error {
	select {
	case <-s.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsLoaded reports whether the initial load finished.
func (s *Store) IsLoaded() bool {
	select {
	case <-s.loaded:
		return true
	default:
		return false
	}
}

// Get returns the stored value for key, else its default, else nil.
func (s *Store) Get(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return s.defaults[key]
}

// Set stores value and persists it through the backend.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	if !s.IsLoaded() {
		return ErrNotLoaded
	}
	if err := s.backend.Save(ctx, key, value); err != nil {
		return fmt.Errorf("saving setting %q: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Bool reads key from store as a boolean. Strings such as "true" and "1"
// are accepted; anything unparseable is false.
func Bool(store schemas.SettingsStore, key string) bool {
	return cast.ToBool(store.Get(key))
}

// String reads key from store as a string; nil is "".
func String(store schemas.SettingsStore, key string) string {
	return cast.ToString(store.Get(key))
}

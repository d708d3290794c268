package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// interactionMode is the transient mode entered while the panel is shown.
// It ends once, on the escape gesture or when the panel is hidden.
type interactionMode struct {
	id     string
	active atomic.Bool
	once   sync.Once
	onExit func(ctx context.Context, m *interactionMode)
}

func newInteractionMode(onExit func(ctx context.Context, m *interactionMode)) *interactionMode {
	m := &interactionMode{id: uuid.NewString(), onExit: onExit}
	m.active.Store(true)
	return m
}

func (m *interactionMode) Active() bool { return m.active.Load() }

// exit ends the mode and runs the exit handler. Later calls do nothing.
func (m *interactionMode) exit(ctx context.Context) {
	m.once.Do(func() {
		m.active.Store(false)
		if m.onExit != nil {
			m.onExit(ctx, m)
		}
	})
}

// ensureMode starts an interaction mode unless one is active.
func (s *Session) ensureMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != nil && s.mode.Active() {
		return
	}
	s.mode = newInteractionMode(s.onModeExit)
}

// ExitMode ends the active interaction mode, which hides the panel.
func (s *Session) ExitMode(ctx context.Context) {
	s.mu.Lock()
	m := s.mode
	s.mu.Unlock()
	if m != nil {
		m.exit(ctx)
	}
}

// InMode reports whether an interaction mode is active.
func (s *Session) InMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode != nil && s.mode.Active()
}

// onModeExit handles the end of m. A hide already in progress has detached
// m from the session, in which case there is nothing to do.
func (s *Session) onModeExit(ctx context.Context, m *interactionMode) {
	s.mu.Lock()
	current := s.mode == m
	if current {
		s.mode = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.snapshots.SetStatus(ctx, schemas.StatusIdle)
	if err := s.hide(ctx, true); err != nil {
		s.logger.Warn("Failed to hide overlay on mode exit.", zap.Error(err))
	}
}

package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// captureFrames is how many frames are rendered before a capture so the
// hidden presentation is on screen.
const captureFrames = 2

// Show initializes the panel if needed, enters the interaction mode and
// displays the current snapshot without taking focus.
func (s *Session) Show(ctx context.Context) error {
	return s.show(ctx, schemas.ShowOptions{})
}

func (s *Session) show(ctx context.Context, opts schemas.ShowOptions) error {
	if s.surface == nil {
		return ErrNoSurface
	}
	if err := s.surface.Init(ctx); err != nil {
		return fmt.Errorf("initializing overlay: %w", err)
	}
	s.ensureMode()
	if err := s.surface.Show(ctx, schemas.SnapshotMessage(s.snapshots.Current()), opts); err != nil {
		return fmt.Errorf("showing overlay: %w", err)
	}
	return nil
}

// showQuietly shows the panel for a round. A headless session or a failed
// show does not stop the round.
func (s *Session) showQuietly(ctx context.Context, opts schemas.ShowOptions) {
	if err := s.show(ctx, opts); err != nil && !errors.Is(err, ErrNoSurface) {
		s.logger.Warn("Could not show overlay.", zap.Error(err))
	}
}

// Hide sets the status to idle, hides the panel and leaves the interaction mode.
func (s *Session) Hide(ctx context.Context) error {
	return s.hide(ctx, false)
}

// hide is shared with the mode's exit handler, which passes fromMode and
// has already set the status.
func (s *Session) hide(ctx context.Context, fromMode bool) error {
	if !fromMode {
		s.snapshots.SetStatus(ctx, schemas.StatusIdle)
	}

	var err error
	if s.surface == nil {
		err = ErrNoSurface
	} else if hideErr := s.surface.Hide(ctx); hideErr != nil {
		err = fmt.Errorf("hiding overlay: %w", hideErr)
	}

	s.mu.Lock()
	m := s.mode
	s.mode = nil
	s.mu.Unlock()
	if m != nil && m.Active() {
		m.exit(ctx)
	}
	return err
}

// WithScreenshotHidden runs task with the panel in its capture presentation
// and always restores it afterwards. When the panel was never initialized,
// or a capture is already running, task runs as is.
func (s *Session) WithScreenshotHidden(ctx context.Context, task func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.surface == nil || !s.surface.Initialized() || s.capturing {
		s.mu.Unlock()
		return task(ctx)
	}
	s.capturing = true
	s.mu.Unlock()

	defer func() {
		restoreCtx := context.WithoutCancel(ctx)
		if err := s.surface.SetHiddenForCapture(restoreCtx, false); err != nil {
			s.logger.Warn("Failed to restore overlay after capture.", zap.Error(err))
		}
		if err := s.surface.Post(restoreCtx, schemas.CaptureModeMessage(false)); err != nil {
			s.logger.Warn("Failed to post capture mode.", zap.Error(err))
		}
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
	}()

	if err := s.surface.SetHiddenForCapture(ctx, true); err != nil {
		s.logger.Warn("Failed to hide overlay for capture.", zap.Error(err))
	}
	if err := s.surface.Post(ctx, schemas.CaptureModeMessage(true)); err != nil {
		s.logger.Warn("Failed to post capture mode.", zap.Error(err))
	}
	if err := s.surface.AwaitFrames(ctx, captureFrames); err != nil {
		s.logger.Debug("Frame wait before capture failed.", zap.Error(err))
	}
	return task(ctx)
}

// Capturing reports whether a capture scope is open.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// PublishSnapshot sends snap to the panel while it is showing. The snapshot
// store calls it after every change.
func (s *Session) PublishSnapshot(ctx context.Context, snap schemas.Snapshot) {
	if s.surface == nil || !s.surface.Showing() {
		return
	}
	if err := s.surface.Post(ctx, schemas.SnapshotMessage(snap)); err != nil {
		s.logger.Debug("Failed to publish snapshot.", zap.Error(err))
	}
}

// postSnapshot answers a panel that asked for the current state.
func (s *Session) postSnapshot(ctx context.Context) error {
	if s.surface == nil {
		return ErrNoSurface
	}
	if err := s.surface.Post(ctx, schemas.SnapshotMessage(s.snapshots.Current())); err != nil {
		return fmt.Errorf("posting snapshot: %w", err)
	}
	return nil
}

// Package bridge runs one agent session against a page: it validates a
// round's preconditions, calls the remote model, merges the decision into
// the snapshot, auto-executes the returned actions and keeps the overlay
// panel in step.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/bus"
	"github.com/xkilldash9x/keybridge/internal/snapshot"
)

// ErrNoSurface is returned by overlay operations on a session created
// without an overlay surface.
var ErrNoSurface = errors.New("bridge: no overlay surface")

// TranscriptArchiver stores finished chat transcripts.
type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, sessionID, pageURL string, messages []schemas.ChatMessage) error
}

// Deps are the collaborators a Session drives. Settings, Agent and
// Interpreter are required.
type Deps struct {
	Settings    schemas.SettingsStore
	Agent       schemas.RemoteAgent
	Interpreter *action.Interpreter
	// Surface hosts the overlay panel. Nil runs the session headless.
	Surface schemas.OverlaySurface
	// Page supplies the URL and title sent with each request.
	Page schemas.PageInfo
	// Bus carries inbound overlay messages to Serve.
	Bus *bus.Bus
}

// Option configures a Session.
type Option func(*Session)

// WithRequestTimeout bounds each remote call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestTimeout = d }
}

// WithArchiver copies the transcript to a after every chat round.
func WithArchiver(a TranscriptArchiver) Option {
	return func(s *Session) { s.archiver = a }
}

// WithSnapshotStore replaces the session's snapshot store.
func WithSnapshotStore(st *snapshot.Store) Option {
	return func(s *Session) { s.snapshots = st }
}

// Session is one agent session bound to a page.
type Session struct {
	logger *zap.Logger

	settings  schemas.SettingsStore
	agent     schemas.RemoteAgent
	interp    *action.Interpreter
	surface   schemas.OverlaySurface
	page      schemas.PageInfo
	bus       *bus.Bus
	archiver  TranscriptArchiver
	snapshots *snapshot.Store

	requestTimeout time.Duration

	// rounds admits one orchestration round at a time.
	rounds *semaphore.Weighted
	// inflight tracks rounds started by Serve.
	inflight sync.WaitGroup

	// mu guards the overlay controller state below and the session id.
	mu        sync.Mutex
	id        string
	mode      *interactionMode
	capturing bool
}

// NewSession wires a session. The snapshot store publishes to the overlay
// while it is showing.
func NewSession(logger *zap.Logger, deps Deps, opts ...Option) (*Session, error) {
	if deps.Settings == nil || deps.Agent == nil || deps.Interpreter == nil {
		return nil, fmt.Errorf("cannot create bridge session with nil dependencies")
	}
	s := &Session{
		settings: deps.Settings,
		agent:    deps.Agent,
		interp:   deps.Interpreter,
		surface:  deps.Surface,
		page:     deps.Page,
		bus:      deps.Bus,
		rounds:   semaphore.NewWeighted(1),
		id:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshots == nil {
		s.snapshots = snapshot.NewStore()
	}
	s.snapshots.SetPublisher(s)
	s.logger = logger.Named("bridge").With(zap.String("session_id", s.id))
	return s, nil
}

// ID returns the session identifier used for archived transcripts.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() schemas.Snapshot {
	return s.snapshots.Current()
}

// Archive stores the current transcript. Without an archiver, or with an
// empty transcript, it does nothing.
func (s *Session) Archive(ctx context.Context) error {
	if s.archiver == nil {
		return nil
	}
	msgs := s.snapshots.Current().ChatMessages
	if len(msgs) == 0 {
		return nil
	}
	url, _ := s.pageContext(ctx)
	if err := s.archiver.ArchiveTranscript(ctx, s.ID(), url.URL, msgs); err != nil {
		return fmt.Errorf("archiving transcript: %w", err)
	}
	return nil
}

// Reset archives the transcript, starts a new session id and restores the
// default snapshot.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.rounds.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.rounds.Release(1)

	err := s.Archive(ctx)
	s.mu.Lock()
	s.id = uuid.NewString()
	s.mu.Unlock()
	s.snapshots.Reset(ctx)
	return err
}

func (s *Session) pageContext(ctx context.Context) (schemas.PageContext, error) {
	var pc schemas.PageContext
	if s.page == nil {
		return pc, nil
	}
	url, err := s.page.URL(ctx)
	if err != nil {
		return pc, err
	}
	pc.URL = url
	title, err := s.page.Title(ctx)
	if err != nil {
		return pc, err
	}
	pc.Title = title
	return pc, nil
}

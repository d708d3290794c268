// Package snapshot holds the complete overlay state and merges partial
// updates onto it.
package snapshot

import (
	"context"
	"sync"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// Patch is a partial snapshot update. Nil fields are left unchanged.
type Patch struct {
	Status      *schemas.Status
	Thought     *string
	Action      *string
	Observation *string
	NextAction  *string
	RawResponse *string
	Screenshot  *string
	// ChatMessages, when non-nil, replaces the transcript.
	ChatMessages []schemas.ChatMessage
	// AppendChat is appended to the transcript after any replacement.
	AppendChat []schemas.ChatMessage
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

// ClearDecision returns a patch that empties the decision fields, the raw
// response and the screenshot.
func ClearDecision() Patch {
	empty := ""
	return Patch{
		Thought:     &empty,
		Action:      &empty,
		Observation: &empty,
		NextAction:  &empty,
		RawResponse: &empty,
		Screenshot:  &empty,
	}
}

// Publisher receives the merged snapshot after every change.
type Publisher interface {
	PublishSnapshot(ctx context.Context, s schemas.Snapshot)
}

// Store holds the current snapshot. It is safe for concurrent use.
type Store struct {
	// pubMu keeps publications in merge order.
	pubMu sync.Mutex
	mu    sync.RWMutex
	snap  schemas.Snapshot

	publisher Publisher
}

// NewStore creates a Store holding the default snapshot.
func NewStore() *Store {
	return &Store{snap: schemas.DefaultSnapshot()}
}

// SetPublisher installs the publisher notified on every change.
func (s *Store) SetPublisher(p Publisher) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publisher = p
}

// Current returns a copy of the current snapshot.
func (s *Store) Current() schemas.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Merge applies p on top of the current snapshot and publishes the result.
func (s *Store) Merge(ctx context.Context, p Patch) schemas.Snapshot {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	apply(&s.snap, p)
	merged := s.snap.Clone()
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishSnapshot(ctx, merged.Clone())
	}
	return merged
}

// SetStatus updates only the status.
func (s *Store) SetStatus(ctx context.Context, status schemas.Status) schemas.Snapshot {
	return s.Merge(ctx, Patch{Status: &status})
}

// Reset replaces the snapshot with the default one and publishes it.
func (s *Store) Reset(ctx context.Context) schemas.Snapshot {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.snap = schemas.DefaultSnapshot()
	merged := s.snap.Clone()
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishSnapshot(ctx, merged.Clone())
	}
	return merged
}

func apply(dst *schemas.Snapshot, p Patch) {
	if p.Status != nil {
		dst.Status = *p.Status
	}
	setString(&dst.Thought, p.Thought)
	setString(&dst.Action, p.Action)
	setString(&dst.Observation, p.Observation)
	setString(&dst.NextAction, p.NextAction)
	setString(&dst.RawResponse, p.RawResponse)
	setString(&dst.Screenshot, p.Screenshot)

	if p.ChatMessages != nil {
		dst.ChatMessages = append([]schemas.ChatMessage{}, p.ChatMessages...)
	}
	if len(p.AppendChat) > 0 {
		dst.ChatMessages = append(dst.ChatMessages, p.AppendChat...)
	}
	if dst.ChatMessages == nil {
		dst.ChatMessages = []schemas.ChatMessage{}
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

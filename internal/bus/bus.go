// Package bus carries messages raised by the overlay panel to the session
// loop that handles them.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// ErrShutdown is returned by Post once the bus is shutting down.
var ErrShutdown = errors.New("overlay bus is shut down")

// Envelope wraps an overlay message for delivery.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Message   schemas.OverlayMessage
}

// Bus is a small pub/sub keyed by overlay message name. Every delivered
// envelope must be acknowledged so Shutdown can wait for in-flight work.
type Bus struct {
	logger *zap.Logger

	subscribers map[schemas.MessageName][]chan Envelope
	mu          sync.RWMutex
	bufferSize  int

	// processingWg counts delivered but unacknowledged envelopes.
	processingWg sync.WaitGroup
	// activePostsWg counts Post calls in progress.
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New creates a Bus whose subscriber channels hold bufferSize envelopes.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("overlay_bus"),
		subscribers:  make(map[schemas.MessageName][]chan Envelope),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post delivers msg to every subscriber of msg.Name. It blocks while
// subscriber buffers are full and returns early on ctx or shutdown.
func (b *Bus) Post(ctx context.Context, msg schemas.OverlayMessage) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return ErrShutdown
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	env := Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Message:   msg,
	}
	b.logger.Debug("Posting message", zap.String("name", string(msg.Name)), zap.String("id", env.ID))

	b.mu.RLock()
	subs := b.subscribers[msg.Name]
	if len(subs) == 0 {
		b.mu.RUnlock()
		b.logger.Debug("No subscriber for message", zap.String("name", string(msg.Name)))
		return nil
	}
	targets := make([]chan Envelope, len(subs))
	copy(targets, subs)
	b.mu.RUnlock()

	for _, ch := range targets {
		b.processingWg.Add(1)
		select {
		case ch <- env:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return ErrShutdown
		}
	}
	return nil
}

// Subscribe returns a channel receiving envelopes for the given names and a
// function that removes the subscription. The channel is closed by Shutdown.
func (b *Bus) Subscribe(names ...schemas.MessageName) (<-chan Envelope, func()) {
	b.shutdownMu.Lock()
	down := b.isShutdown
	b.shutdownMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if down {
		closed := make(chan Envelope)
		close(closed)
		return closed, func() {}
	}
	if len(names) == 0 {
		panic("must subscribe to at least one message name")
	}

	ch := make(chan Envelope, b.bufferSize)
	subscribed := append([]schemas.MessageName(nil), names...)
	for _, name := range subscribed {
		b.subscribers[name] = append(b.subscribers[name], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, name := range subscribed {
			subs := b.subscribers[name]
			for i, c := range subs {
				if c == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[name] = subs[:len(subs)-1]
					break
				}
			}
			if len(b.subscribers[name]) == 0 {
				delete(b.subscribers, name)
			}
		}
	}
	return ch, unsubscribe
}

// Subscribers returns how many subscriptions receive messages named name.
func (b *Bus) Subscribers(name schemas.MessageName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

// Acknowledge marks an envelope as handled.
func (b *Bus) Acknowledge(Envelope) {
	b.processingWg.Done()
}

// Shutdown stops accepting posts, closes subscriber channels, drops
// buffered envelopes and waits for acknowledged work to finish.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Debug("Shutting down overlay bus.")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		unique := make(map[chan Envelope]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		dropped := 0
		for ch := range unique {
			for range ch {
				dropped++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[schemas.MessageName][]chan Envelope)
		b.mu.Unlock()

		if dropped > 0 {
			b.logger.Debug("Dropped buffered messages during shutdown.", zap.Int("count", dropped))
		}
		b.processingWg.Wait()
	})
}

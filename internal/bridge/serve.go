package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/bus"
)

var inboundMessages = []schemas.MessageName{
	schemas.MessageRequestSnapshot,
	schemas.MessageRequestHide,
	schemas.MessageChatSend,
	schemas.MessageModeEscape,
}

// Serve handles messages raised by the panel until ctx is done or the bus
// shuts down. Chat rounds run alongside the loop so the panel stays
// responsive while the model is working; Serve waits for them before
// returning.
func (s *Session) Serve(ctx context.Context) error {
	if s.bus == nil {
		return errors.New("bridge: no overlay bus")
	}
	// The subscription stays in place so Shutdown drains anything posted
	// after the loop ends.
	ch, _ := s.bus.Subscribe(inboundMessages...)
	defer s.inflight.Wait()

	s.logger.Info("Serving overlay messages.")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, env)
		}
	}
}

func (s *Session) handle(ctx context.Context, env bus.Envelope) {
	msg := env.Message
	log := s.logger.With(zap.String("message", string(msg.Name)), zap.String("envelope_id", env.ID))

	switch msg.Name {
	case schemas.MessageRequestSnapshot:
		defer s.bus.Acknowledge(env)
		if err := s.postSnapshot(ctx); err != nil {
			log.Warn("Could not answer snapshot request.", zap.Error(err))
		}
	case schemas.MessageRequestHide:
		defer s.bus.Acknowledge(env)
		if err := s.Hide(ctx); err != nil {
			log.Warn("Could not hide overlay.", zap.Error(err))
		}
	case schemas.MessageModeEscape:
		defer s.bus.Acknowledge(env)
		s.ExitMode(ctx)
	case schemas.MessageChatSend:
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer s.bus.Acknowledge(env)
			opts := schemas.ShowOptions{SourceFrameID: msg.SourceFrameID}
			if err := s.runChat(ctx, msg.Message, opts); err != nil {
				log.Debug("Chat round abandoned.", zap.Error(err))
			}
		}()
	default:
		defer s.bus.Acknowledge(env)
		log.Debug("Ignoring unknown overlay message.")
	}
}

// Package subscription wraps raw bus subscriptions with a per-session participant filter.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/itscraftings/converse/internal/authz"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
)

// ErrClosed is returned by Next once the underlying subscription has ended.
var ErrClosed = errors.New("subscription closed")

// ParticipantsOf extracts the participant list that decides who may see p.
func ParticipantsOf(p events.Payload) []model.Participant {
	switch e := p.(type) {
	case events.ConversationCreated:
		return e.Conversation.ParticipantRows()
	case events.ConversationUpdated:
		return e.ConversationUpdated.Conversation.ParticipantRows()
	case events.ConversationDeleted:
		return e.Conversation.ParticipantRows()
	case events.MessageSent:
		return e.Participants
	default:
		return nil
	}
}

// Allowed decides whether session may receive p. A missing session is an error,
// not a silent drop.
func Allowed(session *model.Session, p events.Payload) (bool, error) {
	if err := authz.RequireSession(session); err != nil {
		return false, err
	}
	return authz.IsParticipant(ParticipantsOf(p), session.User.ID), nil
}

// Stream yields only the events the session user participates in.
type Stream struct {
	sub     *events.Subscription
	session *model.Session

	mu  sync.Mutex
	err error
}

// Subscribe opens a filtered stream on topic for session. A nil session is accepted
// here and rejected when the first event arrives.
func Subscribe(bus events.Subscriber, topic events.Topic, session *model.Session) (*Stream, error) {
	sub, err := bus.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	return &Stream{sub: sub, session: session}, nil
}

// Topic returns the topic this stream follows.
func (s *Stream) Topic() events.Topic { return s.sub.Topic() }

// Next blocks until an authorized event arrives, the context ends, or the stream
// terminates. An authorization failure terminates the stream and is returned from
// every later call.
func (s *Stream) Next(ctx context.Context) (events.Payload, error) {
	if err := s.terminal(); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case p, ok := <-s.sub.C():
			if !ok {
				s.fail(ErrClosed)
				return nil, ErrClosed
			}
			allowed, err := Allowed(s.session, p)
			if err != nil {
				s.fail(err)
				s.sub.Close()
				return nil, err
			}
			if allowed {
				return p, nil
			}
		}
	}
}

// Close releases the underlying subscription.
func (s *Stream) Close() {
	s.sub.Close()
}

func (s *Stream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

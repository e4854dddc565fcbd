// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// EventsSubject returns the subject the game server publishes events on.
func EventsSubject(prefix string) string {
	return prefix + ".events"
}

// Reply is sent back when an event arrives as a NATS request.
type Reply struct {
	OK    bool        `json:"ok"`
	Kind  bridge.Kind `json:"kind,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Subscriber feeds tagged JSON events from NATS into a Dispatcher. Events
// are handled one at a time in arrival order, so a join and the leave that
// follows it are never reordered.
type Subscriber struct {
	conn     *nats.Conn
	subject  string
	dispatch *Dispatcher
	log      zerolog.Logger
}

func NewSubscriber(conn *nats.Conn, prefix string, dispatch *Dispatcher, log zerolog.Logger) *Subscriber {
	subject := EventsSubject(prefix)
	return &Subscriber{
		conn:     conn,
		subject:  subject,
		dispatch: dispatch,
		log:      log.With().Str("component", "nats_events").Str("subject", subject).Logger(),
	}
}

// Run subscribes and handles events until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := s.conn.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			s.log.Debug().Err(err).Msg("Failed to unsubscribe")
		}
	}()
	s.log.Info().Msg("Listening for game events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) {
	evt, err := bridge.DecodeEvent(msg.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed event")
	} else {
		err = s.dispatch.Dispatch(ctx, evt)
		if err != nil {
			s.log.Warn().Err(err).Str("event", string(evt.Type())).Msg("Event handling failed")
		}
	}
	if msg.Reply == "" {
		return
	}
	reply := Reply{OK: err == nil}
	if err != nil {
		reply.Kind = bridge.Classify(err)
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if err = msg.Respond(data); err != nil {
		s.log.Warn().Err(err).Msg("Failed to reply to event request")
	}
}

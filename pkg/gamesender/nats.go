// Copyright 2024-2026 Aiku AI

package gamesender

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// OutboundSubject returns the subject messages for the game server are
// published on.
func OutboundSubject(prefix string) string {
	return prefix + ".outbound"
}

// NATSSender publishes each message to "<prefix>.outbound".
type NATSSender struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	log     zerolog.Logger
}

// NewNATSSender wraps an established connection. The caller owns conn.
func NewNATSSender(conn *nats.Conn, prefix string, timeout time.Duration, log zerolog.Logger) *NATSSender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &NATSSender{
		conn:    conn,
		subject: OutboundSubject(prefix),
		timeout: timeout,
		log:     log.With().Str("component", "game_sender").Str("transport", "nats").Logger(),
	}
}

// Deliver implements bridge.GameSender. The publish is flushed so a dead
// connection surfaces as ErrUnreachable instead of a silent drop.
func (s *NATSSender) Deliver(ctx context.Context, msg bridge.OutboundMessage) error {
	body, err := encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrMalformedInput, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err = s.conn.Publish(s.subject, body); err != nil {
		return fmt.Errorf("%w: publish %s: %v", bridge.ErrUnreachable, s.subject, err)
	}
	if err = s.conn.FlushWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: flush %s: %v", bridge.ErrTimeout, s.subject, err)
		}
		return fmt.Errorf("%w: flush %s: %v", bridge.ErrUnreachable, s.subject, err)
	}
	s.log.Debug().Str("account_id", msg.PlatformAccountID).Str("subject", s.subject).Msg("Published message for game server")
	return nil
}

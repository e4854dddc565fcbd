// Copyright 2024-2026 Aiku AI

package gamesender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// HTTPSender POSTs each message as JSON to the game server's webhook.
type HTTPSender struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPSender creates a sender for endpoint. A zero timeout uses the
// default of ten seconds.
func NewHTTPSender(endpoint string, timeout time.Duration, log zerolog.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSender{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
		log:      log.With().Str("component", "game_sender").Str("transport", "http").Logger(),
	}
}

// Deliver implements bridge.GameSender.
func (s *HTTPSender) Deliver(ctx context.Context, msg bridge.OutboundMessage) error {
	body, err := encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrMalformedInput, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: bad game server endpoint: %v", bridge.ErrInvalidConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: game server did not answer within %s", bridge.ErrTimeout, s.timeout)
		}
		return fmt.Errorf("%w: %v", bridge.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: game server returned HTTP %d", bridge.ErrUnreachable, resp.StatusCode)
	}
	s.log.Debug().Str("account_id", msg.PlatformAccountID).Msg("Delivered message to game server")
	return nil
}

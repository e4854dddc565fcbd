// Copyright 2024-2026 Aiku AI

// Package relay forwards chat between the game server and the platform's
// relay channel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/chatfmt"
	"github.com/aiku/mattermost-gamebridge/pkg/metrics"
)

const (
	DirectionGameToPlatform = "game_to_platform"
	DirectionPlatformToGame = "platform_to_game"
)

// Outcome describes how an inbound platform message was handled.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeIgnoredBot     Outcome = "ignored_bot"
	OutcomeIgnoredChannel Outcome = "ignored_channel"
	OutcomeIgnoredRole    Outcome = "ignored_role"
	OutcomeIgnoredEmpty   Outcome = "ignored_empty"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
)

// Links resolves identities in both directions.
type Links interface {
	ResolvePlatformID(handle string) (string, bool)
	ResolveGameHandle(platformID string) (string, bool)
}

type Config struct {
	ChannelID   string
	CallTimeout time.Duration
}

// Relay forwards messages. It is safe for concurrent use.
type Relay struct {
	links    Links
	platform bridge.Platform
	sender   bridge.GameSender
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func New(links Links, platform bridge.Platform, sender bridge.GameSender, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Relay {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Relay{
		links:    links,
		platform: platform,
		sender:   sender,
		cfg:      cfg,
		log:      log.With().Str("component", "relay").Logger(),
		metrics:  m,
	}
}

// RelayGameChat posts "<name> text" to the relay channel. name is the linked
// member's display name, or handle when unlinked or on lookup failure. A
// channel that cannot be resolved yields an error wrapping
// bridge.ErrChannelUnavailable; the send is not retried.
func (r *Relay) RelayGameChat(ctx context.Context, handle, text string) error {
	if err := (bridge.GameChatEvent{GameHandle: handle, Text: text}).Validate(); err != nil {
		return err
	}
	name := r.displayName(ctx, handle)
	msg := fmt.Sprintf("<%s> %s", chatfmt.EscapeMarkdown(name), chatfmt.DisarmMentions(text))

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	err := r.platform.SendChannelMessage(sendCtx, r.cfg.ChannelID, msg)
	if err != nil {
		r.log.Warn().Err(err).Str("game_handle", handle).Str("channel_id", r.cfg.ChannelID).Msg("Failed to relay game chat")
		r.metrics.ObserveRelay(DirectionGameToPlatform, metrics.Outcome(err))
		if !errors.Is(err, bridge.ErrChannelUnavailable) && bridge.Classify(err) == bridge.KindNotFound {
			err = fmt.Errorf("%w: %w", bridge.ErrChannelUnavailable, err)
		}
		return err
	}
	r.metrics.ObserveRelay(DirectionGameToPlatform, metrics.Outcome(nil))
	return nil
}

func (r *Relay) displayName(ctx context.Context, handle string) string {
	pid, ok := r.links.ResolvePlatformID(handle)
	if !ok {
		return handle
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	member, err := r.platform.FetchMember(fetchCtx, pid)
	if err != nil || member.Name() == "" {
		r.log.Debug().Err(err).Str("game_handle", handle).Str("platform_id", pid).Msg("Falling back to game handle for chat")
		return handle
	}
	return member.Name()
}

// RelayPlatformChat forwards a platform message to the game server. Bot
// authors, other channels and authors without the linked role are filtered
// out without error. A delivery failure is logged and returned with
// OutcomeDeliveryFailed; callers on the platform side should not surface it.
func (r *Relay) RelayPlatformChat(ctx context.Context, msg bridge.ChatMessage) (Outcome, error) {
	outcome, err := r.relayPlatformChat(ctx, msg)
	r.metrics.ObserveRelay(DirectionPlatformToGame, string(outcome))
	return outcome, err
}

func (r *Relay) relayPlatformChat(ctx context.Context, msg bridge.ChatMessage) (Outcome, error) {
	switch {
	case msg.AuthorIsBot:
		return OutcomeIgnoredBot, nil
	case msg.ChannelID != r.cfg.ChannelID:
		return OutcomeIgnoredChannel, nil
	case !msg.HasLinkedRole:
		return OutcomeIgnoredRole, nil
	}
	text := chatfmt.ToGameText(msg.Text)
	if text == "" {
		return OutcomeIgnoredEmpty, nil
	}

	name, ok := r.links.ResolveGameHandle(msg.AuthorID)
	if !ok {
		name = msg.AuthorName
	}
	if strings.TrimSpace(name) == "" {
		name = msg.AuthorID
	}
	out := bridge.OutboundMessage{
		PlatformAccountID: msg.AuthorID,
		Message:           fmt.Sprintf("<%s> %s", name, text),
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	if err := r.sender.Deliver(sendCtx, out); err != nil {
		r.log.Warn().Err(err).Str("platform_id", msg.AuthorID).Msg("Failed to deliver chat to the game server")
		return OutcomeDeliveryFailed, err
	}
	r.log.Debug().Str("platform_id", msg.AuthorID).Str("game_name", name).Msg("Relayed chat to the game server")
	return OutcomeDelivered, nil
}

// Run handles messages from in until it is closed or ctx is done. Each
// message is handled in its own goroutine; Run waits for them before
// returning.
func (r *Relay) Run(ctx context.Context, in <-chan bridge.ChatMessage) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			wg.Go(func() {
				_, _ = r.RelayPlatformChat(ctx, msg)
			})
		}
	}
}

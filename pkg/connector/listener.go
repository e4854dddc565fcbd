// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

const (
	minReconnectDelay  = time.Second
	maxReconnectDelay  = time.Minute
	defaultCallTimeout = 10 * time.Second
)

// ListenerConfig controls which posts the listener enriches.
type ListenerConfig struct {
	// ChannelID drops posts from other channels before any lookup. Empty
	// accepts every channel.
	ChannelID string
	// LinkedRoleID is checked to set HasLinkedRole on emitted messages.
	LinkedRoleID string
	// CallTimeout bounds each author lookup.
	CallTimeout time.Duration
}

// Listener turns the Mattermost websocket "posted" stream into
// bridge.ChatMessage values.
type Listener struct {
	platform *MattermostPlatform
	cfg      ListenerConfig
	log      zerolog.Logger

	userID string
	out    chan bridge.ChatMessage
}

func NewListener(platform *MattermostPlatform, cfg ListenerConfig) *Listener {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Listener{
		platform: platform,
		cfg:      cfg,
		log:      platform.log.With().Str("component", "mm_listener").Logger(),
		out:      make(chan bridge.ChatMessage, 64),
	}
}

// Messages returns the stream of inbound messages. It is closed when Run
// returns.
func (l *Listener) Messages() <-chan bridge.ChatMessage {
	return l.out
}

// Run authenticates, connects the websocket and forwards posts until ctx is
// done. A closed event channel triggers a reconnect with backoff.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.out)

	me, err := l.platform.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	l.userID = me.Id
	l.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	retry := newReconnectBackoff(ctx)
	for {
		connectedAt := time.Now()
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(connectedAt) > maxReconnectDelay {
			retry.Reset()
		}
		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			return nil
		}
		l.log.Warn().Err(err).Dur("retry_in", delay).Msg("WebSocket disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// newReconnectBackoff never gives up on its own; it stops only when ctx is
// done.
func newReconnectBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minReconnectDelay
	b.MaxInterval = maxReconnectDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

func (l *Listener) listenOnce(ctx context.Context) error {
	wsURL := httpToWS(l.platform.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, l.platform.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	defer ws.Close()
	ws.Listen()
	l.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ws.EventChannel:
			if !ok {
				if ws.ListenError != nil {
					return ws.ListenError
				}
				return fmt.Errorf("event channel closed")
			}
			if evt == nil || evt.EventType() != model.WebsocketEventPosted {
				continue
			}
			l.handlePosted(ctx, evt)
		}
	}
}

func (l *Listener) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, senderName, err := l.parsePostedEvent(evt)
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}
	if l.cfg.ChannelID != "" && post.ChannelId != l.cfg.ChannelID {
		return
	}
	msg := l.toChatMessage(ctx, post, senderName)
	select {
	case l.out <- msg:
	case <-ctx.Done():
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers, together with the sender's username.
// Returns a nil post to skip silently, an error to log, or the post to
// proceed.
func (l *Listener) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, string, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, "", fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts, including our announcements.
	if post.UserId == l.userID {
		return nil, "", nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, "", nil
	}

	// Echo prevention: skip posts from usernames matching known bridge patterns.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, l.platform.cfg.BotPrefix) {
		l.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, "", nil
	}

	return &post, senderName, nil
}

// toChatMessage enriches a post with the author's name, bot flag and linked
// role. Lookup failures leave the defaults: the websocket sender name, not a
// bot, no role.
func (l *Listener) toChatMessage(ctx context.Context, post *model.Post, senderName string) bridge.ChatMessage {
	msg := bridge.ChatMessage{
		AuthorID:    post.UserId,
		AuthorName:  senderName,
		ChannelID:   post.ChannelId,
		Text:        post.Message,
		AuthorIsBot: post.GetProp(model.PostPropsFromBot) == "true",
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	if member, err := l.platform.FetchMember(ctx, post.UserId); err == nil {
		if name := member.Name(); name != "" {
			msg.AuthorName = name
		}
		msg.AuthorIsBot = msg.AuthorIsBot || member.IsBot
	} else {
		l.log.Debug().Err(err).Str("user_id", post.UserId).Msg("Failed to resolve post author")
	}
	if l.cfg.LinkedRoleID != "" {
		has, err := l.platform.HasRole(ctx, post.UserId, l.cfg.LinkedRoleID)
		if err != nil {
			l.log.Warn().Err(err).Str("user_id", post.UserId).Msg("Failed to check linked role")
		}
		msg.HasLinkedRole = has
	}
	return msg
}

// isBridgeUsername reports whether a username belongs to a bridge-managed
// account.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "mattermost-bridge", username == "gamebridge":
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}

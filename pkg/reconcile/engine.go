// Copyright 2024-2026 Aiku AI

// Package reconcile applies the platform role state implied by game events.
//
// The [Engine] owns the ephemeral playing state, grants and revokes the
// linked and playing roles, and posts the presence announcements. Role
// changes are best effort: every action runs as an ordered list of steps,
// each with its own timeout and failure boundary, so a failed role call never
// suppresses the announcement that follows it.
package reconcile

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/metrics"
)

const (
	defaultCallTimeout        = 10 * time.Second
	defaultCleanupConcurrency = 4
)

// Links is the part of the identity link store the engine needs.
type Links interface {
	Link(ctx context.Context, handle, platformID string) (bridge.LinkRecord, error)
	Unlink(ctx context.Context, handle string) (bridge.LinkRecord, bool, error)
	CheckLink(handle, platformID string) error
	ResolvePlatformID(handle string) (string, bool)
}

// Config holds the role and channel ids the engine works with.
type Config struct {
	LinkedRoleID      string
	PlayingRoleID     string
	AnnounceChannelID string

	// CallTimeout bounds every individual platform call.
	CallTimeout time.Duration
	// CleanupConcurrency is the number of parallel revocations during bulk
	// cleanup.
	CleanupConcurrency int
	// ImplicitLinkOnJoin links the accounts carried by a JoinEvent before
	// handling the join.
	ImplicitLinkOnJoin bool
}

// Engine is the role reconciliation engine. It is safe for concurrent use;
// actions on the same game handle are serialized.
type Engine struct {
	links    Links
	platform bridge.Platform
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics

	handles keyedMutex

	playingMu sync.Mutex
	playing   map[string]struct{}
}

// New creates an engine. m may be nil.
func New(links Links, platform bridge.Platform, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.CleanupConcurrency <= 0 {
		cfg.CleanupConcurrency = defaultCleanupConcurrency
	}
	return &Engine{
		links:    links,
		platform: platform,
		cfg:      cfg,
		log:      log.With().Str("component", "reconcile").Logger(),
		metrics:  m,
		playing:  make(map[string]struct{}),
	}
}

// Playing returns the handles currently flagged as playing, sorted.
func (e *Engine) Playing() []string {
	e.playingMu.Lock()
	defer e.playingMu.Unlock()
	return slices.Sorted(maps.Keys(e.playing))
}

func (e *Engine) setPlaying(handle string, playing bool) {
	e.playingMu.Lock()
	if playing {
		e.playing[handle] = struct{}{}
	} else {
		delete(e.playing, handle)
	}
	n := len(e.playing)
	e.playingMu.Unlock()
	e.metrics.SetPlaying(n)
}

func (e *Engine) clearPlaying() {
	e.playingMu.Lock()
	clear(e.playing)
	e.playingMu.Unlock()
	e.metrics.SetPlaying(0)
}

// call runs fn bounded by the configured call timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) grant(ctx context.Context, member *bridge.Member, roleID string) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.platform.GrantRole(ctx, member, roleID)
	})
	e.metrics.ObserveRoleOp("grant", err)
	return err
}

func (e *Engine) revoke(ctx context.Context, member *bridge.Member, roleID string) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.platform.RevokeRole(ctx, member, roleID)
	})
	e.metrics.ObserveRoleOp("revoke", err)
	return err
}

func (e *Engine) fetchMember(ctx context.Context, platformID string) (member *bridge.Member, err error) {
	err = e.call(ctx, func(ctx context.Context) error {
		member, err = e.platform.FetchMember(ctx, platformID)
		return err
	})
	return member, err
}

func (e *Engine) announce(ctx context.Context, text string) error {
	return e.call(ctx, func(ctx context.Context) error {
		return e.platform.SendChannelMessage(ctx, e.cfg.AnnounceChannelID, text)
	})
}

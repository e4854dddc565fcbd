// Copyright 2024-2026 Aiku AI

// Package gateway exposes the bridge's control plane: the HTTP routes the
// game server plugin calls, the admin API, and an optional NATS subscriber
// carrying the same events.
package gateway

import (
	"context"
	"fmt"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/reconcile"
)

// Reconciler is the part of the reconciliation engine the gateway drives.
type Reconciler interface {
	Link(ctx context.Context, handle, platformID string) (bridge.LinkRecord, error)
	Unlink(ctx context.Context, handle string) (bridge.LinkRecord, []reconcile.StepResult, error)
	Join(ctx context.Context, ev bridge.JoinEvent) (reconcile.PresenceResult, error)
	Leave(ctx context.Context, ev bridge.LeaveEvent) (reconcile.PresenceResult, error)
	ServerLifecycle(ctx context.Context, ev bridge.ServerLifecycleEvent) (reconcile.LifecycleResult, error)
	BulkCleanup(ctx context.Context) reconcile.CleanupReport
	Playing() []string
}

// GameChat relays game chat lines to the platform.
type GameChat interface {
	RelayGameChat(ctx context.Context, handle, text string) error
}

// LinkDirectory lists the current links.
type LinkDirectory interface {
	Records() []bridge.LinkRecord
}

// Dispatcher routes decoded events to the engine or the relay.
type Dispatcher struct {
	engine Reconciler
	relay  GameChat
}

func NewDispatcher(engine Reconciler, relay GameChat) *Dispatcher {
	return &Dispatcher{engine: engine, relay: relay}
}

// Dispatch validates evt and hands it to its handler. Degraded presence and
// lifecycle outcomes are not errors; only a failed announcement is reported.
func (d *Dispatcher) Dispatch(ctx context.Context, evt bridge.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	switch ev := evt.(type) {
	case bridge.LinkEvent:
		_, err := d.engine.Link(ctx, ev.GameHandle, ev.PlatformAccountID)
		return err
	case bridge.JoinEvent:
		res, err := d.engine.Join(ctx, ev)
		if err != nil {
			return err
		}
		return res.AnnounceErr()
	case bridge.LeaveEvent:
		res, err := d.engine.Leave(ctx, ev)
		if err != nil {
			return err
		}
		return res.AnnounceErr()
	case bridge.ServerLifecycleEvent:
		res, err := d.engine.ServerLifecycle(ctx, ev)
		if err != nil {
			return err
		}
		return res.AnnounceErr
	case bridge.GameChatEvent:
		return d.relay.RelayGameChat(ctx, ev.GameHandle, ev.Text)
	default:
		return fmt.Errorf("%w: unsupported event %T", bridge.ErrMalformedInput, evt)
	}
}

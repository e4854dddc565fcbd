// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"errors"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// PresenceResult describes what a Join or Leave did.
type PresenceResult struct {
	GameHandle string
	Linked     bool
	// Enriched is set when the announcement used the member's display name.
	Enriched     bool
	Announcement string
	Steps        []StepResult
}

// AnnounceErr returns the error of the announcement step, nil when it was
// delivered or never attempted.
func (r PresenceResult) AnnounceErr() error {
	if err := stepErr(r.Steps, "announce"); !errors.Is(err, ErrSkipped) {
		return err
	}
	return nil
}

// Join marks the handle as playing, grants the playing role to the linked
// member and announces the join. Role and member failures only degrade the
// announcement to the raw handle. Unlinked handles cause no role calls.
func (e *Engine) Join(ctx context.Context, ev bridge.JoinEvent) (PresenceResult, error) {
	res := PresenceResult{GameHandle: ev.GameHandle}
	if err := ev.Validate(); err != nil {
		e.metrics.ObserveEvent(bridge.EventJoin, err)
		return res, err
	}
	unlock := e.handles.Lock(ev.GameHandle)
	defer unlock()

	var implicit []StepResult
	if e.cfg.ImplicitLinkOnJoin && ev.PlatformAccountID != "" {
		implicit = e.runSteps(ctx, "join", ev.GameHandle, []step{
			{"implicit_link", func(ctx context.Context) error {
				if pid, ok := e.links.ResolvePlatformID(ev.GameHandle); ok && pid == ev.PlatformAccountID {
					return ErrSkipped
				}
				_, err := e.linkLocked(ctx, ev.GameHandle, ev.PlatformAccountID)
				return err
			}},
		})
	}

	platformID, linked := e.links.ResolvePlatformID(ev.GameHandle)
	res.Linked = linked

	var member *bridge.Member
	res.Steps = append(implicit, e.runSteps(ctx, "join", ev.GameHandle, []step{
		{"fetch_member", func(ctx context.Context) (err error) {
			if !linked {
				return ErrSkipped
			}
			member, err = e.fetchMember(ctx, platformID)
			return err
		}},
		{"grant_playing_role", func(ctx context.Context) error {
			if member == nil {
				return ErrSkipped
			}
			if err := e.grant(ctx, member, e.cfg.PlayingRoleID); err != nil {
				member = nil
				return err
			}
			return nil
		}},
		{"announce", func(ctx context.Context) error {
			res.Enriched = member != nil
			res.Announcement = joinAnnouncement(ev.GameHandle, member)
			return e.announce(ctx, res.Announcement)
		}},
	})...)

	e.setPlaying(ev.GameHandle, true)
	e.metrics.ObserveEvent(bridge.EventJoin, res.AnnounceErr())
	e.log.Debug().Str("game_handle", ev.GameHandle).Bool("linked", linked).Bool("enriched", res.Enriched).Msg("Handled join")
	return res, nil
}

// Leave clears the playing flag, revokes the playing role and announces the
// departure. A role that is already absent counts as revoked.
func (e *Engine) Leave(ctx context.Context, ev bridge.LeaveEvent) (PresenceResult, error) {
	res := PresenceResult{GameHandle: ev.GameHandle}
	if err := ev.Validate(); err != nil {
		e.metrics.ObserveEvent(bridge.EventLeave, err)
		return res, err
	}
	unlock := e.handles.Lock(ev.GameHandle)
	defer unlock()

	platformID, linked := e.links.ResolvePlatformID(ev.GameHandle)
	res.Linked = linked

	var member *bridge.Member
	res.Steps = e.runSteps(ctx, "leave", ev.GameHandle, []step{
		{"fetch_member", func(ctx context.Context) (err error) {
			if !linked {
				return ErrSkipped
			}
			member, err = e.fetchMember(ctx, platformID)
			return err
		}},
		{"revoke_playing_role", func(ctx context.Context) error {
			err := e.revokeIfMember(ctx, member, e.cfg.PlayingRoleID)
			if err != nil && !errors.Is(err, ErrSkipped) {
				member = nil
			}
			return err
		}},
		{"announce", func(ctx context.Context) error {
			res.Enriched = member != nil
			res.Announcement = leaveAnnouncement(ev.GameHandle, member)
			return e.announce(ctx, res.Announcement)
		}},
	})

	e.setPlaying(ev.GameHandle, false)
	e.metrics.ObserveEvent(bridge.EventLeave, res.AnnounceErr())
	e.log.Debug().Str("game_handle", ev.GameHandle).Bool("linked", linked).Bool("enriched", res.Enriched).Msg("Handled leave")
	return res, nil
}

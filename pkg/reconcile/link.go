// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// Reason classifies why a link could not be established on the platform.
type Reason string

const (
	ReasonUnknownUser       Reason = "unknown_user"
	ReasonUnknownMember     Reason = "unknown_member"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonInvalidRole       Reason = "invalid_role"
	ReasonUnavailable       Reason = "unavailable"
)

// LinkError is returned by Link when the platform side of the link failed.
// The store is left untouched.
type LinkError struct {
	GameHandle        string
	PlatformAccountID string
	Step              string
	Reason            Reason
	Err               error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s to %s: %s (%s): %v", e.GameHandle, e.PlatformAccountID, e.Step, e.Reason, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func classifyLinkFailure(err error) Reason {
	switch {
	case errors.Is(err, bridge.ErrUnknownUser):
		return ReasonUnknownUser
	case errors.Is(err, bridge.ErrPermissionDenied):
		return ReasonMissingPermission
	case errors.Is(err, bridge.ErrInvalidConfiguration):
		return ReasonInvalidRole
	case errors.Is(err, bridge.ErrNotFound):
		return ReasonUnknownMember
	default:
		return ReasonUnavailable
	}
}

// Link associates handle with platformID. The member must exist and receive
// the linked role before the mapping is stored; a platform failure returns a
// *LinkError and a storage failure an error wrapping bridge.ErrPersistence.
func (e *Engine) Link(ctx context.Context, handle, platformID string) (rec bridge.LinkRecord, err error) {
	defer func() { e.metrics.ObserveEvent(bridge.EventLink, err) }()
	if err = (bridge.LinkEvent{GameHandle: handle, PlatformAccountID: platformID}).Validate(); err != nil {
		return bridge.LinkRecord{}, err
	}
	unlock := e.handles.Lock(handle)
	defer unlock()
	return e.linkLocked(ctx, handle, platformID)
}

func (e *Engine) linkLocked(ctx context.Context, handle, platformID string) (bridge.LinkRecord, error) {
	rec := bridge.LinkRecord{GameHandle: handle, PlatformAccountID: platformID}
	log := e.log.With().Str("game_handle", handle).Str("platform_id", platformID).Logger()

	if err := e.links.CheckLink(handle, platformID); err != nil {
		return rec, err
	}
	member, err := e.fetchMember(ctx, platformID)
	if err != nil {
		linkErr := &LinkError{handle, platformID, "fetch_member", classifyLinkFailure(err), err}
		log.Warn().Err(err).Str("reason", string(linkErr.Reason)).Msg("Failed to resolve member for link")
		return rec, linkErr
	}
	if err = e.grant(ctx, member, e.cfg.LinkedRoleID); err != nil {
		linkErr := &LinkError{handle, platformID, "grant_linked_role", classifyLinkFailure(err), err}
		log.Warn().Err(err).Str("reason", string(linkErr.Reason)).Str("role_id", e.cfg.LinkedRoleID).
			Msg("Failed to grant linked role")
		return rec, linkErr
	}
	if rec, err = e.links.Link(ctx, handle, platformID); err != nil {
		log.Err(err).Msg("Failed to store link")
		return rec, err
	}
	log.Info().Str("member", member.Name()).Msg("Linked game account")
	return rec, nil
}

// Unlink removes the link for handle and revokes the linked and playing roles
// on a best-effort basis. Returns an error wrapping bridge.ErrNotFound if the
// handle was not linked.
func (e *Engine) Unlink(ctx context.Context, handle string) (bridge.LinkRecord, []StepResult, error) {
	if strings.TrimSpace(handle) == "" {
		return bridge.LinkRecord{}, nil, fmt.Errorf("%w: game handle is required", bridge.ErrMalformedInput)
	}
	unlock := e.handles.Lock(handle)
	defer unlock()

	rec, ok, err := e.links.Unlink(ctx, handle)
	if err != nil {
		return rec, nil, err
	}
	if !ok {
		return rec, nil, fmt.Errorf("%s is not linked: %w", handle, bridge.ErrNotFound)
	}
	e.setPlaying(handle, false)

	var member *bridge.Member
	steps := e.runSteps(ctx, "unlink", handle, []step{
		{"fetch_member", func(ctx context.Context) (err error) {
			member, err = e.fetchMember(ctx, rec.PlatformAccountID)
			return err
		}},
		{"revoke_linked_role", func(ctx context.Context) error {
			return e.revokeIfMember(ctx, member, e.cfg.LinkedRoleID)
		}},
		{"revoke_playing_role", func(ctx context.Context) error {
			return e.revokeIfMember(ctx, member, e.cfg.PlayingRoleID)
		}},
	})
	return rec, steps, nil
}

// revokeIfMember treats a role that is already absent as revoked.
func (e *Engine) revokeIfMember(ctx context.Context, member *bridge.Member, roleID string) error {
	if member == nil || roleID == "" {
		return ErrSkipped
	}
	err := e.revoke(ctx, member, roleID)
	if errors.Is(err, bridge.ErrAlreadyAbsent) {
		return nil
	}
	return err
}

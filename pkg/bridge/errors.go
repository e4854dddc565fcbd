// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes shared by the store, the reconciliation engine, the relay
// and the platform/game-server collaborators. Implementations wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnreachable          = errors.New("unreachable")
	ErrTimeout              = errors.New("timed out")
	ErrPersistence          = errors.New("persistence failed")
	ErrMalformedInput       = errors.New("malformed input")
	ErrChannelUnavailable   = errors.New("channel unavailable")
	ErrAlreadyAbsent        = errors.New("role already absent")
	ErrLinkConflict         = errors.New("link conflicts with an existing mapping")

	// ErrUnknownUser means the account does not exist on the platform at
	// all; ErrUnknownMember means it exists but is not part of the team.
	ErrUnknownUser   = fmt.Errorf("unknown user: %w", ErrNotFound)
	ErrUnknownMember = fmt.Errorf("unknown member: %w", ErrNotFound)
)

// Kind is the coarse classification of an error chain.
type Kind string

const (
	KindNone                 Kind = ""
	KindNotFound             Kind = "not_found"
	KindPermissionDenied     Kind = "permission_denied"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindUnreachable          Kind = "unreachable"
	KindTimeout              Kind = "timeout"
	KindPersistence          Kind = "persistence"
	KindMalformedInput       Kind = "malformed_input"
	KindConflict             Kind = "conflict"
	KindUnknown              Kind = "unknown"
)

// Classify maps an error chain onto the failure taxonomy. A context deadline
// counts as a timeout; a channel that cannot be resolved is a configuration
// problem from the caller's point of view.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrLinkConflict):
		return KindConflict
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrChannelUnavailable):
		return KindInvalidConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	default:
		return KindUnknown
	}
}

// Copyright 2024-2026 Aiku AI

// Package linkstore holds the durable bijection between game handles and
// chat platform account ids.
//
// A [Store] keeps two in-memory views that always agree and writes the whole
// mapping through a [Backend] before a mutation is reported as successful. A
// failed write restores the previous mapping, so callers never observe a
// change that is not durable.
package linkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// Backend persists the mapping as a single document. Save must replace the
// previous document atomically: readers see either the old or the new one.
type Backend interface {
	// Load returns the stored mapping keyed by game handle. A missing
	// document is reported with an error wrapping fs.ErrNotExist.
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, gameToPlatform map[string]string) error
}

// Options control link conflict handling.
type Options struct {
	// RejectConflicts makes Link fail with bridge.ErrLinkConflict instead of
	// replacing a mapping that points elsewhere.
	RejectConflicts bool
}

// Store is the process-wide identity link store. It is safe for concurrent
// use; every mutation holds the write lock across the backend write.
type Store struct {
	backend Backend
	opts    Options
	log     zerolog.Logger

	mu         sync.RWMutex
	byGame     map[string]string
	byPlatform map[string]string
}

// New creates an empty store. Call Load once before serving events.
func New(backend Backend, log zerolog.Logger, opts Options) *Store {
	return &Store{
		backend:    backend,
		opts:       opts,
		log:        log.With().Str("component", "linkstore").Logger(),
		byGame:     make(map[string]string),
		byPlatform: make(map[string]string),
	}
}

// Load replaces the in-memory mapping with the backend's document. It never
// fails: unreadable or malformed data leaves an empty mapping. Pairs that
// would break the bijection are dropped (first handle in sorted order wins)
// and the repaired mapping is written back. Returns the number of records.
func (s *Store) Load(ctx context.Context) int {
	data, err := s.backend.Load(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info().Msg("No persisted links found, starting with an empty mapping")
		data = nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load persisted links, starting with an empty mapping")
		data = nil
	}

	byGame := make(map[string]string, len(data))
	byPlatform := make(map[string]string, len(data))
	dropped := 0
	for _, handle := range slices.Sorted(maps.Keys(data)) {
		pid := data[handle]
		if strings.TrimSpace(handle) == "" || strings.TrimSpace(pid) == "" {
			s.log.Warn().Str("game_handle", handle).Str("platform_id", pid).Msg("Dropping link with empty key")
			dropped++
			continue
		}
		if other, ok := byPlatform[pid]; ok {
			s.log.Warn().
				Str("game_handle", handle).
				Str("platform_id", pid).
				Str("kept_game_handle", other).
				Msg("Dropping link that reuses a platform account")
			dropped++
			continue
		}
		byGame[handle] = pid
		byPlatform[pid] = handle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGame = byGame
	s.byPlatform = byPlatform
	if dropped > 0 {
		if err = s.backend.Save(ctx, maps.Clone(s.byGame)); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist repaired links")
		}
	}
	s.log.Info().Int("count", len(byGame)).Int("dropped", dropped).Msg("Loaded links")
	return len(byGame)
}

// Link installs handle <-> platformID, first removing any record that holds
// either key. The change is durable when Link returns nil.
func (s *Store) Link(ctx context.Context, handle, platformID string) (bridge.LinkRecord, error) {
	rec := bridge.LinkRecord{GameHandle: handle, PlatformAccountID: platformID}
	if err := (bridge.LinkEvent{GameHandle: handle, PlatformAccountID: platformID}).Validate(); err != nil {
		return rec, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldPID, hadHandle := s.byGame[handle]
	oldHandle, hadPID := s.byPlatform[platformID]
	if hadHandle && oldPID == platformID {
		return rec, nil
	}
	if err := s.conflictLocked(handle, platformID); err != nil {
		return rec, err
	}

	snapshot := maps.Clone(s.byGame)
	if hadHandle {
		delete(s.byPlatform, oldPID)
	}
	if hadPID {
		delete(s.byGame, oldHandle)
	}
	s.byGame[handle] = platformID
	s.byPlatform[platformID] = handle

	if err := s.backend.Save(ctx, maps.Clone(s.byGame)); err != nil {
		s.restoreLocked(snapshot)
		return rec, fmt.Errorf("%w: %w", bridge.ErrPersistence, err)
	}

	evt := s.log.Info().Str("game_handle", handle).Str("platform_id", platformID)
	if hadHandle {
		evt = evt.Str("replaced_platform_id", oldPID)
	}
	if hadPID {
		evt = evt.Str("replaced_game_handle", oldHandle)
	}
	evt.Msg("Linked accounts")
	return rec, nil
}

// CheckLink reports whether Link(handle, platformID) would be rejected as a
// conflict. It always returns nil unless RejectConflicts is set.
func (s *Store) CheckLink(handle, platformID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflictLocked(handle, platformID)
}

func (s *Store) conflictLocked(handle, platformID string) error {
	if !s.opts.RejectConflicts {
		return nil
	}
	oldPID, hadHandle := s.byGame[handle]
	oldHandle, hadPID := s.byPlatform[platformID]
	if hadHandle && oldPID == platformID {
		return nil
	}
	if hadHandle || hadPID {
		return fmt.Errorf("%w: %s is linked to %q, %s is linked to %q",
			bridge.ErrLinkConflict, handle, oldPID, platformID, oldHandle)
	}
	return nil
}

// Unlink removes the record for handle. It reports false if there was none.
func (s *Store) Unlink(ctx context.Context, handle string) (bridge.LinkRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, ok := s.byGame[handle]
	if !ok {
		return bridge.LinkRecord{}, false, nil
	}
	rec := bridge.LinkRecord{GameHandle: handle, PlatformAccountID: pid}
	snapshot := maps.Clone(s.byGame)
	delete(s.byGame, handle)
	delete(s.byPlatform, pid)

	if err := s.backend.Save(ctx, maps.Clone(s.byGame)); err != nil {
		s.restoreLocked(snapshot)
		return rec, false, fmt.Errorf("%w: %w", bridge.ErrPersistence, err)
	}
	s.log.Info().Str("game_handle", handle).Str("platform_id", pid).Msg("Unlinked accounts")
	return rec, true, nil
}

// Persist writes the current mapping to the backend.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, maps.Clone(s.byGame)); err != nil {
		return fmt.Errorf("%w: %w", bridge.ErrPersistence, err)
	}
	return nil
}

func (s *Store) restoreLocked(byGame map[string]string) {
	s.byGame = byGame
	s.byPlatform = make(map[string]string, len(byGame))
	for handle, pid := range byGame {
		s.byPlatform[pid] = handle
	}
}

// ResolvePlatformID returns the platform account linked to handle.
func (s *Store) ResolvePlatformID(handle string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byGame[handle]
	return pid, ok
}

// ResolveGameHandle returns the game handle linked to platformID.
func (s *Store) ResolveGameHandle(platformID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.byPlatform[platformID]
	return handle, ok
}

// Records returns every link sorted by game handle.
func (s *Store) Records() []bridge.LinkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bridge.LinkRecord, 0, len(s.byGame))
	for _, handle := range slices.Sorted(maps.Keys(s.byGame)) {
		out = append(out, bridge.LinkRecord{GameHandle: handle, PlatformAccountID: s.byGame[handle]})
	}
	return out
}

// Len returns the number of links.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byGame)
}

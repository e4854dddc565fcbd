// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/linkstore"
)

const (
	linkedRole  = "role-linked"
	playingRole = "role-playing"
	channelID   = "chan-relay"
)

// fakePlatform is an in-memory bridge.Platform that records every call.
type fakePlatform struct {
	mu        sync.Mutex
	members   map[string]*bridge.Member
	roles     map[string]map[string]bool
	fetchErr  map[string]error
	grantErr  map[string]error
	revokeErr map[string]error
	sendErr   error
	listErr   error
	calls     []string
	sent      []string
}

func newFakePlatform(members ...*bridge.Member) *fakePlatform {
	f := &fakePlatform{
		members:   make(map[string]*bridge.Member),
		roles:     make(map[string]map[string]bool),
		fetchErr:  make(map[string]error),
		grantErr:  make(map[string]error),
		revokeErr: make(map[string]error),
	}
	for _, m := range members {
		f.members[m.ID] = m
	}
	return f
}

func (f *fakePlatform) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePlatform) FetchMember(_ context.Context, platformID string) (*bridge.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch:%s", platformID)
	if err := f.fetchErr[platformID]; err != nil {
		return nil, err
	}
	m, ok := f.members[platformID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", platformID, bridge.ErrUnknownMember)
	}
	return m, nil
}

func (f *fakePlatform) GrantRole(_ context.Context, member *bridge.Member, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("grant:%s:%s", member.ID, roleID)
	if err := f.grantErr[member.ID]; err != nil {
		return err
	}
	if f.roles[roleID] == nil {
		f.roles[roleID] = make(map[string]bool)
	}
	f.roles[roleID][member.ID] = true
	return nil
}

func (f *fakePlatform) RevokeRole(_ context.Context, member *bridge.Member, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("revoke:%s:%s", member.ID, roleID)
	if err := f.revokeErr[member.ID]; err != nil {
		return err
	}
	if !f.roles[roleID][member.ID] {
		return bridge.ErrAlreadyAbsent
	}
	delete(f.roles[roleID], member.ID)
	return nil
}

func (f *fakePlatform) MembersWithRole(_ context.Context, roleID string) ([]*bridge.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list:%s", roleID)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*bridge.Member
	for _, id := range slices.Sorted(maps.Keys(f.roles[roleID])) {
		out = append(out, f.members[id])
	}
	return out, nil
}

func (f *fakePlatform) HasRole(_ context.Context, platformID, roleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[roleID][platformID], nil
}

func (f *fakePlatform) SendChannelMessage(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("send:%s", channelID)
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakePlatform) giveRole(roleID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[roleID] == nil {
		f.roles[roleID] = make(map[string]bool)
	}
	for _, id := range ids {
		f.roles[roleID][id] = true
	}
}

func (f *fakePlatform) holders(roleID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.roles[roleID]))
}

func (f *fakePlatform) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakePlatform) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// memBackend is a linkstore.Backend kept in memory.
type memBackend struct {
	mu      sync.Mutex
	data    map[string]string
	saveErr error
}

func (m *memBackend) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.data), nil
}

func (m *memBackend) Save(_ context.Context, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = maps.Clone(data)
	return nil
}

type testEnv struct {
	engine   *Engine
	platform *fakePlatform
	store    *linkstore.Store
	backend  *memBackend
}

func newTestEnv(t *testing.T, opts linkstore.Options, cfg Config, members ...*bridge.Member) *testEnv {
	t.Helper()
	backend := &memBackend{}
	store := linkstore.New(backend, zerolog.Nop(), opts)
	store.Load(context.Background())
	platform := newFakePlatform(members...)
	cfg.LinkedRoleID = linkedRole
	cfg.PlayingRoleID = playingRole
	cfg.AnnounceChannelID = channelID
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}
	return &testEnv{
		engine:   New(store, platform, cfg, zerolog.Nop(), nil),
		platform: platform,
		store:    store,
		backend:  backend,
	}
}

func steve() *bridge.Member {
	return &bridge.Member{ID: "u-steve", Username: "steve", DisplayName: "Steve Builder"}
}

func alex() *bridge.Member {
	return &bridge.Member{ID: "u-alex", Username: "alex"}
}

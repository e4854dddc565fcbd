// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/linkstore"
)

const stallTimeout = 50 * time.Millisecond

// stallingPlatform blocks the named operations until their context is done.
type stallingPlatform struct {
	bridge.Platform
	stall map[string]bool
}

func (s *stallingPlatform) wait(ctx context.Context, op string) error {
	if !s.stall[op] {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return errors.New(op + " was not bounded by a deadline")
	}
}

func (s *stallingPlatform) FetchMember(ctx context.Context, platformID string) (*bridge.Member, error) {
	if err := s.wait(ctx, "fetch"); err != nil {
		return nil, err
	}
	return s.Platform.FetchMember(ctx, platformID)
}

func (s *stallingPlatform) GrantRole(ctx context.Context, member *bridge.Member, roleID string) error {
	if err := s.wait(ctx, "grant"); err != nil {
		return err
	}
	return s.Platform.GrantRole(ctx, member, roleID)
}

func (s *stallingPlatform) RevokeRole(ctx context.Context, member *bridge.Member, roleID string) error {
	if err := s.wait(ctx, "revoke"); err != nil {
		return err
	}
	return s.Platform.RevokeRole(ctx, member, roleID)
}

func (s *stallingPlatform) SendChannelMessage(ctx context.Context, channelID, text string) error {
	if err := s.wait(ctx, "send"); err != nil {
		return err
	}
	return s.Platform.SendChannelMessage(ctx, channelID, text)
}

func TestStalledCallsTimeOut(t *testing.T) {
	t.Parallel()
	join := func(env *testEnv) (PresenceResult, error) {
		return env.engine.Join(context.Background(), bridge.JoinEvent{GameHandle: "Steve"})
	}
	leave := func(env *testEnv) (PresenceResult, error) {
		return env.engine.Leave(context.Background(), bridge.LeaveEvent{GameHandle: "Steve"})
	}
	tests := []struct {
		name      string
		stall     string
		run       func(env *testEnv) (PresenceResult, error)
		step      string
		announced bool
	}{
		{"join fetch", "fetch", join, "fetch_member", true},
		{"join grant", "grant", join, "grant_playing_role", true},
		{"join announce", "send", join, "announce", false},
		{"leave fetch", "fetch", leave, "fetch_member", true},
		{"leave revoke", "revoke", leave, "revoke_playing_role", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, linkstore.Options{}, Config{CallTimeout: stallTimeout}, steve())
			mustLink(t, env, "Steve", "u-steve")
			env.platform.giveRole(playingRole, "u-steve")
			env.engine.platform = &stallingPlatform{Platform: env.platform, stall: map[string]bool{tt.stall: true}}

			start := time.Now()
			res, err := tt.run(env)
			elapsed := time.Since(start)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if elapsed > time.Second {
				t.Errorf("took %v with a %v call timeout", elapsed, stallTimeout)
			}
			if kind := bridge.Classify(stepErr(res.Steps, tt.step)); kind != bridge.KindTimeout {
				t.Errorf("step %s classified %q, want timeout: %+v", tt.step, kind, res.Steps)
			}
			if got := len(env.platform.messages()) == 1; got != tt.announced {
				t.Errorf("announced = %v, want %v (messages %q)", got, tt.announced, env.platform.messages())
			}
		})
	}
}

func TestLinkStalledGrantTimesOut(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, linkstore.Options{}, Config{CallTimeout: stallTimeout}, steve())
	env.engine.platform = &stallingPlatform{Platform: env.platform, stall: map[string]bool{"grant": true}}

	start := time.Now()
	_, err := env.engine.Link(context.Background(), "Steve", "u-steve")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v with a %v call timeout", elapsed, stallTimeout)
	}
	var linkErr *LinkError
	if !errors.As(err, &linkErr) || linkErr.Step != "grant_linked_role" || linkErr.Reason != ReasonUnavailable {
		t.Fatalf("expected unavailable grant failure, got %v", err)
	}
	if kind := bridge.Classify(err); kind != bridge.KindTimeout {
		t.Errorf("classified %q, want timeout", kind)
	}
	if env.store.Len() != 0 {
		t.Error("a timed out grant must not store the link")
	}
}

// gatedRevoke holds the first revocation until released.
type gatedRevoke struct {
	bridge.Platform
	started chan struct{}
	release chan struct{}
}

func (g *gatedRevoke) RevokeRole(ctx context.Context, member *bridge.Member, roleID string) error {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Platform.RevokeRole(ctx, member, roleID)
}

func TestBulkCleanupFinishesInFlightRemovalAfterCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, linkstore.Options{}, Config{CallTimeout: 5 * time.Second}, steve())
	env.platform.giveRole(playingRole, "u-steve")
	gate := &gatedRevoke{Platform: env.platform, started: make(chan struct{}), release: make(chan struct{})}
	env.engine.platform = gate

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan CleanupReport, 1)
	go func() { done <- env.engine.BulkCleanup(ctx) }()

	<-gate.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	select {
	case report := <-done:
		if report.Total != 1 || report.Removed != 1 || report.Failed != 0 || report.Skipped != 0 {
			t.Errorf("report = %+v", report)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("BulkCleanup did not return")
	}
	if got := env.platform.holders(playingRole); len(got) != 0 {
		t.Errorf("playing role holders = %v", got)
	}
}

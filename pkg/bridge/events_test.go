// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{
			name:  "link",
			input: `{"type":"link","game_handle":"Steve","platform_account_id":"u1"}`,
			want:  LinkEvent{GameHandle: "Steve", PlatformAccountID: "u1"},
		},
		{
			name:  "join without account",
			input: `{"type":"join","game_handle":"Steve"}`,
			want:  JoinEvent{GameHandle: "Steve"},
		},
		{
			name:  "leave",
			input: `{"type":"leave","game_handle":"Alex"}`,
			want:  LeaveEvent{GameHandle: "Alex"},
		},
		{
			name:  "lifecycle with message",
			input: `{"type":"server_lifecycle","status":"stopping","message":"restart"}`,
			want:  ServerLifecycleEvent{Status: StatusStopping, Message: "restart"},
		},
		{
			name:  "game chat",
			input: `{"type":"game_chat","game_handle":"Steve","text":"hi"}`,
			want:  GameChatEvent{GameHandle: "Steve", Text: "hi"},
		},
		{name: "link missing account", input: `{"type":"link","game_handle":"Steve"}`, wantErr: true},
		{name: "join blank handle", input: `{"type":"join","game_handle":"   "}`, wantErr: true},
		{name: "unknown type", input: `{"type":"teleport"}`, wantErr: true},
		{name: "not json", input: `{`, wantErr: true},
		{name: "wrong field type", input: `{"type":"leave","game_handle":5}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeEvent([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedInput) {
					t.Fatalf("expected ErrMalformedInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("fetch: %w", ErrNotFound), KindNotFound},
		{fmt.Errorf("grant: %w", ErrPermissionDenied), KindPermissionDenied},
		{ErrChannelUnavailable, KindInvalidConfiguration},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{fmt.Errorf("save: %w", ErrPersistence), KindPersistence},
		{ErrLinkConflict, KindConflict},
		{ErrUnreachable, KindUnreachable},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMemberName(t *testing.T) {
	t.Parallel()
	var nilMember *Member
	if nilMember.Name() != "" {
		t.Error("nil member should have empty name")
	}
	if got := (&Member{Username: "steve"}).Name(); got != "steve" {
		t.Errorf("got %q, want username fallback", got)
	}
	if got := (&Member{Username: "steve", DisplayName: "Steve B"}).Name(); got != "Steve B" {
		t.Errorf("got %q, want display name", got)
	}
}

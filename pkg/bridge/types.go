// Copyright 2024-2026 Aiku AI

package bridge

import "context"

// LinkRecord is one validated association between a game handle and a chat
// platform account.
type LinkRecord struct {
	GameHandle        string `json:"game_handle"`
	PlatformAccountID string `json:"platform_account_id"`
}

// Member is a chat platform account that belongs to the bridged team.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Name returns the best human-readable name for the member.
func (m *Member) Name() string {
	if m == nil {
		return ""
	}
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}

// Platform is the chat platform capability consumed by the reconciliation
// engine and the relay. Role ids are opaque to the core.
type Platform interface {
	// FetchMember returns ErrNotFound if the account does not exist or is not
	// part of the bridged team.
	FetchMember(ctx context.Context, platformID string) (*Member, error)
	// GrantRole is idempotent: granting a role the member already holds
	// succeeds without change.
	GrantRole(ctx context.Context, member *Member, roleID string) error
	// RevokeRole returns ErrAlreadyAbsent if the member did not hold the role.
	RevokeRole(ctx context.Context, member *Member, roleID string) error
	MembersWithRole(ctx context.Context, roleID string) ([]*Member, error)
	HasRole(ctx context.Context, platformID, roleID string) (bool, error)
	// SendChannelMessage returns ErrChannelUnavailable if the channel cannot
	// be resolved.
	SendChannelMessage(ctx context.Context, channelID, text string) error
}

// ChatMessage is an inbound message observed on the chat platform.
type ChatMessage struct {
	AuthorID      string
	AuthorName    string
	AuthorIsBot   bool
	ChannelID     string
	HasLinkedRole bool
	Text          string
}

// OutboundMessage is what the relay hands to the game server.
type OutboundMessage struct {
	PlatformAccountID string `json:"account_id"`
	Message           string `json:"message"`
}

// GameSender delivers chat platform messages to the game server.
type GameSender interface {
	Deliver(ctx context.Context, msg OutboundMessage) error
}

// Copyright 2024-2026 Aiku AI

// Package gamesender delivers chat platform messages to the game server.
package gamesender

import (
	"encoding/json"
	"time"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

const defaultTimeout = 10 * time.Second

// payload is the wire body understood by the game server plugin. The
// discord_id field duplicates account_id for plugins that still read it.
type payload struct {
	AccountID string `json:"account_id"`
	LegacyID  string `json:"discord_id"`
	Message   string `json:"message"`
}

func encode(msg bridge.OutboundMessage) ([]byte, error) {
	return json.Marshal(payload{
		AccountID: msg.PlatformAccountID,
		LegacyID:  msg.PlatformAccountID,
		Message:   msg.Message,
	})
}

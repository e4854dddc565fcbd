// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"fmt"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/chatfmt"
)

func joinAnnouncement(handle string, member *bridge.Member) string {
	if member == nil || member.Name() == "" {
		return fmt.Sprintf("▶️ **%s** joined the server!", chatfmt.EscapeMarkdown(handle))
	}
	return fmt.Sprintf("▶️ **%s** (*%s*) joined the server!",
		chatfmt.EscapeMarkdown(member.Name()), chatfmt.EscapeMarkdown(handle))
}

func leaveAnnouncement(handle string, member *bridge.Member) string {
	if member == nil || member.Name() == "" {
		return fmt.Sprintf("⏹️ **%s** left the server.", chatfmt.EscapeMarkdown(handle))
	}
	return fmt.Sprintf("⏹️ **%s** (*%s*) left the server.",
		chatfmt.EscapeMarkdown(member.Name()), chatfmt.EscapeMarkdown(handle))
}

func lifecycleAnnouncement(status bridge.ServerStatus, message string) string {
	var text string
	switch status {
	case bridge.StatusStarted:
		text = "🟢 The server has started."
	case bridge.StatusStopping:
		text = "🔴 The server is stopping."
	default:
		text = "ℹ️ Server status: " + chatfmt.EscapeMarkdown(string(status))
	}
	if message != "" {
		text += " - " + chatfmt.DisarmMentions(message)
	}
	return text
}

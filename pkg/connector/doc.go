// Copyright 2024-2026 Aiku AI

// Package connector talks to Mattermost on behalf of the game bridge.
//
// [MattermostPlatform] implements [bridge.Platform] over the REST API:
// members are users of the configured team, roles are custom user groups,
// and channel messages are posts. User lookups and role membership are
// cached in expiring LRU caches, invalidated on every role change made
// through the platform.
//
// [Listener] follows the websocket "posted" stream and emits
// [bridge.ChatMessage] values for the relay, reconnecting with exponential
// backoff when the connection drops.
//
// # Echo Prevention
//
// The listener drops posts that would loop back into the game:
//
//   - posts authored by the bridge's own account (its announcements)
//   - system posts (any non-default post type)
//   - posts whose sender name matches a bridge account pattern
//
// Posts marked with the from_bot prop are still emitted but flagged as bot
// authored, so the relay filters them.
//
// # Error Classification
//
// REST failures are mapped onto the bridge error kinds by HTTP status:
// 401 and 403 become [bridge.ErrPermissionDenied], 400 and 404 become a
// lookup-specific not-found error, deadlines become [bridge.ErrTimeout],
// and everything else is [bridge.ErrUnreachable].
package connector

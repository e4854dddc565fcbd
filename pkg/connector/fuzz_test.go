// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// FuzzIsBridgeUsername: username pattern matching with arbitrary strings.
// No input should cause a panic.
// ---------------------------------------------------------------------------

func FuzzIsBridgeUsername(f *testing.F) {
	f.Add("gamebridge", "")
	f.Add("mattermost-bridge", "")
	f.Add("normaluser", "")
	f.Add("", "")
	f.Add("mc_", "mc_")
	f.Add("mc_steve", "mc_")
	f.Add(string([]byte{0x00}), "") // null byte

	f.Fuzz(func(t *testing.T, username, botPrefix string) {
		result := isBridgeUsername(username, botPrefix)

		if username == "mattermost-bridge" && !result {
			t.Errorf("mattermost-bridge should always match, got false with prefix %q", botPrefix)
		}
		if botPrefix != "" && strings.HasPrefix(username, botPrefix) && !result {
			t.Errorf("%q has prefix %q but did not match", username, botPrefix)
		}
		if botPrefix == "" && username != "mattermost-bridge" && username != "gamebridge" && result {
			t.Errorf("%q matched without a prefix", username)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParsePostedEventJSON: arbitrary strings as the post payload. Must never
// panic and never return both a post and an error.
// ---------------------------------------------------------------------------

func FuzzParsePostedEventJSON(f *testing.F) {
	validPost, _ := json.Marshal(&model.Post{
		Id: "p1", UserId: "other-user", ChannelId: "ch1", Message: "hello",
	})
	f.Add(string(validPost))
	f.Add("{bad json")
	f.Add("")
	f.Add("{}")
	f.Add("null")
	f.Add(`{"id": "p1", "user_id": "bot-id"}`)
	f.Add(`{"id": "p1", "user_id": "u1", "type": "system_join_channel"}`)
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add(`{"id": 123, "user_id": true}`)

	l := &Listener{
		platform: &MattermostPlatform{cfg: Config{BotPrefix: "mc_"}},
		cfg:      ListenerConfig{ChannelID: "ch1"},
		userID:   "bot-id",
		log:      zerolog.Nop(),
	}
	f.Fuzz(func(t *testing.T, postJSON string) {
		evt := newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{
			"post":        postJSON,
			"sender_name": "@normaluser",
		})

		post, sender, err := l.parsePostedEvent(evt)
		if post != nil && err != nil {
			t.Errorf("parsePostedEvent returned both post and error: post=%+v, err=%v", post, err)
		}
		if post != nil && post.UserId == "bot-id" {
			t.Errorf("own post was not filtered: %+v", post)
		}
		if post != nil && sender != "normaluser" {
			t.Errorf("sender = %q, want normaluser", sender)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzFormatDisplayname: template rendering with arbitrary parameters. Must
// never panic and never return an empty name while a username is known.
// ---------------------------------------------------------------------------

func FuzzFormatDisplayname(f *testing.F) {
	f.Add("alice", "Alice N.", "Alice", "Wonderland", "{{.Username}}")
	f.Add("bob", "", "", "", "{{.FirstName}} {{.LastName}}")
	f.Add("", "", "", "", "")
	f.Add("user", "nick", "first", "last", "{{.Nickname}}")
	f.Add(string([]byte{0x00}), "nick", "a", "b", "{{.Username}}")

	f.Fuzz(func(t *testing.T, username, nickname, firstName, lastName, tmpl string) {
		cfg := &Config{DisplaynameTemplate: tmpl}
		_ = cfg.PostProcess()

		result := cfg.FormatDisplayname(DisplaynameParams{
			Username:  username,
			Nickname:  nickname,
			FirstName: firstName,
			LastName:  lastName,
		})

		if cfg.displaynameTemplate == nil && result != username {
			t.Errorf("nil template should return username %q, got %q", username, result)
		}
		if strings.TrimSpace(username) != "" && strings.TrimSpace(result) == "" {
			t.Errorf("empty display name for username %q", username)
		}
	})
}

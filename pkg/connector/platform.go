// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

const groupMembersPerPage = 200

// MattermostPlatform implements bridge.Platform on the Mattermost REST API.
// Roles are custom user groups; members are users of the configured team.
type MattermostPlatform struct {
	client *model.Client4
	cfg    Config
	log    zerolog.Logger

	users *expirable.LRU[string, *bridge.Member]
	roles *expirable.LRU[string, map[string]struct{}]
}

var _ bridge.Platform = (*MattermostPlatform)(nil)

// NewMattermostPlatform creates a platform client authenticated with
// cfg.Token.
func NewMattermostPlatform(cfg Config, log zerolog.Logger) (*MattermostPlatform, error) {
	cfg.SetDefaults()
	if cfg.displaynameTemplate == nil {
		if err := cfg.PostProcess(); err != nil {
			return nil, fmt.Errorf("%w: displayname_template: %w", bridge.ErrInvalidConfiguration, err)
		}
	}
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &MattermostPlatform{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "mm_platform").Logger(),
		users:  expirable.NewLRU[string, *bridge.Member](cfg.UserCacheSize, nil, cfg.UserCacheTTL),
		roles:  expirable.NewLRU[string, map[string]struct{}](64, nil, cfg.RoleCacheTTL),
	}, nil
}

func (p *MattermostPlatform) toMember(user *model.User) *bridge.Member {
	return &bridge.Member{
		ID:       user.Id,
		Username: user.Username,
		DisplayName: p.cfg.FormatDisplayname(DisplaynameParams{
			Username:  user.Username,
			Nickname:  user.Nickname,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		}),
		IsBot: user.IsBot,
	}
}

// FetchMember returns the user if it exists, is active, and belongs to the
// configured team. Results are cached.
func (p *MattermostPlatform) FetchMember(ctx context.Context, platformID string) (*bridge.Member, error) {
	if member, ok := p.users.Get(platformID); ok {
		return member, nil
	}
	user, resp, err := p.client.GetUser(ctx, platformID, "")
	if err != nil {
		return nil, classify(ctx, resp, err, bridge.ErrUnknownUser)
	}
	if user.DeleteAt != 0 {
		return nil, fmt.Errorf("user %s is deactivated: %w", platformID, bridge.ErrUnknownUser)
	}
	if p.cfg.TeamID != "" {
		tm, resp, err := p.client.GetTeamMember(ctx, p.cfg.TeamID, platformID, "")
		if err != nil {
			return nil, classify(ctx, resp, err, bridge.ErrUnknownMember)
		}
		if tm.DeleteAt != 0 {
			return nil, fmt.Errorf("user %s left team %s: %w", platformID, p.cfg.TeamID, bridge.ErrUnknownMember)
		}
	}
	member := p.toMember(user)
	p.users.Add(platformID, member)
	return member, nil
}

// GrantRole adds the member to the group. Adding an existing member is a
// no-op on the server.
func (p *MattermostPlatform) GrantRole(ctx context.Context, member *bridge.Member, roleID string) error {
	_, resp, err := p.client.UpsertGroupMembers(ctx, roleID, &model.GroupModifyMembers{UserIds: []string{member.ID}})
	if err != nil {
		return classify(ctx, resp, err, bridge.ErrInvalidConfiguration)
	}
	p.roles.Remove(roleID)
	p.log.Debug().Str("platform_id", member.ID).Str("role_id", roleID).Msg("Granted role")
	return nil
}

// RevokeRole removes the member from the group, returning
// bridge.ErrAlreadyAbsent if nothing was removed.
func (p *MattermostPlatform) RevokeRole(ctx context.Context, member *bridge.Member, roleID string) error {
	removed, resp, err := p.client.DeleteGroupMembers(ctx, roleID, &model.GroupModifyMembers{UserIds: []string{member.ID}})
	if err != nil {
		return classify(ctx, resp, err, bridge.ErrInvalidConfiguration)
	}
	p.roles.Remove(roleID)
	if len(removed) == 0 {
		return bridge.ErrAlreadyAbsent
	}
	p.log.Debug().Str("platform_id", member.ID).Str("role_id", roleID).Msg("Revoked role")
	return nil
}

// MembersWithRole lists every active user in the group, page by page.
func (p *MattermostPlatform) MembersWithRole(ctx context.Context, roleID string) ([]*bridge.Member, error) {
	var members []*bridge.Member
	ids := make(map[string]struct{})
	for page := 0; ; page++ {
		users, resp, err := p.client.GetUsersInGroup(ctx, roleID, page, groupMembersPerPage, "")
		if err != nil {
			return nil, classify(ctx, resp, err, bridge.ErrInvalidConfiguration)
		}
		for _, user := range users {
			if user.DeleteAt != 0 {
				continue
			}
			ids[user.Id] = struct{}{}
			members = append(members, p.toMember(user))
		}
		if len(users) < groupMembersPerPage {
			break
		}
	}
	p.roles.Add(roleID, ids)
	return members, nil
}

// HasRole checks group membership against a short-lived cache of the
// group's members.
func (p *MattermostPlatform) HasRole(ctx context.Context, platformID, roleID string) (bool, error) {
	ids, ok := p.roles.Get(roleID)
	if !ok {
		if _, err := p.MembersWithRole(ctx, roleID); err != nil {
			return false, err
		}
		ids, _ = p.roles.Get(roleID)
	}
	_, has := ids[platformID]
	return has, nil
}

// SendChannelMessage posts text as the bot. Any failure other than a
// transient one is reported as bridge.ErrChannelUnavailable.
func (p *MattermostPlatform) SendChannelMessage(ctx context.Context, channelID, text string) error {
	_, resp, err := p.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: text})
	if err != nil {
		err = classify(ctx, resp, err, bridge.ErrNotFound)
		switch bridge.Classify(err) {
		case bridge.KindUnreachable, bridge.KindTimeout:
			return err
		default:
			return fmt.Errorf("%w: %w", bridge.ErrChannelUnavailable, err)
		}
	}
	return nil
}

// VerifyChannel checks that the bot can see channelID.
func (p *MattermostPlatform) VerifyChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	channel, resp, err := p.client.GetChannel(ctx, channelID, "")
	if err != nil {
		err = classify(ctx, resp, err, bridge.ErrNotFound)
		return nil, fmt.Errorf("%w: %w", bridge.ErrChannelUnavailable, err)
	}
	return channel, nil
}

// Me returns the bot user the token belongs to.
func (p *MattermostPlatform) Me(ctx context.Context) (*model.User, error) {
	me, resp, err := p.client.GetMe(ctx, "")
	if err != nil {
		return nil, classify(ctx, resp, err, bridge.ErrPermissionDenied)
	}
	return me, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

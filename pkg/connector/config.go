// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the Mattermost connector configuration.
type Config struct {
	ServerURL string `yaml:"server_url" env:"MATTERMOST_URL"`
	Token     string `yaml:"token" env:"BOT_TOKEN"`
	// TeamID is the team members must belong to. Empty disables the check.
	TeamID              string `yaml:"team_id" env:"GUILD_ID"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Any Mattermost
	// username starting with this prefix is treated as a bridge-managed bot
	// and its posts are not relayed to the game. Leave empty to disable
	// prefix-based filtering.
	BotPrefix string `yaml:"bot_prefix"`

	UserCacheSize int           `yaml:"user_cache_size"`
	UserCacheTTL  time.Duration `yaml:"user_cache_ttl"`
	// RoleCacheTTL bounds how stale a cached group membership may be when
	// checking the linked role of inbound chat authors.
	RoleCacheTTL time.Duration `yaml:"role_cache_ttl"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.DisplaynameTemplate == "" {
		c.DisplaynameTemplate = `{{if .Nickname}}{{.Nickname}}{{else}}{{.Username}}{{end}}`
	}
	if c.UserCacheSize <= 0 {
		c.UserCacheSize = 1024
	}
	if c.UserCacheTTL <= 0 {
		c.UserCacheTTL = 5 * time.Minute
	}
	if c.RoleCacheTTL <= 0 {
		c.RoleCacheTTL = 30 * time.Second
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Username
	}
	if name := strings.TrimSpace(string(buf)); name != "" {
		return name
	}
	return params.Username
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// Copyright 2024-2026 Aiku AI

// Package config loads the bridge configuration from a YAML file and the
// environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-gamebridge/pkg/connector"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	SenderHTTP = "http"
	SenderNATS = "nats"
)

// Config holds the application configuration.
type Config struct {
	Mattermost connector.Config `yaml:"mattermost"`
	Roles      RolesConfig      `yaml:"roles"`
	Policy     PolicyConfig     `yaml:"policy"`
	Store      StoreConfig      `yaml:"store"`
	Game       GameConfig       `yaml:"game"`
	NATS       NATSConfig       `yaml:"nats"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging"`

	// CallTimeout bounds every platform and game server call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// RolesConfig names the platform groups and channel the bridge manages.
type RolesConfig struct {
	LinkedRoleID       string `yaml:"linked_role_id" env:"LINKED_ROLE_ID"`
	PlayingRoleID      string `yaml:"playing_role_id" env:"PLAYING_ROLE_ID"`
	ChannelID          string `yaml:"channel_id" env:"CHANNEL_ID"`
	CleanupConcurrency int    `yaml:"cleanup_concurrency" env:"CLEANUP_CONCURRENCY"`
}

// PolicyConfig holds deployment policies for linking.
type PolicyConfig struct {
	// ImplicitLinkOnJoin links the account id carried by a join event.
	ImplicitLinkOnJoin bool `yaml:"implicit_link_on_join" env:"IMPLICIT_LINK_ON_JOIN"`
	// RejectLinkConflicts refuses to relink a handle or account that is
	// already linked elsewhere instead of overwriting the old link.
	RejectLinkConflicts bool `yaml:"reject_link_conflicts" env:"REJECT_LINK_CONFLICTS"`
}

// StoreConfig selects where links are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"LINKS_BACKEND"`
	Path    string `yaml:"path" env:"LINKS_FILE"`
}

// GameConfig selects how messages reach the game server.
type GameConfig struct {
	Sender   string `yaml:"sender" env:"GAME_SENDER"`
	Endpoint string `yaml:"endpoint" env:"MCPIPE"`
}

// NATSConfig enables the NATS transport. An empty URL disables it.
type NATSConfig struct {
	URL    string `yaml:"url" env:"NATS_URL"`
	Prefix string `yaml:"prefix" env:"NATS_PREFIX"`
	// SubscribeEvents consumes game events from "<prefix>.events".
	SubscribeEvents bool `yaml:"subscribe_events" env:"NATS_SUBSCRIBE_EVENTS"`
}

// GatewayConfig holds the control-plane HTTP listener settings.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Port       int    `yaml:"port" env:"PORT"`
}

// Addr returns the host:port to listen on.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.ListenAddr, strconv.Itoa(g.Port))
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// ParseLevel returns the configured zerolog level.
func (l LoggingConfig) ParseLevel() (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(l.Level))
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "team_id")
	helper.Copy(up.Str, "mattermost", "displayname_template")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Int, "mattermost", "user_cache_size")
	helper.Copy(up.Str, "mattermost", "user_cache_ttl")
	helper.Copy(up.Str, "mattermost", "role_cache_ttl")

	helper.Copy(up.Str, "roles", "linked_role_id")
	helper.Copy(up.Str, "roles", "playing_role_id")
	helper.Copy(up.Str, "roles", "channel_id")
	helper.Copy(up.Int, "roles", "cleanup_concurrency")

	helper.Copy(up.Bool, "policy", "implicit_link_on_join")
	helper.Copy(up.Bool, "policy", "reject_link_conflicts")

	helper.Copy(up.Str, "store", "backend")
	helper.Copy(up.Str, "store", "path")

	helper.Copy(up.Str, "game", "sender")
	helper.Copy(up.Str, "game", "endpoint")

	helper.Copy(up.Str, "nats", "url")
	helper.Copy(up.Str, "nats", "prefix")
	helper.Copy(up.Bool, "nats", "subscribe_events")

	helper.Copy(up.Str, "gateway", "listen_addr")
	helper.Copy(up.Int, "gateway", "port")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "logging", "format")

	helper.Copy(up.Str, "call_timeout")
}

// upgrade merges the user's config onto the example config, so keys missing
// from older files get their documented defaults.
func upgrade(data []byte) ([]byte, error) {
	var base, cfg yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("parsing example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Kind == 0 {
		return []byte(ExampleConfig), nil
	}
	upgradeConfig(up.NewHelper(&base, &cfg))
	return yaml.Marshal(&base)
}

// Load reads the YAML file at path on top of the example config, applies
// environment overrides and fills defaults. An empty path uses the example
// config alone. The result is not validated.
func Load(path string) (*Config, error) {
	data := []byte(ExampleConfig)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if data, err = upgrade(raw); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ParseEnv overrides target's fields from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	c.Mattermost.SetDefaults()
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Roles.CleanupConcurrency <= 0 {
		c.Roles.CleanupConcurrency = 4
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" {
		if c.Store.Backend == BackendSQLite {
			c.Store.Path = "linked_users.db"
		} else {
			c.Store.Path = "linked_users.json"
		}
	}
	if c.Game.Sender == "" {
		c.Game.Sender = SenderHTTP
	}
	if c.NATS.Prefix == "" {
		c.NATS.Prefix = "gamebridge"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 3000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	required("mattermost.server_url (MATTERMOST_URL)", c.Mattermost.ServerURL)
	required("mattermost.token (BOT_TOKEN)", c.Mattermost.Token)
	required("roles.linked_role_id (LINKED_ROLE_ID)", c.Roles.LinkedRoleID)
	required("roles.playing_role_id (PLAYING_ROLE_ID)", c.Roles.PlayingRoleID)
	required("roles.channel_id (CHANNEL_ID)", c.Roles.ChannelID)

	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Game.Sender {
	case SenderHTTP:
		required("game.endpoint (MCPIPE)", c.Game.Endpoint)
	case SenderNATS:
		required("nats.url (NATS_URL)", c.NATS.URL)
	default:
		errs = append(errs, fmt.Errorf("unknown game.sender %q", c.Game.Sender))
	}
	if c.NATS.SubscribeEvents && c.Game.Sender != SenderNATS {
		required("nats.url (NATS_URL)", c.NATS.URL)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if _, err := c.Logging.ParseLevel(); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if err := c.Mattermost.PostProcess(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

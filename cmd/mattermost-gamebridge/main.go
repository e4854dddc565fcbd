// Copyright 2024-2026 Aiku AI

// Command mattermost-gamebridge connects a game server to a Mattermost team.
// It keeps a persistent link between game handles and Mattermost accounts,
// manages the linked and playing groups as players come and go, and relays
// chat in both directions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/config"
	"github.com/aiku/mattermost-gamebridge/pkg/connector"
	"github.com/aiku/mattermost-gamebridge/pkg/gamesender"
	"github.com/aiku/mattermost-gamebridge/pkg/gateway"
	"github.com/aiku/mattermost-gamebridge/pkg/linkstore"
	"github.com/aiku/mattermost-gamebridge/pkg/metrics"
	"github.com/aiku/mattermost-gamebridge/pkg/reconcile"
	"github.com/aiku/mattermost-gamebridge/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type options struct {
	configPath string
	listen     string
	logLevel   string
	version    bool
}

func main() {
	var opts options
	fs := flag.NewFlagSet("mattermost-gamebridge", flag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	fs.StringVar(&opts.listen, "listen", "", "control-plane listen address (host:port), overrides the config")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if opts.version {
		fmt.Printf("mattermost-gamebridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "mattermost-gamebridge: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.listen != "" {
		host, port, err := net.SplitHostPort(opts.listen)
		if err != nil {
			return nil, fmt.Errorf("invalid --listen: %w", err)
		}
		if cfg.Gateway.Port, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid --listen port: %w", err)
		}
		cfg.Gateway.ListenAddr = host
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	level, _ := cfg.ParseLevel()
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openBackend(cfg config.StoreConfig) (linkstore.Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		b, err := linkstore.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return linkstore.NewFileBackend(cfg.Path), func() error { return nil }, nil
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting mattermost-gamebridge")
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(reg)

	backend, closeBackend, err := openBackend(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open link store: %w", err)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warn().Err(err).Msg("Failed to close link store")
		}
	}()
	store := linkstore.New(backend, log, linkstore.Options{RejectConflicts: cfg.Policy.RejectLinkConflicts})
	log.Info().Int("links", store.Load(ctx)).Str("backend", cfg.Store.Backend).Str("path", cfg.Store.Path).Msg("Loaded links")

	platform, err := connector.NewMattermostPlatform(cfg.Mattermost, log)
	if err != nil {
		return fmt.Errorf("failed to create Mattermost client: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	channel, err := platform.VerifyChannel(verifyCtx, cfg.Roles.ChannelID)
	cancel()
	if err != nil {
		if !errors.Is(err, bridge.ErrUnreachable) && !errors.Is(err, bridge.ErrTimeout) {
			return fmt.Errorf("relay channel %s: %w", cfg.Roles.ChannelID, err)
		}
		log.Warn().Err(err).Str("channel_id", cfg.Roles.ChannelID).Msg("Could not verify relay channel, continuing")
	} else {
		log.Info().Str("channel_id", channel.Id).Str("channel", channel.Name).Msg("Relay channel verified")
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("mattermost-gamebridge"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("Failed to drain NATS connection")
			}
		}()
	}

	var sender bridge.GameSender
	switch cfg.Game.Sender {
	case config.SenderNATS:
		sender = gamesender.NewNATSSender(nc, cfg.NATS.Prefix, cfg.CallTimeout, log)
	default:
		sender = gamesender.NewHTTPSender(cfg.Game.Endpoint, cfg.CallTimeout, log)
	}

	engine := reconcile.New(store, platform, reconcile.Config{
		LinkedRoleID:       cfg.Roles.LinkedRoleID,
		PlayingRoleID:      cfg.Roles.PlayingRoleID,
		AnnounceChannelID:  cfg.Roles.ChannelID,
		CallTimeout:        cfg.CallTimeout,
		CleanupConcurrency: cfg.Roles.CleanupConcurrency,
		ImplicitLinkOnJoin: cfg.Policy.ImplicitLinkOnJoin,
	}, log, m)
	chatRelay := relay.New(store, platform, sender, relay.Config{
		ChannelID:   cfg.Roles.ChannelID,
		CallTimeout: cfg.CallTimeout,
	}, log, m)
	listener := connector.NewListener(platform, connector.ListenerConfig{
		ChannelID:    cfg.Roles.ChannelID,
		LinkedRoleID: cfg.Roles.LinkedRoleID,
		CallTimeout:  cfg.CallTimeout,
	})
	gw := gateway.New(gateway.Config{Addr: cfg.Gateway.Addr(), Gatherer: reg}, engine, chatRelay, store, log, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error {
		chatRelay.Run(gctx, listener.Messages())
		return nil
	})
	g.Go(func() error { return gw.Run(gctx) })
	if nc != nil && cfg.NATS.SubscribeEvents {
		sub := gateway.NewSubscriber(nc, cfg.NATS.Prefix, gw.Dispatcher(), log)
		g.Go(func() error { return sub.Run(gctx) })
	}

	err = g.Wait()
	log.Info().Msg("Shutting down")
	return err
}

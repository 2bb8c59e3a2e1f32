// NodeTunnel relay: CLI entry point.
//
// Accepts clients over UDP and WebSocket, groups them into rooms and forwards
// game data between room members.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/relay"
	"github.com/1ureka/nodetunnel/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cfg := config.DefaultRelay()
	var debug bool

	return &cli.App{
		Name:    "nodetunnel-relay",
		Usage:   "Run a NodeTunnel relay",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "UDP listen address", Value: cfg.ListenAddr, EnvVars: []string{"NODETUNNEL_LISTEN"}, Destination: &cfg.ListenAddr},
			&cli.StringFlag{Name: "http", Usage: "HTTP address for /healthz, /rooms, /metrics and /ws; empty disables it", Value: cfg.HTTPAddr, EnvVars: []string{"NODETUNNEL_HTTP"}, Destination: &cfg.HTTPAddr},
			&cli.StringFlag{Name: "version-constraint", Usage: "semver constraint on client protocol versions", Value: cfg.VersionConstraint, EnvVars: []string{"NODETUNNEL_VERSION_CONSTRAINT"}, Destination: &cfg.VersionConstraint},
			&cli.BoolFlag{Name: "require-version", Usage: "reject clients that advertise no protocol version", EnvVars: []string{"NODETUNNEL_REQUIRE_VERSION"}, Destination: &cfg.RequireVersion},
			&cli.IntFlag{Name: "max-rooms", Usage: "maximum number of open rooms", Value: cfg.MaxRooms, EnvVars: []string{"NODETUNNEL_MAX_ROOMS"}, Destination: &cfg.MaxRooms},
			&cli.IntFlag{Name: "max-peers", Usage: "maximum members per room", Value: cfg.MaxPeersPerRoom, EnvVars: []string{"NODETUNNEL_MAX_PEERS"}, Destination: &cfg.MaxPeersPerRoom},
			&cli.DurationFlag{Name: "timeout", Usage: "evict clients silent for this long", Value: cfg.Transport.Timeout, EnvVars: []string{"NODETUNNEL_TIMEOUT"}, Destination: &cfg.Transport.Timeout},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", EnvVars: []string{"NODETUNNEL_DEBUG"}, Destination: &debug},
		},
		Before: func(c *cli.Context) error {
			if debug {
				util.EnableDebug()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			pterm.Info.Println(fmt.Sprintf("NodeTunnel relay v%s", version))
			pterm.Println()

			srv, err := relay.New(cfg)
			if err != nil {
				return err
			}
			util.StartStatsReporter(c.Context)
			if err := srv.Run(c.Context); err != nil {
				return err
			}
			util.LogInfo("relay stopped")
			return nil
		},
	}
}

// NodeTunnel client: CLI entry point.
//
// Connects to a NodeTunnel relay, hosts or joins a room, and relays lines
// typed on stdin to the other room members as game data.
//
// It can be launched interactively (no --relay) or non-interactively via
// flags and NODETUNNEL_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/1ureka/nodetunnel/internal/app"
	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cfg := config.DefaultClient()
	var (
		role, network string
		debug, trace  bool
	)

	return &cli.App{
		Name:    "nodetunnel",
		Usage:   "Join a NodeTunnel relay room from the terminal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "relay", Usage: "relay address (host:port); prompts when empty", EnvVars: []string{"NODETUNNEL_RELAY"}, Destination: &cfg.RelayAddr},
			&cli.StringFlag{Name: "network", Usage: "udp or ws", Value: string(cfg.Network), EnvVars: []string{"NODETUNNEL_NETWORK"}, Destination: &network},
			&cli.StringFlag{Name: "app", Usage: "application id shared by every peer of the game", Value: "nodetunnel-chat", EnvVars: []string{"NODETUNNEL_APP"}, Destination: &cfg.AppID},
			&cli.StringFlag{Name: "role", Usage: "host or client", Value: string(cfg.Role), EnvVars: []string{"NODETUNNEL_ROLE"}, Destination: &role},
			&cli.StringFlag{Name: "room", Usage: "room id to join (client only)", EnvVars: []string{"NODETUNNEL_ROOM"}, Destination: &cfg.RoomID},
			&cli.BoolFlag{Name: "public", Usage: "list the hosted room publicly (host only)", EnvVars: []string{"NODETUNNEL_PUBLIC"}, Destination: &cfg.Public},
			&cli.StringFlag{Name: "metadata", Usage: "room metadata (host only)", EnvVars: []string{"NODETUNNEL_METADATA"}, Destination: &cfg.Metadata},
			&cli.StringFlag{Name: "protocol-version", Usage: "protocol version advertised to the relay", Value: cfg.ProtocolVersion, EnvVars: []string{"NODETUNNEL_PROTOCOL_VERSION"}, Destination: &cfg.ProtocolVersion},
			&cli.BoolFlag{Name: "mesh", Usage: "report every peer, not only the authority", EnvVars: []string{"NODETUNNEL_MESH"}, Destination: &cfg.Mesh},
			&cli.StringFlag{Name: "metrics", Usage: "serve Prometheus metrics on this address", EnvVars: []string{"NODETUNNEL_METRICS"}, Destination: &cfg.MetricsAddr},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", EnvVars: []string{"NODETUNNEL_DEBUG"}, Destination: &debug},
			&cli.BoolFlag{Name: "trace", Usage: "enable trace logging", EnvVars: []string{"NODETUNNEL_TRACE"}, Destination: &trace},
		},
		Before: func(c *cli.Context) error {
			switch {
			case trace:
				util.EnableTrace()
			case debug:
				util.EnableDebug()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			pterm.Info.Println(fmt.Sprintf("NodeTunnel v%s", version))
			pterm.Println()

			cfg.Role = config.Role(role)
			cfg.Network = config.Network(network)
			if cfg.RelayAddr == "" {
				runInteractive(&cfg)
			}
			return run(c.Context, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Client) error {
	util.StartStatsReporter(ctx)
	if cfg.MetricsAddr != "" {
		app.ServeMetrics(ctx, cfg.MetricsAddr)
	}

	pterm.Info.Println("type a line to send it, /rooms, /meta <text>, /peers or /quit")
	err := app.Run(ctx, cfg, os.Stdin)
	if err != nil {
		return err
	}
	util.LogInfo("successfully closed relay session")
	return nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// runInteractive fills in what flags left out.
func runInteractive(cfg *config.Client) {
	cfg.RelayAddr = askAddr()

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   Create a room", "Client Join a room"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		cfg.Public, _ = pterm.DefaultInteractiveConfirm.
			WithDefaultText("List the room publicly?").
			Show()
		pterm.Println()
		return
	}

	cfg.Role = config.RoleClient
	for cfg.RoomID == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room id").
			Show()
		cfg.RoomID = strings.TrimSpace(raw)
		pterm.Println()
	}
}

// askAddr prompts for a relay address until a valid one is entered.
func askAddr() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay address (e.g. relay.example.com:7777)").
			Show()
		pterm.Println()

		addr, err := normalizeAddr(raw)
		if err == nil {
			return addr
		}
		util.LogWarning("invalid input: %v", err)
	}
}

// normalizeAddr validates host:port and fills in the default relay port.
func normalizeAddr(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty address")
	}
	if strings.Contains(raw, "/") {
		return "", fmt.Errorf("%q is not host:port", raw)
	}
	if _, _, err := net.SplitHostPort(raw); err == nil {
		return raw, nil
	}
	return net.JoinHostPort(raw, "7777"), nil
}

// Package app contains the top-level orchestration for the terminal client.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/room"
	"github.com/1ureka/nodetunnel/internal/session"
	"github.com/1ureka/nodetunnel/internal/transport"
	"github.com/1ureka/nodetunnel/internal/util"
)

// FrameInterval is how often the session is polled.
const FrameInterval = 16 * time.Millisecond

// ErrQuit is returned by HandleLine when the user asks to leave.
var ErrQuit = errors.New("quit")

// Console binds a session to the terminal. It enters a room once the relay
// accepts the client and turns typed lines into commands or game data.
type Console struct {
	cfg   config.Client
	sess  *session.Client
	ended string // reason of the ForceDisconnected event, if any
}

// NewConsole wraps sess, which must have been created from cfg.
func NewConsole(cfg config.Client, sess *session.Client) *Console {
	return &Console{cfg: cfg, sess: sess}
}

// Step polls the session once, renders its events and reacts to them.
func (c *Console) Step(delta time.Duration) []session.Event {
	events := c.sess.Poll(delta)
	for _, e := range events {
		render(e)

		switch ev := e.(type) {
		case session.AuthenticatedToServer:
			if err := c.enterRoom(); err != nil {
				util.LogError("failed to enter a room: %v", err)
			}
		case session.ForceDisconnected:
			c.ended = ev.Reason
		}
	}
	return events
}

func (c *Console) enterRoom() error {
	if c.cfg.Role == config.RoleHost {
		return c.sess.HostRoom(c.cfg.Public, c.cfg.Metadata)
	}
	return c.sess.JoinRoom(c.cfg.RoomID)
}

// Ended reports whether the session was closed by the relay or the network,
// and why.
func (c *Console) Ended() (string, bool) { return c.ended, c.ended != "" }

// HandleLine applies one line of user input. Plain text is sent as reliable
// game data: the authority broadcasts it, everyone else sends it to the
// authority.
func (c *Console) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")

	switch {
	case line == "":
		return nil
	case cmd == "/quit":
		return ErrQuit
	case cmd == "/rooms":
		return c.sess.ListRooms()
	case cmd == "/meta":
		return c.sess.UpdateRoom(strings.TrimSpace(arg))
	case cmd == "/peers":
		pterm.Info.Printfln("peers in %s: %v", c.sess.RoomID(), c.sess.Peers())
		return nil
	case strings.HasPrefix(cmd, "/"):
		return fmt.Errorf("unknown command %s (try /rooms, /meta <text>, /peers, /quit)", cmd)
	}

	target := room.AuthorityPeerID
	if c.sess.IsAuthority() {
		target = 0
	}
	return c.sess.SendGameData(target, []byte(line), transport.Reliable)
}

// Run connects to the relay described by cfg and drives the session until
// ctx is cancelled, the user quits, or the session ends.
func Run(ctx context.Context, cfg config.Client, in io.Reader, opts ...session.Option) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}

	sess := session.New(cfg, opts...)
	if err := sess.Connect(ctx, cfg.RelayAddr, cfg.AppID); err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer sess.Disconnect()

	con := NewConsole(cfg, sess)
	lines := readLines(ctx, in)

	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			con.Step(now.Sub(last))
			last = now
			if reason, ok := con.Ended(); ok {
				return fmt.Errorf("session ended: %s", reason)
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch err := con.HandleLine(line); {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				util.LogWarning("%v", err)
			}
		}
	}
}

// readLines forwards lines from in until it is exhausted or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func render(e session.Event) {
	switch ev := e.(type) {
	case session.RoomJoined:
		pterm.DefaultBox.WithTitle("Room").Println(describe(ev))
	case session.RoomsListed:
		if len(ev.Rooms) == 0 {
			pterm.Info.Println("no public rooms")
			return
		}
		data := pterm.TableData{{"Room", "Metadata"}}
		for _, r := range ev.Rooms {
			data = append(data, []string{r.RoomID, r.Metadata})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			util.LogDebug("render rooms: %v", err)
		}
	case session.DataReceived:
		pterm.Println(pterm.FgCyan.Sprintf("[peer %d]", ev.From) + " " + string(ev.Payload))
	case session.RelayError, session.ForceDisconnected:
		pterm.Warning.Println(describe(ev))
	default:
		pterm.Info.Println(describe(ev))
	}
}

// describe returns a one-line summary of e.
func describe(e session.Event) string {
	switch ev := e.(type) {
	case session.ConnectedToServer:
		return "connected to relay"
	case session.AuthenticatedToServer:
		return "authenticated"
	case session.RoomsListed:
		return fmt.Sprintf("%d public rooms", len(ev.Rooms))
	case session.RoomJoined:
		return fmt.Sprintf("room %s, you are peer %d, peers %v", ev.RoomID, ev.PeerID, ev.ExistingPeers)
	case session.PeerJoined:
		return fmt.Sprintf("peer %d joined", ev.PeerID)
	case session.PeerLeft:
		return fmt.Sprintf("peer %d left", ev.PeerID)
	case session.DataReceived:
		return fmt.Sprintf("peer %d sent %d bytes (%s)", ev.From, len(ev.Payload), ev.Quality)
	case session.ForceDisconnected:
		return "disconnected: " + ev.Reason
	case session.RelayError:
		return fmt.Sprintf("relay error %d: %s", ev.Code, ev.Message)
	default:
		return fmt.Sprintf("%T", e)
	}
}

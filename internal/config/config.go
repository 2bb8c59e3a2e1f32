// Package config holds the client and relay configuration types.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Role represents what the client does once authenticated.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Network selects the datagram link used to reach the relay.
type Network string

const (
	NetworkUDP       Network = "udp"
	NetworkWebSocket Network = "ws"
)

// ProtocolVersion is advertised in Authenticate unless overridden.
const ProtocolVersion = "1.0.0"

// Transport tunes the datagram transport and its reliability channel.
type Transport struct {
	ResendCadence      time.Duration // how often the retransmit sweep runs
	RetransmitInterval time.Duration // minimum age before a reliable frame is resent
	KeepaliveInterval  time.Duration
	Timeout            time.Duration // silence after which the relay is considered gone
	WriteWait          time.Duration // upper bound on a single socket write
	InboxSize          int           // inbound datagrams buffered between polls
	MaxDatagram        int
	MaxWindow          uint32
}

// DefaultTransport returns the timings used by both clients and the relay.
func DefaultTransport() Transport {
	return Transport{
		ResendCadence:      50 * time.Millisecond,
		RetransmitInterval: 100 * time.Millisecond,
		KeepaliveInterval:  5 * time.Second,
		Timeout:            15 * time.Second,
		WriteWait:          5 * time.Millisecond,
		InboxSize:          1024,
		MaxDatagram:        65535,
		MaxWindow:          4096,
	}
}

// Validate checks that every timing and size is usable.
func (t Transport) Validate() error {
	var errs []error
	if t.ResendCadence <= 0 {
		errs = append(errs, errors.New("resend cadence must be positive"))
	}
	if t.RetransmitInterval <= 0 {
		errs = append(errs, errors.New("retransmit interval must be positive"))
	}
	if t.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("keepalive interval must be positive"))
	}
	if t.Timeout <= t.KeepaliveInterval {
		errs = append(errs, fmt.Errorf("timeout %s must exceed keepalive interval %s", t.Timeout, t.KeepaliveInterval))
	}
	if t.WriteWait <= 0 {
		errs = append(errs, errors.New("write wait must be positive"))
	}
	if t.InboxSize <= 0 {
		errs = append(errs, errors.New("inbox size must be positive"))
	}
	if t.MaxDatagram < 16 || t.MaxDatagram > 65535 {
		errs = append(errs, fmt.Errorf("max datagram %d out of range 16~65535", t.MaxDatagram))
	}
	if t.MaxWindow == 0 || t.MaxWindow >= 1<<31 {
		errs = append(errs, fmt.Errorf("max window %d out of range", t.MaxWindow))
	}
	return errors.Join(errs...)
}

// Client stores everything the client CLI and session need.
type Client struct {
	Role      Role
	RelayAddr string // host:port of the relay (UDP) or its HTTP server (ws)
	Network   Network
	AppID     string
	RoomID    string // Client: room to join
	Public    bool   // Host: list the room in room discovery
	Metadata  string // Host: room metadata

	ProtocolVersion  string
	AutoAuthenticate bool
	Mesh             bool // surface every peer join/leave, not only authority-related ones
	MetricsAddr      string

	Transport Transport
}

// DefaultClient returns a client configuration with default timings.
func DefaultClient() Client {
	return Client{
		Role:             RoleHost,
		Network:          NetworkUDP,
		ProtocolVersion:  ProtocolVersion,
		AutoAuthenticate: true,
		Transport:        DefaultTransport(),
	}
}

// Validate reports every problem with c at once.
func (c Client) Validate() error {
	var errs []error
	switch c.Role {
	case RoleHost:
	case RoleClient:
		if c.RoomID == "" {
			errs = append(errs, errors.New("client role requires a room id"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be 'host' or 'client'", c.Role))
	}
	switch c.Network {
	case NetworkUDP, NetworkWebSocket:
	default:
		errs = append(errs, fmt.Errorf("invalid network %q: must be 'udp' or 'ws'", c.Network))
	}
	if _, _, err := net.SplitHostPort(c.RelayAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid relay address %q: %w", c.RelayAddr, err))
	}
	if c.AppID == "" {
		errs = append(errs, errors.New("app id must not be empty"))
	}
	if c.ProtocolVersion != "" {
		if _, err := semver.NewVersion(c.ProtocolVersion); err != nil {
			errs = append(errs, fmt.Errorf("invalid protocol version %q: %w", c.ProtocolVersion, err))
		}
	}
	if err := c.Transport.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Relay stores the relay server configuration.
type Relay struct {
	ListenAddr        string // UDP listen address
	HTTPAddr          string // status/metrics/WebSocket address; empty disables it
	VersionConstraint string // semver constraint on client protocol versions; empty accepts any
	RequireVersion    bool   // reject clients that advertise no version
	MaxRooms          int
	MaxPeersPerRoom   int

	Transport Transport
}

// DefaultRelay returns the relay defaults.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:        ":7777",
		HTTPAddr:          ":8080",
		VersionConstraint: "^1.0.0",
		MaxRooms:          1024,
		MaxPeersPerRoom:   32,
		Transport:         DefaultTransport(),
	}
}

// Constraints parses VersionConstraint. A nil result means any version.
func (r Relay) Constraints() (*semver.Constraints, error) {
	if r.VersionConstraint == "" {
		return nil, nil
	}
	c, err := semver.NewConstraint(r.VersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q: %w", r.VersionConstraint, err)
	}
	return c, nil
}

// Validate reports every problem with r at once.
func (r Relay) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(r.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", r.ListenAddr, err))
	}
	if r.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(r.HTTPAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid http address %q: %w", r.HTTPAddr, err))
		}
	}
	if _, err := r.Constraints(); err != nil {
		errs = append(errs, err)
	}
	if r.MaxRooms <= 0 {
		errs = append(errs, errors.New("max rooms must be positive"))
	}
	if r.MaxPeersPerRoom < 2 {
		errs = append(errs, errors.New("max peers per room must be at least 2"))
	}
	if err := r.Transport.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

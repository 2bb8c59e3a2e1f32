package config

import (
	"strings"
	"testing"
	"time"
)

func validClient() Client {
	c := DefaultClient()
	c.RelayAddr = "127.0.0.1:7777"
	c.AppID = "game-1"
	return c
}

func TestDefaultsAreValid(t *testing.T) {
	if err := DefaultTransport().Validate(); err != nil {
		t.Errorf("DefaultTransport invalid: %v", err)
	}
	if err := validClient().Validate(); err != nil {
		t.Errorf("default client invalid: %v", err)
	}
	if err := DefaultRelay().Validate(); err != nil {
		t.Errorf("DefaultRelay invalid: %v", err)
	}
}

func TestClientValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Client)
		want   string
	}{
		{"client without room", func(c *Client) { c.Role = RoleClient }, "room id"},
		{"bad role", func(c *Client) { c.Role = "spectator" }, "invalid role"},
		{"bad network", func(c *Client) { c.Network = "tcp" }, "invalid network"},
		{"bad relay address", func(c *Client) { c.RelayAddr = "relay" }, "invalid relay address"},
		{"empty app id", func(c *Client) { c.AppID = "" }, "app id"},
		{"bad version", func(c *Client) { c.ProtocolVersion = "one" }, "invalid protocol version"},
		{"timeout below keepalive", func(c *Client) { c.Transport.Timeout = time.Second }, "must exceed keepalive"},
		{"zero cadence", func(c *Client) { c.Transport.ResendCadence = 0 }, "resend cadence"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validClient()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestClientValidateReportsAllProblems(t *testing.T) {
	c := validClient()
	c.AppID = ""
	c.Network = "carrier-pigeon"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "app id") || !strings.Contains(err.Error(), "invalid network") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestRelayConstraints(t *testing.T) {
	r := DefaultRelay()
	c, err := r.Constraints()
	if err != nil {
		t.Fatalf("Constraints: %v", err)
	}
	if c == nil {
		t.Fatal("default relay should constrain versions")
	}

	r.VersionConstraint = ""
	if c, err := r.Constraints(); c != nil || err != nil {
		t.Errorf("empty constraint = %v, %v; want nil, nil", c, err)
	}

	r.VersionConstraint = "not a constraint ~~"
	if err := r.Validate(); err == nil {
		t.Error("invalid constraint accepted")
	}
}

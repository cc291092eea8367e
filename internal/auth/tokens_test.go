package auth

import (
	"testing"

	"github.com/patentify/sfide/internal/realtime"
)

func TestNewTokenValueUnique(t *testing.T) {
	a, err := NewTokenValue()
	if err != nil {
		t.Fatalf("NewTokenValue: %v", err)
	}
	b, err := NewTokenValue()
	if err != nil {
		t.Fatalf("NewTokenValue: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("tokens = %q / %q", a, b)
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("same value hashed differently")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("different values collided")
	}
	if HashToken("abc") == "abc" {
		t.Fatal("hash equals the raw value")
	}
}

func TestAllowedChannel(t *testing.T) {
	cases := []struct {
		name    string
		channel string
		want    bool
	}{
		{"lobby", realtime.LobbyChannel, true},
		{"own user channel", realtime.UserChannel("alice"), true},
		{"other user channel", realtime.UserChannel("bob"), false},
		{"session channel", "sfida.7b0d7b8e-6f6e-4f12-86a1-3f4f2a2d9c01", true},
		{"empty", "", false},
		{"unknown", "admin", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AllowedChannel("alice", tc.channel); got != tc.want {
				t.Fatalf("AllowedChannel(alice, %q) = %v, want %v", tc.channel, got, tc.want)
			}
		})
	}
}

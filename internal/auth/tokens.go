package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/patentify/sfide/internal/realtime"
)

// NewTokenValue generates an opaque realtime token. Only its hash is stored.
func NewTokenValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken is the stored form of a token value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// AllowedChannel reports whether a user's token grants access to a channel:
// the shared lobby, the user's own private channel, and any session channel.
// Session channel names are unguessable UUIDs handed out by game-start.
func AllowedChannel(userID, channel string) bool {
	switch {
	case channel == realtime.LobbyChannel:
		return true
	case channel == realtime.UserChannel(userID):
		return true
	case strings.HasPrefix(channel, "sfida."):
		return true
	}
	return false
}

// Package model defines the validated identifier types used as map keys
// throughout the gateway.
//
// Every type here parses from a string exactly once; construction is the
// only fallible operation. Once built, a value is valid for its whole
// lifetime, so the dispatch indexes never re-validate keys on lookup.
package model

import (
	"errors"
	"strings"
)

var (
	ErrGameID   = errors.New("model: invalid game id")
	ErrUserID   = errors.New("model: invalid user id")
	ErrSri      = errors.New("model: invalid sri")
	ErrFlag     = errors.New("model: invalid flag")
	ErrEndpoint = errors.New("model: invalid endpoint")
)

// GameID is an 8-character ASCII alphanumeric game identifier.
type GameID string

// NewGameID validates and wraps a raw game id.
func NewGameID(s string) (GameID, error) {
	if len(s) != 8 {
		return "", ErrGameID
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return "", ErrGameID
		}
	}
	return GameID(s), nil
}

func (g GameID) String() string { return string(g) }

// UserID is a lowercase user identifier, 1-30 characters from
// [a-z0-9_-]. Uppercase input is normalized to lowercase so that equality
// and hashing work on the canonical representation.
type UserID string

// NewUserID validates, normalizes and wraps a raw user id.
func NewUserID(s string) (UserID, error) {
	if len(s) < 1 || len(s) > 30 {
		return "", ErrUserID
	}
	s = strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return "", ErrUserID
		}
	}
	return UserID(s), nil
}

func (u UserID) String() string { return string(u) }

// Sri is the per-page-load session identifier assigned by the browser. It
// stays constant across WebSocket reconnects of the same page view.
type Sri string

// NewSri validates and wraps a raw sri.
func NewSri(s string) (Sri, error) {
	if len(s) < 1 || len(s) > 12 {
		return "", ErrSri
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", ErrSri
	}
	return Sri(s), nil
}

func (s Sri) String() string { return string(s) }

// Flag is an opt-in server-sent channel selected at handshake time.
type Flag string

const (
	FlagSimul      Flag = "simul"
	FlagTournament Flag = "tournament"
)

// NewFlag parses a handshake flag value.
func NewFlag(s string) (Flag, error) {
	switch Flag(s) {
	case FlagSimul, FlagTournament:
		return Flag(s), nil
	}
	return "", ErrFlag
}

func (f Flag) String() string { return string(f) }

// Endpoint is the logical socket channel chosen by URL path. It affects
// the shape of ping replies.
type Endpoint int

const (
	EndpointSite Endpoint = iota
	EndpointLobby
)

// EndpointFromPath maps a request path to its endpoint.
func EndpointFromPath(path string) (Endpoint, error) {
	switch path {
	case "/socket/v4":
		return EndpointSite, nil
	case "/lobby/socket/v4":
		return EndpointLobby, nil
	}
	return EndpointSite, ErrEndpoint
}

func (e Endpoint) String() string {
	if e == EndpointLobby {
		return "lobby"
	}
	return "site"
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGameID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid lowercase", "abcdefgh", false},
		{"valid mixed", "AbCd1234", false},
		{"too short", "abcdefg", true},
		{"too long", "abcdefghi", true},
		{"empty", "", true},
		{"punctuation", "abc-defg", true},
		{"space", "abcd efg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGameID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.in, g.String())
			}
		})
	}
}

func TestNewUserID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "alice", "alice", false},
		{"normalized to lowercase", "Alice", "alice", false},
		{"dash and underscore", "a-b_c", "a-b_c", false},
		{"single char", "x", "x", false},
		{"max length", "abcdefghijklmnopqrstuvwxyz0123", "abcdefghijklmnopqrstuvwxyz0123", false},
		{"too long", "abcdefghijklmnopqrstuvwxyz01234", "", true},
		{"empty", "", "", true},
		{"space", "a b", "", true},
		{"unicode", "ალისა", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUserID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, u.String())
			}
		})
	}
}

func TestNewSri(t *testing.T) {
	_, err := NewSri("")
	assert.Error(t, err)

	_, err = NewSri("abcdefghijklm") // 13 chars
	assert.Error(t, err)

	_, err = NewSri("with space")
	assert.Error(t, err)

	s, err := NewSri("o0aW9RFjxIr2")
	require.NoError(t, err)
	assert.Equal(t, "o0aW9RFjxIr2", s.String())
}

func TestNewFlag(t *testing.T) {
	f, err := NewFlag("simul")
	require.NoError(t, err)
	assert.Equal(t, FlagSimul, f)

	f, err = NewFlag("tournament")
	require.NoError(t, err)
	assert.Equal(t, FlagTournament, f)

	_, err = NewFlag("lobby")
	assert.Error(t, err)
	_, err = NewFlag("")
	assert.Error(t, err)
}

func TestEndpointFromPath(t *testing.T) {
	e, err := EndpointFromPath("/socket/v4")
	require.NoError(t, err)
	assert.Equal(t, EndpointSite, e)
	assert.Equal(t, "site", e.String())

	e, err = EndpointFromPath("/lobby/socket/v4")
	require.NoError(t, err)
	assert.Equal(t, EndpointLobby, e)
	assert.Equal(t, "lobby", e.String())

	_, err = EndpointFromPath("/socket/v3")
	assert.Error(t, err)
}

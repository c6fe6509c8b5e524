package match

import "errors"

var (
	// ErrPlayerNotFound is returned when a connecting identity does not belong to the match.
	ErrPlayerNotFound = errors.New("NOT_FOUND")
	// ErrDuplicateConnection rejects a second live connection for an already connected player.
	ErrDuplicateConnection = errors.New("DUPLICATE")
	// ErrNotConnected is returned when sending to a player without a live connection.
	ErrNotConnected = errors.New("NOT_CONNECTED")
	// ErrPlayerMissing rejects match creation without two distinct players.
	ErrPlayerMissing = errors.New("PLAYER_MISSING")
	// ErrMatchClosed is returned by operations on a destroyed match.
	ErrMatchClosed = errors.New("match closed")
)

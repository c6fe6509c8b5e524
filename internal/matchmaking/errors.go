package matchmaking

import (
	"errors"
	"net/http"
)

// Error reasons sent on the wire. Each sentinel's message is its reason.
var (
	ErrInvalidTransition    = errors.New("INVALID_TRANSITION")
	ErrInvalidFormat        = errors.New("INVALID_FORMAT")
	ErrInvalidGameType      = errors.New("INVALID_GAME_TYPE")
	ErrInvalidClient        = errors.New("INVALID_CLIENT")
	ErrNotConnected         = errors.New("NOT_CONNECTED")
	ErrAlreadyConnected     = errors.New("ALREADY_CONNECTED")
	ErrClientNotFound       = errors.New("CLIENT_NOT_FOUND")
	ErrPartyFull            = errors.New("PARTY_FULL")
	ErrPartyInQueue         = errors.New("PARTY_IN_QUEUE")
	ErrClientAlreadyInParty = errors.New("CLIENT_ALREADY_IN_PARTY")
	ErrClientNotInParty     = errors.New("CLIENT_NOT_IN_PARTY")
	ErrNotLeader            = errors.New("NOT_LEADER")
	ErrAlreadyQueued        = errors.New("ALREADY_QUEUED")
	ErrInviteNotFound       = errors.New("INVITE_NOT_FOUND")
	ErrInviteExpired        = errors.New("INVITE_EXPIRED")
	ErrRankNotFound         = errors.New("RANK_NOT_FOUND")
	ErrMatchUnavailable     = errors.New("MATCH_UNAVAILABLE")
	ErrPermissionDenied     = errors.New("PERMISSION_DENIED")
)

var reasonStatus = map[error]int{
	ErrInvalidTransition:    http.StatusConflict,
	ErrInvalidFormat:        http.StatusBadRequest,
	ErrInvalidGameType:      http.StatusBadRequest,
	ErrInvalidClient:        http.StatusBadRequest,
	ErrNotConnected:         http.StatusUnauthorized,
	ErrAlreadyConnected:     http.StatusConflict,
	ErrClientNotFound:       http.StatusNotFound,
	ErrPartyFull:            http.StatusConflict,
	ErrPartyInQueue:         http.StatusConflict,
	ErrClientAlreadyInParty: http.StatusConflict,
	ErrClientNotInParty:     http.StatusNotFound,
	ErrNotLeader:            http.StatusForbidden,
	ErrAlreadyQueued:        http.StatusConflict,
	ErrInviteNotFound:       http.StatusNotFound,
	ErrInviteExpired:        http.StatusGone,
	ErrRankNotFound:         http.StatusNotFound,
	ErrMatchUnavailable:     http.StatusServiceUnavailable,
	ErrPermissionDenied:     http.StatusForbidden,
}

// Reason maps err onto its wire reason, falling back to INTERNAL_ERROR.
func Reason(err error) string {
	for known := range reasonStatus {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "INTERNAL_ERROR"
}

// StatusCode maps err onto the HTTP status used by the party routes and ERROR frames.
func StatusCode(err error) int {
	for known, status := range reasonStatus {
		if errors.Is(err, known) {
			return status
		}
	}
	return http.StatusInternalServerError
}

package gamehost

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Inbound message types. CONNECT_PLAYER and PLAYER_READY are accepted as aliases.
const (
	TypeConnect       = "CONNECT"
	TypeConnectPlayer = "CONNECT_PLAYER"
	TypeReady         = "READY"
	TypePlayerReady   = "PLAYER_READY"
	TypeInput         = "INPUT"
	TypePing          = "PING"
	TypeConnectLobby  = "CONNECT_LOBBY"
	TypeNewMatch      = "NEW_MATCH"
	TypeRemoveMatch   = "REMOVE_MATCH"
)

// Outbound message types sent to the lobby.
const (
	TypePong           = "PONG"
	TypeLobbyConnected = "LOBBY_CONNECTED"
	TypeMatchCreated   = "MATCH_CREATED"
	TypeMatchRemoved   = "MATCH_REMOVED"
	TypeEndGame        = "END_GAME"
	TypeTimeoutRemove  = "TIMEOUT_REMOVE"
	TypeError          = "ERROR"
)

// Error codes carried in ERROR{error}.
const (
	CodeNotConnected     = "NOT_CONNECTED"
	CodeDuplicate        = "DUPLICATE"
	CodeNotFound         = "NOT_FOUND"
	CodePlayerMissing    = "PLAYER_MISSING"
	CodeInvalidData      = "INVALID_DATA"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeDDoSDetected     = "DDOS_DETECTED"
)

// Close reasons sent with policy-violation close frames.
const (
	reasonMatchNotFound    = "Match not found"
	reasonSlotUnavailable  = "Match full or name/id not recognized"
	reasonAlreadyConnected = "Player already connected"
)

var (
	// ErrPermissionDenied rejects a lobby with bad credentials or while another lobby is active.
	ErrPermissionDenied = errors.New(CodePermissionDenied)
	// ErrInvalidData flags a malformed message.
	ErrInvalidData = errors.New(CodeInvalidData)
)

type envelope struct {
	Type string `json:"type"`
}

type connectMessage struct {
	MatchID  int64  `json:"matchId"`
	PlayerID int64  `json:"playerId"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
}

// playerID prefers playerId and falls back to id.
func (c connectMessage) playerID() int64 {
	if c.PlayerID != 0 {
		return c.PlayerID
	}
	return c.ID
}

type inputMessage struct {
	Seq  int64 `json:"seq"`
	Up   *bool `json:"up"`
	Down *bool `json:"down"`
}

type connectLobbyMessage struct {
	ID   string `json:"id"`
	Pass string `json:"pass"`
}

type newMatchMessage struct {
	RequestID  string          `json:"requestId,omitempty"`
	Players    json.RawMessage `json:"players"`
	MaxPlayers json.RawMessage `json:"maxPlayers"`
	Game       string          `json:"game,omitempty"`
}

type matchPlayer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type removeMatchMessage struct {
	MatchID int64 `json:"matchId"`
}

// isJSONObject reports whether raw encodes a JSON object.
func isJSONObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// isJSONNumber reports whether raw encodes a JSON number.
func isJSONNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	var n float64
	return json.Unmarshal(trimmed, &n) == nil
}

func encode(msgType string, fields map[string]any) []byte {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["type"] = msgType
	payload, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"type":"ERROR","error":"INVALID_DATA"}`)
	}
	return payload
}

func errorMessage(code string, fields map[string]any) []byte {
	body := map[string]any{"error": code}
	for k, v := range fields {
		body[k] = v
	}
	return encode(TypeError, body)
}

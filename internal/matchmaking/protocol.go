package matchmaking

import "encoding/json"

// Message types of the matchmaking socket.
const (
	TypeConnect       = "CONNECT"
	TypeEnqueue       = "ENQUEUE"
	TypeDequeue       = "DEQUEUE"
	TypeInvite        = "INVITE"
	TypeExit          = "EXIT"
	TypeConnected     = "CONNECTED"
	TypeStateChange   = "STATE_CHANGE"
	TypePartyUpdated  = "PARTY_UPDATED"
	TypeInviteCreated = "INVITE_CREATED"
	TypeMatchFound    = "MATCH_FOUND"
	TypeMatchTimeout  = "MATCH_TIMEOUT"
	TypeMatchResult   = "MATCH_RESULT"
	TypeError         = "ERROR"
)

// GamePong is the only game the host runs.
const GamePong = "PONG"

type envelope struct {
	Type string `json:"type"`
}

// ConnectRequest identifies the user behind a socket.
type ConnectRequest struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type gameTypeMessage struct {
	GameType string `json:"game_type"`
}

func encode(msgType string, fields map[string]any) []byte {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["type"] = msgType
	payload, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"type":"ERROR","reason":"INTERNAL_ERROR","code":500}`)
	}
	return payload
}

func errorFrame(err error) []byte {
	return encode(TypeError, map[string]any{"reason": Reason(err), "code": StatusCode(err)})
}

package gamehost

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"transcendence/pong/internal/input"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
	"transcendence/pong/internal/networking"
)

type sessionRole int

const (
	roleUnknown sessionRole = iota
	rolePlayer
	roleLobby
)

// session is one socket: unclassified until it connects as a player or as the lobby.
type session struct {
	id        string
	ip        string
	subject   string
	transport networking.Transport
	log       *logging.Logger

	mu       sync.Mutex
	role     sessionRole
	match    *match.Match
	slot     int
	playerID int64
}

func newSession(ip, subject string, transport networking.Transport, logger *logging.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		ip:        ip,
		subject:   subject,
		transport: transport,
		log:       logger.With(logging.String("session_id", id), logging.String("remote_ip", ip)),
	}
}

func (s *session) binding() (*match.Match, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match, s.slot
}

func (s *session) currentRole() sessionRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *session) send(payload []byte) {
	if err := s.transport.Send(payload); err != nil {
		s.log.Debug("send failed", logging.Error(err))
	}
}

// ServeWS upgrades a player or lobby socket and runs its read loop until the peer leaves.
func (h *Host) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !h.limiter.Acquire(ip) {
		h.log.Warn("connection limit reached", logging.String("remote_ip", ip))
		h.lobby.Send(TypeError, map[string]any{"error": CodeDDoSDetected, "ip": ip})
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer h.limiter.Release(ip)

	var subject string
	if h.auth != nil {
		var err error
		subject, err = h.auth.Authenticate(r)
		if err != nil {
			h.log.Warn("websocket authentication failed", logging.String("remote_ip", ip), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	h.mu.Lock()
	h.pending++
	h.mu.Unlock()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	h.mu.Lock()
	h.pending--
	h.mu.Unlock()
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.String("remote_ip", ip), logging.Error(err))
		return
	}

	//1.- Keep the read side alive only while pongs arrive.
	if h.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	}
	if h.cfg.PingInterval > 0 {
		deadline := 2 * h.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	sess := newSession(ip, subject, networking.NewWSTransport(conn, h.cfg.PingInterval), h.log)
	h.mu.Lock()
	h.sessions[sess] = struct{}{}
	h.mu.Unlock()
	sess.log.Debug("socket opened")

	defer h.closeSession(sess)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sess.log.Debug("socket read failed", logging.Error(err))
			}
			return
		}
		h.handleMessage(sess, raw)
	}
}

func (h *Host) closeSession(sess *session) {
	h.mu.Lock()
	delete(h.sessions, sess)
	h.mu.Unlock()

	if m, slot := sess.binding(); m != nil {
		m.DisconnectPlayer(slot, sess.transport)
	}
	h.lobby.Detach(sess.transport)
	h.gate.Forget(sess.id)
	h.validator.Forget(sess.id)
	_ = sess.transport.Close()
	sess.log.Debug("socket closed")
}

// handleMessage dispatches one inbound frame. Panics are contained so a bad message never
// takes the process down.
func (h *Host) handleMessage(sess *session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			sess.log.Error("message handler panic", logging.Any("panic", rec))
			sess.send(errorMessage(CodeInvalidData, nil))
		}
	}()

	if decision := h.validator.Check(sess.id); !decision.Accepted {
		return
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return
	}

	var ok bool
	switch env.Type {
	case TypeConnectLobby:
		ok = h.handleConnectLobby(sess, raw)
	case TypeNewMatch:
		ok = h.handleNewMatch(sess, raw)
	case TypeRemoveMatch:
		ok = h.handleRemoveMatch(sess, raw)
	case TypeConnect, TypeConnectPlayer:
		ok = h.handleConnect(sess, raw)
	case TypeReady, TypePlayerReady:
		ok = h.handleReady(sess)
	case TypeInput:
		ok = h.handleInput(sess, raw)
	case TypePing:
		ok = h.handlePing(sess)
	default:
		h.reject(sess, input.ValidationReasonUnknownType, CodeInvalidData)
		return
	}
	if ok {
		h.validator.Commit(sess.id)
	}
}

// reject counts a violation, answers with code and disconnects repeat offenders.
func (h *Host) reject(sess *session, reason input.ValidationReason, code string) {
	decision := h.validator.Report(sess.id, reason)
	if decision.Disconnect {
		sess.log.Warn("closing abusive connection", logging.String("reason", string(reason)))
		_ = sess.transport.CloseWith(websocket.ClosePolicyViolation, "too many invalid messages")
		return
	}
	sess.send(errorMessage(code, map[string]any{"reason": string(reason)}))
}

func (h *Host) handleConnectLobby(sess *session, raw []byte) bool {
	var msg connectLobbyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	if sess.currentRole() == rolePlayer {
		h.reject(sess, input.ValidationReasonUnbound, CodeInvalidData)
		return false
	}
	if err := h.lobby.Attach(sess.transport, msg.ID, msg.Pass); err != nil {
		sess.log.Warn("lobby rejected", logging.Error(err))
		sess.send(errorMessage(CodePermissionDenied, nil))
		_ = sess.transport.CloseWith(websocket.ClosePolicyViolation, "Permission denied")
		return false
	}
	sess.mu.Lock()
	sess.role = roleLobby
	sess.mu.Unlock()
	return true
}

func (h *Host) requireLobby(sess *session) bool {
	if h.lobby.IsLobby(sess.transport) {
		return true
	}
	h.reject(sess, input.ValidationReasonUnbound, CodePermissionDenied)
	return false
}

func (h *Host) handleNewMatch(sess *session, raw []byte) bool {
	if !h.requireLobby(sess) {
		return false
	}
	var msg newMatchMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	fail := func(code string) {
		fields := map[string]any{"error": code}
		if msg.RequestID != "" {
			fields["requestId"] = msg.RequestID
		}
		h.lobby.Send(TypeError, fields)
	}
	if !isJSONObject(msg.Players) || !isJSONNumber(msg.MaxPlayers) {
		fail(CodeInvalidData)
		return false
	}
	var roster map[string]matchPlayer
	if err := json.Unmarshal(msg.Players, &roster); err != nil {
		fail(CodeInvalidData)
		return false
	}

	//1.- Slots are keyed "1" and "2"; order them numerically so slot one defends the left.
	keys := make([]string, 0, len(roster))
	for key := range roster {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	players := make([]match.PlayerInfo, 0, len(keys))
	for _, key := range keys {
		players = append(players, match.PlayerInfo{ID: roster[key].ID, Name: roster[key].Name})
	}

	id, err := h.CreateMatch(players)
	if err != nil {
		if errors.Is(err, match.ErrPlayerMissing) {
			fail(CodePlayerMissing)
		} else {
			sess.log.Error("match creation failed", logging.Error(err))
			fail(CodeInvalidData)
		}
		return true
	}
	fields := map[string]any{"matchId": id}
	if msg.RequestID != "" {
		fields["requestId"] = msg.RequestID
	}
	h.lobby.Send(TypeMatchCreated, fields)
	return true
}

func (h *Host) handleRemoveMatch(sess *session, raw []byte) bool {
	if !h.requireLobby(sess) {
		return false
	}
	var msg removeMatchMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.MatchID <= 0 {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	if !h.RemoveMatch(msg.MatchID, "forced", true) {
		h.lobby.Send(TypeError, map[string]any{"error": CodeNotFound, "matchId": msg.MatchID})
	}
	return true
}

func (h *Host) handleConnect(sess *session, raw []byte) bool {
	var msg connectMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	playerID := msg.playerID()
	if msg.MatchID <= 0 || playerID <= 0 {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	if role := sess.currentRole(); role != roleUnknown {
		h.reject(sess, input.ValidationReasonUnbound, CodeInvalidData)
		return false
	}
	refuse := func(code, reason string) {
		sess.send(errorMessage(code, map[string]any{"message": reason}))
		_ = sess.transport.CloseWith(websocket.ClosePolicyViolation, reason)
	}
	if h.auth != nil && !playerSubjectMatches(sess.subject, playerID) {
		refuse(CodePermissionDenied, "Permission denied")
		return false
	}

	m, ok := h.registry.Get(msg.MatchID)
	if !ok {
		refuse(CodeNotFound, reasonMatchNotFound)
		return false
	}
	slot, err := m.ConnectPlayer(sess.transport, playerID, msg.Name)
	switch {
	case errors.Is(err, match.ErrDuplicateConnection):
		refuse(CodeDuplicate, reasonAlreadyConnected)
		return false
	case err != nil:
		refuse(CodeNotFound, reasonSlotUnavailable)
		return false
	}

	sess.mu.Lock()
	sess.role = rolePlayer
	sess.match = m
	sess.slot = slot
	sess.playerID = playerID
	sess.mu.Unlock()
	sess.log = sess.log.With(logging.Int64("match_id", m.ID()), logging.Int("slot", slot))
	return true
}

func (h *Host) handleReady(sess *session) bool {
	m, slot := sess.binding()
	if m == nil {
		h.reject(sess, input.ValidationReasonUnbound, CodeNotConnected)
		return false
	}
	m.Ready(slot)
	return true
}

func (h *Host) handleInput(sess *session, raw []byte) bool {
	m, slot := sess.binding()
	if m == nil {
		h.reject(sess, input.ValidationReasonUnbound, CodeNotConnected)
		return false
	}
	var msg inputMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(sess, input.ValidationReasonMalformed, CodeInvalidData)
		return false
	}
	if msg.Up == nil && msg.Down == nil {
		h.reject(sess, input.ValidationReasonInvalidDirection, CodeInvalidData)
		return false
	}
	//1.- Floods are dropped silently; reordered frames still steer.
	if decision := h.gate.Evaluate(input.Frame{ClientID: sess.id, Sequence: msg.Seq}); !decision.Accepted {
		return true
	}
	m.Input(slot, msg.Up, msg.Down, msg.Seq)
	return true
}

func (h *Host) handlePing(sess *session) bool {
	if m, slot := sess.binding(); m != nil {
		m.Pong(slot)
		return true
	}
	sess.send(encode(TypePong, map[string]any{"timestamp": h.now().UnixMilli()}))
	return true
}

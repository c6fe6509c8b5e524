package matchmaking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"transcendence/pong/internal/input"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/networking"
)

// socket is one matchmaking connection. client stays nil until CONNECT succeeds.
type socket struct {
	id        string
	subject   string
	transport networking.Transport
	log       *logging.Logger
	client    *Client
}

func (k *socket) send(payload []byte) {
	if err := k.transport.Send(payload); err != nil {
		k.log.Debug("send failed", logging.Error(err))
	}
}

// ServeWS upgrades a user socket and runs its read loop until the peer leaves.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.auth != nil {
		var err error
		subject, err = s.auth.Authenticate(r)
		if err != nil {
			s.log.Warn("websocket authentication failed", logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	if s.cfg.PingInterval > 0 {
		deadline := 2 * s.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	id := uuid.NewString()
	sock := &socket{
		id:        id,
		subject:   subject,
		transport: networking.NewWSTransport(conn, s.cfg.PingInterval),
		log:       s.log.With(logging.String("socket_id", id)),
	}
	defer s.closeSocket(sock)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sock.log.Debug("socket read failed", logging.Error(err))
			}
			return
		}
		s.handleMessage(sock, raw)
	}
}

func (s *Service) closeSocket(sock *socket) {
	if sock.client != nil {
		s.Disconnect(sock.client, sock.transport)
	}
	s.validator.Forget(sock.id)
	_ = sock.transport.Close()
}

// handleMessage dispatches one inbound frame and contains panics raised by handlers.
func (s *Service) handleMessage(sock *socket, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			sock.log.Error("message handler panic", logging.Any("panic", rec))
			sock.send(errorFrame(errors.New("panic")))
		}
	}()

	if decision := s.validator.Check(sock.id); !decision.Accepted {
		return
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.reject(sock, input.ValidationReasonMalformed, ErrInvalidFormat)
		return
	}
	if env.Type != TypeConnect && sock.client == nil {
		s.reject(sock, input.ValidationReasonUnbound, ErrNotConnected)
		return
	}

	var err error
	switch env.Type {
	case TypeConnect:
		err = s.handleConnect(sock, raw)
	case TypeEnqueue:
		err = s.handleEnqueue(sock, raw)
	case TypeDequeue:
		err = s.Dequeue(sock.client)
	case TypeInvite:
		err = s.handleInvite(sock, raw)
	case TypeExit:
		err = s.Exit(sock.client)
	default:
		s.reject(sock, input.ValidationReasonUnknownType, ErrInvalidFormat)
		return
	}
	if err != nil {
		sock.log.Debug("request refused", logging.String("type", env.Type), logging.Error(err))
		sock.send(errorFrame(err))
		return
	}
	s.validator.Commit(sock.id)
}

func (s *Service) reject(sock *socket, reason input.ValidationReason, err error) {
	decision := s.validator.Report(sock.id, reason)
	if decision.Disconnect {
		sock.log.Warn("closing abusive connection", logging.String("reason", string(reason)))
		_ = sock.transport.CloseWith(websocket.ClosePolicyViolation, "too many invalid messages")
		return
	}
	sock.send(errorFrame(err))
}

func (s *Service) handleConnect(sock *socket, raw []byte) error {
	if sock.client != nil {
		return ErrAlreadyConnected
	}
	var req ConnectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrInvalidFormat
	}
	if s.auth != nil && sock.subject != strconv.FormatInt(req.ID, 10) {
		return ErrPermissionDenied
	}
	c, err := s.Connect(s.ctx, sock.transport, req)
	if err != nil {
		return err
	}
	sock.client = c
	sock.log = sock.log.With(logging.Int64("client_id", c.ID()))
	return nil
}

func (s *Service) handleEnqueue(sock *socket, raw []byte) error {
	var msg gameTypeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ErrInvalidFormat
	}
	mode, err := ParseGameType(msg.GameType)
	if err != nil {
		return err
	}
	//1.- Validate synchronously so the caller hears about bad requests before the wait starts.
	if !Allowed(sock.client.State(), ActionEnqueue) {
		return ErrInvalidTransition
	}
	c := sock.client
	go func() {
		outcome, err := s.Enqueue(s.ctx, c, mode)
		if err != nil && outcome.Kind != OutcomeDequeued {
			c.sendRaw(errorFrame(err))
		}
	}()
	return nil
}

func (s *Service) handleInvite(sock *socket, raw []byte) error {
	var msg gameTypeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ErrInvalidFormat
	}
	invite, link, err := s.CreateInvite(s.ctx, sock.client.ID(), GameType(msg.GameType))
	if err != nil {
		return err
	}
	sock.client.Send(TypeInviteCreated, map[string]any{"token": invite.Token, "link": link, "game_type": invite.GameType})
	return nil
}

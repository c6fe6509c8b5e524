package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
)

// PartyService is the slice of the matchmaker the party routes drive.
type PartyService interface {
	CreateInvite(ctx context.Context, clientID int64, mode matchmaking.GameType) (matchmaking.Invite, string, error)
	JoinParty(ctx context.Context, token string, clientID int64) (matchmaking.PartyView, error)
	LeaveParty(clientID int64) error
	PartyOf(clientID int64) (matchmaking.PartyView, error)
	Rank(ctx context.Context, email string) (matchmaking.Tier, error)
}

// PartyOptions configures PartyHandlers.
type PartyOptions struct {
	Logger        *logging.Logger
	Service       PartyService
	Authenticator matchmaking.Authenticator
	InviteLimiter KeyedRateLimiter
}

// PartyHandlers serves the invite and party routes of the matchmaker.
type PartyHandlers struct {
	logger  *logging.Logger
	svc     PartyService
	auth    matchmaking.Authenticator
	limiter KeyedRateLimiter
}

// NewPartyHandlers builds the party routes.
func NewPartyHandlers(opts PartyOptions) *PartyHandlers {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &PartyHandlers{logger: logger, svc: opts.Service, auth: opts.Authenticator, limiter: opts.InviteLimiter}
}

// Register attaches the party routes to mux.
func (p *PartyHandlers) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /invite", p.InviteHandler())
	mux.HandleFunc("POST /join_party/{token}", p.JoinHandler())
	mux.HandleFunc("POST /leave_party", p.LeaveHandler())
	mux.HandleFunc("GET /party", p.PartyHandler())
	mux.HandleFunc("GET /getRank", p.RankHandler())
}

type partyRequest struct {
	ID       int64  `json:"id"`
	GameType string `json:"game_type"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, matchmaking.StatusCode(err), errorResponse{Error: matchmaking.Reason(err)})
}

func decodeParty(w http.ResponseWriter, r *http.Request) (partyRequest, error) {
	var req partyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		return partyRequest{}, matchmaking.ErrInvalidFormat
	}
	if req.ID <= 0 {
		return partyRequest{}, matchmaking.ErrInvalidFormat
	}
	return req, nil
}

// authorise checks that the bearer token, when required, was issued for id.
func (p *PartyHandlers) authorise(r *http.Request, id int64) error {
	if p.auth == nil {
		return nil
	}
	subject, err := p.auth.Authenticate(r)
	if err != nil || subject == "" {
		return matchmaking.ErrPermissionDenied
	}
	if subject != strconv.FormatInt(id, 10) {
		return matchmaking.ErrPermissionDenied
	}
	return nil
}

// InviteHandler creates an invite link for the caller's party.
func (p *PartyHandlers) InviteHandler() http.HandlerFunc {
	type response struct {
		Link  string `json:"link"`
		Token string `json:"token"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeParty(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := p.authorise(r, req.ID); err != nil {
			writeError(w, err)
			return
		}
		if p.limiter != nil && !p.limiter.AllowKey(strconv.FormatInt(req.ID, 10)) {
			p.logger.Warn("invite denied: rate limit exceeded", logging.Int64("client_id", req.ID))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		invite, link, err := p.svc.CreateInvite(r.Context(), req.ID, matchmaking.GameType(strings.ToUpper(req.GameType)))
		if err != nil {
			writeError(w, err)
			return
		}
		p.logger.Info("invite created", logging.Int64("client_id", req.ID), logging.String("party", invite.PartyToken))
		writeJSON(w, http.StatusOK, response{Link: link, Token: invite.Token})
	}
}

// JoinHandler adds the caller to the party behind the path token.
func (p *PartyHandlers) JoinHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeParty(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := p.authorise(r, req.ID); err != nil {
			writeError(w, err)
			return
		}
		view, err := p.svc.JoinParty(r.Context(), r.PathValue("token"), req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// LeaveHandler removes the caller from its party.
func (p *PartyHandlers) LeaveHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeParty(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := p.authorise(r, req.ID); err != nil {
			writeError(w, err)
			return
		}
		if err := p.svc.LeaveParty(req.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{Status: "left"})
	}
}

// PartyHandler returns the composition of the party of ?id=.
func (p *PartyHandlers) PartyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, matchmaking.ErrInvalidFormat)
			return
		}
		view, err := p.svc.PartyOf(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// RankHandler returns the tier of ?email=.
func (p *PartyHandlers) RankHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		tier, err := p.svc.Rank(r.Context(), email)
		if err != nil {
			if !errors.Is(err, matchmaking.ErrRankNotFound) && !errors.Is(err, matchmaking.ErrInvalidFormat) {
				p.logger.Error("rank lookup failed", logging.Error(err))
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tier)
	}
}

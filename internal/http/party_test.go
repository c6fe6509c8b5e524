package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transcendence/pong/internal/bridge"
	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
)

type idleCreator struct{}

func (idleCreator) NewMatch(context.Context, map[int]bridge.Player, int, string, bridge.Handle) (int64, error) {
	return 0, errors.New("no host")
}

type nopConn struct{}

func (nopConn) Send([]byte) error { return nil }
func (nopConn) Close() error      { return nil }

type fixedSubject string

func (f fixedSubject) Authenticate(*http.Request) (string, error) { return string(f), nil }

func newPartyServer(t *testing.T, opts PartyOptions, ids ...int64) *httptest.Server {
	t.Helper()
	cfg := config.MatchmakerConfig{
		ScanInterval:       time.Hour,
		RankWindow:         100,
		PartyMaxRanked:     2,
		PartyMaxTournament: 4,
		InviteTTL:          time.Minute,
		PublicHost:         "pong.example",
	}
	svc := matchmaking.NewService(cfg, idleCreator{},
		matchmaking.WithLogger(logging.NewTestLogger()),
		matchmaking.WithRankSource(matchmaking.StaticRanks{"gold@pong.example": 230, "top@pong.example": 1500}),
	)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	for _, id := range ids {
		if _, err := svc.Connect(context.Background(), nopConn{}, matchmaking.ConnectRequest{ID: id, Name: "p", Email: "p@pong.example"}); err != nil {
			t.Fatalf("connect %d: %v", id, err)
		}
	}
	opts.Service = svc
	opts.Logger = logging.NewTestLogger()
	mux := http.NewServeMux()
	NewPartyHandlers(opts).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestPartyRoutesInviteJoinAndLeave(t *testing.T) {
	server := newPartyServer(t, PartyOptions{}, 1, 2)

	var invite struct {
		Link  string `json:"link"`
		Token string `json:"token"`
	}
	if code := call(t, http.MethodPost, server.URL+"/invite", `{"id":1,"game_type":"ranked"}`, &invite); code != http.StatusOK {
		t.Fatalf("expected 200 from /invite, got %d", code)
	}
	if invite.Link != "https://pong.example/lobby?token="+invite.Token {
		t.Fatalf("unexpected link %q", invite.Link)
	}

	var view matchmaking.PartyView
	if code := call(t, http.MethodPost, server.URL+"/join_party/"+invite.Token, `{"id":2}`, &view); code != http.StatusOK {
		t.Fatalf("expected 200 from /join_party, got %d", code)
	}
	if len(view.Members) != 2 || !view.Members[0].Leader || view.Members[1].Leader {
		t.Fatalf("unexpected party composition: %+v", view.Members)
	}

	var fetched matchmaking.PartyView
	if code := call(t, http.MethodGet, server.URL+"/party?id=2", "", &fetched); code != http.StatusOK {
		t.Fatalf("expected 200 from /party, got %d", code)
	}
	if fetched.Token != view.Token {
		t.Fatalf("expected the same party, got %q and %q", fetched.Token, view.Token)
	}

	if code := call(t, http.MethodPost, server.URL+"/leave_party", `{"id":2}`, nil); code != http.StatusOK {
		t.Fatalf("expected 200 from /leave_party, got %d", code)
	}
	var failure errorResponse
	if code := call(t, http.MethodGet, server.URL+"/party?id=2", "", &failure); code != http.StatusNotFound || failure.Error != "CLIENT_NOT_IN_PARTY" {
		t.Fatalf("expected CLIENT_NOT_IN_PARTY, got %d %+v", code, failure)
	}
}

func TestPartyRoutesMapErrors(t *testing.T) {
	server := newPartyServer(t, PartyOptions{}, 1)

	cases := []struct {
		method, path, body string
		status             int
		reason             string
	}{
		{http.MethodPost, "/invite", `{"id":0}`, http.StatusBadRequest, "INVALID_FORMAT"},
		{http.MethodPost, "/invite", `not json`, http.StatusBadRequest, "INVALID_FORMAT"},
		{http.MethodPost, "/invite", `{"id":1,"game_type":"casual"}`, http.StatusBadRequest, "INVALID_GAME_TYPE"},
		{http.MethodPost, "/invite", `{"id":9,"game_type":"RANKED"}`, http.StatusNotFound, "CLIENT_NOT_FOUND"},
		{http.MethodPost, "/join_party/unknown", `{"id":1}`, http.StatusNotFound, "INVITE_NOT_FOUND"},
		{http.MethodPost, "/leave_party", `{"id":1}`, http.StatusNotFound, "CLIENT_NOT_IN_PARTY"},
		{http.MethodGet, "/party?id=abc", "", http.StatusBadRequest, "INVALID_FORMAT"},
		{http.MethodGet, "/getRank?email=nobody@pong.example", "", http.StatusNotFound, "RANK_NOT_FOUND"},
	}
	for _, tc := range cases {
		var failure errorResponse
		code := call(t, tc.method, server.URL+tc.path, tc.body, &failure)
		if code != tc.status || failure.Error != tc.reason {
			t.Fatalf("%s %s: expected %d %s, got %d %s", tc.method, tc.path, tc.status, tc.reason, code, failure.Error)
		}
	}
}

func TestRankRouteReportsTiers(t *testing.T) {
	server := newPartyServer(t, PartyOptions{})

	var tier matchmaking.Tier
	if code := call(t, http.MethodGet, server.URL+"/getRank?email=gold@pong.example", "", &tier); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if tier.Name != "GOLD" || tier.Points != 30 {
		t.Fatalf("unexpected tier %+v", tier)
	}
	if call(t, http.MethodGet, server.URL+"/getRank?email=top@pong.example", "", &tier); tier.Name != "DIAMOND" || tier.Points != 1500 {
		t.Fatalf("top tier should report absolute points, got %+v", tier)
	}
}

func TestInviteRouteRateLimitAndIdentity(t *testing.T) {
	server := newPartyServer(t, PartyOptions{Authenticator: fixedSubject("1"), InviteLimiter: &stubLimiter{remaining: 1}}, 1, 2)

	var failure errorResponse
	if code := call(t, http.MethodPost, server.URL+"/invite", `{"id":2,"game_type":"RANKED"}`, &failure); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign id, got %d", code)
	}
	if code := call(t, http.MethodPost, server.URL+"/invite", `{"id":1,"game_type":"RANKED"}`, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := call(t, http.MethodPost, server.URL+"/invite", `{"id":1,"game_type":"RANKED"}`, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the limiter is spent, got %d", code)
	}
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"transcendence/pong/internal/matchmaking"
)

// UsersClient talks to the users service, which owns ranks and match history.
type UsersClient struct {
	base   string
	client *http.Client
}

// NewUsersClient targets base, for instance http://users:3000.
func NewUsersClient(base string, client *http.Client) *UsersClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &UsersClient{base: strings.TrimRight(base, "/"), client: client}
}

// Rank asks the users service for the rank points of email.
func (u *UsersClient) Rank(ctx context.Context, email string) (int, error) {
	endpoint := u.base + "/users/rank?" + url.Values{"email": {email}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rank request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, matchmaking.ErrRankNotFound
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("rank request: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Points int `json:"rank_points"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode rank: %w", err)
	}
	return body.Points, nil
}

// Record posts rec to the match history of the users service.
func (u *UsersClient) Record(ctx context.Context, rec matchmaking.MatchRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode match record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+"/matches", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("post match record: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post match record: unexpected status %d", resp.StatusCode)
	}
	return nil
}

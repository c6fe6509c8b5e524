package matchmaking

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Invite lets another user join the owner's party until it expires.
type Invite struct {
	Token      string    `json:"token"`
	OwnerID    int64     `json:"owner"`
	PartyToken string    `json:"party"`
	GameType   GameType  `json:"game_type"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Expired reports whether the invite outlived ttl at now.
func (i Invite) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !now.Before(i.CreatedAt.Add(ttl))
}

// InviteLink renders the URL handed to invited users.
func InviteLink(host, token string) string {
	link := url.URL{Scheme: "https", Host: host, Path: "/lobby", RawQuery: url.Values{"token": {token}}.Encode()}
	return link.String()
}

// InviteStore keeps invites for their validity window.
type InviteStore interface {
	Save(ctx context.Context, invite Invite, ttl time.Duration) error
	Load(ctx context.Context, token string) (Invite, error)
	Delete(ctx context.Context, token string) error
}

type memoryInvite struct {
	invite  Invite
	expires time.Time
}

// MemoryInviteStore is the in-process InviteStore.
type MemoryInviteStore struct {
	now func() time.Time

	mu    sync.Mutex
	items map[string]memoryInvite
}

// NewMemoryInviteStore builds an empty store reading now, or the wall clock when nil.
func NewMemoryInviteStore(now func() time.Time) *MemoryInviteStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryInviteStore{now: now, items: make(map[string]memoryInvite)}
}

func (s *MemoryInviteStore) Save(_ context.Context, invite Invite, ttl time.Duration) error {
	if invite.Token == "" {
		return ErrInvalidFormat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[invite.Token] = memoryInvite{invite: invite, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryInviteStore) Load(_ context.Context, token string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[token]
	if !ok {
		return Invite{}, ErrInviteNotFound
	}
	if !s.now().Before(item.expires) {
		delete(s.items, token)
		return Invite{}, ErrInviteNotFound
	}
	return item.invite, nil
}

func (s *MemoryInviteStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.items, token)
	s.mu.Unlock()
	return nil
}

// Len returns how many invites are stored, expired ones included.
func (s *MemoryInviteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

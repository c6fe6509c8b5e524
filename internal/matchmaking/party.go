package matchmaking

import (
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
)

// PartyState is IDLE until the leader queues the party.
type PartyState string

const (
	PartyIdle    PartyState = "IDLE"
	PartyInQueue PartyState = "IN_QUEUE"
)

// MemberView describes one member in PARTY_UPDATED and the party routes.
type MemberView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Rank   int    `json:"rank"`
	Leader bool   `json:"leader"`
}

// PartyView is the public shape of a party.
type PartyView struct {
	Token           string       `json:"token"`
	GameType        GameType     `json:"game_type"`
	State           PartyState   `json:"state"`
	Leader          int64        `json:"leader"`
	Max             int          `json:"max"`
	AvgRank         int          `json:"avgRank"`
	CreatedByInvite bool         `json:"createdByInvite"`
	Members         []MemberView `json:"members"`
}

// Party groups clients that queue together. It is used for a single queue attempt.
type Party struct {
	token     string
	mode      GameType
	max       int
	createdAt time.Time

	mu              sync.Mutex
	leader          *Client
	members         []*Client
	state           PartyState
	createdByInvite bool
}

// NewParty builds an empty party of mode holding at most max clients.
func NewParty(token string, mode GameType, max int, createdAt time.Time) (*Party, error) {
	if token == "" || max < 1 {
		return nil, ErrInvalidFormat
	}
	if _, err := ParseGameType(string(mode)); err != nil {
		return nil, err
	}
	return &Party{token: token, mode: mode, max: max, createdAt: createdAt, state: PartyIdle}, nil
}

func (p *Party) Token() string        { return p.token }
func (p *Party) GameType() GameType   { return p.mode }
func (p *Party) Max() int             { return p.max }
func (p *Party) CreatedAt() time.Time { return p.createdAt }

func (p *Party) State() PartyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Party) Leader() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader
}

func (p *Party) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Members returns the clients in join order.
func (p *Party) Members() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Client(nil), p.members...)
}

func (p *Party) markCreatedByInvite() {
	p.mu.Lock()
	p.createdByInvite = true
	p.mu.Unlock()
}

// AvgRank is the floored mean rank of the members, zero when empty.
func (p *Party) AvgRank() int {
	return avgRank(p.Members())
}

func avgRank(members []*Client) int {
	if len(members) == 0 {
		return 0
	}
	total := lo.SumBy(members, func(c *Client) int { return c.Rank() })
	return int(math.Floor(float64(total) / float64(len(members))))
}

// AddClient appends c, making it leader when asked or when the party has none.
func (p *Party) AddClient(c *Client, asLeader bool) error {
	if c == nil {
		return ErrInvalidClient
	}
	p.mu.Lock()
	switch {
	case lo.Contains(p.members, c):
		p.mu.Unlock()
		return ErrClientAlreadyInParty
	case c.Party() != nil:
		p.mu.Unlock()
		return ErrClientAlreadyInParty
	case p.state != PartyIdle:
		p.mu.Unlock()
		return ErrPartyInQueue
	case len(p.members) >= p.max:
		p.mu.Unlock()
		return ErrPartyFull
	}
	p.members = append(p.members, c)
	if asLeader || p.leader == nil {
		p.leader = c
	}
	c.setParty(p)
	p.mu.Unlock()

	p.broadcastUpdate()
	return nil
}

// RemoveClient drops c. Leadership passes to the earliest remaining member.
func (p *Party) RemoveClient(c *Client) error {
	if c == nil {
		return ErrInvalidClient
	}
	p.mu.Lock()
	if !lo.Contains(p.members, c) {
		p.mu.Unlock()
		return ErrClientNotInParty
	}
	p.members = lo.Without(p.members, c)
	if p.leader == c {
		p.leader = nil
		if len(p.members) > 0 {
			p.leader = p.members[0]
		}
	}
	c.setParty(nil)
	p.mu.Unlock()

	p.broadcastUpdate()
	return nil
}

// markQueued flips an idle party to IN_QUEUE on behalf of its leader. Anyone else is ignored.
func (p *Party) markQueued(caller *Client) ([]*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PartyIdle || caller == nil || caller != p.leader {
		return nil, false
	}
	p.state = PartyInQueue
	return append([]*Client(nil), p.members...), true
}

// disband empties the party and releases its members.
func (p *Party) disband() []*Client {
	p.mu.Lock()
	members := p.members
	p.members = nil
	p.leader = nil
	p.state = PartyIdle
	for _, c := range members {
		c.setParty(nil)
	}
	p.mu.Unlock()
	return members
}

// View snapshots the party for the wire.
func (p *Party) View() PartyView {
	p.mu.Lock()
	members := append([]*Client(nil), p.members...)
	leader := p.leader
	view := PartyView{
		Token:           p.token,
		GameType:        p.mode,
		State:           p.state,
		Max:             p.max,
		CreatedByInvite: p.createdByInvite,
	}
	if leader != nil {
		view.Leader = leader.ID()
	}
	p.mu.Unlock()

	view.AvgRank = avgRank(members)
	view.Members = lo.Map(members, func(c *Client, _ int) MemberView {
		return MemberView{ID: c.ID(), Name: c.Name(), Rank: c.Rank(), Leader: c == leader}
	})
	return view
}

func (p *Party) broadcastUpdate() {
	view := p.View()
	payload := encode(TypePartyUpdated, map[string]any{"party": view})
	for _, c := range p.Members() {
		c.sendRaw(payload)
	}
}

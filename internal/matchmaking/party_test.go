package matchmaking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParty(t *testing.T, mode GameType, max int) *Party {
	t.Helper()
	p, err := NewParty("party-"+string(mode), mode, max, time.Unix(0, 0))
	require.NoError(t, err)
	return p
}

func TestNewPartyValidates(t *testing.T) {
	_, err := NewParty("", GameRanked, 2, time.Now())
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = NewParty("p", GameRanked, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = NewParty("p", GameType("CASUAL"), 2, time.Now())
	assert.ErrorIs(t, err, ErrInvalidGameType)
}

func TestPartyMembership(t *testing.T) {
	p := newTestParty(t, GameRanked, 2)
	ana := NewClient(1, "ana", "a@x", 100)
	bob := NewClient(2, "bob", "b@x", 200)
	cid := NewClient(3, "cid", "c@x", 300)

	require.NoError(t, p.AddClient(ana, false))
	assert.Same(t, ana, p.Leader(), "the first member leads")
	assert.ErrorIs(t, p.AddClient(ana, false), ErrClientAlreadyInParty)
	assert.ErrorIs(t, p.AddClient(nil, false), ErrInvalidClient)

	require.NoError(t, p.AddClient(bob, true))
	assert.Same(t, bob, p.Leader())
	assert.ErrorIs(t, p.AddClient(cid, false), ErrPartyFull)

	other := newTestParty(t, GameTournament, 4)
	assert.ErrorIs(t, other.AddClient(ana, false), ErrClientAlreadyInParty)

	assert.ErrorIs(t, p.RemoveClient(cid), ErrClientNotInParty)
	require.NoError(t, p.RemoveClient(bob))
	assert.Same(t, ana, p.Leader(), "leadership passes to the earliest member")
	assert.Nil(t, bob.Party())
	require.NoError(t, p.RemoveClient(ana))
	assert.Nil(t, p.Leader())
	assert.Equal(t, 0, p.Size())
}

func TestPartyAverageRankIsFloored(t *testing.T) {
	p := newTestParty(t, GameTournament, 4)
	assert.Equal(t, 0, p.AvgRank())

	require.NoError(t, p.AddClient(NewClient(1, "a", "a@x", 100), false))
	require.NoError(t, p.AddClient(NewClient(2, "b", "b@x", 101), false))
	assert.Equal(t, 100, p.AvgRank())

	neg := newTestParty(t, GameRanked, 2)
	require.NoError(t, neg.AddClient(NewClient(3, "c", "c@x", -1), false))
	require.NoError(t, neg.AddClient(NewClient(4, "d", "d@x", -2), false))
	assert.Equal(t, -2, neg.AvgRank())
}

func TestQueuedPartyRefusesChanges(t *testing.T) {
	p := newTestParty(t, GameRanked, 2)
	ana := NewClient(1, "ana", "a@x", 0)
	bob := NewClient(2, "bob", "b@x", 0)
	require.NoError(t, p.AddClient(ana, true))
	require.NoError(t, p.AddClient(bob, false))

	_, ok := p.markQueued(bob)
	assert.False(t, ok, "only the leader queues the party")
	members, ok := p.markQueued(ana)
	require.True(t, ok)
	assert.Equal(t, []*Client{ana, bob}, members)
	assert.Equal(t, PartyInQueue, p.State())
	assert.ErrorIs(t, p.AddClient(NewClient(3, "c", "c@x", 0), false), ErrPartyInQueue)

	released := p.disband()
	assert.Len(t, released, 2)
	assert.Nil(t, ana.Party())
	assert.Equal(t, 0, p.Size())
}

func TestPartyBroadcastsUpdates(t *testing.T) {
	p := newTestParty(t, GameRanked, 2)
	ana := NewClient(1, "ana", "a@x", 40)
	conn := &fakeConn{}
	ana.Attach(conn, "")
	require.NoError(t, p.AddClient(ana, true))
	require.NoError(t, p.AddClient(NewClient(2, "bob", "b@x", 60), false))

	frame, ok := conn.last(TypePartyUpdated)
	require.True(t, ok)
	party := frame["party"].(map[string]any)
	assert.Equal(t, "RANKED", party["game_type"])
	assert.EqualValues(t, 1, party["leader"])
	assert.EqualValues(t, 50, party["avgRank"])
	assert.Len(t, party["members"], 2)

	view := p.View()
	assert.Equal(t, PartyIdle, view.State)
	assert.Equal(t, 2, view.Max)
}

package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcendence/pong/internal/match"
)

type enqueueResult struct {
	outcome Outcome
	err     error
}

func enqueueAsync(svc *Service, c *Client, mode GameType) <-chan enqueueResult {
	out := make(chan enqueueResult, 1)
	go func() {
		outcome, err := svc.Enqueue(context.Background(), c, mode)
		out <- enqueueResult{outcome, err}
	}()
	return out
}

func awaitEnqueue(t *testing.T, ch <-chan enqueueResult) enqueueResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not return")
		return enqueueResult{}
	}
}

func waitDepth(t *testing.T, svc *Service, mode GameType, depth int) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.Matcher().Depth(mode) == depth }, 2*time.Second, 5*time.Millisecond)
}

func TestConnectRegistersClients(t *testing.T) {
	svc := newTestService(t, &fakeCreator{}, WithRankSource(StaticRanks{"user1@pong.example": 240}))

	_, err := svc.Connect(context.Background(), &fakeConn{}, ConnectRequest{ID: 0, Email: "x@y"})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = svc.Connect(context.Background(), &fakeConn{}, ConnectRequest{ID: 5})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	c, conn := connect(t, svc, 1)
	assert.Equal(t, 240, c.Rank())
	frame := conn.waitFor(t, TypeConnected)
	assert.EqualValues(t, 1, frame["id"])
	assert.EqualValues(t, 240, frame["rank"])
	assert.Equal(t, "IDLE", frame["state"])

	unranked, _ := connect(t, svc, 2)
	assert.Equal(t, 0, unranked.Rank(), "unknown users start at zero")

	_, err = svc.Connect(context.Background(), &fakeConn{}, ConnectRequest{ID: 1, Email: emailOf(1)})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, 2, svc.Stats().Clients)
}

func TestTwoSoloPlayersAreMatchedAndReleased(t *testing.T) {
	creator := &fakeCreator{}
	sink := &memorySink{}
	svc := newTestService(t, creator, WithResultSink(sink))
	ana, anaConn := connect(t, svc, 1)
	bob, bobConn := connect(t, svc, 2)

	anaWait := enqueueAsync(svc, ana, GameRanked)
	bobWait := enqueueAsync(svc, bob, GameRanked)
	waitDepth(t, svc, GameRanked, 2)
	assert.Equal(t, StateInQueue, ana.State())
	assert.Equal(t, 2, svc.Stats().Parties)

	require.Equal(t, 1, svc.Matcher().Scan(GameRanked))
	anaRes := awaitEnqueue(t, anaWait)
	bobRes := awaitEnqueue(t, bobWait)
	require.NoError(t, anaRes.err)
	require.NoError(t, bobRes.err)
	assert.Equal(t, OutcomeMatchFound, anaRes.outcome.Kind)
	assert.Equal(t, anaRes.outcome.LobbyID, bobRes.outcome.LobbyID)
	assert.Equal(t, StateInGame, bob.State())
	assert.Equal(t, 0, svc.Stats().Parties, "parties are used for one queue attempt")

	anaConn.waitFor(t, TypeMatchFound)
	bobConn.waitFor(t, TypeMatchFound)
	created := creator.matches()
	require.Len(t, created, 1)
	assert.Equal(t, 1, svc.Stats().Matches)

	created[0].handle.EndGame(match.Result{
		MatchID: created[0].id,
		Players: map[int]match.ResultPlayer{
			1: {ID: created[0].players[1].ID, Score: 5, Winner: true},
			2: {ID: created[0].players[2].ID, Score: 1},
		},
	})
	anaConn.waitFor(t, TypeMatchResult)
	assert.Equal(t, StateIdle, ana.State())
	assert.Equal(t, StateIdle, bob.State())
	require.Eventually(t, func() bool { return svc.Stats().Lobbies == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, GameRanked, sink.all()[0].GameType)
}

func TestExitDuringMatchLeavesTheLobby(t *testing.T) {
	creator := &fakeCreator{}
	svc := newTestService(t, creator)
	ana, anaConn := connect(t, svc, 1)
	bob, bobConn := connect(t, svc, 2)
	anaWait := enqueueAsync(svc, ana, GameRanked)
	bobWait := enqueueAsync(svc, bob, GameRanked)
	waitDepth(t, svc, GameRanked, 2)
	require.Equal(t, 1, svc.Matcher().Scan(GameRanked))
	require.NoError(t, awaitEnqueue(t, anaWait).err)
	require.NoError(t, awaitEnqueue(t, bobWait).err)
	bobConn.waitFor(t, TypeMatchFound)

	require.NoError(t, svc.Exit(ana))
	assert.Equal(t, StateIdle, ana.State())
	assert.Equal(t, StateInGame, bob.State())

	created := creator.matches()
	require.Len(t, created, 1)
	created[0].handle.EndGame(match.Result{
		MatchID: created[0].id,
		Players: map[int]match.ResultPlayer{
			1: {ID: created[0].players[1].ID, Score: 0},
			2: {ID: created[0].players[2].ID, Score: 3, Winner: true},
		},
	})
	bobConn.waitFor(t, TypeMatchResult)
	assert.Equal(t, StateIdle, bob.State())
	_, got := anaConn.last(TypeMatchResult)
	assert.False(t, got, "a client that left is not told the result")

	wait := enqueueAsync(svc, ana, GameRanked)
	waitDepth(t, svc, GameRanked, 1)
	require.NoError(t, svc.Dequeue(ana))
	assert.Equal(t, OutcomeDequeued, awaitEnqueue(t, wait).outcome.Kind)
}

func TestDequeueReturnsClientToIdle(t *testing.T) {
	svc := newTestService(t, &fakeCreator{})
	ana, conn := connect(t, svc, 1)

	assert.ErrorIs(t, svc.Dequeue(ana), ErrInvalidTransition)
	wait := enqueueAsync(svc, ana, GameRanked)
	waitDepth(t, svc, GameRanked, 1)

	require.NoError(t, svc.Dequeue(ana))
	res := awaitEnqueue(t, wait)
	require.NoError(t, res.err)
	assert.Equal(t, OutcomeDequeued, res.outcome.Kind)
	assert.Equal(t, StateIdle, ana.State())
	assert.Nil(t, ana.Party())
	assert.Equal(t, 0, svc.Stats().Parties)

	states := []string{}
	for _, frame := range conn.all() {
		if frame["type"] == TypeStateChange {
			states = append(states, frame["state"].(string))
		}
	}
	assert.Equal(t, []string{"IN_QUEUE", "IDLE"}, states)
}

func TestEnqueueRejectsBadRequests(t *testing.T) {
	svc := newTestService(t, &fakeCreator{})
	ana, _ := connect(t, svc, 1)

	_, err := svc.Enqueue(context.Background(), ana, GameType("CASUAL"))
	assert.ErrorIs(t, err, ErrInvalidGameType)

	wait := enqueueAsync(svc, ana, GameRanked)
	waitDepth(t, svc, GameRanked, 1)
	_, err = svc.Enqueue(context.Background(), ana, GameRanked)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, svc.Dequeue(ana))
	awaitEnqueue(t, wait)
}

func TestEnqueueCancelledByContextDequeues(t *testing.T) {
	svc := newTestService(t, &fakeCreator{})
	ana, _ := connect(t, svc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan enqueueResult, 1)
	go func() {
		outcome, err := svc.Enqueue(ctx, ana, GameRanked)
		out <- enqueueResult{outcome, err}
	}()
	waitDepth(t, svc, GameRanked, 1)
	cancel()

	res := awaitEnqueue(t, out)
	assert.Equal(t, OutcomeDequeued, res.outcome.Kind)
	assert.Equal(t, 0, svc.Matcher().Depth(GameRanked))
	assert.Equal(t, StateIdle, ana.State())
}

func TestInvitedPartyQueuesTogether(t *testing.T) {
	creator := &fakeCreator{}
	svc := newTestService(t, creator)
	ana, _ := connect(t, svc, 1)
	bob, bobConn := connect(t, svc, 2)
	connect(t, svc, 3)

	invite, link, err := svc.CreateInvite(context.Background(), ana.ID(), GameRanked)
	require.NoError(t, err)
	assert.Equal(t, "https://pong.example/lobby?token="+invite.Token, link)
	assert.Equal(t, GameRanked, invite.GameType)

	_, _, err = svc.CreateInvite(context.Background(), 99, GameRanked)
	assert.ErrorIs(t, err, ErrClientNotFound)

	view, err := svc.JoinParty(context.Background(), invite.Token, bob.ID())
	require.NoError(t, err)
	assert.True(t, view.CreatedByInvite)
	assert.Len(t, view.Members, 2)
	assert.Equal(t, int64(1), view.Leader)
	bobConn.waitFor(t, TypePartyUpdated)

	_, _, err = svc.CreateInvite(context.Background(), bob.ID(), GameRanked)
	assert.ErrorIs(t, err, ErrNotLeader)
	_, err = svc.Enqueue(context.Background(), bob, GameRanked)
	assert.ErrorIs(t, err, ErrNotLeader)

	wait := enqueueAsync(svc, ana, GameRanked)
	waitDepth(t, svc, GameRanked, 1)
	assert.Equal(t, StateInQueue, bob.State(), "members follow the leader into the queue")

	_, err = svc.JoinParty(context.Background(), invite.Token, 3)
	assert.ErrorIs(t, err, ErrInviteNotFound, "queueing expires the party's invites")

	require.Equal(t, 1, svc.Matcher().Scan(GameRanked))
	res := awaitEnqueue(t, wait)
	assert.Equal(t, OutcomeMatchFound, res.outcome.Kind)
	assert.Equal(t, StateInGame, bob.State())
	require.Len(t, creator.matches(), 1)
}

func TestJoinPartyErrors(t *testing.T) {
	now := time.Unix(1700000000, 0)
	svc := newTestService(t, &fakeCreator{}, WithClock(func() time.Time { return now }))
	ana, _ := connect(t, svc, 1)
	bob, _ := connect(t, svc, 2)

	_, err := svc.JoinParty(context.Background(), "missing", bob.ID())
	assert.ErrorIs(t, err, ErrInviteNotFound)
	_, err = svc.JoinParty(context.Background(), "missing", 42)
	assert.ErrorIs(t, err, ErrClientNotFound)

	invite, _, err := svc.CreateInvite(context.Background(), ana.ID(), GameRanked)
	require.NoError(t, err)
	_, err = svc.JoinParty(context.Background(), invite.Token, ana.ID())
	assert.ErrorIs(t, err, ErrClientAlreadyInParty)

	now = now.Add(2 * time.Minute)
	_, err = svc.JoinParty(context.Background(), invite.Token, bob.ID())
	assert.ErrorIs(t, err, ErrInviteNotFound, "expired invites are gone from the store")
}

func TestLeavePartyAndPartyOf(t *testing.T) {
	svc := newTestService(t, &fakeCreator{})
	ana, _ := connect(t, svc, 1)
	bob, _ := connect(t, svc, 2)

	_, err := svc.PartyOf(ana.ID())
	assert.ErrorIs(t, err, ErrClientNotInParty)

	invite, _, err := svc.CreateInvite(context.Background(), ana.ID(), GameTournament)
	require.NoError(t, err)
	_, err = svc.JoinParty(context.Background(), invite.Token, bob.ID())
	require.NoError(t, err)

	require.NoError(t, svc.LeaveParty(ana.ID()))
	view, err := svc.PartyOf(bob.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Leader)
	assert.Equal(t, GameTournament, view.GameType)

	require.NoError(t, svc.LeaveParty(bob.ID()))
	assert.Equal(t, 0, svc.Stats().Parties)
	assert.ErrorIs(t, svc.LeaveParty(bob.ID()), ErrClientNotInParty)
	assert.ErrorIs(t, svc.LeaveParty(77), ErrClientNotFound)
}

func TestDisconnectWhileQueuedDropsTheClient(t *testing.T) {
	svc := newTestService(t, &fakeCreator{})
	ana, conn := connect(t, svc, 1)
	wait := enqueueAsync(svc, ana, GameRanked)
	waitDepth(t, svc, GameRanked, 1)

	svc.Disconnect(ana, conn)
	res := awaitEnqueue(t, wait)
	assert.Equal(t, OutcomeDequeued, res.outcome.Kind)
	_, ok := svc.Client(ana.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Matcher().Depth(GameRanked))
}

func TestDisconnectDuringMatchKeepsTheClient(t *testing.T) {
	creator := &fakeCreator{}
	svc := newTestService(t, creator)
	ana, anaConn := connect(t, svc, 1)
	bob, _ := connect(t, svc, 2)
	anaWait := enqueueAsync(svc, ana, GameRanked)
	bobWait := enqueueAsync(svc, bob, GameRanked)
	waitDepth(t, svc, GameRanked, 2)
	svc.Matcher().Scan(GameRanked)
	awaitEnqueue(t, anaWait)
	awaitEnqueue(t, bobWait)

	svc.Disconnect(ana, anaConn)
	_, ok := svc.Client(ana.ID())
	require.True(t, ok, "a client in a match survives its socket")
	assert.False(t, ana.Connected())

	created := creator.matches()
	require.Len(t, created, 1)
	created[0].handle.Timeout(created[0].id)

	//1.- The client is gone once the match released it without a socket attached.
	require.Eventually(t, func() bool {
		_, ok := svc.Client(ana.ID())
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, bob.State())
}

func TestReconnectDuringMatchResumesTheClient(t *testing.T) {
	creator := &fakeCreator{}
	svc := newTestService(t, creator)
	ana, anaConn := connect(t, svc, 1)
	bob, _ := connect(t, svc, 2)
	anaWait := enqueueAsync(svc, ana, GameRanked)
	bobWait := enqueueAsync(svc, bob, GameRanked)
	waitDepth(t, svc, GameRanked, 2)
	svc.Matcher().Scan(GameRanked)
	awaitEnqueue(t, anaWait)
	awaitEnqueue(t, bobWait)
	svc.Disconnect(ana, anaConn)

	fresh := &fakeConn{}
	again, err := svc.Connect(context.Background(), fresh, ConnectRequest{ID: 1, Name: "ana", Email: emailOf(1)})
	require.NoError(t, err)
	assert.Same(t, ana, again)
	frame := fresh.waitFor(t, TypeConnected)
	assert.Equal(t, "IN_GAME", frame["state"])
	assert.Equal(t, "ana", ana.Name())

	created := creator.matches()[0]
	created.handle.EndGame(match.Result{MatchID: created.id, Players: map[int]match.ResultPlayer{
		1: {ID: created.players[1].ID, Winner: created.players[1].ID == ana.ID()},
		2: {ID: created.players[2].ID, Winner: created.players[2].ID == ana.ID()},
	}})
	result := fresh.waitFor(t, TypeMatchResult)
	assert.Equal(t, "WIN", result["result"])
	_, ok := svc.Client(ana.ID())
	assert.True(t, ok, "an attached client stays registered after its match")
}

func TestServiceRank(t *testing.T) {
	svc := newTestService(t, &fakeCreator{}, WithRankSource(StaticRanks{"a@x": 250}))
	tier, err := svc.Rank(context.Background(), "a@x")
	require.NoError(t, err)
	assert.Equal(t, Tier{Name: "GOLD", Points: 50}, tier)

	_, err = svc.Rank(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = svc.Rank(context.Background(), "b@x")
	assert.ErrorIs(t, err, ErrRankNotFound)
}

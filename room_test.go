/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *catalog {
	packs := []cardPack{{Name: "test"}}
	for i := 0; i < 10; i++ {
		packs[0].Black = append(packs[0].Black, packCard{Text: fmt.Sprintf("prompt %d", i)})
	}
	for i := 0; i < 40; i++ {
		packs[0].White = append(packs[0].White, packCard{Text: fmt.Sprintf("response %d", i)})
	}
	return newCatalog(packs)
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		MinPlayers: 2,
		ScoreLimit: 8,
		MaxRounds:  10,
		RoundTime:  0, // tests drive timeouts by hand
		HandSize:   5,
	}
}

func newTestRoom(t *testing.T, conf RoomConfig) (*Room, Store) {
	t.Helper()

	cfg := &Config{}
	store := newMemStore()
	s := newSaver(cfg, store)
	t.Cleanup(s.close)

	r := newRoom("Abc123", conf, cfg, testCatalog(), randomJudge{}, newBindingTable(), s)
	return r, store
}

func joinPlayer(t *testing.T, r *Room, name string) *client {
	t.Helper()

	c := &client{send: make(chan any, 64), room: r}
	r.handleRegister(c)
	require.NoError(t, r.handleJoin(c, name))
	return c
}

func readyAll(t *testing.T, r *Room, conns map[string]*client) {
	t.Helper()

	for name := range r.players {
		require.NoError(t, r.handleReady(conns[name], true))
	}
}

// startRound readies everyone and starts the next round.
func startRound(t *testing.T, r *Room, conns map[string]*client) {
	t.Helper()

	readyAll(t, r, conns)
	for _, c := range conns {
		require.NoError(t, r.handleStartRound(c))
		break
	}
}

// submitAny draws a hand for the player and submits its first card.
func submitAny(t *testing.T, r *Room, c *client, name string) Card {
	t.Helper()

	require.NoError(t, r.handleDrawHand(c))
	card := r.hands[name][0]
	require.NoError(t, r.handleSubmit(c, card.Text))
	return card
}

func setupGame(t *testing.T, r *Room, names ...string) map[string]*client {
	t.Helper()

	conns := make(map[string]*client, len(names))
	for _, name := range names {
		conns[name] = joinPlayer(t, r, name)
	}
	return conns
}

func nonCzar(r *Room) string {
	for name := range r.players {
		if name != r.cardCzar {
			return name
		}
	}
	return ""
}

func TestJoinAndRoster(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())

	alice := joinPlayer(t, r, "alice")
	joinPlayer(t, r, "bob")

	assert.Len(t, r.players, 2)
	assert.Equal(t, stateWaiting, r.state)
	assert.Equal(t, 0, r.players["alice"].score)

	// Duplicate name from another connection is rejected.
	intruder := &client{send: make(chan any, 64), room: r}
	r.handleRegister(intruder)
	assert.ErrorIs(t, r.handleJoin(intruder, "alice"), errNameAlreadyActive)

	// Repeat join from the same connection is a no-op, not an error.
	assert.NoError(t, r.handleJoin(alice, "alice"))
	assert.Len(t, r.players, 2)
}

func TestSpectatorNameCollisions(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())

	joinPlayer(t, r, "alice")

	viewer := &client{send: make(chan any, 64), room: r}
	r.handleRegister(viewer)
	assert.ErrorIs(t, r.handleSpectate(viewer, "alice"), errNameAlreadyActive)
	require.NoError(t, r.handleSpectate(viewer, "watcher"))
	assert.True(t, r.spectators.has("watcher"))

	other := &client{send: make(chan any, 64), room: r}
	r.handleRegister(other)
	assert.ErrorIs(t, r.handleJoin(other, "watcher"), errNameAlreadyActive)
}

func TestStartRoundGuards(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice")

	// Below minimum player count.
	require.NoError(t, r.handleReady(conns["alice"], true))
	assert.ErrorIs(t, r.handleStartRound(conns["alice"]), errNotEnoughPlayers)

	conns["bob"] = joinPlayer(t, r, "bob")

	// bob is not ready yet.
	assert.ErrorIs(t, r.handleStartRound(conns["alice"]), errNotAllReady)

	require.NoError(t, r.handleReady(conns["bob"], true))
	require.NoError(t, r.handleStartRound(conns["alice"]))
	assert.Equal(t, stateInProgress, r.state)
	assert.NotNil(t, r.promptCard)
	assert.Contains(t, r.players, r.cardCzar)
	assert.Empty(t, r.ready, "readiness clears when the round starts")

	// Starting again without an intervening judgment is rejected.
	assert.ErrorIs(t, r.handleStartRound(conns["alice"]), errRoundInProgress)
}

func TestCzarCannotDrawOrSubmit(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	czar := r.cardCzar
	assert.ErrorIs(t, r.handleDrawHand(conns[czar]), errInvalidSubmission)
	assert.ErrorIs(t, r.handleSubmit(conns[czar], "response 0"), errInvalidSubmission)
	assert.NotContains(t, r.submissions, czar)
}

func TestSubmitFlow(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	first := nonCzar(r)
	card := submitAny(t, r, conns[first], first)

	assert.Equal(t, card, r.submissions[first])
	assert.NotContains(t, r.hands[first], card, "submitted card leaves the hand")

	// Duplicate submission is rejected with no effect.
	require.NoError(t, r.handleDrawHand(conns[first]))
	assert.ErrorIs(t, r.handleSubmit(conns[first], r.hands[first][0].Text), errInvalidSubmission)

	// A card not in hand is rejected.
	second := ""
	for name := range r.players {
		if name != r.cardCzar && name != first {
			second = name
		}
	}
	require.NoError(t, r.handleDrawHand(conns[second]))
	assert.ErrorIs(t, r.handleSubmit(conns[second], "no such card"), errInvalidSubmission)

	// Both valid submissions are present, no lost update.
	submitAny(t, r, conns[second], second)
	assert.Len(t, r.submissions, 2)
}

func TestJudgeRound(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	czar := r.cardCzar
	winner := nonCzar(r)
	submitAny(t, r, conns[winner], winner)

	// Only the czar may judge.
	assert.ErrorIs(t, r.handleJudge(conns[winner], winner), errInvalidJudgment)

	// The winner must be a current submitter.
	assert.ErrorIs(t, r.handleJudge(conns[czar], czar), errInvalidJudgment)

	require.NoError(t, r.handleJudge(conns[czar], winner))
	assert.Equal(t, stateRoundResolved, r.state)
	assert.Equal(t, 1, r.players[winner].score)
	assert.Equal(t, 2, r.round)
	assert.Empty(t, r.submissions)

	// No round in progress any more.
	assert.ErrorIs(t, r.handleJudge(conns[czar], winner), errNoRoundInProgress)
}

func TestCzarRotationNeverRepeats(t *testing.T) {
	t.Parallel()
	conf := testRoomConfig()
	conf.ScoreLimit = 100
	conf.MaxRounds = 100
	r, _ := newTestRoom(t, conf)
	conns := setupGame(t, r, "alice", "bob", "carol")

	prev := ""
	for i := 0; i < 10; i++ {
		startRound(t, r, conns)
		if prev != "" {
			assert.NotEqual(t, prev, r.cardCzar)
		}
		prev = r.cardCzar

		winner := nonCzar(r)
		submitAny(t, r, conns[winner], winner)
		require.NoError(t, r.handleJudge(conns[r.cardCzar], winner))
	}
}

func TestScoreLimitEndsGameOnGrantingTransition(t *testing.T) {
	t.Parallel()
	conf := testRoomConfig()
	conf.ScoreLimit = 8
	conf.MaxRounds = 100
	r, _ := newTestRoom(t, conf)
	conns := setupGame(t, r, "alice", "bob")

	lastRound := r.round
	lastScores := map[string]int{}
	for r.state != stateGameOver {
		startRound(t, r, conns)
		winner := nonCzar(r)
		submitAny(t, r, conns[winner], winner)
		require.NoError(t, r.handleJudge(conns[r.cardCzar], winner))

		require.GreaterOrEqual(t, r.round, lastRound, "round never decreases")
		lastRound = r.round
		for name, p := range r.players {
			require.GreaterOrEqual(t, p.score, lastScores[name], "scores never decrease")
			lastScores[name] = p.score
		}
	}

	assert.Equal(t, stateGameOver, r.state)
	assert.Equal(t, 8, r.players[r.gameWinner].score,
		"the transition granting the 8th point must end the game")
}

func TestMaxRoundsEndsGameWithTieBreak(t *testing.T) {
	t.Parallel()
	conf := testRoomConfig()
	conf.MaxRounds = 1
	conf.ScoreLimit = 100
	r, _ := newTestRoom(t, conf)
	conns := setupGame(t, r, "alice", "bob", "carol")

	startRound(t, r, conns)
	winner := nonCzar(r)
	submitAny(t, r, conns[winner], winner)
	require.NoError(t, r.handleJudge(conns[r.cardCzar], winner))

	assert.Equal(t, stateGameOver, r.state)
	assert.Equal(t, 2, r.round)
	assert.Equal(t, winner, r.gameWinner)
}

func TestTieBreakPrefersEarliestJoined(t *testing.T) {
	t.Parallel()
	conf := testRoomConfig()
	conf.MaxRounds = 1
	conf.ScoreLimit = 100
	r, _ := newTestRoom(t, conf)
	setupGame(t, r, "zoe", "abe")

	// Nobody scores; the round times out with no submissions.
	r.state = stateInProgress
	prompt := r.prompts[0]
	r.promptCard = &prompt
	r.cardCzar = "zoe"
	r.skipRound()

	assert.Equal(t, stateGameOver, r.state)
	assert.Equal(t, "zoe", r.gameWinner, "tie breaks to the earliest-joined player")
}

func TestDisconnectAndRejoinKeepsScore(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")

	r.players["alice"].score = 3
	r.ready.add("alice")

	r.handleUnregister(conns["alice"])

	assert.NotContains(t, r.players, "alice")
	assert.Equal(t, 3, r.disconnected["alice"].score)
	assert.False(t, r.ready.has("alice"))

	// players and disconnected_players stay disjoint.
	for name := range r.players {
		assert.NotContains(t, r.disconnected, name)
	}

	rejoin := joinPlayer(t, r, "alice")
	assert.Equal(t, 3, r.players["alice"].score, "restored score must equal 3, not 0")
	assert.NotContains(t, r.disconnected, "alice")
	_ = rejoin
}

func TestDisconnectWithdrawsSubmission(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	name := nonCzar(r)
	submitAny(t, r, conns[name], name)
	require.Contains(t, r.submissions, name)

	r.handleUnregister(conns[name])
	assert.NotContains(t, r.submissions, name)
	assert.Equal(t, stateInProgress, r.state, "disconnect leaves round state unchanged")
}

func TestRoundTimeoutSkipsWithoutSubmissions(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob")
	startRound(t, r, conns)

	round := r.round
	r.handleRoundTimeout(round)

	assert.Equal(t, stateRoundResolved, r.state)
	assert.Equal(t, round+1, r.round)
	for _, p := range r.players {
		assert.Equal(t, 0, p.score, "a skipped round scores nobody")
	}

	// A stale expiry for the finished round is ignored.
	r.handleRoundTimeout(round)
	assert.Equal(t, round+1, r.round)
}

func TestRoundTimeoutAutoJudgesSubmissions(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	name := nonCzar(r)
	submitAny(t, r, conns[name], name)

	r.handleRoundTimeout(r.round)

	select {
	case res := <-r.judgeResults:
		require.NoError(t, res.err)
		r.handleJudgeResult(res)
	case <-time.After(5 * time.Second):
		t.Fatal("auto-judge never delivered a result")
	}

	assert.Equal(t, stateRoundResolved, r.state)
	assert.Equal(t, 1, r.players[name].score)
}

func TestJudgeFailureLeavesRoundInProgress(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	name := nonCzar(r)
	submitAny(t, r, conns[name], name)

	r.handleJudgeResult(judgeResult{round: r.round, err: fmt.Errorf("model unavailable")})

	assert.Equal(t, stateInProgress, r.state)
	require.NoError(t, r.handleJudge(conns[r.cardCzar], name), "the czar can still resolve by hand")
}

func TestResetReturnsToLobby(t *testing.T) {
	t.Parallel()
	conf := testRoomConfig()
	conf.MaxRounds = 1
	r, _ := newTestRoom(t, conf)
	conns := setupGame(t, r, "alice", "bob")

	assert.ErrorIs(t, r.handleReset(conns["alice"]), errResetUnavailable)

	startRound(t, r, conns)
	winner := nonCzar(r)
	submitAny(t, r, conns[winner], winner)
	require.NoError(t, r.handleJudge(conns[r.cardCzar], winner))
	require.Equal(t, stateGameOver, r.state)

	require.NoError(t, r.handleReset(conns["alice"]))
	assert.Equal(t, stateWaiting, r.state)
	assert.Equal(t, 1, r.round)
	assert.Empty(t, r.gameWinner)
	assert.Len(t, r.players, 2, "the roster survives a reset")
	for _, p := range r.players {
		assert.Equal(t, 0, p.score)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	name := nonCzar(r)
	submitAny(t, r, conns[name], name)
	r.players[name].score = 5

	snap := r.snapshot()

	cfg := &Config{}
	store := newMemStore()
	s := newSaver(cfg, store)
	t.Cleanup(s.close)

	r2 := roomFromSnapshot(&snap, cfg, testCatalog(), randomJudge{}, newBindingTable(), s)

	assert.Equal(t, r.state, r2.state)
	assert.Equal(t, r.round, r2.round)
	assert.Empty(t, r2.players, "everyone comes back disconnected")
	assert.Equal(t, 5, r2.disconnected[name].score)
	assert.Equal(t, r.cardCzar, r2.cardCzar)
	assert.ElementsMatch(t, r.deck.used.sorted(), r2.deck.used.sorted())

	// Rejoining restores score and join order.
	c := joinPlayer(t, r2, name)
	assert.Equal(t, 5, r2.players[name].score)
	_ = c
}

// TestActorSerializesConcurrentSubmissions drives the real loop: two
// players submit from separate goroutines and both submissions land.
func TestActorSerializesConcurrentSubmissions(t *testing.T) {
	t.Parallel()
	r, _ := newTestRoom(t, testRoomConfig())
	conns := setupGame(t, r, "alice", "bob", "carol")
	startRound(t, r, conns)

	czar := r.cardCzar
	var names []string
	for name := range r.players {
		if name != czar {
			names = append(names, name)
		}
	}
	for _, name := range names {
		require.NoError(t, r.handleDrawHand(conns[name]))
	}
	cards := map[string]string{
		names[0]: r.hands[names[0]][0].Text,
		names[1]: r.hands[names[1]][0].Text,
	}

	go r.run()
	defer func() {
		close(r.stop)
		<-r.stopped
	}()

	for _, name := range names {
		name := name
		go func() {
			r.inbox <- envelope{c: conns[name], msg: ClientMessage{Type: "submit_card", Card: cards[name]}}
		}()
	}

	observer := conns[czar]
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-observer.send:
			if sub, ok := msg.(SubmissionsMessage); ok && sub.Count == 2 {
				assert.Contains(t, sub.Submissions, names[0])
				assert.Contains(t, sub.Submissions, names[1])
				return
			}
		case <-deadline:
			t.Fatal("never observed both submissions")
		}
	}
}

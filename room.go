/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math/rand"
	"sort"
	"sync/atomic"
	"time"
)

type roomState string

const (
	stateWaiting       roomState = "waiting"
	stateInProgress    roomState = "in_progress"
	stateRoundResolved roomState = "round_resolved"
	stateGameOver      roomState = "game_over"
)

// RoomConfig is fixed at room creation.
type RoomConfig struct {
	MinPlayers int           `json:"min_players"`
	ScoreLimit int           `json:"score_limit"`
	MaxRounds  int           `json:"max_rounds"`
	RoundTime  time.Duration `json:"round_time"`
	HandSize   int           `json:"hand_size"`
}

type playerInfo struct {
	score  int
	joined int // join sequence, drives the game-end tie-break
}

type envelope struct {
	c   *client
	msg ClientMessage
}

// Room owns one room's full mutable state. A single goroutine (run)
// applies every event, so no two transitions ever interleave; all
// other goroutines talk to it through channels.
type Room struct {
	id   string
	cfg  *Config
	conf RoomConfig

	prompts  []Card
	deck     *deck
	judge    Judge
	bindings *bindingTable
	saver    *saver

	clients map[*client]struct{}
	closing bool

	state        roomState
	round        int
	promptCard   *Card
	cardCzar     string
	players      map[string]*playerInfo
	disconnected map[string]playerInfo
	submissions  map[string]Card
	hands        map[string][]Card
	ready        stringSet
	spectators   stringSet
	gameWinner   string
	joinSeq      int

	createdAt  time.Time
	lastActive atomic.Int64 // unix nanos, read by the registry reaper
	connected  atomic.Int32

	register     chan *client
	unregister   chan *client
	inbox        chan envelope
	judgeResults chan judgeResult
	timerFired   chan int
	stop         chan struct{}
	stopped      chan struct{}

	roundTimer *time.Timer
}

func newRoom(id string, conf RoomConfig, cfg *Config, cat CardCatalog, judge Judge, bindings *bindingTable, saver *saver) *Room {
	now := time.Now()
	r := &Room{
		id:           id,
		cfg:          cfg,
		conf:         conf,
		prompts:      cat.Prompts(),
		deck:         newDeck(cat.Responses()),
		judge:        judge,
		bindings:     bindings,
		saver:        saver,
		clients:      make(map[*client]struct{}),
		state:        stateWaiting,
		round:        1,
		players:      make(map[string]*playerInfo),
		disconnected: make(map[string]playerInfo),
		submissions:  make(map[string]Card),
		hands:        make(map[string][]Card),
		ready:        newStringSet(),
		spectators:   newStringSet(),
		createdAt:    now,
		register:     make(chan *client),
		unregister:   make(chan *client),
		inbox:        make(chan envelope, 64),
		judgeResults: make(chan judgeResult, 1),
		timerFired:   make(chan int, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	r.lastActive.Store(now.UnixNano())
	return r
}

// roomFromSnapshot rehydrates a persisted room. Every player comes
// back disconnected, holding their score and join order until they
// rejoin, so readiness and submissions reset with them.
func roomFromSnapshot(snap *RoomSnapshot, cfg *Config, cat CardCatalog, judge Judge, bindings *bindingTable, saver *saver) *Room {
	r := newRoom(snap.ID, snap.Config, cfg, cat, judge, bindings, saver)

	r.state = snap.State
	r.round = snap.Round
	r.promptCard = snap.PromptCard
	r.cardCzar = snap.CardCzar
	r.gameWinner = snap.GameWinner
	r.spectators = newStringSet()

	for name, p := range snap.Players {
		r.disconnected[name] = playerInfo{score: p.Score, joined: p.Joined}
		if p.Joined >= r.joinSeq {
			r.joinSeq = p.Joined + 1
		}
	}
	for name, p := range snap.Disconnected {
		r.disconnected[name] = playerInfo{score: p.Score, joined: p.Joined}
		if p.Joined >= r.joinSeq {
			r.joinSeq = p.Joined + 1
		}
	}
	for name, cards := range snap.Hands {
		r.hands[name] = append([]Card(nil), cards...)
	}
	r.deck.used = newStringSet(snap.UsedCards...)

	if r.state == stateInProgress {
		r.startRoundTimer()
	}

	return r
}

func (r *Room) run() {
	defer close(r.stopped)

	for {
		select {
		case c := <-r.register:
			r.handleRegister(c)

		case c := <-r.unregister:
			r.handleUnregister(c)

		case env := <-r.inbox:
			r.dispatch(env)

		case res := <-r.judgeResults:
			r.handleJudgeResult(res)

		case round := <-r.timerFired:
			r.handleRoundTimeout(round)

		case <-r.stop:
			r.shutdown()
			return
		}
	}
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *Room) idleSince() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

func (r *Room) clientCount() int {
	return int(r.connected.Load())
}

// dispatch validates and applies one inbound event. A failed guard
// aborts with no partial effect; only the originating connection
// hears about it.
func (r *Room) dispatch(env envelope) {
	if r.closing {
		return
	}

	r.touch()

	var err error

	switch env.msg.Type {
	case "join":
		err = r.handleJoin(env.c, env.msg.PlayerName)
	case "spectate":
		err = r.handleSpectate(env.c, env.msg.PlayerName)
	case "ready":
		ready := env.msg.Ready == nil || *env.msg.Ready
		err = r.handleReady(env.c, ready)
	case "start_round":
		err = r.handleStartRound(env.c)
	case "draw_hand":
		err = r.handleDrawHand(env.c)
	case "submit_card":
		err = r.handleSubmit(env.c, env.msg.Card)
	case "judge_round":
		err = r.handleJudge(env.c, env.msg.Winner)
	case "chat":
		err = r.handleChat(env.c, env.msg.Message)
	case "reset":
		err = r.handleReset(env.c)
	default:
		// ignore unknown types
	}

	if err != nil {
		r.sendTo(env.c, errorMessage(err))
	}
}

func (r *Room) handleRegister(c *client) {
	if r.closing {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return
	}

	r.touch()
	r.clients[c] = struct{}{}
	r.connected.Store(int32(len(r.clients)))

	r.sendTo(c, r.stateMessage())
}

// handleUnregister drops the connection and, if it was bound to an
// active player, applies the disconnect transition: the score is
// parked in disconnected, readiness and submission are withdrawn,
// state is otherwise unchanged.
func (r *Room) handleUnregister(c *client) {
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	r.connected.Store(int32(len(r.clients)))

	b, bound := r.bindings.unbindConn(c)
	if bound && b.roomID == r.id {
		r.touch()
		r.markDisconnected(b.playerName)
	}
}

func (r *Room) markDisconnected(name string) {
	if r.spectators.has(name) {
		r.spectators.remove(name)
		r.broadcastPlayers()
		r.persist()
		return
	}

	p, ok := r.players[name]
	if !ok {
		return
	}

	r.disconnected[name] = *p
	delete(r.players, name)
	r.ready.remove(name)
	delete(r.submissions, name)

	logf(r.cfg, "GAMES: Player %q disconnected from %s", name, r.id)

	r.broadcastPlayers()
	r.broadcastReady()
	if r.state == stateInProgress {
		r.broadcastSubmissions()
	}
	r.persist()
}

func (r *Room) handleJoin(c *client, name string) error {
	if name == "" {
		return errPlayerNotFound
	}
	if r.spectators.has(name) {
		return errNameAlreadyActive
	}

	if _, active := r.players[name]; active {
		if cur, ok := r.bindings.connFor(r.id, name); ok && cur == c {
			// Repeat join from the same connection; resend state.
			r.sendTo(c, r.stateMessage())
			return nil
		}
		return errNameAlreadyActive
	}

	if p, wasHere := r.disconnected[name]; wasHere {
		restored := p
		r.players[name] = &restored
		delete(r.disconnected, name)
		logf(r.cfg, "GAMES: Player %q rejoined %s with score %d", name, r.id, restored.score)
	} else {
		r.players[name] = &playerInfo{joined: r.joinSeq}
		r.joinSeq++
		logf(r.cfg, "GAMES: Player %q joined %s", name, r.id)
	}

	r.bindPlayer(c, name)

	if hand := r.hands[name]; len(hand) > 0 {
		r.sendTo(c, HandMessage{Type: "hand_dealt", Cards: hand})
	}

	r.broadcastPlayers()
	r.persist()
	return nil
}

func (r *Room) handleSpectate(c *client, name string) error {
	if name == "" {
		return errPlayerNotFound
	}
	_, active := r.players[name]
	_, parked := r.disconnected[name]
	if active || parked || r.spectators.has(name) {
		return errNameAlreadyActive
	}

	r.spectators.add(name)
	r.bindPlayer(c, name)

	logf(r.cfg, "GAMES: Spectator %q joined %s", name, r.id)

	r.broadcastPlayers()
	r.persist()
	return nil
}

// bindPlayer upserts the connection binding. A displaced connection
// is one whose socket died without the server noticing yet; it gets
// dropped so the binding table stays one-to-one.
func (r *Room) bindPlayer(c *client, name string) {
	displaced := r.bindings.bind(c, r.id, name)
	if displaced == nil {
		return
	}
	if _, ok := r.clients[displaced]; ok {
		delete(r.clients, displaced)
		close(displaced.send)
		r.connected.Store(int32(len(r.clients)))
	}
}

func (r *Room) handleReady(c *client, ready bool) error {
	name, err := r.playerOf(c)
	if err != nil {
		return err
	}
	if _, ok := r.players[name]; !ok {
		return errPlayerNotFound
	}
	if r.state == stateGameOver {
		return errGameOver
	}

	if ready {
		r.ready.add(name)
	} else {
		r.ready.remove(name)
	}

	r.broadcastReady()
	r.persist()
	return nil
}

func (r *Room) handleStartRound(c *client) error {
	if _, err := r.playerOf(c); err != nil {
		return err
	}

	switch r.state {
	case stateInProgress:
		return errRoundInProgress
	case stateGameOver:
		return errGameOver
	}

	if len(r.players) < r.conf.MinPlayers {
		return errNotEnoughPlayers
	}
	if !r.allReady() {
		return errNotAllReady
	}

	prompt := r.prompts[rand.Intn(len(r.prompts))]
	r.promptCard = &prompt
	r.submissions = make(map[string]Card)
	r.cardCzar = r.rotateCzar()
	r.ready = newStringSet()
	r.state = stateInProgress

	r.startRoundTimer()

	logf(r.cfg, "GAMES: Round %d started in %s, czar %q", r.round, r.id, r.cardCzar)

	r.broadcast(RoundStartedMessage{
		Type:       "round_started",
		Round:      r.round,
		PromptCard: prompt,
		CardCzar:   r.cardCzar,
	})
	r.persist()
	return nil
}

// rotateCzar picks a uniformly random player other than the previous
// czar. Only when a single eligible player remains does the czar
// repeat.
func (r *Room) rotateCzar() string {
	candidates := make([]string, 0, len(r.players))
	for name := range r.players {
		if name == r.cardCzar {
			continue
		}
		candidates = append(candidates, name)
	}

	if len(candidates) == 0 {
		if _, ok := r.players[r.cardCzar]; ok {
			return r.cardCzar
		}
		for name := range r.players {
			return name
		}
		return ""
	}

	sort.Strings(candidates)
	return candidates[rand.Intn(len(candidates))]
}

func (r *Room) allReady() bool {
	if len(r.players) == 0 {
		return false
	}
	for name := range r.players {
		if !r.ready.has(name) {
			return false
		}
	}
	return true
}

func (r *Room) handleDrawHand(c *client) error {
	name, err := r.playerOf(c)
	if err != nil {
		return err
	}
	if _, ok := r.players[name]; !ok {
		return errPlayerNotFound
	}
	if r.state != stateInProgress {
		return errNoRoundInProgress
	}
	if name == r.cardCzar {
		return errInvalidSubmission
	}

	// A redraw hands the old cards back to the pool before sampling.
	r.deck.release(r.hands[name])

	hand, err := r.deck.dealHand(r.conf.HandSize)
	if err != nil {
		return err
	}
	r.hands[name] = hand

	r.sendTo(c, HandMessage{Type: "hand_dealt", Cards: hand})
	r.persist()
	return nil
}

func (r *Room) handleSubmit(c *client, cardText string) error {
	name, err := r.playerOf(c)
	if err != nil {
		return err
	}
	if _, ok := r.players[name]; !ok {
		return errPlayerNotFound
	}
	if r.state != stateInProgress {
		return errNoRoundInProgress
	}
	if name == r.cardCzar {
		return errInvalidSubmission
	}
	if _, already := r.submissions[name]; already {
		return errInvalidSubmission
	}

	hand := r.hands[name]
	at := -1
	for i, card := range hand {
		if card.Text == cardText {
			at = i
			break
		}
	}
	if at < 0 {
		return errInvalidSubmission
	}

	r.submissions[name] = hand[at]
	r.hands[name] = append(hand[:at:at], hand[at+1:]...)

	r.broadcastSubmissions()
	r.persist()
	return nil
}

// handleJudge applies a czar's pick. A nil client marks the internal
// auto-judge path. The czar may judge before every eligible player
// has submitted; the winner just has to be among the submitters.
func (r *Room) handleJudge(c *client, winner string) error {
	if r.state != stateInProgress {
		return errNoRoundInProgress
	}

	if c != nil {
		name, err := r.playerOf(c)
		if err != nil {
			return err
		}
		if name != r.cardCzar {
			return errInvalidJudgment
		}
	}

	if _, ok := r.submissions[winner]; !ok {
		return errInvalidJudgment
	}

	r.resolveRound(winner)
	return nil
}

func (r *Room) resolveRound(winner string) {
	r.stopRoundTimer()

	card := r.submissions[winner]
	r.players[winner].score++
	r.round++
	r.submissions = make(map[string]Card)
	r.state = stateRoundResolved

	logf(r.cfg, "GAMES: Round won by %q in %s, score %d", winner, r.id, r.players[winner].score)

	r.broadcast(RoundResolvedMessage{
		Type:        "round_resolved",
		Winner:      winner,
		WinningCard: &card,
		Score:       r.players[winner].score,
		Round:       r.round,
	})

	r.checkGameOver()
	r.persist()
}

// skipRound resolves a timed-out round that received no submissions.
// Nobody scores, but the round counter still advances.
func (r *Room) skipRound() {
	r.stopRoundTimer()

	r.round++
	r.submissions = make(map[string]Card)
	r.state = stateRoundResolved

	logf(r.cfg, "GAMES: Round skipped in %s", r.id)

	r.broadcast(RoundResolvedMessage{
		Type:    "round_resolved",
		Round:   r.round,
		Skipped: true,
	})

	r.checkGameOver()
	r.persist()
}

// checkGameOver runs on every entry into RoundResolved. The winner is
// the highest score; ties break to the earliest-joined player.
func (r *Room) checkGameOver() {
	if r.state != stateRoundResolved {
		return
	}

	reason := ""
	if r.round > r.conf.MaxRounds {
		reason = "max_rounds"
	}
	for _, p := range r.players {
		if p.score >= r.conf.ScoreLimit {
			reason = "score_limit"
			break
		}
	}
	if reason == "" {
		return
	}

	winner := ""
	for name, p := range r.players {
		if winner == "" {
			winner = name
			continue
		}
		best := r.players[winner]
		if p.score > best.score || (p.score == best.score && p.joined < best.joined) {
			winner = name
		}
	}

	r.state = stateGameOver
	r.gameWinner = winner

	logf(r.cfg, "GAMES: Game over in %s, winner %q (%s)", r.id, winner, reason)

	r.broadcast(GameOverMessage{
		Type:        "game_over",
		Winner:      winner,
		FinalScores: r.scores(),
		Reason:      reason,
	})
}

func (r *Room) handleRoundTimeout(round int) {
	if r.closing || r.state != stateInProgress || r.round != round {
		return
	}

	r.touch()

	if len(r.submissions) == 0 {
		r.skipRound()
		return
	}

	subs := make(map[string]Card, len(r.submissions))
	for name, card := range r.submissions {
		subs[name] = card
	}

	logf(r.cfg, "GAMES: Round %d in %s timed out, auto-judging %d submissions", round, r.id, len(subs))

	requestJudgment(r.judge, round, *r.promptCard, subs, r.judgeResults)
}

// handleJudgeResult completes an offloaded judgment. A failure leaves
// the round in progress, surfaced room-wide, so the czar can still
// resolve it by hand.
func (r *Room) handleJudgeResult(res judgeResult) {
	if r.closing || r.state != stateInProgress || r.round != res.round {
		return
	}

	r.touch()

	if res.err != nil {
		logf(r.cfg, "GAMES: Auto-judge failed in %s: %v", r.id, res.err)
		r.broadcast(errorMessage(errJudgeFailure))
		return
	}
	if _, ok := r.submissions[res.winner]; !ok {
		return
	}

	r.resolveRound(res.winner)
}

func (r *Room) handleChat(c *client, message string) error {
	name, err := r.playerOf(c)
	if err != nil {
		return err
	}
	if message == "" {
		return nil
	}

	r.broadcast(ChatMessage{Type: "chat", PlayerName: name, Message: message})
	return nil
}

// handleReset is the lobby hook out of GameOver: scores, hands, and
// the used-card pool reset, the roster and join order survive.
func (r *Room) handleReset(c *client) error {
	if _, err := r.playerOf(c); err != nil {
		return err
	}
	if r.state != stateGameOver {
		return errResetUnavailable
	}

	r.state = stateWaiting
	r.round = 1
	r.promptCard = nil
	r.cardCzar = ""
	r.gameWinner = ""
	r.submissions = make(map[string]Card)
	r.hands = make(map[string][]Card)
	r.ready = newStringSet()
	r.deck.used = newStringSet()
	for _, p := range r.players {
		p.score = 0
	}

	logf(r.cfg, "GAMES: Room %s reset to lobby", r.id)

	r.broadcastPlayers()
	r.persist()
	return nil
}

func (r *Room) playerOf(c *client) (string, error) {
	if c == nil {
		return "", errPlayerNotFound
	}
	b, ok := r.bindings.lookup(c)
	if !ok || b.roomID != r.id {
		return "", errPlayerNotFound
	}
	return b.playerName, nil
}

// ---- Timers ----

func (r *Room) startRoundTimer() {
	r.stopRoundTimer()

	// Drop any unprocessed expiry from the previous round.
	select {
	case <-r.timerFired:
	default:
	}

	if r.conf.RoundTime <= 0 {
		return
	}

	round := r.round
	r.roundTimer = time.AfterFunc(r.conf.RoundTime, func() {
		select {
		case r.timerFired <- round:
		default:
		}
	})
}

func (r *Room) stopRoundTimer() {
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

// ---- Outbound ----

func (r *Room) sendTo(c *client, msg any) {
	if c == nil {
		return
	}
	if _, ok := r.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		close(c.send)
		r.connected.Store(int32(len(r.clients)))
	}
}

func (r *Room) broadcast(msg any) {
	for c := range r.clients {
		select {
		case c.send <- msg:
		default:
			delete(r.clients, c)
			close(c.send)
		}
	}
	r.connected.Store(int32(len(r.clients)))
}

func (r *Room) scores() map[string]int {
	out := make(map[string]int, len(r.players))
	for name, p := range r.players {
		out[name] = p.score
	}
	return out
}

func (r *Room) disconnectedScores() map[string]int {
	out := make(map[string]int, len(r.disconnected))
	for name, p := range r.disconnected {
		out[name] = p.score
	}
	return out
}

func (r *Room) broadcastPlayers() {
	r.broadcast(PlayersMessage{
		Type:         "players_updated",
		Players:      r.scores(),
		Disconnected: r.disconnectedScores(),
		Spectators:   r.spectators.sorted(),
		MinPlayers:   r.conf.MinPlayers,
		State:        r.state,
	})
}

func (r *Room) broadcastReady() {
	r.broadcast(ReadyStateMessage{
		Type:         "ready_state_updated",
		ReadyPlayers: r.ready.sorted(),
		AllReady:     r.allReady(),
	})
}

func (r *Room) broadcastSubmissions() {
	subs := make(map[string]Card, len(r.submissions))
	for name, card := range r.submissions {
		subs[name] = card
	}

	r.broadcast(SubmissionsMessage{
		Type:        "submissions_updated",
		Submissions: subs,
		Count:       len(subs),
		CardCzar:    r.cardCzar,
	})
}

func (r *Room) stateMessage() RoomStateMessage {
	return RoomStateMessage{
		Type:            "room_state",
		RoomID:          r.id,
		State:           r.state,
		Round:           r.round,
		Players:         r.scores(),
		Disconnected:    r.disconnectedScores(),
		Spectators:      r.spectators.sorted(),
		CardCzar:        r.cardCzar,
		PromptCard:      r.promptCard,
		ReadyPlayers:    r.ready.sorted(),
		SubmissionCount: len(r.submissions),
		MinPlayers:      r.conf.MinPlayers,
		ScoreLimit:      r.conf.ScoreLimit,
		MaxRounds:       r.conf.MaxRounds,
	}
}

// ---- Persistence ----

func (r *Room) snapshot() RoomSnapshot {
	players := make(map[string]PlayerSnapshot, len(r.players))
	for name, p := range r.players {
		players[name] = PlayerSnapshot{Score: p.score, Joined: p.joined}
	}
	disconnected := make(map[string]PlayerSnapshot, len(r.disconnected))
	for name, p := range r.disconnected {
		disconnected[name] = PlayerSnapshot{Score: p.score, Joined: p.joined}
	}
	submissions := make(map[string]Card, len(r.submissions))
	for name, card := range r.submissions {
		submissions[name] = card
	}
	hands := make(map[string][]Card, len(r.hands))
	for name, cards := range r.hands {
		hands[name] = append([]Card(nil), cards...)
	}

	return RoomSnapshot{
		ID:           r.id,
		State:        r.state,
		Round:        r.round,
		PromptCard:   r.promptCard,
		CardCzar:     r.cardCzar,
		Players:      players,
		Disconnected: disconnected,
		Submissions:  submissions,
		Hands:        hands,
		UsedCards:    r.deck.used.sorted(),
		ReadyPlayers: r.ready.sorted(),
		Spectators:   r.spectators.sorted(),
		GameWinner:   r.gameWinner,
		Config:       r.conf,
		UpdatedAt:    time.Now(),
	}
}

func (r *Room) persist() {
	r.saver.save(r.snapshot())
}

// ---- Shutdown ----

// shutdown closes every connection. Pending sends from read pumps
// fall through on the stopped channel once run returns, so nothing
// blocks on a dead room.
func (r *Room) shutdown() {
	r.closing = true
	r.stopRoundTimer()

	for c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
		r.bindings.unbindConn(c)
	}
	r.connected.Store(0)
}

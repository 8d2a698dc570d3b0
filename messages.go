/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                  // "join", "spectate", "ready", "start_round", "draw_hand", "submit_card", "judge_round", "chat", "reset"
	PlayerName string `json:"player_name,omitempty"` // join / spectate
	Ready      *bool  `json:"ready,omitempty"`       // ready
	Card       string `json:"card,omitempty"`        // submit_card / judge_round (winning card text)
	Winner     string `json:"winner,omitempty"`      // judge_round
	Message    string `json:"message,omitempty"`     // chat
}

// RoomStateMessage is sent to a single client on connect so it can
// render the room before joining.
type RoomStateMessage struct {
	Type            string         `json:"type"` // "room_state"
	RoomID          string         `json:"room_id"`
	State           roomState      `json:"state"`
	Round           int            `json:"round"`
	Players         map[string]int `json:"players"`
	Disconnected    map[string]int `json:"disconnected"`
	Spectators      []string       `json:"spectators"`
	CardCzar        string         `json:"card_czar,omitempty"`
	PromptCard      *Card          `json:"prompt_card,omitempty"`
	ReadyPlayers    []string       `json:"ready_players"`
	SubmissionCount int            `json:"submission_count"`
	MinPlayers      int            `json:"min_players"`
	ScoreLimit      int            `json:"score_limit"`
	MaxRounds       int            `json:"max_rounds"`
}

// PlayersMessage broadcasts the roster whenever it changes.
type PlayersMessage struct {
	Type         string         `json:"type"` // "players_updated"
	Players      map[string]int `json:"players"`
	Disconnected map[string]int `json:"disconnected"`
	Spectators   []string       `json:"spectators"`
	MinPlayers   int            `json:"min_players"`
	State        roomState      `json:"state"`
}

// ReadyStateMessage broadcasts readiness changes.
type ReadyStateMessage struct {
	Type         string   `json:"type"` // "ready_state_updated"
	ReadyPlayers []string `json:"ready_players"`
	AllReady     bool     `json:"all_ready"`
}

// RoundStartedMessage announces a new round, its prompt, and the czar.
type RoundStartedMessage struct {
	Type       string `json:"type"` // "round_started"
	Round      int    `json:"round"`
	PromptCard Card   `json:"prompt_card"`
	CardCzar   string `json:"card_czar"`
}

// HandMessage is sent only to the connection that drew.
type HandMessage struct {
	Type  string `json:"type"` // "hand_dealt"
	Cards []Card `json:"cards"`
}

// SubmissionsMessage broadcasts who has submitted what this round.
type SubmissionsMessage struct {
	Type        string          `json:"type"` // "submissions_updated"
	Submissions map[string]Card `json:"submissions"`
	Count       int             `json:"count"`
	CardCzar    string          `json:"card_czar"`
}

// RoundResolvedMessage announces the round outcome. Skipped rounds
// carry no winner.
type RoundResolvedMessage struct {
	Type        string `json:"type"` // "round_resolved"
	Winner      string `json:"winner,omitempty"`
	WinningCard *Card  `json:"winning_card,omitempty"`
	Score       int    `json:"score"`
	Round       int    `json:"round"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// GameOverMessage announces the final outcome.
type GameOverMessage struct {
	Type        string         `json:"type"` // "game_over"
	Winner      string         `json:"winner"`
	FinalScores map[string]int `json:"final_scores"`
	Reason      string         `json:"reason"` // "score_limit" or "max_rounds"
}

// ChatMessage is a pass-through broadcast with no state effect.
type ChatMessage struct {
	Type       string `json:"type"` // "chat"
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
}

// ErrorMessage is sent only to the originating connection, except for
// judge failures, which the whole room needs to see.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(err error) ErrorMessage {
	if ge, ok := err.(*gameError); ok {
		return ErrorMessage{Type: "error", Code: ge.code, Message: ge.message}
	}
	return ErrorMessage{Type: "error", Code: "internal", Message: err.Error()}
}

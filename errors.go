/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// gameError is a guard failure surfaced to the originating connection
// only. The code is stable wire vocabulary; the message is user-facing.
type gameError struct {
	code    string
	message string
}

func (e *gameError) Error() string {
	return e.message
}

var (
	errRoomNotFound      = &gameError{"room_not_found", "That room does not exist."}
	errPlayerNotFound    = &gameError{"player_not_found", "You have not joined this room."}
	errNameAlreadyActive = &gameError{"name_already_active", "That name is already in use in this room."}
	errNotEnoughPlayers  = &gameError{"not_enough_players", "Not enough players to start a round."}
	errNotAllReady       = &gameError{"not_all_ready", "Not all players are ready."}
	errRoundInProgress   = &gameError{"round_in_progress", "A round is already in progress."}
	errNoRoundInProgress = &gameError{"no_round_in_progress", "No round is in progress."}
	errInvalidSubmission = &gameError{"invalid_submission", "That card cannot be submitted."}
	errInvalidJudgment   = &gameError{"invalid_judgment", "That winner is not among the current submissions."}
	errCatalogExhausted  = &gameError{"catalog_exhausted", "The response card catalog is too small to deal a hand."}
	errJudgeFailure      = &gameError{"judge_failure", "Automated judging failed; the czar can still pick a winner."}
	errGameOver          = &gameError{"game_over", "The game is over."}
	errResetUnavailable  = &gameError{"reset_unavailable", "The game is not over yet."}
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"math/rand"
	"sort"
	"time"
)

const judgeTimeout = 10 * time.Second

// Judge picks a round winner from the current submissions. An
// automated implementation (an LLM, a heuristic) may take time or
// fail; the room never waits on it inline.
type Judge interface {
	PickWinner(ctx context.Context, prompt Card, submissions map[string]Card) (string, error)
}

// randomJudge resolves timed-out rounds by picking uniformly among
// the players who submitted.
type randomJudge struct{}

func (randomJudge) PickWinner(_ context.Context, _ Card, submissions map[string]Card) (string, error) {
	names := make([]string, 0, len(submissions))
	for name := range submissions {
		names = append(names, name)
	}
	sort.Strings(names)

	return names[rand.Intn(len(names))], nil
}

type judgeResult struct {
	round  int
	winner string
	err    error
}

// requestJudgment runs the judge off the room's loop and delivers the
// outcome as a follow-up internal event. The result send never
// blocks; a room that has moved on simply ignores stale rounds.
func requestJudgment(j Judge, round int, prompt Card, submissions map[string]Card, results chan<- judgeResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), judgeTimeout)
		defer cancel()

		winner, err := j.PickWinner(ctx, prompt, submissions)

		select {
		case results <- judgeResult{round: round, winner: winner, err: err}:
		default:
		}
	}()
}

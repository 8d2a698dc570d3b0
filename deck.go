/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "math/rand"

// deck tracks the per-room pool of not-recently-used response cards.
// Cards are keyed by text, matching the pack format's identity.
type deck struct {
	responses []Card
	used      stringSet
}

func newDeck(responses []Card) *deck {
	return &deck{
		responses: responses,
		used:      newStringSet(),
	}
}

// release returns previously dealt, unconsumed cards to the pool.
// Called on redraw so discarded hands cannot starve the pool.
func (d *deck) release(cards []Card) {
	for _, c := range cards {
		d.used.remove(c.Text)
	}
}

// dealHand samples size cards uniformly without replacement from the
// cards not recently used. When fewer than size remain, the used pool
// resets and the full catalog is back in play, accepting that dealt
// but unplayed cards may reappear.
func (d *deck) dealHand(size int) ([]Card, error) {
	if len(d.responses) < size {
		return nil, errCatalogExhausted
	}

	available := d.available()
	if len(available) < size {
		d.used = newStringSet()
		available = d.available()
	}

	rand.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	hand := available[:size]
	for _, c := range hand {
		d.used.add(c.Text)
	}

	return hand, nil
}

func (d *deck) available() []Card {
	out := make([]Card, 0, len(d.responses))
	for _, c := range d.responses {
		if d.used.has(c.Text) {
			continue
		}
		out = append(out, c)
	}
	return out
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type cardColor string

const (
	colorPrompt   cardColor = "prompt"
	colorResponse cardColor = "response"
)

// Card is immutable once loaded. Cards are identified by text; the
// pack format carries no other identity.
type Card struct {
	Text  string    `json:"text"`
	Color cardColor `json:"color"`
}

// CardCatalog supplies the prompt and response cards shared by all
// rooms. Loaded once at startup, read-only afterwards.
type CardCatalog interface {
	Prompts() []Card
	Responses() []Card
}

type packCard struct {
	Text string `json:"text"`
}

type cardPack struct {
	Name  string     `json:"name"`
	White []packCard `json:"white"`
	Black []packCard `json:"black"`
}

type catalog struct {
	prompts   []Card
	responses []Card
}

func (c *catalog) Prompts() []Card {
	return c.prompts
}

func (c *catalog) Responses() []Card {
	return c.responses
}

// loadCardPacks reads a JSON array of packs, each optionally holding
// "white" and "black" arrays of {text} objects. Malformed or missing
// data is a startup error, never a silent empty catalog.
func loadCardPacks(path string) (*catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read card packs: %w", err)
	}

	var packs []cardPack
	if err := json.Unmarshal(data, &packs); err != nil {
		return nil, fmt.Errorf("parse card packs %q: %w", path, err)
	}

	cat := newCatalog(packs)

	if len(cat.prompts) == 0 {
		return nil, errors.New("card packs contain no black cards")
	}
	if len(cat.responses) == 0 {
		return nil, errors.New("card packs contain no white cards")
	}

	return cat, nil
}

func newCatalog(packs []cardPack) *catalog {
	cat := &catalog{}

	for _, pack := range packs {
		for _, c := range pack.Black {
			if c.Text == "" {
				continue
			}
			cat.prompts = append(cat.prompts, Card{Text: c.Text, Color: colorPrompt})
		}
		for _, c := range pack.White {
			if c.Text == "" {
				continue
			}
			cat.responses = append(cat.responses, Card{Text: c.Text, Color: colorResponse})
		}
	}

	return cat
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "sync"

type binding struct {
	roomID     string
	playerName string
}

// bindingTable maps live connections to (room, player) so disconnect
// handling is a single lookup rather than a scan over every room's
// player list. One player holds at most one binding per room; a later
// bind displaces the earlier connection.
type bindingTable struct {
	mu       sync.Mutex
	byConn   map[*client]binding
	byPlayer map[binding]*client
}

func newBindingTable() *bindingTable {
	return &bindingTable{
		byConn:   make(map[*client]binding),
		byPlayer: make(map[binding]*client),
	}
}

// bind upserts the connection's binding and returns the connection it
// displaced, if any. Idempotent for repeat binds of the same pair.
func (bt *bindingTable) bind(c *client, roomID, playerName string) *client {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	b := binding{roomID: roomID, playerName: playerName}

	displaced := bt.byPlayer[b]
	if displaced == c {
		displaced = nil
	}
	if displaced != nil {
		delete(bt.byConn, displaced)
	}

	if old, ok := bt.byConn[c]; ok && old != b {
		delete(bt.byPlayer, old)
	}

	bt.byConn[c] = b
	bt.byPlayer[b] = c

	return displaced
}

// unbindConn removes the connection's binding and reports which room
// and player it belonged to.
func (bt *bindingTable) unbindConn(c *client) (binding, bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	b, ok := bt.byConn[c]
	if !ok {
		return binding{}, false
	}

	delete(bt.byConn, c)
	if bt.byPlayer[b] == c {
		delete(bt.byPlayer, b)
	}

	return b, true
}

// lookup reports the connection's current binding without removing it.
func (bt *bindingTable) lookup(c *client) (binding, bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	b, ok := bt.byConn[c]
	return b, ok
}

func (bt *bindingTable) connFor(roomID, playerName string) (*client, bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	c, ok := bt.byPlayer[binding{roomID: roomID, playerName: playerName}]
	return c, ok
}

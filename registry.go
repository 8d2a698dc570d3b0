/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

const roomIDLength = 6

// registry owns the arena of room sessions. Nothing outside this file
// touches the rooms map; everything else addresses rooms by id.
type registry struct {
	cfg      *Config
	catalog  CardCatalog
	store    Store
	saver    *saver
	bindings *bindingTable
	judge    Judge

	mu    sync.Mutex
	rooms map[string]*Room
}

func newRegistry(cfg *Config, cat CardCatalog, store Store, judge Judge) *registry {
	return &registry{
		cfg:      cfg,
		catalog:  cat,
		store:    store,
		saver:    newSaver(cfg, store),
		bindings: newBindingTable(),
		judge:    judge,
		rooms:    make(map[string]*Room),
	}
}

// createRoom generates a collision-free id, starts the session, and
// persists the initial snapshot.
func (reg *registry) createRoom(conf RoomConfig) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id, err := reg.newRoomID()
	if err != nil {
		return nil, err
	}

	room := newRoom(id, conf, reg.cfg, reg.catalog, reg.judge, reg.bindings, reg.saver)
	reg.rooms[id] = room
	go room.run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.store.SaveRoom(ctx, room.snapshot()); err != nil {
		logf(reg.cfg, "STORE: Initial save failed for %s: %v", id, err)
	}

	logf(reg.cfg, "GAMES: Created room %s", id)

	return room, nil
}

// getRoom returns the resident session, or rehydrates one from the
// store and caches it.
func (reg *registry) getRoom(id string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := reg.store.LoadRoom(ctx, id)
	if err != nil {
		if errors.Is(err, errRoomNotFound) {
			return nil, errRoomNotFound
		}
		logf(reg.cfg, "STORE: Load failed for %s: %v", id, err)
		return nil, errRoomNotFound
	}

	room := roomFromSnapshot(snap, reg.cfg, reg.catalog, reg.judge, reg.bindings, reg.saver)
	reg.rooms[id] = room
	go room.run()

	logf(reg.cfg, "GAMES: Rehydrated room %s", id)

	return room, nil
}

// newRoomID generates a crypto-random id and retries until it
// collides with neither a resident nor a persisted room. Caller holds
// reg.mu.
func (reg *registry) newRoomID() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	for {
		buf := make([]byte, roomIDLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		out := make([]byte, roomIDLength)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := reg.rooms[id]; exists {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := reg.store.LoadRoom(ctx, id)
		cancel()
		if err == nil {
			continue
		}

		return id, nil
	}
}

// purgeLoop deletes stale persisted rooms on a schedule and evicts
// resident sessions that have no connections and have gone idle.
// Never runs inline with a player action.
func (reg *registry) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(reg.cfg.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		deleted, err := reg.store.Purge(purgeCtx, reg.cfg.retention)
		cancel()
		if err != nil {
			logf(reg.cfg, "STORE: Purge failed: %v", err)
		} else if deleted > 0 {
			logf(reg.cfg, "STORE: Purged %d stale rooms", deleted)
		}

		cutoff := time.Now().Add(-reg.cfg.purgeInterval)

		reg.mu.Lock()
		for id, room := range reg.rooms {
			if room.clientCount() == 0 && room.idleSince().Before(cutoff) {
				delete(reg.rooms, id)
				close(room.stop)
				logf(reg.cfg, "GAMES: Evicted idle room %s", id)
			}
		}
		reg.mu.Unlock()
	}
}

// close stops every resident session, waits for their loops to
// drain, and then flushes the snapshot writer.
func (reg *registry) close() {
	reg.mu.Lock()
	stopping := make([]*Room, 0, len(reg.rooms))
	for id, room := range reg.rooms {
		delete(reg.rooms, id)
		close(room.stop)
		stopping = append(stopping, room)
	}
	reg.mu.Unlock()

	for _, room := range stopping {
		<-room.stopped
	}

	reg.saver.close()
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// PlayerSnapshot carries a player's persisted state. Joined is the
// join sequence number and drives the game-end tie-break.
type PlayerSnapshot struct {
	Score  int `json:"score"`
	Joined int `json:"joined"`
}

// RoomSnapshot is the complete serializable room state. Set-valued
// fields are stored as sorted slices so snapshots compare and replay
// independent of iteration order.
type RoomSnapshot struct {
	ID           string                    `json:"id"`
	State        roomState                 `json:"state"`
	Round        int                       `json:"round"`
	PromptCard   *Card                     `json:"prompt_card,omitempty"`
	CardCzar     string                    `json:"card_czar,omitempty"`
	Players      map[string]PlayerSnapshot `json:"players"`
	Disconnected map[string]PlayerSnapshot `json:"disconnected"`
	Submissions  map[string]Card           `json:"submissions"`
	Hands        map[string][]Card         `json:"hands"`
	UsedCards    []string                  `json:"used_cards"`
	ReadyPlayers []string                  `json:"ready_players"`
	Spectators   []string                  `json:"spectators"`
	GameWinner   string                    `json:"game_winner,omitempty"`
	Config       RoomConfig                `json:"config"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Store is the persistence gateway: durable snapshots keyed by room
// id with time-based purge. Writes are full-snapshot upserts, so
// concurrent saves for the same room are last-writer-wins.
type Store interface {
	SaveRoom(ctx context.Context, snap RoomSnapshot) error
	LoadRoom(ctx context.Context, id string) (*RoomSnapshot, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// ---- SQLite implementation ----

type sqliteStore struct {
	sqlDB *sql.DB
}

func openSQLiteStore(path string) (*sqliteStore, error) {
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &sqliteStore{sqlDB: sqlDB}
	if err := s.initSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func (s *sqliteStore) initSchema() error {
	_, err := s.sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS games (
			game_id TEXT PRIMARY KEY,
			state TEXT,
			round INTEGER,
			black_card TEXT,
			card_czar TEXT,
			created_at INTEGER,
			updated_at INTEGER,
			game_data TEXT
		);
		CREATE TABLE IF NOT EXISTS players (
			game_id TEXT,
			player_name TEXT,
			score INTEGER,
			is_ready INTEGER,
			created_at INTEGER,
			PRIMARY KEY (game_id, player_name)
		);`)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *sqliteStore) SaveRoom(ctx context.Context, snap RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	now := toMillis(snap.UpdatedAt)
	var promptText string
	if snap.PromptCard != nil {
		promptText = snap.PromptCard.Text
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO games
		   (game_id, state, round, black_card, card_czar, game_data, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?,
		         coalesce((SELECT created_at FROM games WHERE game_id = ?), ?))`,
		snap.ID,
		string(snap.State),
		snap.Round,
		promptText,
		snap.CardCzar,
		string(data),
		now,
		snap.ID,
		now,
	)
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE game_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear players: %w", err)
	}

	ready := newStringSet(snap.ReadyPlayers...)
	for name, p := range snap.Players {
		isReady := 0
		if ready.has(name) {
			isReady = 1
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO players
			   (game_id, player_name, score, is_ready, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			snap.ID,
			name,
			p.Score,
			isReady,
			now,
		)
		if err != nil {
			return fmt.Errorf("save player %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	return nil
}

func (s *sqliteStore) LoadRoom(ctx context.Context, id string) (*RoomSnapshot, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT game_data FROM games WHERE game_id = ?`, id)

	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errRoomNotFound
		}
		return nil, fmt.Errorf("load game: %w", err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

func (s *sqliteStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(time.Now().Add(-olderThan))

	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM players WHERE game_id IN
		   (SELECT game_id FROM games WHERE updated_at < ?)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge players: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge games: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// ---- In-memory implementation ----

// memStore backs tests and --db="" runs. Snapshots survive room
// eviction but not process restarts.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]RoomSnapshot
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]RoomSnapshot)}
}

func (s *memStore) SaveRoom(_ context.Context, snap RoomSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[snap.ID] = snap
	return nil
}

func (s *memStore) LoadRoom(_ context.Context, id string) (*RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.rooms[id]
	if !ok {
		return nil, errRoomNotFound
	}
	return &snap, nil
}

func (s *memStore) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for id, snap := range s.rooms {
		if snap.UpdatedAt.Before(cutoff) {
			delete(s.rooms, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) Close() error {
	return nil
}

// ---- Asynchronous snapshot writer ----

// saver decouples persistence from room transitions: saves are
// queued, written by a single goroutine, and retried once on failure.
// A failed save never blocks or rolls back the in-memory transition
// that produced it.
type saver struct {
	cfg   *Config
	store Store
	queue chan RoomSnapshot
	done  chan struct{}
}

func newSaver(cfg *Config, store Store) *saver {
	s := &saver{
		cfg:   cfg,
		store: store,
		queue: make(chan RoomSnapshot, 256),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *saver) save(snap RoomSnapshot) {
	select {
	case s.queue <- snap:
	default:
		// A full queue means the store is badly behind; dropping an
		// intermediate snapshot is safe because saves are full upserts.
		logf(s.cfg, "STORE: Dropped snapshot for %s, queue full", snap.ID)
	}
}

func (s *saver) run() {
	defer close(s.done)

	for snap := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.store.SaveRoom(ctx, snap)
		cancel()
		if err == nil {
			continue
		}

		logf(s.cfg, "STORE: Save failed for %s, retrying: %v", snap.ID, err)
		time.Sleep(time.Second)

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.store.SaveRoom(ctx, snap); err != nil {
			logf(s.cfg, "STORE: Retry failed for %s: %v", snap.ID, err)
		}
		cancel()
	}
}

func (s *saver) close() {
	close(s.queue)
	<-s.done
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/lib/sqlitepool"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	room_id            TEXT PRIMARY KEY,
	position           INTEGER NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	topic              TEXT NOT NULL DEFAULT '',
	avatar_url         TEXT NOT NULL DEFAULT '',
	canonical_alias    TEXT NOT NULL DEFAULT '',
	heroes             TEXT NOT NULL DEFAULT '[]',
	joined_members     INTEGER NOT NULL DEFAULT 0,
	notification_count INTEGER NOT NULL DEFAULT 0,
	highlight_count    INTEGER NOT NULL DEFAULT 0
);
`

const (
	keyUserID = "user_id"
	keySince  = "since"
)

// RoomSummary is the cached form of one joined room.
type RoomSummary struct {
	RoomID            string
	Position          int
	Name              string
	Topic             string
	AvatarURL         string
	CanonicalAlias    string
	Heroes            []string
	JoinedMembers     int
	NotificationCount int
	HighlightCount    int
}

// Store caches the sync position and room summaries so a restarted
// daemon resumes incremental sync instead of downloading full state.
// The cache belongs to one user; loading it for another user empties
// it.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenStore opens or creates the cache database at path. The parent
// directory must exist.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: storeSchema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Load returns the cached since token and rooms in list order. When
// the cache was written for a different user it is cleared and Load
// returns nothing.
func (s *Store) Load(ctx context.Context, userID ref.UserID) (since string, rooms []RoomSummary, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("state store: load: %w", err)
	}
	defer s.pool.Put(conn)

	values, err := readSyncState(conn)
	if err != nil {
		return "", nil, err
	}
	if cached := values[keyUserID]; cached != "" && cached != userID.String() {
		s.logger.Info("state cache belongs to another user, discarding",
			"cached_user_id", cached,
			"user_id", userID.String(),
		)
		if err := clearState(conn); err != nil {
			return "", nil, err
		}
		return "", nil, nil
	}

	err = sqlitex.Execute(conn,
		`SELECT room_id, position, name, topic, avatar_url, canonical_alias, heroes,
		        joined_members, notification_count, highlight_count
		 FROM rooms ORDER BY position`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				summary := RoomSummary{
					RoomID:            stmt.ColumnText(0),
					Position:          stmt.ColumnInt(1),
					Name:              stmt.ColumnText(2),
					Topic:             stmt.ColumnText(3),
					AvatarURL:         stmt.ColumnText(4),
					CanonicalAlias:    stmt.ColumnText(5),
					JoinedMembers:     stmt.ColumnInt(7),
					NotificationCount: stmt.ColumnInt(8),
					HighlightCount:    stmt.ColumnInt(9),
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(6)), &summary.Heroes); err != nil {
					return fmt.Errorf("state store: heroes of %s: %w", summary.RoomID, err)
				}
				rooms = append(rooms, summary)
				return nil
			},
		})
	if err != nil {
		return "", nil, fmt.Errorf("state store: reading rooms: %w", err)
	}
	return values[keySince], rooms, nil
}

// Save replaces the cached state in one transaction.
func (s *Store) Save(ctx context.Context, userID ref.UserID, since string, rooms []RoomSummary) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("state store: save: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("state store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for key, value := range map[string]string{keyUserID: userID.String(), keySince: since} {
		err = sqlitex.Execute(conn,
			`INSERT INTO sync_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{key, value}})
		if err != nil {
			return fmt.Errorf("state store: writing %s: %w", key, err)
		}
	}

	if err = sqlitex.Execute(conn, `DELETE FROM rooms`, nil); err != nil {
		return fmt.Errorf("state store: clearing rooms: %w", err)
	}
	for _, room := range rooms {
		heroes, marshalErr := json.Marshal(room.Heroes)
		if marshalErr != nil {
			return fmt.Errorf("state store: heroes of %s: %w", room.RoomID, marshalErr)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO rooms (room_id, position, name, topic, avatar_url, canonical_alias,
			                    heroes, joined_members, notification_count, highlight_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				room.RoomID, room.Position, room.Name, room.Topic, room.AvatarURL,
				room.CanonicalAlias, string(heroes), room.JoinedMembers,
				room.NotificationCount, room.HighlightCount,
			}})
		if err != nil {
			return fmt.Errorf("state store: writing room %s: %w", room.RoomID, err)
		}
	}
	return nil
}

// Clear drops all cached state.
func (s *Store) Clear(ctx context.Context) error {
	return s.pool.With(ctx, clearState)
}

func readSyncState(conn *sqlite.Conn) (map[string]string, error) {
	values := make(map[string]string)
	err := sqlitex.Execute(conn, `SELECT key, value FROM sync_state`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			values[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state store: reading sync state: %w", err)
	}
	return values, nil
}

func clearState(conn *sqlite.Conn) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("state store: begin transaction: %w", err)
	}
	defer endTransaction(&err)
	if err = sqlitex.ExecuteScript(conn, `DELETE FROM sync_state; DELETE FROM rooms;`, nil); err != nil {
		return fmt.Errorf("state store: clearing: %w", err)
	}
	return nil
}

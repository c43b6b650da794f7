package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chesshall/arbiter/internal/session"
)

// ArchiveStore persists one terminal snapshot per finished game.
type ArchiveStore struct {
	Pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{Pool: pool}
}

// SaveFinishedSession writes the full snapshot as a JSON document keyed by
// room code. Re-running for the same room (a rematch in the same room ends
// again) inserts a fresh row; history keeps every finished game.
func (s *ArchiveStore) SaveFinishedSession(ctx context.Context, roomCode string, snap session.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	q := `
		INSERT INTO finished_sessions (room_code, reason, winner, moves, snapshot)
		VALUES ($1, $2, $3, $4, $5)
	`
	err = pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			roomCode, string(snap.Reason), snap.Winner, len(snap.Moves), blob,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", roomCode, err)
	}
	return nil
}

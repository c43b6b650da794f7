package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chesshall/arbiter/internal/models"
	"github.com/chesshall/arbiter/internal/rating"
)

// ProfileStore reads and writes registered player profiles. Guests never
// touch it.
type ProfileStore struct {
	Pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{Pool: pool}
}

var ErrUserNotFound = errors.New("user not found")

func (s *ProfileStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, is_ephemeral, elo, phi, sigma, COALESCE(active_session, '')
	FROM users
	WHERE id=$1
	`
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.IsEphemeral,
		&u.Elo, &u.Phi, &u.Sigma, &u.ActiveSession,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetActiveSession returns the room code the profile is durably bound to, or
// "" when it is free. Unknown users are free by definition.
func (s *ProfileStore) GetActiveSession(ctx context.Context, userID uuid.UUID) (string, error) {
	var code string
	q := `SELECT COALESCE(active_session, '') FROM users WHERE id=$1`
	err := s.Pool.QueryRow(ctx, q, userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

// SetActiveSession mirrors the in-memory reservation; an empty roomCode
// clears it.
func (s *ProfileStore) SetActiveSession(ctx context.Context, userID uuid.UUID, roomCode string) error {
	q := `UPDATE users SET active_session = NULLIF($1, '') WHERE id = $2`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, roomCode, userID)
		return err
	})
}

// GetRatingState loads the Glicko state fed into a post-game adjustment.
func (s *ProfileStore) GetRatingState(ctx context.Context, userID uuid.UUID) (rating.PlayerState, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return rating.PlayerState{}, err
	}
	return rating.PlayerState{Elo: u.Elo, Phi: u.Phi, Sigma: u.Sigma}, nil
}

// AdjustRating applies a post-game delta and logs it in the ratings table.
func (s *ProfileStore) AdjustRating(ctx context.Context, userID uuid.UUID, delta int) error {
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var old int
		if err := tx.QueryRow(ctx, `SELECT elo FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&old); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET elo = $1 WHERE id = $2`, old+delta, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ratings (user_id, old_rating, new_rating)
			VALUES ($1, $2, $3)
		`, userID, old, old+delta)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to adjust rating for %s: %w", userID, err)
	}
	return nil
}

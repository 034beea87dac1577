// Package prefs is the preference store boundary: one document per identity
// id, read once per session start and merge-written after every successful
// weather fetch. Merge semantics preserve fields the caller did not set.
package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksandeen/weatherdeck/internal/models"
)

// Querier abstracts the subset of pgxpool.Pool used by Store.
// This allows injection of a mock in tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Patch carries the fields of a merge write. Nil fields are left untouched
// on the stored record.
type Patch struct {
	FirstName *string
	LastName  *string
	Email     *string
	LastCity  *string
}

type Store struct {
	q Querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{q: pool}
}

// NewStoreWithQuerier constructs a Store with a custom Querier (for tests).
func NewStoreWithQuerier(q Querier) *Store {
	return &Store{q: q}
}

// Get retrieves the preference record for a user.
// Returns nil, nil when no record exists.
func (s *Store) Get(ctx context.Context, userID string) (*models.PreferenceRecord, error) {
	const q = `
		SELECT user_id, first_name, last_name, email, created_at, last_city, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`

	var rec models.PreferenceRecord
	var email *string
	err := s.q.QueryRow(ctx, q, userID).Scan(
		&rec.UserID,
		&rec.FirstName,
		&rec.LastName,
		&email,
		&rec.CreatedAt,
		&rec.LastCity,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying preferences for user %s: %w", userID, err)
	}
	if email != nil {
		rec.Email = *email
	}
	return &rec, nil
}

// Merge upserts the record for a user, preserving existing values for every
// field the patch leaves nil.
func (s *Store) Merge(ctx context.Context, userID string, patch Patch) error {
	const q = `
		INSERT INTO user_preferences (user_id, first_name, last_name, email, last_city, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = COALESCE(EXCLUDED.first_name, user_preferences.first_name),
		    last_name  = COALESCE(EXCLUDED.last_name, user_preferences.last_name),
		    email      = COALESCE(EXCLUDED.email, user_preferences.email),
		    last_city  = COALESCE(EXCLUDED.last_city, user_preferences.last_city),
		    updated_at = NOW()
	`

	if _, err := s.q.Exec(ctx, q, userID, patch.FirstName, patch.LastName, patch.Email, patch.LastCity); err != nil {
		return fmt.Errorf("merging preferences for user %s: %w", userID, err)
	}
	return nil
}

// Delete removes the record for a user. Deleting an absent record is not an
// error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	const q = `DELETE FROM user_preferences WHERE user_id = $1`

	if _, err := s.q.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("deleting preferences for user %s: %w", userID, err)
	}
	return nil
}

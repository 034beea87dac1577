package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is the stored identity row. PasswordHash is nil for accounts created
// through a federated provider that never set a password.
type User struct {
	ID           string
	Email        string
	PasswordHash *string
	DisplayName  string
	PhotoURL     string
	Provider     string // "password" or "google"
	CreatedAt    time.Time
}

// Querier abstracts the subset of pgxpool.Pool used by Repository.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	q Querier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{q: q}
}

const uniqueViolation = "23505"

// Create inserts a new user. A duplicate email maps to ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, u User) error {
	const q = `
		INSERT INTO users (id, email, password_hash, display_name, photo_url, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, q, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.PhotoURL, u.Provider, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting user %s: %w", u.Email, err)
	}
	return nil
}

// GetByEmail returns nil, nil when no user has the address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", email)
}

// GetByID returns nil, nil when the id is unknown.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (*User, error) {
	q := fmt.Sprintf(`
		SELECT id, email, password_hash, display_name, photo_url, provider, created_at
		FROM users
		WHERE %s = $1
	`, column)

	var u User
	err := r.q.QueryRow(ctx, q, value).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.DisplayName,
		&u.PhotoURL,
		&u.Provider,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by %s: %w", column, err)
	}
	return &u, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const q = `UPDATE users SET password_hash = $2 WHERE id = $1`

	tag, err := r.q.Exec(ctx, q, id, passwordHash)
	if err != nil {
		return fmt.Errorf("updating password for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) UpdatePhotoURL(ctx context.Context, id, photoURL string) error {
	const q = `UPDATE users SET photo_url = $2 WHERE id = $1`

	tag, err := r.q.Exec(ctx, q, id, photoURL)
	if err != nil {
		return fmt.Errorf("updating photo for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes the identity row. Avatar blobs go with it via the schema's
// ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM users WHERE id = $1`

	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

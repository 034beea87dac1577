package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Avatar is a stored profile image blob.
type Avatar struct {
	UserID      string
	Content     []byte
	ContentType string
	UpdatedAt   time.Time
}

// AvatarRepository stores avatar blobs in Postgres, one per user. The HTTP
// layer serves them back under /avatars/{userID}.
type AvatarRepository struct {
	q Querier
}

func NewAvatarRepository(q Querier) *AvatarRepository {
	return &AvatarRepository{q: q}
}

// Save upserts the avatar for a user.
func (r *AvatarRepository) Save(ctx context.Context, userID string, content []byte, contentType string) error {
	const q = `
		INSERT INTO avatars (user_id, content, content_type, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET content      = EXCLUDED.content,
		    content_type = EXCLUDED.content_type,
		    updated_at   = EXCLUDED.updated_at
	`

	if _, err := r.q.Exec(ctx, q, userID, content, contentType); err != nil {
		return fmt.Errorf("saving avatar for user %s: %w", userID, err)
	}
	return nil
}

// Get returns nil, nil when the user has no avatar.
func (r *AvatarRepository) Get(ctx context.Context, userID string) (*Avatar, error) {
	const q = `
		SELECT user_id, content, content_type, updated_at
		FROM avatars
		WHERE user_id = $1
	`

	var a Avatar
	err := r.q.QueryRow(ctx, q, userID).Scan(&a.UserID, &a.Content, &a.ContentType, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying avatar for user %s: %w", userID, err)
	}
	return &a, nil
}

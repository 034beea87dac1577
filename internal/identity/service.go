// Package identity wraps sign-up, sign-in, credential re-verification,
// password change, account deletion and avatar upload around the user
// repository, the Redis session store and the federated verifier.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ksandeen/weatherdeck/internal/models"
	"github.com/ksandeen/weatherdeck/internal/prefs"
)

// UserStore is the subset of Repository the service uses.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdatePhotoURL(ctx context.Context, id, photoURL string) error
	Delete(ctx context.Context, id string) error
}

// Sessions is the subset of SessionStore the service uses.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	Get(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

// Avatars is the subset of AvatarRepository the service uses.
type Avatars interface {
	Save(ctx context.Context, userID string, content []byte, contentType string) error
}

// PreferenceStore is the subset of the preference store the service uses:
// the signup write and the account-deletion removal.
type PreferenceStore interface {
	Merge(ctx context.Context, userID string, patch prefs.Patch) error
	Delete(ctx context.Context, userID string) error
}

type Service struct {
	users    UserStore
	sessions Sessions
	avatars  Avatars
	prefs    PreferenceStore
	verifier FederatedVerifier
	logger   *zap.Logger

	bcryptCost        int
	minPasswordLength int
	publicBaseURL     string
}

func NewService(users UserStore, sessions Sessions, avatars Avatars, prefStore PreferenceStore, verifier FederatedVerifier, logger *zap.Logger, bcryptCost, minPasswordLength int, publicBaseURL string) *Service {
	return &Service{
		users:             users,
		sessions:          sessions,
		avatars:           avatars,
		prefs:             prefStore,
		verifier:          verifier,
		logger:            logger,
		bcryptCost:        bcryptCost,
		minPasswordLength: minPasswordLength,
		publicBaseURL:     publicBaseURL,
	}
}

// SignUp creates the identity, its preference record (first/last name, email,
// creation time) and an initial session.
func (s *Service) SignUp(ctx context.Context, email, password, firstName, lastName string) (models.Identity, string, error) {
	if len(password) < s.minPasswordLength {
		return models.Identity{}, "", fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, s.minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("hash password: %w", err)
	}

	hashStr := string(hash)
	u := User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hashStr,
		DisplayName:  displayName(firstName, lastName),
		Provider:     "password",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return models.Identity{}, "", err
	}

	patch := prefs.Patch{Email: &u.Email}
	if firstName != "" {
		patch.FirstName = &firstName
	}
	if lastName != "" {
		patch.LastName = &lastName
	}
	if err := s.prefs.Merge(ctx, u.ID, patch); err != nil {
		// The identity exists; the preference record is re-created by the
		// first merge write after a resolved location.
		s.logger.Warn("signup preference write failed", zap.String("user_id", u.ID), zap.Error(err))
	}

	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return models.Identity{}, "", err
	}
	return identityOf(u), token, nil
}

// SignIn verifies the credential and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.Identity, string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return models.Identity{}, "", err
	}
	if u == nil || u.PasswordHash == nil {
		return models.Identity{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)) != nil {
		return models.Identity{}, "", ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return models.Identity{}, "", err
	}
	return identityOf(*u), token, nil
}

// SignInWithGoogle verifies a federated ID token and opens a session,
// creating the identity on first sight of the address.
func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) (models.Identity, string, error) {
	profile, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return models.Identity{}, "", err
	}

	u, err := s.users.GetByEmail(ctx, profile.Email)
	if err != nil {
		return models.Identity{}, "", err
	}
	if u == nil {
		created := User{
			ID:          uuid.New().String(),
			Email:       profile.Email,
			DisplayName: profile.Name,
			PhotoURL:    profile.Picture,
			Provider:    "google",
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.users.Create(ctx, created); err != nil {
			return models.Identity{}, "", err
		}
		if err := s.prefs.Merge(ctx, created.ID, prefs.Patch{Email: &created.Email}); err != nil {
			s.logger.Warn("federated signup preference write failed", zap.String("user_id", created.ID), zap.Error(err))
		}
		u = &created
	}

	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return models.Identity{}, "", err
	}
	return identityOf(*u), token, nil
}

// SignOut revokes the session token.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token to the identity it belongs to.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	userID, err := s.sessions.Get(ctx, token)
	if err != nil {
		return models.Identity{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.Identity{}, err
	}
	if u == nil {
		return models.Identity{}, ErrSessionExpired
	}
	return identityOf(*u), nil
}

// ChangePassword re-verifies the current password before accepting the new
// one. A failed re-verification leaves the password unchanged.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	u, err := s.reverify(ctx, userID, currentPassword)
	if err != nil {
		return err
	}
	if len(newPassword) < s.minPasswordLength {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, s.minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, u.ID, string(hash))
}

// DeleteAccount re-verifies, removes the preference record, then the
// identity, in that order. If the identity removal fails after the
// preference record is gone the system is left inconsistent; the error log
// below is the only trace.
func (s *Service) DeleteAccount(ctx context.Context, userID, password string) error {
	u, err := s.reverify(ctx, userID, password)
	if err != nil {
		return err
	}

	if err := s.prefs.Delete(ctx, u.ID); err != nil {
		return fmt.Errorf("delete preference record: %w", err)
	}
	if err := s.users.Delete(ctx, u.ID); err != nil {
		s.logger.Error("identity removal failed after preference record was deleted",
			zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// UploadAvatar stores the image bytes and records the retrievable URL on
// the identity.
func (s *Service) UploadAvatar(ctx context.Context, userID string, content []byte, contentType string) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("avatar image is empty")
	}
	if err := s.avatars.Save(ctx, userID, content, contentType); err != nil {
		return "", err
	}

	photoURL := s.publicBaseURL + "/avatars/" + userID
	if err := s.users.UpdatePhotoURL(ctx, userID, photoURL); err != nil {
		return "", err
	}
	return photoURL, nil
}

// reverify loads the user and checks the supplied password against the
// stored hash. Federated-only accounts without a password always fail.
func (s *Service) reverify(ctx context.Context, userID, password string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func identityOf(u User) models.Identity {
	return models.Identity{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		CreatedAt:   u.CreatedAt,
	}
}

func displayName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

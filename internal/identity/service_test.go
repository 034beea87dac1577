package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ksandeen/weatherdeck/internal/prefs"
)

type fakeUserStore struct {
	usersByEmail map[string]*User
	usersByID    map[string]*User
	createErr    error
	deleteErr    error

	updatedPassword string
	updatedPhotoURL string
	deletedID       string
	ops             *[]string
}

func newFakeUserStore(ops *[]string) *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: make(map[string]*User),
		usersByID:    make(map[string]*User),
		ops:          ops,
	}
}

func (s *fakeUserStore) record(op string) {
	if s.ops != nil {
		*s.ops = append(*s.ops, op)
	}
}

func (s *fakeUserStore) add(u User) {
	copied := u
	s.usersByEmail[u.Email] = &copied
	s.usersByID[u.ID] = &copied
}

func (s *fakeUserStore) Create(ctx context.Context, u User) error {
	s.record("users.Create")
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.usersByEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	s.add(u)
	return nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.usersByEmail[email], nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.usersByID[id], nil
}

func (s *fakeUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.record("users.UpdatePassword")
	u, ok := s.usersByID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = &passwordHash
	s.updatedPassword = passwordHash
	return nil
}

func (s *fakeUserStore) UpdatePhotoURL(ctx context.Context, id, photoURL string) error {
	s.record("users.UpdatePhotoURL")
	u, ok := s.usersByID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PhotoURL = photoURL
	s.updatedPhotoURL = photoURL
	return nil
}

func (s *fakeUserStore) Delete(ctx context.Context, id string) error {
	s.record("users.Delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	u, ok := s.usersByID[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.usersByID, id)
	delete(s.usersByEmail, u.Email)
	s.deletedID = id
	return nil
}

type fakeSessions struct {
	byToken map[string]string
	nextID  int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byToken: make(map[string]string)}
}

func (s *fakeSessions) Create(ctx context.Context, userID string) (string, error) {
	s.nextID++
	token := "token-" + userID + "-" + string(rune('a'+s.nextID))
	s.byToken[token] = userID
	return token, nil
}

func (s *fakeSessions) Get(ctx context.Context, token string) (string, error) {
	userID, ok := s.byToken[token]
	if !ok {
		return "", ErrSessionExpired
	}
	return userID, nil
}

func (s *fakeSessions) Delete(ctx context.Context, token string) error {
	delete(s.byToken, token)
	return nil
}

type fakeAvatars struct {
	savedContent []byte
	savedType    string
	saveErr      error
}

func (a *fakeAvatars) Save(ctx context.Context, userID string, content []byte, contentType string) error {
	if a.saveErr != nil {
		return a.saveErr
	}
	a.savedContent = content
	a.savedType = contentType
	return nil
}

type fakePrefWriter struct {
	patches   []prefs.Patch
	deletedID string
	mergeErr  error
	deleteErr error
	ops       *[]string
}

func (p *fakePrefWriter) record(op string) {
	if p.ops != nil {
		*p.ops = append(*p.ops, op)
	}
}

func (p *fakePrefWriter) Merge(ctx context.Context, userID string, patch prefs.Patch) error {
	p.record("prefs.Merge")
	if p.mergeErr != nil {
		return p.mergeErr
	}
	p.patches = append(p.patches, patch)
	return nil
}

func (p *fakePrefWriter) Delete(ctx context.Context, userID string) error {
	p.record("prefs.Delete")
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletedID = userID
	return nil
}

type fakeVerifier struct {
	profile FederatedProfile
	err     error
}

func (v *fakeVerifier) Verify(ctx context.Context, idToken string) (FederatedProfile, error) {
	if v.err != nil {
		return FederatedProfile{}, v.err
	}
	return v.profile, nil
}

type serviceFixture struct {
	svc      *Service
	users    *fakeUserStore
	sessions *fakeSessions
	avatars  *fakeAvatars
	prefs    *fakePrefWriter
	verifier *fakeVerifier
	ops      []string
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		sessions: newFakeSessions(),
		avatars:  &fakeAvatars{},
		verifier: &fakeVerifier{},
	}
	f.users = newFakeUserStore(&f.ops)
	f.prefs = &fakePrefWriter{ops: &f.ops}
	f.svc = NewService(f.users, f.sessions, f.avatars, f.prefs, f.verifier, zap.NewNop(),
		bcrypt.MinCost, 6, "https://weatherdeck.test")
	return f
}

func TestSignUp_CreatesIdentityPreferencesAndSession(t *testing.T) {
	f := newFixture(t)

	id, token, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "Rivera")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "sam@example.com", id.Email)
	assert.Equal(t, "Sam Rivera", id.DisplayName)

	require.Len(t, f.prefs.patches, 1)
	patch := f.prefs.patches[0]
	require.NotNil(t, patch.Email)
	assert.Equal(t, "sam@example.com", *patch.Email)
	require.NotNil(t, patch.FirstName)
	assert.Equal(t, "Sam", *patch.FirstName)
	require.NotNil(t, patch.LastName)
	assert.Equal(t, "Rivera", *patch.LastName)

	userID, err := f.sessions.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, id.ID, userID)

	stored := f.users.usersByEmail["sam@example.com"]
	require.NotNil(t, stored)
	require.NotNil(t, stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte("hunter22")))
	assert.Equal(t, "password", stored.Provider)
}

func TestSignUp_WeakPassword(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "short", "Sam", "")
	require.ErrorIs(t, err, ErrWeakPassword)
	assert.Empty(t, f.users.usersByEmail, "no identity created for a weak password")
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	_, _, err = f.svc.SignUp(context.Background(), "sam@example.com", "hunter23", "Other", "")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUp_SurvivesPreferenceWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.prefs.mergeErr = errors.New("store down")

	_, token, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err, "signup must not fail on the preference write")
	assert.NotEmpty(t, token)
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	t.Run("correct credentials", func(t *testing.T) {
		id, token, err := f.svc.SignIn(context.Background(), "sam@example.com", "hunter22")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, "sam@example.com", id.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := f.svc.SignIn(context.Background(), "sam@example.com", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := f.svc.SignIn(context.Background(), "nobody@example.com", "hunter22")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestSignIn_FederatedOnlyAccountHasNoPassword(t *testing.T) {
	f := newFixture(t)
	f.users.add(User{ID: "u-google", Email: "fed@example.com", Provider: "google"})

	_, _, err := f.svc.SignIn(context.Background(), "fed@example.com", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignInWithGoogle(t *testing.T) {
	f := newFixture(t)
	f.verifier.profile = FederatedProfile{Email: "fed@example.com", Name: "Fed User", Picture: "https://pic.test/p.jpg"}

	id, token, err := f.svc.SignInWithGoogle(context.Background(), "valid-id-token")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "fed@example.com", id.Email)
	assert.Equal(t, "Fed User", id.DisplayName)

	stored := f.users.usersByEmail["fed@example.com"]
	require.NotNil(t, stored)
	assert.Equal(t, "google", stored.Provider)
	assert.Nil(t, stored.PasswordHash)

	// A second federated sign-in reuses the identity.
	again, _, err := f.svc.SignInWithGoogle(context.Background(), "valid-id-token")
	require.NoError(t, err)
	assert.Equal(t, id.ID, again.ID)
}

func TestSignInWithGoogle_BadToken(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = ErrFederatedToken

	_, _, err := f.svc.SignInWithGoogle(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrFederatedToken)
	assert.Empty(t, f.users.usersByEmail)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	id, token, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	got, err := f.svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)

	_, err = f.svc.Authenticate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSignOut_RevokesSession(t *testing.T) {
	f := newFixture(t)
	_, token, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.SignOut(context.Background(), token))
	_, err = f.svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	id, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	t.Run("wrong current password leaves hash unchanged", func(t *testing.T) {
		before := *f.users.usersByID[id.ID].PasswordHash
		err := f.svc.ChangePassword(context.Background(), id.ID, "wrong", "newpassword")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, before, *f.users.usersByID[id.ID].PasswordHash)
		assert.Empty(t, f.users.updatedPassword)
	})

	t.Run("weak new password rejected", func(t *testing.T) {
		err := f.svc.ChangePassword(context.Background(), id.ID, "hunter22", "tiny")
		assert.ErrorIs(t, err, ErrWeakPassword)
		assert.Empty(t, f.users.updatedPassword)
	})

	t.Run("success updates the hash", func(t *testing.T) {
		require.NoError(t, f.svc.ChangePassword(context.Background(), id.ID, "hunter22", "newpassword"))
		stored := f.users.usersByID[id.ID]
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte("newpassword")))
		_, _, err := f.svc.SignIn(context.Background(), "sam@example.com", "hunter22")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "old password no longer signs in")
	})
}

func TestDeleteAccount(t *testing.T) {
	t.Run("removes preferences before the identity", func(t *testing.T) {
		f := newFixture(t)
		id, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
		require.NoError(t, err)
		f.ops = f.ops[:0]

		require.NoError(t, f.svc.DeleteAccount(context.Background(), id.ID, "hunter22"))
		assert.Equal(t, []string{"prefs.Delete", "users.Delete"}, f.ops)
		assert.Equal(t, id.ID, f.prefs.deletedID)
		assert.Equal(t, id.ID, f.users.deletedID)
	})

	t.Run("wrong password deletes nothing", func(t *testing.T) {
		f := newFixture(t)
		id, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
		require.NoError(t, err)

		err = f.svc.DeleteAccount(context.Background(), id.ID, "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Empty(t, f.prefs.deletedID)
		assert.Empty(t, f.users.deletedID)
	})

	t.Run("preference removal failure aborts before the identity", func(t *testing.T) {
		f := newFixture(t)
		id, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
		require.NoError(t, err)
		f.prefs.deleteErr = errors.New("store down")

		err = f.svc.DeleteAccount(context.Background(), id.ID, "hunter22")
		require.Error(t, err)
		assert.Empty(t, f.users.deletedID, "identity must survive when preferences cannot be removed")
	})
}

func TestUploadAvatar(t *testing.T) {
	f := newFixture(t)
	id, _, err := f.svc.SignUp(context.Background(), "sam@example.com", "hunter22", "Sam", "")
	require.NoError(t, err)

	t.Run("empty content rejected", func(t *testing.T) {
		_, err := f.svc.UploadAvatar(context.Background(), id.ID, nil, "image/png")
		assert.Error(t, err)
	})

	t.Run("stores bytes and records the URL", func(t *testing.T) {
		url, err := f.svc.UploadAvatar(context.Background(), id.ID, []byte{0x89, 0x50}, "image/png")
		require.NoError(t, err)
		assert.Equal(t, "https://weatherdeck.test/avatars/"+id.ID, url)
		assert.Equal(t, []byte{0x89, 0x50}, f.avatars.savedContent)
		assert.Equal(t, "image/png", f.avatars.savedType)
		assert.Equal(t, url, f.users.usersByID[id.ID].PhotoURL)
	})
}

package identity

import "errors"

// Auth failures map onto a small set of user-readable kinds. Handlers key
// their messages and metrics off Kind, never off raw error text.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrSessionExpired     = errors.New("session expired or not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrFederatedToken     = errors.New("federated token rejected")
)

// Kind returns a stable label for an auth error, for metrics and message
// lookup. Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrFederatedToken):
		return "federated_token"
	default:
		return "internal"
	}
}

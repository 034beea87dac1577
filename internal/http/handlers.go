package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ksandeen/weatherdeck/internal/identity"
	"github.com/ksandeen/weatherdeck/internal/lifecycle"
	"github.com/ksandeen/weatherdeck/internal/models"
	"github.com/ksandeen/weatherdeck/internal/observability"
	"github.com/ksandeen/weatherdeck/internal/resolver"
	"github.com/ksandeen/weatherdeck/internal/validation"
	"github.com/ksandeen/weatherdeck/internal/weather"
)

const maxAvatarBytes = 5 << 20

// AuthService is the identity boundary consumed by the handlers.
type AuthService interface {
	SignUp(ctx context.Context, email, password, firstName, lastName string) (models.Identity, string, error)
	SignIn(ctx context.Context, email, password string) (models.Identity, string, error)
	SignInWithGoogle(ctx context.Context, idToken string) (models.Identity, string, error)
	SignOut(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (models.Identity, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID, password string) error
	UploadAvatar(ctx context.Context, userID string, content []byte, contentType string) (string, error)
}

// Dashboard is the location resolver boundary consumed by the handlers.
type Dashboard interface {
	ResolveInitial(ctx context.Context, id models.Identity) (resolver.ViewState, *models.PreferenceRecord, error)
	ResolveLocate(ctx context.Context, id models.Identity, remoteIP string) (resolver.ViewState, error)
	ResolveSearch(ctx context.Context, id models.Identity, city string) (resolver.ViewState, error)
	State(userID string) resolver.ViewState
}

// AvatarReader serves stored avatar blobs.
type AvatarReader interface {
	Get(ctx context.Context, userID string) (*identity.Avatar, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	auth      AuthService
	dashboard Dashboard
	avatars   AvatarReader
	dbPing    func(ctx context.Context) error
	redisPing func(ctx context.Context) error
	logger    *zap.Logger
	validate  *validator.Validate

	cityMinLength int
	cityMaxLength int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	auth AuthService,
	dashboard Dashboard,
	avatars AvatarReader,
	dbPing, redisPing func(ctx context.Context) error,
	logger *zap.Logger,
	cityMinLength, cityMaxLength int,
) *Handler {
	return &Handler{
		auth:          auth,
		dashboard:     dashboard,
		avatars:       avatars,
		dbPing:        dbPing,
		redisPing:     redisPing,
		logger:        logger,
		validate:      validator.New(),
		cityMinLength: cityMinLength,
		cityMaxLength: cityMaxLength,
	}
}

type authResponse struct {
	User  models.Identity `json:"user"`
	Token string          `json:"token"`
}

type signUpRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"firstName" validate:"omitempty,max=60"`
	LastName  string `json:"lastName" validate:"omitempty,max=60"`
}

// PostSignUp handles POST /auth/signup.
func (h *Handler) PostSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id, token, err := h.auth.SignUp(r.Context(), req.Email, req.Password, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: id, Token: token})
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PostSignIn handles POST /auth/login.
func (h *Handler) PostSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id, token, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: id, Token: token})
}

type googleSignInRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// PostGoogleSignIn handles POST /auth/google.
func (h *Handler) PostGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req googleSignInRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id, token, err := h.auth.SignInWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: id, Token: token})
}

// PostSignOut handles POST /auth/logout.
func (h *Handler) PostSignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value("session_token").(string)
	if err := h.auth.SignOut(r.Context(), token); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// PutPassword handles PUT /auth/password. Requires fresh re-verification
// with the current password before the change is accepted.
func (h *Handler) PutPassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := identityFrom(r)
	if err := h.auth.ChangePassword(r.Context(), id.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// DeleteAccount handles DELETE /auth/account. The session is revoked after
// the account is gone so a failed deletion leaves the user signed in.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := identityFrom(r)
	if err := h.auth.DeleteAccount(r.Context(), id.ID, req.Password); err != nil {
		writeAuthError(w, r, err)
		return
	}
	token, _ := r.Context().Value("session_token").(string)
	if err := h.auth.SignOut(r.Context(), token); err != nil {
		logFrom(r, h.logger).Warn("session revoke after account deletion failed", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostAvatar handles POST /auth/avatar: raw image bytes in the body.
func (h *Handler) PostAvatar(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, r, http.StatusBadRequest, "INVALID_IMAGE", "body must be an image")
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAvatarBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "avatar exceeds size limit")
		return
	}

	id := identityFrom(r)
	photoURL, err := h.auth.UploadAvatar(r.Context(), id.ID, content, contentType)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"photoUrl": photoURL})
}

// GetAvatar handles GET /avatars/{userID}.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	avatar, err := h.avatars.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "unable to load avatar")
		logFrom(r, h.logger).Error("avatar load failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if avatar == nil {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no avatar for user")
		return
	}
	w.Header().Set("Content-Type", avatar.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(avatar.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(avatar.Content)
}

type dashboardResponse struct {
	Greeting string `json:"greeting,omitempty"`
	resolver.ViewState
}

// GetDashboard handles GET /dashboard: the initial-load trigger.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	view, rec, err := h.dashboard.ResolveInitial(r.Context(), id)
	if err != nil {
		h.writeResolutionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Greeting:  rec.GreetingName(id),
		ViewState: view,
	})
}

// PostLocate handles POST /dashboard/locate: the "use my location" trigger.
func (h *Handler) PostLocate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	view, err := h.dashboard.ResolveLocate(r.Context(), id, clientIP(r))
	if err != nil {
		h.writeResolutionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{ViewState: view})
}

// GetSearch handles GET /dashboard/search?city=. Empty or malformed input
// is rejected here; no upstream request is issued and view state is
// unchanged.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"), h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	id := identityFrom(r)
	view, err := h.dashboard.ResolveSearch(r.Context(), id, city)
	if err != nil {
		h.writeResolutionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{ViewState: view})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := make(map[string]string)

	if lifecycle.IsShuttingDown() {
		status = "shutting-down"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "healthy"
		if h.dbPing != nil && h.dbPing(r.Context()) != nil {
			checks["database"] = "unhealthy"
		}
		checks["sessions"] = "healthy"
		if h.redisPing != nil && h.redisPing(r.Context()) != nil {
			checks["sessions"] = "unhealthy"
		}
		for _, v := range checks {
			if v == "unhealthy" {
				status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}
	}

	h.healthStatusMu.Lock()
	if prev := h.healthStatusPrev; prev != "" && prev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
	h.healthStatusMu.Unlock()

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weatherdeck",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeResolutionError maps resolver/gateway failures to responses. A
// superseded resolution is not an error to the client: the currently
// applied state is returned instead.
func (h *Handler) writeResolutionError(w http.ResponseWriter, r *http.Request, id models.Identity, err error) {
	switch {
	case errors.Is(err, resolver.ErrSuperseded):
		writeJSON(w, http.StatusOK, dashboardResponse{ViewState: h.dashboard.State(id.ID)})
	case errors.Is(err, resolver.ErrEmptySearch), errors.Is(err, weather.ErrInvalidQuery):
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", "a city name or coordinates are required")
	case errors.Is(err, weather.ErrPlaceNotFound):
		writeError(w, r, http.StatusNotFound, "PLACE_NOT_FOUND", "No weather data for that place")
	default:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
		logFrom(r, h.logger).Debug("upstream error", zap.Error(err))
	}
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing the 400 itself on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

func identityFrom(r *http.Request) models.Identity {
	id, _ := r.Context().Value("identity").(models.Identity)
	return id
}

func logFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard envelope with code,
// message and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeAuthError maps an identity error to its user-readable message. Every
// escalated auth failure is counted once by kind.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := identity.Kind(err)
	observability.AuthFailuresTotal.WithLabelValues(kind).Inc()

	switch kind {
	case "invalid_credentials", "user_not_found":
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case "email_taken":
		writeError(w, r, http.StatusConflict, "EMAIL_TAKEN", "That email is already registered")
	case "weak_password":
		writeError(w, r, http.StatusUnprocessableEntity, "WEAK_PASSWORD", "Password does not meet requirements")
	case "session_expired":
		writeError(w, r, http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired, sign in again")
	case "federated_token":
		writeError(w, r, http.StatusUnauthorized, "FEDERATED_TOKEN", "Sign-in with provider failed")
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}

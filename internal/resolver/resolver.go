// Package resolver orchestrates location resolution: one of three entry
// triggers (initial load, use-my-location, explicit search) resolves into a
// weather gateway call and replaces the per-user view state wholesale on
// success. Failures leave the previous state untouched.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ksandeen/weatherdeck/internal/geo"
	"github.com/ksandeen/weatherdeck/internal/models"
	"github.com/ksandeen/weatherdeck/internal/observability"
	"github.com/ksandeen/weatherdeck/internal/prefs"
	"github.com/ksandeen/weatherdeck/internal/weather"
)

var (
	// ErrEmptySearch rejects empty or whitespace-only search input locally;
	// no request is issued and view state is unchanged.
	ErrEmptySearch = errors.New("search text is empty")

	// ErrSuperseded marks a completed fetch whose request token is no longer
	// the latest for the user. Its result is discarded, never applied.
	ErrSuperseded = errors.New("resolution superseded by a newer request")
)

const persistTimeout = 5 * time.Second

// PreferenceStore is the subset of the preference store the resolver uses.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.PreferenceRecord, error)
	Merge(ctx context.Context, userID string, patch prefs.Patch) error
}

// ViewState is what the presentation layer renders: the current snapshot,
// one forecast reading per day, the background theme, and an optional
// transient notice.
type ViewState struct {
	Snapshot     *models.Snapshot         `json:"snapshot,omitempty"`
	ForecastDays []models.ForecastReading `json:"forecastDays,omitempty"`
	Theme        Theme                    `json:"theme"`
	Notice       string                   `json:"notice,omitempty"`
}

type userState struct {
	token    string
	snapshot *models.Snapshot
	forecast []models.ForecastReading
	theme    Theme
}

// Resolver converges the three triggers on the weather gateway and owns the
// per-user view state. A per-user single-flight token guards against racy
// application of superseded in-flight results; there is no cancellation of
// the superseded request itself.
type Resolver struct {
	gateway     weather.Gateway
	prefs       PreferenceStore
	locator     geo.Locator
	logger      *zap.Logger
	defaultCity string
	hourMarker  string

	mu     sync.Mutex
	states map[string]*userState

	pending sync.WaitGroup
}

func New(gateway weather.Gateway, store PreferenceStore, locator geo.Locator, logger *zap.Logger, defaultCity, hourMarker string) *Resolver {
	return &Resolver{
		gateway:     gateway,
		prefs:       store,
		locator:     locator,
		logger:      logger,
		defaultCity: defaultCity,
		hourMarker:  hourMarker,
		states:      make(map[string]*userState),
	}
}

// ResolveInitial handles session start: the remembered place name from the
// preference store when present, the default city otherwise. The record it
// read is returned so callers can derive the greeting without a second
// preference read.
func (r *Resolver) ResolveInitial(ctx context.Context, identity models.Identity) (ViewState, *models.PreferenceRecord, error) {
	city := r.defaultCity
	rec, err := r.prefs.Get(ctx, identity.ID)
	if err != nil {
		// Preference reads are best-effort on session start.
		r.log(ctx).Warn("preference read failed, using default city",
			zap.String("user_id", identity.ID), zap.Error(err))
		rec = nil
	} else if rec != nil && rec.LastCity != nil && *rec.LastCity != "" {
		city = *rec.LastCity
	}
	view, err := r.resolve(ctx, identity, "initial", models.ByPlaceName(city), "")
	return view, rec, err
}

// ResolveLocate handles the "use my location" trigger: one coordinate pair
// from the geolocation provider, falling back to the default city with a
// non-blocking notice when the provider errors or is unavailable.
func (r *Resolver) ResolveLocate(ctx context.Context, identity models.Identity, remoteIP string) (ViewState, error) {
	coords, err := r.locator.Locate(ctx, remoteIP)
	if err != nil {
		observability.GeolocationFallbacksTotal.Inc()
		r.log(ctx).Info("geolocation failed, falling back to default city",
			zap.String("user_id", identity.ID), zap.Error(err))
		notice := fmt.Sprintf("Location unavailable. Showing %s.", r.defaultCity)
		return r.resolve(ctx, identity, "locate", models.ByPlaceName(r.defaultCity), notice)
	}
	return r.resolve(ctx, identity, "locate", models.ByCoordinates(coords.Latitude, coords.Longitude), "")
}

// ResolveSearch handles an explicit search submission. Empty input after
// trimming is rejected locally with ErrEmptySearch.
func (r *Resolver) ResolveSearch(ctx context.Context, identity models.Identity, city string) (ViewState, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return r.snapshotView(identity.ID, ""), ErrEmptySearch
	}
	return r.resolve(ctx, identity, "search", models.ByPlaceName(city), "")
}

// State returns the currently applied view state for a user without
// triggering a fetch.
func (r *Resolver) State(userID string) ViewState {
	return r.snapshotView(userID, "")
}

// Flush waits for pending fire-and-forget preference writes. Call during
// graceful shutdown after the HTTP server has drained.
func (r *Resolver) Flush() {
	r.pending.Wait()
}

// resolve is the shared tail of all three triggers.
func (r *Resolver) resolve(ctx context.Context, identity models.Identity, trigger string, query models.LocationQuery, notice string) (ViewState, error) {
	token := uuid.New().String()
	st := r.stateFor(identity.ID)
	r.mu.Lock()
	st.token = token
	r.mu.Unlock()

	snapshot, series, err := r.gateway.FetchWeather(ctx, query)

	r.mu.Lock()
	defer r.mu.Unlock()

	if st.token != token {
		observability.StaleResolutionsDiscardedTotal.Inc()
		r.log(ctx).Debug("discarding superseded resolution",
			zap.String("user_id", identity.ID), zap.String("trigger", trigger))
		return r.viewLocked(st, ""), ErrSuperseded
	}

	if err != nil {
		observability.ResolutionsTotal.WithLabelValues(trigger, "error").Inc()
		r.log(ctx).Warn("weather fetch failed",
			zap.String("user_id", identity.ID),
			zap.String("trigger", trigger),
			zap.String("category", string(weather.CategorizeError(err))),
			zap.Error(err))
		// Previous snapshot and forecast stay visible.
		return r.viewLocked(st, ""), err
	}

	st.snapshot = &snapshot
	st.forecast = DailyOutlook(series, r.hourMarker)
	st.theme = DeriveTheme(snapshot.Condition, snapshot.IsNight())
	observability.ResolutionsTotal.WithLabelValues(trigger, "success").Inc()

	r.persistLastCity(ctx, identity, snapshot.PlaceName)

	return r.viewLocked(st, notice), nil
}

// persistLastCity merge-writes the resolved place name fire-and-forget.
// Failures are logged and counted, never surfaced to the user.
func (r *Resolver) persistLastCity(ctx context.Context, identity models.Identity, city string) {
	if identity.ID == "" || city == "" {
		return
	}
	logger := r.log(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.prefs.Merge(writeCtx, identity.ID, prefs.Patch{LastCity: &city}); err != nil {
			observability.PreferenceWriteFailuresTotal.Inc()
			logger.Warn("last city write failed",
				zap.String("user_id", identity.ID), zap.String("city", city), zap.Error(err))
		}
	}()
}

func (r *Resolver) stateFor(userID string) *userState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[userID]
	if !ok {
		st = &userState{theme: ThemeClear}
		r.states[userID] = st
	}
	return st
}

func (r *Resolver) snapshotView(userID, notice string) ViewState {
	st := r.stateFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked(st, notice)
}

// viewLocked copies the state into a ViewState. Caller holds r.mu.
func (r *Resolver) viewLocked(st *userState, notice string) ViewState {
	view := ViewState{Theme: st.theme, Notice: notice}
	if st.snapshot != nil {
		snap := *st.snapshot
		view.Snapshot = &snap
	}
	if st.forecast != nil {
		view.ForecastDays = append([]models.ForecastReading(nil), st.forecast...)
	}
	return view
}

// log extracts the correlation-scoped logger from request context when the
// middleware put one there, falling back to the resolver's own.
func (r *Resolver) log(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return r.logger
}

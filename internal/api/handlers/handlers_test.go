package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/renders"
	"github.com/reelcut/backend/internal/modules/subscription"
	"github.com/reelcut/backend/internal/modules/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubQueue struct {
	enqueued int
}

func (q *stubQueue) EnqueueRenderExport(_ context.Context, payload renders.RenderExportPayload, queue string) (*asynq.TaskInfo, error) {
	q.enqueued++
	return &asynq.TaskInfo{ID: payload.JobID, Queue: queue}, nil
}

type downStore struct{}

func (downStore) Get(context.Context, string, string) (usage.Record, error) {
	return usage.Record{}, usage.ErrStorageUnavailable
}

func (downStore) Increment(context.Context, string, string, usage.Delta) (usage.Record, error) {
	return usage.Record{}, usage.ErrStorageUnavailable
}

func (downStore) Reserve(context.Context, string, []usage.Charge) (usage.Reservation, error) {
	return usage.Reservation{}, usage.ErrStorageUnavailable
}

type apiFixture struct {
	resolver  *entitlement.Resolver
	enforcer  *entitlement.Enforcer
	ledger    *usage.Ledger
	snapshots *usage.SnapshotCache
	queue     *stubQueue
	renders   *renders.Module
}

func newAPIFixture(t *testing.T, store usage.Store) apiFixture {
	t.Helper()
	clock := usage.NewFixedClock(time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC))
	ledger := usage.NewLedger(store, clock, zap.NewNop())
	resolver := entitlement.NewResolver(entitlement.DefaultCatalog(), zap.NewNop())
	enforcer := entitlement.NewEnforcer(entitlement.EnforcerConfig{
		Resolver: resolver,
		Ledger:   ledger,
	})
	snapshots := usage.NewSnapshotCache(ledger, 16, time.Minute)
	queue := &stubQueue{}
	return apiFixture{
		resolver:  resolver,
		enforcer:  enforcer,
		ledger:    ledger,
		snapshots: snapshots,
		queue:     queue,
		renders: renders.NewModule(renders.ModuleConfig{
			Enforcer:  enforcer,
			Queue:     queue,
			Snapshots: snapshots,
			Logger:    zap.NewNop(),
		}),
	}
}

func asUser(r *http.Request, id string, tier entitlement.Tier) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), &middleware.User{ID: id, Tier: tier}))
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestCatalogGet(t *testing.T) {
	f := newAPIFixture(t, usage.NewMemoryStore())
	prices := entitlement.NewPriceMapper(map[entitlement.PriceKey]string{
		{Tier: entitlement.TierStarter, Interval: entitlement.IntervalMonthly}: "price_starter_m",
		{Tier: entitlement.TierFounder, Interval: entitlement.IntervalOneTime}: "price_founder",
	})
	h := NewCatalogHandler(f.resolver, prices)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

	var resp CatalogResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Tiers, len(entitlement.AllTiers()))
	assert.Len(t, resp.Presets, len(entitlement.Presets()))

	byTier := map[entitlement.Tier]CatalogTier{}
	for _, row := range resp.Tiers {
		byTier[row.Tier] = row
	}
	assert.Equal(t, []entitlement.Interval{entitlement.IntervalMonthly}, byTier[entitlement.TierStarter].Intervals)
	assert.Equal(t, []entitlement.Interval{entitlement.IntervalOneTime}, byTier[entitlement.TierFounder].Intervals)
	assert.Empty(t, byTier[entitlement.TierFree].Intervals)
	assert.False(t, byTier[entitlement.TierFounder].OnLadder)
	assert.True(t, byTier[entitlement.TierFree].Features.Watermark)
	assert.Equal(t, entitlement.Quality4K, byTier[entitlement.TierStudio].Features.Resolution)
}

func TestEntitlementsGetMe(t *testing.T) {
	f := newAPIFixture(t, usage.NewMemoryStore())
	h := NewEntitlementHandler(f.enforcer, f.ledger, f.snapshots, zap.NewNop())

	_, err := f.ledger.Increment(context.Background(), "acct_1", "2025-03", 2, 7.5)
	require.NoError(t, err)

	t.Run("free tier includes the daily window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetMe(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil), "acct_1", entitlement.TierFree))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp MeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, entitlement.TierFree, resp.Features.Tier)
		assert.Equal(t, "2025-03", resp.Usage.Monthly.PeriodKey)
		assert.Equal(t, int64(2), resp.Usage.Monthly.RendersUsed)
		assert.Equal(t, 7.5, resp.Usage.Monthly.MinutesUsed)
		assert.Equal(t, int64(12), resp.Usage.Monthly.RendersLimit)
		assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), resp.Usage.Monthly.ResetsAt)
		require.NotNil(t, resp.Usage.Daily)
		assert.Equal(t, "2025-03-15", resp.Usage.Daily.PeriodKey)
		assert.Equal(t, int64(3), resp.Usage.Daily.RendersLimit)
	})

	t.Run("studio has no daily window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetMe(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil), "acct_2", entitlement.TierStudio))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp MeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Nil(t, resp.Usage.Daily)
		assert.Equal(t, usage.NoLimit, resp.Usage.Monthly.RendersLimit)
	})

	t.Run("requires a user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetMe(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestEntitlementsCheck(t *testing.T) {
	f := newAPIFixture(t, usage.NewMemoryStore())
	h := NewEntitlementHandler(f.enforcer, f.ledger, f.snapshots, zap.NewNop())

	tests := []struct {
		name         string
		body         interface{}
		expectedCode int
		allowed      bool
		required     entitlement.Tier
		reason       entitlement.Reason
	}{
		{
			name:         "allowed within tier",
			body:         CheckRequest{Quality: "720p", Preset: "basic_clean", Renders: 1, Minutes: 2},
			expectedCode: http.StatusOK,
			allowed:      true,
		},
		{
			name:         "4k needs studio",
			body:         CheckRequest{Quality: "4k"},
			expectedCode: http.StatusOK,
			required:     entitlement.TierStudio,
			reason:       entitlement.ReasonQualityAboveCeiling,
		},
		{
			name:         "unknown quality",
			body:         CheckRequest{Quality: "8k"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "negative delta",
			body:         CheckRequest{Renders: -1},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "negative auto-zoom",
			body:         CheckRequest{AutoZoom: -1},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "auto-zoom below 1.0",
			body:         CheckRequest{AutoZoom: 0.5},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "huge render count",
			body:         CheckRequest{Renders: math.MaxInt64},
			expectedCode: http.StatusOK,
			required:     entitlement.TierStudio,
			reason:       entitlement.ReasonRenderQuotaExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/entitlements/check", jsonBody(t, tt.body)), "acct_1", entitlement.TierFree)
			rec := httptest.NewRecorder()
			h.Check(rec, req)

			require.Equal(t, tt.expectedCode, rec.Code)
			if tt.expectedCode != http.StatusOK {
				return
			}
			var decision entitlement.Decision
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.required, decision.RequiredTier)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}

	record, err := f.ledger.Get(context.Background(), "acct_1", "2025-03")
	require.NoError(t, err)
	assert.Zero(t, record.RendersUsed, "check never consumes usage")
}

func TestRendersCreate(t *testing.T) {
	t.Run("accepted and clamped", func(t *testing.T) {
		f := newAPIFixture(t, usage.NewMemoryStore())
		h := NewRenderHandler(f.renders, zap.NewNop())

		body := CreateRenderRequest{ProjectID: "proj_1", Quality: "4k", Preset: "karaoke_glow", DurationSeconds: 30}
		rec := httptest.NewRecorder()
		h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/renders", jsonBody(t, body)), "acct_1", entitlement.TierStarter))

		require.Equal(t, http.StatusAccepted, rec.Code)
		var job renders.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
		assert.Equal(t, entitlement.Quality1080p, job.Settings.Quality)
		assert.Equal(t, "basic_clean", job.Settings.Preset)
		assert.Equal(t, renders.QueueDefault, job.Queue)
		assert.Equal(t, 1, f.queue.enqueued)
	})

	t.Run("daily cap answers 402", func(t *testing.T) {
		f := newAPIFixture(t, usage.NewMemoryStore())
		h := NewRenderHandler(f.renders, zap.NewNop())

		var rec *httptest.ResponseRecorder
		for i := 0; i < 4; i++ {
			body := CreateRenderRequest{ProjectID: "proj_1", DurationSeconds: 10}
			rec = httptest.NewRecorder()
			h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/renders", jsonBody(t, body)), "acct_1", entitlement.TierFree))
		}

		require.Equal(t, http.StatusPaymentRequired, rec.Code)
		var decision entitlement.Decision
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
		assert.False(t, decision.Allowed)
		assert.Equal(t, entitlement.ReasonRenderQuotaExhausted, decision.Reason)
		assert.Equal(t, usage.PeriodDaily, decision.Window)
		assert.Equal(t, 3, f.queue.enqueued)
	})

	t.Run("storage outage answers 503", func(t *testing.T) {
		f := newAPIFixture(t, downStore{})
		h := NewRenderHandler(f.renders, zap.NewNop())

		body := CreateRenderRequest{ProjectID: "proj_1"}
		rec := httptest.NewRecorder()
		h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/renders", jsonBody(t, body)), "acct_1", entitlement.TierStudio))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Zero(t, f.queue.enqueued)
	})

	t.Run("missing project", func(t *testing.T) {
		f := newAPIFixture(t, usage.NewMemoryStore())
		h := NewRenderHandler(f.renders, zap.NewNop())

		rec := httptest.NewRecorder()
		h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/renders", jsonBody(t, CreateRenderRequest{})), "acct_1", entitlement.TierFree))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type fakeAdmin struct {
	granted   entitlement.Overrides
	grantedBy string
	cleared   []string
	tiers     map[string]entitlement.Tier
	grantErr  error
}

func (a *fakeAdmin) GrantOverrides(_ context.Context, accountID string, overrides entitlement.Overrides, grantedBy, reason string) (*subscription.Grant, error) {
	if a.grantErr != nil {
		return nil, a.grantErr
	}
	a.granted = overrides
	a.grantedBy = grantedBy
	return &subscription.Grant{AccountID: accountID, Overrides: overrides, GrantedBy: grantedBy, Reason: reason}, nil
}

func (a *fakeAdmin) ClearOverrides(_ context.Context, accountID string) error {
	a.cleared = append(a.cleared, accountID)
	return nil
}

func (a *fakeAdmin) SetTier(_ context.Context, accountID string, tier entitlement.Tier) error {
	if _, ok := entitlement.LookupTier(string(tier)); !ok {
		return subscription.ErrUnknownTier
	}
	if a.tiers == nil {
		a.tiers = map[string]entitlement.Tier{}
	}
	a.tiers[accountID] = tier
	return nil
}

func adminRouter(h *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, asUser(r, "admin_1", entitlement.TierFree))
		})
	})
	r.Put("/admin/accounts/{id}/overrides", h.PutOverrides)
	r.Delete("/admin/accounts/{id}/overrides", h.DeleteOverrides)
	r.Put("/admin/accounts/{id}/tier", h.PutTier)
	return r
}

func TestAdminOverrides(t *testing.T) {
	zoom := 1.15
	admin := &fakeAdmin{}
	router := adminRouter(NewAdminHandler(admin, zap.NewNop()))

	t.Run("grant", func(t *testing.T) {
		body := GrantOverridesRequest{Overrides: entitlement.Overrides{AutoZoomCeiling: &zoom}, Reason: "beta"}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/overrides", jsonBody(t, body)))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "admin_1", admin.grantedBy)
		require.NotNil(t, admin.granted.AutoZoomCeiling)
		assert.Equal(t, 1.15, *admin.granted.AutoZoomCeiling)
	})

	t.Run("empty grant", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/overrides", jsonBody(t, GrantOverridesRequest{})))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("restricting grant", func(t *testing.T) {
		restricting := &fakeAdmin{grantErr: errors.Join(entitlement.ErrRestrictingOverride, errors.New("autoZoomCeiling below baseline"))}
		r := adminRouter(NewAdminHandler(restricting, zap.NewNop()))
		body := GrantOverridesRequest{Overrides: entitlement.Overrides{AutoZoomCeiling: &zoom}}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/overrides", jsonBody(t, body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown preset", func(t *testing.T) {
		unknown := &fakeAdmin{grantErr: fmt.Errorf("%w: comic_sans", entitlement.ErrUnknownPreset)}
		r := adminRouter(NewAdminHandler(unknown, zap.NewNop()))
		body := GrantOverridesRequest{Overrides: entitlement.Overrides{ExtraPresets: []string{"comic_sans"}}}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/overrides", jsonBody(t, body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown subtitle preset: comic_sans")
		assert.NotContains(t, rec.Body.String(), "restricts")
	})

	t.Run("clear", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/accounts/acct_1/overrides", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"acct_1"}, admin.cleared)
	})
}

func TestAdminPutTier(t *testing.T) {
	admin := &fakeAdmin{}
	router := adminRouter(NewAdminHandler(admin, zap.NewNop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/tier", jsonBody(t, SetTierRequest{Tier: "founder"})))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, entitlement.TierFounder, admin.tiers["acct_1"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/accounts/acct_1/tier", jsonBody(t, SetTierRequest{Tier: "enterprise"})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type checker struct {
	err error
}

func (c checker) HealthCheck(context.Context) error {
	return c.err
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name         string
		checks       map[string]HealthChecker
		expectedCode int
		expected     map[string]string
	}{
		{
			name:         "all healthy",
			checks:       map[string]HealthChecker{"postgres": checker{}, "redis": checker{}},
			expectedCode: http.StatusOK,
			expected:     map[string]string{"postgres": "healthy", "redis": "healthy"},
		},
		{
			name:         "redis down",
			checks:       map[string]HealthChecker{"postgres": checker{}, "redis": checker{err: errors.New("refused")}},
			expectedCode: http.StatusServiceUnavailable,
			expected:     map[string]string{"postgres": "healthy", "redis": "unhealthy: refused"},
		},
		{
			name:         "nil checkers are skipped",
			checks:       map[string]HealthChecker{"postgres": nil},
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks).Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))

			require.Equal(t, tt.expectedCode, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			if tt.expected == nil {
				assert.Empty(t, resp.Services)
				return
			}
			assert.Equal(t, tt.expected, resp.Services)
		})
	}
}

func TestStatusForUsageError(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusForUsageError(usage.ErrStorageUnavailable))
	assert.Equal(t, http.StatusBadRequest, statusForUsageError(usage.ErrInvalidDelta))
	assert.Equal(t, http.StatusBadRequest, statusForUsageError(usage.ErrInvalidKey))
	assert.Equal(t, http.StatusBadRequest, statusForUsageError(fmt.Errorf("%w: auto-zoom -1", entitlement.ErrInvalidOperation)))
	assert.Equal(t, http.StatusInternalServerError, statusForUsageError(errors.New("boom")))
}

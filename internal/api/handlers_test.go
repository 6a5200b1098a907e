package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	logmemory "github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/require"

	"example.com/retirement/internal/auth"
	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/persistence/memory"
	"example.com/retirement/internal/timeline"
)

var testOwner = domain.Owner{TenantID: "tenant-1", UserID: "user-1"}

type failingRepo struct {
	*memory.Repository
}

func (failingRepo) InsertActivity(context.Context, domain.Owner, timeline.Activity) error {
	return errors.New("connection reset")
}

// brokenStoreRepo fails reads with driver errors that must not reach clients.
type brokenStoreRepo struct {
	*memory.Repository
	loadErr error
}

var errDriver = errors.New("pq: password authentication failed for user \"admin\"")

func (r brokenStoreRepo) Load(ctx context.Context, o domain.Owner) (*domain.Timeline, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.Repository.Load(ctx, o)
}

func (brokenStoreRepo) ListForecasts(context.Context, domain.Owner, *domain.Cursor, int) ([]domain.StoredForecast, *domain.Cursor, error) {
	return nil, nil, errDriver
}

func newTestMux(t *testing.T, repo domain.TimelineRepository, opts ...HandlerOption) *http.ServeMux {
	t.Helper()
	svc := domain.NewService(repo, timeline.DefaultSettings(),
		domain.WithLogger(&log.Logger{Handler: discard.New(), Level: log.ErrorLevel}),
		domain.WithClock(func() time.Time { return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC) }),
	)
	mux := http.NewServeMux()
	NewHandler(svc, timeline.DefaultLayout(), opts...).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if scopes != nil {
		set := make(map[string]struct{}, len(scopes))
		for _, s := range scopes {
			set[s] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
			Subject:   testOwner.UserID,
			TenantID:  testOwner.TenantID,
			Scopes:    set,
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestTimelineViewSeedsDefaults(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodGet, "/v1/timeline", "", auth.ScopeTimelineRead)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	view := decode[timeline.View](t, rec)
	require.Equal(t, timeline.ModeAge, view.Mode)
	require.Equal(t, 10, view.MinAge)
	require.Equal(t, 80, view.MaxAge)
	require.Len(t, view.Markers, 3)
	require.Empty(t, view.Bars)
}

func TestAuthorization(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodGet, "/v1/timeline", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create"}`, auth.ScopeTimelineRead)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, map[string]string{"type": "forbidden", "detail": "scope timeline:write required"}, decode[map[string]string](t, rec))

	rec = do(t, mux, http.MethodGet, "/v1/pension", "", auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/v1/pension", "", auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPointerDragAndCreate(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	for _, body := range []string{
		`{"event":"press","target":"grid","age":25}`,
		`{"event":"move","age":34}`,
	} {
		rec := do(t, mux, http.MethodPost, "/v1/timeline/pointer", body, auth.ScopeTimelineWrite)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := do(t, mux, http.MethodPost, "/v1/timeline/pointer", `{"event":"release","age":34}`, auth.ScopeTimelineWrite)
	view := decode[timeline.View](t, rec)
	require.Equal(t, &timeline.Prompt{StartAge: 25, EndAge: 34}, view.Prompt)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","kind":"work","contract_type":"EMPLOYMENT","salary":5000}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[domain.WorkPeriodResult](t, rec)
	require.True(t, result.Success)
	require.Equal(t, 25, result.Activity.StartAge)
	require.Equal(t, 34, result.Activity.EndAge)
	require.Equal(t, 10, result.Summary.TotalWorkYears)
	require.InDelta(t, 117120.0, result.Summary.TotalContributions, 0.001)

	rec = do(t, mux, http.MethodGet, "/v1/timeline.svg", "", auth.ScopeTimelineRead)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `data-id="`+result.Activity.ID+`"`)
}

func TestPointerRejectsUnknownEvent(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodPost, "/v1/timeline/pointer", `{"event":"hover","age":20}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decode[map[string]string](t, rec)["type"])

	rec = do(t, mux, http.MethodPost, "/v1/timeline/pointer", `{`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decode[map[string]string](t, rec)["type"])
}

func TestWorkPeriodFailuresUseEnvelope(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[domain.WorkPeriodResult](t, rec)
	require.False(t, result.Success)
	require.Equal(t, timeline.ErrNoPendingSelection.Error(), result.Error)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","start_age":20,"end_age":25,"kind":"work"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[domain.WorkPeriodResult](t, rec).Success)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","start_age":20,"end_age":25,"kind":"break"}`, auth.ScopeTimelineWrite)
	created := decode[domain.WorkPeriodResult](t, rec)
	require.True(t, created.Success)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"delete","id":"`+created.Activity.ID+`"}`, auth.ScopeTimelineWrite)
	result = decode[domain.WorkPeriodResult](t, rec)
	require.False(t, result.Success)
	require.Equal(t, timeline.ErrConfirmationRequired.Error(), result.Error)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"delete","id":"`+created.Activity.ID+`","confirmed":true}`, auth.ScopeTimelineWrite)
	require.True(t, decode[domain.WorkPeriodResult](t, rec).Success)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"archive"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, decode[domain.WorkPeriodResult](t, rec).Error, "unknown work-period action")

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `not json`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	result = decode[domain.WorkPeriodResult](t, rec)
	require.False(t, result.Success)
	require.Equal(t, "unable to parse body", result.Error)
}

func TestWorkPeriodPersistenceFailure(t *testing.T) {
	mux := newTestMux(t, failingRepo{memory.NewRepository()})

	rec := do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","start_age":20,"end_age":25,"kind":"sick_leave"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	result := decode[domain.WorkPeriodResult](t, rec)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "timeline could not be saved")

	view := decode[timeline.View](t, do(t, mux, http.MethodGet, "/v1/timeline", "", auth.ScopeTimelineRead))
	require.Empty(t, view.Bars)
}

func TestWorkPeriodRejectsUnstorableSalary(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	for _, salary := range []string{"0.001", "1e10"} {
		rec := do(t, mux, http.MethodPost, "/v1/work-period",
			`{"action":"create","start_age":20,"end_age":25,"kind":"work","contract_type":"EMPLOYMENT","salary":`+salary+`}`,
			auth.ScopeTimelineWrite)
		require.Equal(t, http.StatusOK, rec.Code, salary)
		result := decode[domain.WorkPeriodResult](t, rec)
		require.False(t, result.Success, salary)
		require.Contains(t, result.Error, timeline.ErrMissingWorkTerms.Error())
	}

	rec := do(t, mux, http.MethodPost, "/v1/work-period",
		`{"action":"create","start_age":20,"end_age":25,"kind":"work","contract_type":"EMPLOYMENT","salary":1234.567}`,
		auth.ScopeTimelineWrite)
	result := decode[domain.WorkPeriodResult](t, rec)
	require.True(t, result.Success)
	require.NotNil(t, result.Activity.Salary)
	require.Equal(t, 1234.57, *result.Activity.Salary)
}

func TestUnexpectedErrorsAreLoggedNotReturned(t *testing.T) {
	logs := logmemory.New()
	logger := &log.Logger{Handler: logs, Level: log.InfoLevel}

	mux := newTestMux(t, brokenStoreRepo{Repository: memory.NewRepository()}, WithLogger(logger))
	rec := do(t, mux, http.MethodGet, "/v1/pension/history", "", auth.ScopeTimelineRead)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]string](t, rec)
	require.Equal(t, "server_error", body["type"])
	require.Equal(t, "internal server error", body["detail"])
	require.NotContains(t, rec.Body.String(), "password")

	require.Len(t, logs.Entries, 1)
	require.Equal(t, "request failed", logs.Entries[0].Message)
	require.Equal(t, errDriver.Error(), logs.Entries[0].Fields["error"])
}

func TestStorageFailuresHideDriverErrors(t *testing.T) {
	logs := logmemory.New()
	logger := &log.Logger{Handler: logs, Level: log.InfoLevel}

	mux := newTestMux(t, brokenStoreRepo{Repository: memory.NewRepository(), loadErr: errDriver}, WithLogger(logger))
	rec := do(t, mux, http.MethodGet, "/v1/timeline", "", auth.ScopeTimelineRead)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, domain.ErrPersistence.Error(), decode[map[string]string](t, rec)["detail"])
	require.Len(t, logs.Entries, 1)

	rec = do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","start_age":20,"end_age":25,"kind":"break"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	result := decode[domain.WorkPeriodResult](t, rec)
	require.False(t, result.Success)
	require.Equal(t, domain.ErrPersistence.Error(), result.Error)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestProfileAndRetirement(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodPost, "/v1/profile", `{"current_age":40,"gender":"K"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ProfileResponse](t, rec)
	require.Equal(t, 40, resp.Profile.CurrentAge)
	require.Equal(t, "K", resp.Profile.Gender)
	require.Equal(t, 1985, resp.Profile.BirthYear)
	require.Equal(t, 60, resp.Profile.LegalRetirementAge)
	require.Equal(t, 260, resp.Summary.LifeExpectancyMonths)

	rec = do(t, mux, http.MethodPost, "/v1/retirement", `{"planned_retirement_age":67}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 67, decode[ProfileResponse](t, rec).Profile.PlannedRetirementAge)

	rec = do(t, mux, http.MethodPost, "/v1/profile", `{"current_age":40,"gender":"X"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/v1/profile", `{"gender":"M"}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "current_age is required", decode[map[string]string](t, rec)["detail"])

	rec = do(t, mux, http.MethodPost, "/v1/retirement", `{"planned_retirement_age":120}`, auth.ScopeTimelineWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisplayModeAndPromptCancel(t *testing.T) {
	mux := newTestMux(t, memory.NewRepository())

	rec := do(t, mux, http.MethodPost, "/v1/timeline/display-mode", "", auth.ScopeTimelineWrite)
	view := decode[timeline.View](t, rec)
	require.Equal(t, timeline.ModeYear, view.Mode)
	require.Equal(t, "2005", view.Labels[0].Text)

	do(t, mux, http.MethodPost, "/v1/timeline/pointer", `{"event":"press","age":30}`, auth.ScopeTimelineWrite)
	view = decode[timeline.View](t, do(t, mux, http.MethodPost, "/v1/timeline/pointer", `{"event":"release","age":30}`, auth.ScopeTimelineWrite))
	require.NotNil(t, view.Prompt)

	view = decode[timeline.View](t, do(t, mux, http.MethodPost, "/v1/timeline/prompt/cancel", "", auth.ScopeTimelineWrite))
	require.Nil(t, view.Prompt)
}

func TestPensionEndpoints(t *testing.T) {
	repo := memory.NewRepository()
	mux := newTestMux(t, repo)

	do(t, mux, http.MethodPost, "/v1/work-period", `{"action":"create","start_age":25,"end_age":44,"contract_type":"TASK","salary":3000}`, auth.ScopeTimelineWrite)

	rec := do(t, mux, http.MethodGet, "/v1/pension", "", auth.ScopeTimelineRead)
	summary := decode[SummaryResponse](t, rec)
	require.Equal(t, 20, summary.TotalWorkYears)
	require.Zero(t, summary.EstimatedPension)
	require.Equal(t, "0.00 zł", summary.Formatted)

	rec = do(t, mux, http.MethodGet, "/v1/pension/forecast", "", auth.ScopeTimelineRead)
	forecast := decode[ForecastResponse](t, rec)
	require.InDelta(t, pension.MinimumPension, forecast.MonthlyPension, 0.001)
	require.Equal(t, "1 780.96 zł", forecast.Formatted)

	base := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, repo.SaveForecast(context.Background(), domain.StoredForecast{
			ID: id, Owner: testOwner, SourceEvent: id, CalculatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	rec = do(t, mux, http.MethodGet, "/v1/pension/history?limit=2", "", auth.ScopeTimelineRead)
	page := decode[HistoryResponse](t, rec)
	require.Len(t, page.Items, 2)
	require.Equal(t, "f3", page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	rec = do(t, mux, http.MethodGet, "/v1/pension/history?limit=2&cursor="+page.NextCursor, "", auth.ScopeTimelineRead)
	page = decode[HistoryResponse](t, rec)
	require.Len(t, page.Items, 1)
	require.Equal(t, "f1", page.Items[0].ID)
	require.Empty(t, page.NextCursor)

	rec = do(t, mux, http.MethodGet, "/v1/pension/history?cursor=%25%25", "", auth.ScopeTimelineRead)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestMux(t, memory.NewRepository()), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

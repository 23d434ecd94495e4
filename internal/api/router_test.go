package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
	"github.com/MikeSquared-Agency/Crucible/internal/config"
	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

// Mocks
type mockStore struct {
	mu        sync.Mutex
	materials map[string]alloy.Material
	additives map[string]alloy.Additive
	limits    map[string]alloy.Limits
	sheets    map[uuid.UUID]*store.Sheet
	runs      map[uuid.UUID]*store.Run
}

func newMockStore() *mockStore {
	return &mockStore{
		materials: make(map[string]alloy.Material),
		additives: make(map[string]alloy.Additive),
		limits:    make(map[string]alloy.Limits),
		sheets:    make(map[uuid.UUID]*store.Sheet),
		runs:      make(map[uuid.UUID]*store.Run),
	}
}

func (m *mockStore) ListMaterials(_ context.Context) ([]alloy.Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alloy.Material
	for _, mat := range m.materials {
		out = append(out, mat)
	}
	return out, nil
}
func (m *mockStore) UpsertMaterial(_ context.Context, mat alloy.Material) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[mat.Name] = mat
	return nil
}
func (m *mockStore) ListAdditives(_ context.Context) ([]alloy.Additive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alloy.Additive
	for _, a := range m.additives {
		out = append(out, a)
	}
	return out, nil
}
func (m *mockStore) UpsertAdditive(_ context.Context, a alloy.Additive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.additives[a.Name] = a
	return nil
}
func (m *mockStore) ListLimits(_ context.Context) (map[string]alloy.Limits, error) {
	return m.limits, nil
}
func (m *mockStore) UpsertLimits(_ context.Context, group string, l alloy.Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[group] = l
	return nil
}
func (m *mockStore) ListPresets(_ context.Context) ([]catalog.Preset, error)    { return nil, nil }
func (m *mockStore) UpsertPreset(_ context.Context, _ catalog.Preset) error     { return nil }
func (m *mockStore) ReplaceCatalog(_ context.Context, _ *catalog.Catalog) error { return nil }
func (m *mockStore) CreateSheet(_ context.Context, s *store.Sheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.sheets[s.ID] = s
	return nil
}
func (m *mockStore) GetSheet(_ context.Context, id uuid.UUID) (*store.Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sheets[id], nil
}
func (m *mockStore) ListSheets(_ context.Context) ([]*store.Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Sheet
	for _, s := range m.sheets {
		out = append(out, s)
	}
	return out, nil
}
func (m *mockStore) DeleteSheet(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sheets, id)
	return nil
}
func (m *mockStore) CreateRun(_ context.Context, r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.runs[r.ID] = r
	return nil
}
func (m *mockStore) GetRun(_ context.Context, id uuid.UUID) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}
func (m *mockStore) ListRuns(_ context.Context, f store.RunFilter) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Run
	for _, r := range m.runs {
		if f.SheetID != nil && (r.SheetID == nil || *r.SheetID != *f.SheetID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
func (m *mockStore) Close() error { return nil }

type mockHermes struct {
	mock.Mock
}

func (m *mockHermes) Publish(subject string, data interface{}) error {
	return m.Called(subject, data).Error(0)
}
func (m *mockHermes) Subscribe(_ string, _ func(string, []byte)) error { return nil }
func (m *mockHermes) Close()                                           {}

type testEnv struct {
	router  http.Handler
	store   *mockStore
	hermes  *mockHermes
	planner *planner.Planner
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.Load("")
	require.NoError(t, err)

	ms := newMockStore()
	ms.materials["pig"] = alloy.Material{Name: "pig", Kind: alloy.KindBase, Content: map[alloy.Element]float64{alloy.Carbon: 4}}
	ms.materials["MgAlloy"] = alloy.Material{Name: "MgAlloy", Content: map[alloy.Element]float64{alloy.Magnesium: 2}}
	ms.additives["graphite"] = alloy.Additive{Name: "graphite", Content: map[alloy.Element]float64{alloy.Carbon: 100}}
	ms.limits["OES/A"] = alloy.Limits{alloy.Magnesium: 0.05}

	p := planner.New(ms, nil, nil, nil, cfg, logger)
	require.NoError(t, p.Refresh(context.Background()))

	h := &mockHermes{}
	return &testEnv{
		router:  NewRouter(ms, h, p, cfg.Planner.Channels, "test-token", logger),
		store:   ms,
		hermes:  h,
		planner: p,
	}
}

func (e *testEnv) do(method, path, body string, admin bool) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-Operator-ID", "test-operator")
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const carbonChannel = `{"channel":"Ch1","mode":"FCD","total_mass_kg":110,
	"spec":{"selected":["C"],"targets":{"C":{"value":3.6,"tolerance":0.05}}},
	"additives":[{"name":"graphite","percent":0.1}],"materials":["pig"]}`

func TestSolve(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/v1/blend/solve", `{"group":"OES/A","channel":`+carbonChannel+`}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out planner.Outcome
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Passed())
	assert.InDelta(t, (3.67-0.1)/100*110000/0.04, out.Result.Dosing.Auto["pig"], 1e-3)
	assert.NotNil(t, out.RunID)
	assert.Len(t, env.store.runs, 1)
}

func TestSolveRejectsInvalidSpec(t *testing.T) {
	env := setupTestRouter(t)

	body := `{"channel":{"total_mass_kg":100,"spec":{"selected":["Fe"]},"materials":["pig"]}}`
	w := env.do("POST", "/api/v1/blend/solve", body, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/blend/solve", `not json`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSolveWithoutCatalog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.Load("")
	require.NoError(t, err)
	p := planner.New(nil, nil, nil, nil, cfg, logger)
	router := NewRouter(newMockStore(), nil, p, 5, "", logger)

	req := httptest.NewRequest("POST", "/api/v1/blend/solve", strings.NewReader(`{"channel":`+carbonChannel+`}`))
	req.Header.Set("X-Operator-ID", "op")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMissingOperatorID(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/catalog/materials", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCatalogReads(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/v1/catalog/materials", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var mats []alloy.Material
	require.NoError(t, json.NewDecoder(w.Body).Decode(&mats))
	assert.Len(t, mats, 2)

	w = env.do("GET", "/api/v1/catalog/groups", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["OES/A"]`, w.Body.String())

	w = env.do("GET", "/api/v1/catalog/groups/OES%2FA/limits", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"Mg":0.05}`, w.Body.String())

	w = env.do("GET", "/api/v1/catalog/groups/XRF%2FZ/limits", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/api/v1/catalog/presets/Ch9", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutMaterialRequiresAdminToken(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("PUT", "/api/v1/catalog/materials/FeSi", `{"content":{"Si":75}}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env.hermes.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPutMaterialPublishesUpdate(t *testing.T) {
	env := setupTestRouter(t)
	env.hermes.On("Publish", hermes.SubjectCatalogUpdated, mock.MatchedBy(func(evt hermes.CatalogUpdatedEvent) bool {
		return evt.Table == "materials" && evt.Name == "FeSi" && evt.UpdatedBy == "test-operator"
	})).Return(nil).Once()

	w := env.do("PUT", "/api/v1/catalog/materials/%EF%BC%A6%EF%BD%85%EF%BC%B3%EF%BD%89", `{"content":{"Si":75},"yield":0.9}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.hermes.AssertExpectations(t)
	saved, ok := env.store.materials["FeSi"]
	require.True(t, ok, "full-width name should be folded")
	assert.Equal(t, alloy.KindAlloy, saved.Kind)
	assert.Equal(t, 0.9, *saved.Yield)
}

func TestPutMaterialValidation(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown element", `{"content":{"Xx":1}}`},
		{"over 100", `{"content":{"Si":101}}`},
		{"negative", `{"content":{"Si":-1}}`},
		{"bad kind", `{"kind":"slag","content":{"Si":1}}`},
		{"bad yield", `{"content":{"Si":1},"yield":1.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("PUT", "/api/v1/catalog/materials/FeSi", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.NotContains(t, env.store.materials, "FeSi")
}

func TestPutLimits(t *testing.T) {
	env := setupTestRouter(t)
	env.hermes.On("Publish", hermes.SubjectCatalogUpdated, mock.Anything).Return(nil)

	w := env.do("PUT", "/api/v1/catalog/groups/XRF%2FB/limits", `{"Mg":0.04,"S":0.02}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0.04, env.store.limits["XRF/B"][alloy.Magnesium])

	w = env.do("PUT", "/api/v1/catalog/additives/inoculant", `{"content":{"Si":70}}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, env.store.additives, "inoculant")
	env.hermes.AssertNumberOfCalls(t, "Publish", 2)
}

func TestSheetLifecycle(t *testing.T) {
	env := setupTestRouter(t)
	env.hermes.On("Publish", mock.MatchedBy(func(s string) bool { return strings.HasPrefix(s, "crucible.sheet.") }), mock.Anything).Return(nil)

	body := `{"name":"trial-9","instrument_group":"OES/A","channels":[` + carbonChannel + `,{"channel":"Ch2"}]}`
	w := env.do("POST", "/api/v1/sheets", body, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sheet store.Sheet
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sheet))
	require.NotEqual(t, uuid.Nil, sheet.ID)

	w = env.do("GET", "/api/v1/sheets", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/api/v1/sheets/"+sheet.ID.String()+"/plan", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plan planner.Plan
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plan))
	require.Len(t, plan.Outcomes, 2)
	assert.False(t, plan.Outcomes[0].Skipped)
	assert.True(t, plan.Outcomes[1].Skipped)

	w = env.do("GET", "/api/v1/runs?sheet_id="+sheet.ID.String(), "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []store.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	require.Len(t, runs, 1)

	w = env.do("GET", "/api/v1/runs/"+runs[0].ID.String()+"/report.csv", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\ufeff"))

	w = env.do("DELETE", "/api/v1/sheets/"+sheet.ID.String(), "", false)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do("GET", "/api/v1/sheets/"+sheet.ID.String(), "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.hermes.AssertCalled(t, "Publish", hermes.SubjectSheetCreated(sheet.ID.String()), mock.Anything)
	env.hermes.AssertCalled(t, "Publish", hermes.SubjectSheetDeleted(sheet.ID.String()), mock.Anything)
}

func TestCreateSheetValidation(t *testing.T) {
	env := setupTestRouter(t)

	for _, body := range []string{
		`{"channels":[{}]}`,
		`{"name":"x","channels":[]}`,
		`{"name":"x","channels":[{},{},{},{},{},{}]}`,
		`{"name":"x","channels":[{"spec":{"selected":["C"],"targets":{"C":{"value":-1}}}}]}`,
	} {
		w := env.do("POST", "/api/v1/sheets", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, env.store.sheets)
}

func TestRunsBadRequests(t *testing.T) {
	env := setupTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/runs?sheet_id=nope", "", false).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/runs?limit=-1", "", false).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/runs/nope", "", false).Code)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/v1/runs/"+uuid.NewString(), "", false).Code)

	w := env.do("GET", "/api/v1/runs", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	router := NewMetricsRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

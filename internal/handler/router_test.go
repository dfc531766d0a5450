package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/handler"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/cache"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"
	"github.com/boddenberg/rfv-config-bfa-go/internal/rfv"
	"github.com/boddenberg/rfv-config-bfa-go/internal/service"

	"go.uber.org/zap"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// --- Fake backend ---

type fakeBackend struct {
	mu         sync.Mutex
	params     map[int]*domain.ParameterSet
	nextID     int
	referenced map[int]bool
	pingErr    error
}

func newFakeBackend(existing ...*domain.ParameterSet) *fakeBackend {
	f := &fakeBackend{params: map[int]*domain.ParameterSet{}, nextID: 10, referenced: map[int]bool{}}
	for _, p := range existing {
		f.params[p.ID] = p.Clone()
	}
	return f
}

func (f *fakeBackend) ListParameters(_ context.Context, _ port.ParameterQuery) ([]domain.ParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ParameterSet, 0, len(f.params))
	for _, p := range f.params {
		out = append(out, *p.Clone())
	}
	return out, nil
}

func (f *fakeBackend) CreateParameter(_ context.Context, p *domain.ParameterSet) (*domain.ParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := p.Clone()
	c.ID = f.nextID
	f.params[c.ID] = c
	return c.Clone(), nil
}

func (f *fakeBackend) UpdateParameter(_ context.Context, id int, p *domain.ParameterSet) (*domain.ParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := p.Clone()
	c.ID = id
	f.params[id] = c
	return c.Clone(), nil
}

func (f *fakeBackend) DeleteParameter(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.referenced[id] {
		return &rfvapi.APIError{Status: http.StatusConflict, Message: "violates foreign key constraint"}
	}
	delete(f.params, id)
	return nil
}

func (f *fakeBackend) ListSegments(context.Context, int) ([]domain.Segment, error) {
	return nil, nil
}

func (f *fakeBackend) CreateSegment(_ context.Context, _ int, seg domain.Segment) (*domain.Segment, error) {
	return &seg, nil
}

func (f *fakeBackend) DeleteSegment(context.Context, int) error { return nil }

func (f *fakeBackend) ListFiliais(context.Context) ([]domain.Filial, error) {
	return []domain.Filial{{ID: 1, Name: "Filial Centro"}}, nil
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

// --- Helpers ---

func storedSet(id int, name string) *domain.ParameterSet {
	p := rfv.NewDraft(now)
	p.ID = id
	p.Name = name
	return p
}

func newTestRouter(backend *fakeBackend, opts handler.Options) http.Handler {
	metrics := observability.NewMetrics()
	svc := service.NewParameterService(
		backend,
		service.NewParameterStore(cache.New[[]domain.ParameterSet](time.Minute)),
		cache.New[domain.PendingSave](time.Minute),
		cache.New[[]domain.Filial](time.Minute),
		metrics,
		zap.NewNop(),
		service.WithClock(func() time.Time { return now }),
	)
	return handler.NewRouter(svc, metrics, opts, zap.NewNop())
}

func do(t *testing.T, router http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Operational ---

func TestHealthz(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_DegradedUpstream(t *testing.T) {
	backend := newFakeBackend()
	backend.pingErr = errors.New("connection refused")
	router := newTestRouter(backend, handler.Options{Upstream: backend})

	rec := do(t, router, http.MethodGet, "/healthz", nil)

	var health domain.HealthStatus
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Status != "degraded" || len(health.Services) != 2 {
		t.Errorf("expected degraded with 2 services, got %+v", health)
	}
}

func TestReadyz(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(backend, handler.Options{Upstream: backend})

	if rec := do(t, router, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	backend.pingErr = errors.New("down")
	if rec := do(t, router, http.MethodGet, "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestPing(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// --- Parameters ---

func TestListParameters(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "Padrão"), storedSet(2, "Outra")), handler.Options{})

	rec := do(t, router, http.MethodGet, "/v1/rfv/parameters?search=padr", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var listing domain.ParameterListing
	json.NewDecoder(rec.Body).Decode(&listing)
	if len(listing.Items) != 1 || listing.Items[0].Name != "Padrão" {
		t.Errorf("expected only Padrão, got %+v", listing.Items)
	}
	if listing.Stats.Total != 2 {
		t.Errorf("expected stats over the full list, got %+v", listing.Stats)
	}
}

func TestGetParameter_InvalidID(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/v1/rfv/parameters/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetParameter_NotFound(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/v1/rfv/parameters/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDefaults(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/v1/rfv/parameters/defaults", nil)
	var defaults domain.ParameterDefaults
	json.NewDecoder(rec.Body).Decode(&defaults)

	if defaults.Draft == nil || defaults.Draft.Strategy != domain.StrategyAutomatic {
		t.Fatalf("expected automatic draft, got %+v", defaults.Draft)
	}
	if defaults.Draft.EffectiveFrom.String() != "2026-10-17" {
		t.Errorf("expected draft effective today, got %s", defaults.Draft.EffectiveFrom)
	}
	if len(defaults.Segments) == 0 {
		t.Error("expected suggested segments")
	}
}

func TestValidate_StructuralErrorsListFields(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	d := rfv.NewDraft(now)
	d.Name = ""
	d.AutomaticRanges.Ouro.Max = 14

	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/validate", d)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Fields) < 2 {
		t.Fatalf("expected at least 2 field errors, got %+v", body.Fields)
	}
	if body.Fields[0].Field != "name" {
		t.Errorf("expected name first, got %q", body.Fields[0].Field)
	}
}

func TestValidateAndCommit_Create(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	d := rfv.NewDraft(now)
	d.Name = "Nova"
	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/validate", d)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var vr domain.ValidationResult
	json.NewDecoder(rec.Body).Decode(&vr)
	if !vr.Valid || vr.Token == "" || vr.Conflict != nil {
		t.Fatalf("unexpected validation result %+v", vr)
	}

	rec = do(t, router, http.MethodPost, "/v1/rfv/parameters/commit", domain.CommitRequest{Token: vr.Token})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var cr domain.CommitResult
	json.NewDecoder(rec.Body).Decode(&cr)
	if !cr.Created || cr.Config.ID == 0 {
		t.Errorf("unexpected commit result %+v", cr)
	}
}

func TestCommit_ConflictNeedsConfirmation(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "Atual")), handler.Options{})

	d := rfv.NewDraft(now)
	d.Name = "Substituta"
	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/validate", d)
	var vr domain.ValidationResult
	json.NewDecoder(rec.Body).Decode(&vr)
	if vr.Conflict == nil || vr.Conflict.ID != 1 {
		t.Fatalf("expected conflict with 1, got %+v", vr)
	}

	rec = do(t, router, http.MethodPost, "/v1/rfv/parameters/commit", domain.CommitRequest{Token: vr.Token})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/rfv/parameters/commit",
		domain.CommitRequest{Token: vr.Token, ConfirmOverwrite: true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 after confirmation, got %d: %s", rec.Code, rec.Body.String())
	}
	var cr domain.CommitResult
	json.NewDecoder(rec.Body).Decode(&cr)
	if len(cr.RetiredIDs) != 1 || cr.RetiredIDs[0] != 1 {
		t.Errorf("expected 1 retired, got %v", cr.RetiredIDs)
	}
}

func TestCommit_MissingToken(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/commit", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCommit_InvalidBody(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/rfv/parameters/commit", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDuplicate(t *testing.T) {
	src := storedSet(1, "Original")
	src.EffectiveFrom = domain.DateOf(now.AddDate(-1, 0, 0))
	router := newTestRouter(newFakeBackend(src), handler.Options{})

	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/1/duplicate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var d domain.ParameterSet
	json.NewDecoder(rec.Body).Decode(&d)
	if d.ID != 0 || d.Name != "Original"+service.CopySuffix {
		t.Errorf("unexpected duplicate %+v", d)
	}
	if d.EffectiveFrom.String() != "2026-10-17" {
		t.Errorf("expected duplicate effective today, got %s", d.EffectiveFrom)
	}
}

func TestDelete(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "A")), handler.Options{})

	rec := do(t, router, http.MethodDelete, "/v1/rfv/parameters/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res domain.DeleteResponse
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Message != "Configuração excluída com sucesso." {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestDelete_Referenced(t *testing.T) {
	backend := newFakeBackend(storedSet(1, "A"))
	backend.referenced[1] = true
	router := newTestRouter(backend, handler.Options{})

	rec := do(t, router, http.MethodDelete, "/v1/rfv/parameters/1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var res map[string]string
	json.NewDecoder(rec.Body).Decode(&res)
	if res["error"] != (&domain.ErrReferenced{}).Error() {
		t.Errorf("expected translated message, got %q", res["error"])
	}
	if strings.Contains(strings.ToLower(res["error"]), "foreign key") {
		t.Error("raw driver message must not leak")
	}
}

func TestClearSegments(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "A")), handler.Options{})

	rec := do(t, router, http.MethodDelete, "/v1/rfv/parameters/1/segments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var set domain.ParameterSet
	json.NewDecoder(rec.Body).Decode(&set)
	if set.ID != 1 || len(set.Segments) != 0 {
		t.Errorf("unexpected configuration %+v", set)
	}

	if rec := do(t, router, http.MethodDelete, "/v1/rfv/parameters/99/segments", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "A")), handler.Options{})

	body := domain.ClassifyRequest{Customers: []domain.CustomerMetrics{
		{CustomerID: "c1", DaysSinceLastPurchase: 10, PurchaseCount: 12, MonetaryValue: 6000},
	}}
	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/1/classify", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res domain.ClassificationResult
	json.NewDecoder(rec.Body).Decode(&res)
	if len(res.Customers) != 1 || res.Customers[0].Tier != domain.TierOuro {
		t.Errorf("expected ouro, got %+v", res.Customers)
	}
}

func TestClassify_EmptyCustomers(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "A")), handler.Options{})

	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/1/classify", domain.ClassifyRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListFiliais(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	rec := do(t, router, http.MethodGet, "/v1/filiais", nil)
	var filiais []domain.Filial
	json.NewDecoder(rec.Body).Decode(&filiais)
	if len(filiais) != 1 || filiais[0].Name != "Filial Centro" {
		t.Errorf("unexpected filiais %+v", filiais)
	}
}

func TestRFVMetricsSnapshot(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{})

	d := rfv.NewDraft(now)
	d.Name = "X"
	do(t, router, http.MethodPost, "/v1/rfv/parameters/validate", d)

	rec := do(t, router, http.MethodGet, "/v1/metrics/rfv", nil)
	var snap domain.RFVMetrics
	json.NewDecoder(rec.Body).Decode(&snap)
	if snap.Validations != 1 {
		t.Errorf("expected 1 validation, got %+v", snap)
	}
}

// --- Auth & rate limiting ---

func TestAuth_MissingToken(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{Verifier: service.NewTokenVerifier("s3cret")})

	rec := do(t, router, http.MethodGet, "/v1/filiais", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	// operational routes stay public
	if rec := do(t, router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on healthz, got %d", rec.Code)
	}
}

func TestAuth_InvalidFormat(t *testing.T) {
	router := newTestRouter(newFakeBackend(), handler.Options{Verifier: service.NewTokenVerifier("s3cret")})

	rec := do(t, router, http.MethodGet, "/v1/filiais", nil, "Authorization", "Token abc")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_ValidAndForeignTokens(t *testing.T) {
	verifier := service.NewTokenVerifier("s3cret")
	router := newTestRouter(newFakeBackend(), handler.Options{Verifier: verifier})

	token, err := verifier.IssueAccessToken("analyst-1", "Ana", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec := do(t, router, http.MethodGet, "/v1/filiais", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	foreign, _ := service.NewTokenVerifier("other").IssueAccessToken("analyst-1", "Ana", time.Hour)
	rec = do(t, router, http.MethodGet, "/v1/filiais", nil, "Authorization", "Bearer "+foreign)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for foreign signature, got %d", rec.Code)
	}
}

func TestRateLimit_WriteRoutes(t *testing.T) {
	router := newTestRouter(newFakeBackend(storedSet(1, "A")), handler.Options{
		RateLimit: handler.NewRateLimitStore(0.001, 2),
	})

	for i := 0; i < 2; i++ {
		if rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/1/duplicate", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, router, http.MethodPost, "/v1/rfv/parameters/1/duplicate", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// reads are not throttled
	if rec := do(t, router, http.MethodGet, "/v1/rfv/parameters/1", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on read, got %d", rec.Code)
	}
}

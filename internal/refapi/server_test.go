package refapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/refapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/repository"
	"github.com/boddenberg/rfv-config-bfa-go/internal/rfv"

	"go.uber.org/zap"
)

const refToken = "ref-token"

func newRefServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := repository.New(repository.Config{
		Driver:     repository.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "refapi.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	srv := httptest.NewServer(refapi.NewServer(repo, refToken, zap.NewNop()).Router())
	t.Cleanup(func() {
		srv.Close()
		repo.Close()
	})
	return srv
}

func call(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Authorization", "Bearer "+refToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRefAPI_RequiresToken(t *testing.T) {
	srv := newRefServer(t)

	resp, err := http.Get(srv.URL + "/api/filiais")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("expected public healthz, got %d", health.StatusCode)
	}
}

func TestRefAPI_ParameterLifecycle(t *testing.T) {
	srv := newRefServer(t)

	draft := rfv.NewDraft(fixedDay())
	draft.Name = "Centro"
	resp := call(t, http.MethodPost, srv.URL+"/api/rfv/parameters", rfvapi.ToBody(draft))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created rfvapi.ParameterFromAPI
	json.NewDecoder(resp.Body).Decode(&created)
	if created.ID == 0 || created.EffectiveFrom != "2026-10-17" {
		t.Fatalf("unexpected created row %+v", created)
	}

	seg := rfvapi.SegmentBody{SegmentName: "VIP", Rules: domain.SegmentRules{V: "=5"}, Priority: 1, ParameterSetID: created.ID}
	if resp := call(t, http.MethodPost, srv.URL+"/api/rfv/segments", seg); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for segment, got %d", resp.StatusCode)
	}

	resp = call(t, http.MethodGet, srv.URL+"/api/rfv/segments?parameterSetId=999", nil)
	var none []rfvapi.SegmentFromAPI
	json.NewDecoder(resp.Body).Decode(&none)
	if len(none) != 0 {
		t.Errorf("expected segment filter to apply, got %+v", none)
	}

	resp = call(t, http.MethodDelete, srv.URL+"/api/rfv/parameters/"+itoa(created.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if !strings.Contains(strings.ToLower(body["error"]), "foreign key") {
		t.Errorf("expected raw foreign key message, got %q", body["error"])
	}

	resp = call(t, http.MethodGet, srv.URL+"/api/rfv/parameters/4242", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRefAPI_InvalidBody(t *testing.T) {
	srv := newRefServer(t)

	resp := call(t, http.MethodPost, srv.URL+"/api/rfv/parameters", map[string]any{"name": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

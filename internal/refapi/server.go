// Package refapi is a reference implementation of the RFV API consumed by
// the BFA, backed by the SQL repository.
package refapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Store is the persistence the API needs.
type Store interface {
	ListParameters(ctx context.Context, q repository.ParameterQuery) ([]rfvapi.ParameterFromAPI, error)
	GetParameter(ctx context.Context, id int) (*rfvapi.ParameterFromAPI, error)
	CreateParameter(ctx context.Context, body rfvapi.ParameterBody) (*rfvapi.ParameterFromAPI, error)
	UpdateParameter(ctx context.Context, id int, body rfvapi.ParameterBody) (*rfvapi.ParameterFromAPI, error)
	DeleteParameter(ctx context.Context, id int) error
	ListSegments(ctx context.Context, parameterSetID *int) ([]rfvapi.SegmentFromAPI, error)
	CreateSegment(ctx context.Context, body rfvapi.SegmentBody) (*rfvapi.SegmentFromAPI, error)
	DeleteSegment(ctx context.Context, id int) error
	ListFiliais(ctx context.Context) ([]rfvapi.FilialFromAPI, error)
	Ping(ctx context.Context) error
}

// Server exposes Store over HTTP.
type Server struct {
	store  Store
	token  string
	now    func() time.Time
	logger *zap.Logger
}

// NewServer creates the API. An empty token disables authentication.
func NewServer(store Store, token string, logger *zap.Logger) *Server {
	return &Server{store: store, token: token, now: time.Now, logger: logger}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/rfv/parameters", s.listParameters)
		r.Post("/rfv/parameters", s.createParameter)
		r.Get("/rfv/parameters/{id}", s.getParameter)
		r.Put("/rfv/parameters/{id}", s.updateParameter)
		r.Delete("/rfv/parameters/{id}", s.deleteParameter)

		r.Get("/rfv/segments", s.listSegments)
		r.Post("/rfv/segments", s.createSegment)
		r.Delete("/rfv/segments/{id}", s.deleteSegment)

		r.Get("/filiais", s.listFiliais)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("database ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Parameters ---

func (s *Server) listParameters(w http.ResponseWriter, r *http.Request) {
	q := repository.ParameterQuery{Today: domain.DateOf(s.now()).String()}
	if v, err := strconv.ParseBool(r.URL.Query().Get("active")); err == nil {
		q.Active = &v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("filialId")); err == nil {
		q.FilialID = &v
	}

	list, err := s.store.ListParameters(r.Context(), q)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetParameter(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createParameter(w http.ResponseWriter, r *http.Request) {
	var body rfvapi.ParameterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	p, err := s.store.CreateParameter(r.Context(), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("parameter created", zap.Int("id", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body rfvapi.ParameterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	p, err := s.store.UpdateParameter(r.Context(), id, body)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("parameter updated", zap.Int("id", id))
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteParameter(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("parameter deleted", zap.Int("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// --- Segments ---

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	var setID *int
	if v, err := strconv.Atoi(r.URL.Query().Get("parameterSetId")); err == nil {
		setID = &v
	}
	list, err := s.store.ListSegments(r.Context(), setID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createSegment(w http.ResponseWriter, r *http.Request) {
	var body rfvapi.SegmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	seg, err := s.store.CreateSegment(r.Context(), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg)
}

func (s *Server) deleteSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSegment(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Filiais ---

func (s *Server) listFiliais(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListFiliais(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Helpers ---

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// fail maps repository errors to statuses. Foreign-key refusals keep the raw
// driver message so clients can recognise them.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var constraint *repository.ConstraintError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &constraint):
		s.logger.Info("constraint violation", zap.Error(err))
		writeJSON(w, http.StatusConflict, map[string]string{"error": constraint.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

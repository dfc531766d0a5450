package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

// validationResponse lists every issue of a rejected draft.
type validationResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// pathID reads a positive integer URL parameter.
func pathID(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseFilter reads the listing query string.
// Unknown or malformed values are ignored rather than rejected.
func parseFilter(r *http.Request) domain.ParameterFilter {
	q := r.URL.Query()
	f := domain.ParameterFilter{Search: strings.TrimSpace(q.Get("search"))}

	if v, err := strconv.ParseBool(q.Get("active")); err == nil {
		f.Active = &v
	}
	if v, err := strconv.Atoi(q.Get("filialId")); err == nil && v > 0 {
		f.FilialID = &v
	}
	switch s := domain.CalculationStrategy(q.Get("strategy")); s {
	case domain.StrategyAutomatic, domain.StrategyManual:
		f.Strategy = s
	}
	return f
}

// validationFields flattens a (possibly joined) validation error.
func validationFields(err error) []fieldError {
	var out []fieldError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var v *domain.ErrValidation
		if errors.As(e, &v) {
			out = append(out, fieldError{Field: v.Field, Message: v.Message})
		}
	}
	walk(err)
	return out
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict
	var referenced *domain.ErrReferenced
	var apiErr *rfvapi.APIError

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &validation):
		fields := validationFields(err)
		logger.Debug("validation error", zap.Int("issues", len(fields)), zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Error:  "Configuração inválida.",
			Fields: fields,
		})
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &referenced):
		logger.Info("delete blocked by dependents", zap.String("id", referenced.ID))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		logger.Warn("rfv api rejected request", zap.Int("status", apiErr.Status), zap.String("error", apiErr.Message))
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

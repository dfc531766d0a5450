package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// RFV parameters
// ============================================================

func listParametersHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/rfv/parameters")
		defer span.End()

		listing, err := svc.List(ctx, parseFilter(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

func defaultsHandler(svc *service.ParameterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Defaults())
	}
}

func getParameterHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/rfv/parameters/{id}")
		defer span.End()

		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid parameter id")
			return
		}
		span.SetAttributes(attribute.Int("rfv.parameter.id", id))

		p, err := svc.Get(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func validateParameterHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rfv/parameters/validate")
		defer span.End()

		var draft domain.ParameterSet
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := svc.Validate(ctx, &draft)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func commitParameterHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rfv/parameters/commit")
		defer span.End()

		var req domain.CommitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}

		res, err := svc.Commit(ctx, req.Token, req.ConfirmOverwrite)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		logger.Info("rfv configuration saved",
			zap.Int("id", res.Config.ID),
			zap.String("subject", SubjectFromContext(ctx)),
		)
		writeJSON(w, status, res)
	}
}

func duplicateParameterHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rfv/parameters/{id}/duplicate")
		defer span.End()

		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid parameter id")
			return
		}

		draft, err := svc.Duplicate(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	}
}

func deleteParameterHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/rfv/parameters/{id}")
		defer span.End()

		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid parameter id")
			return
		}

		res, err := svc.Delete(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("rfv configuration removed",
			zap.Int("id", id),
			zap.String("subject", SubjectFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, res)
	}
}

func clearSegmentsHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/rfv/parameters/{id}/segments")
		defer span.End()

		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid parameter id")
			return
		}

		set, err := svc.ClearSegments(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("rfv segments cleared",
			zap.Int("id", id),
			zap.String("subject", SubjectFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, set)
	}
}

func classifyHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rfv/parameters/{id}/classify")
		defer span.End()

		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid parameter id")
			return
		}

		var req domain.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := svc.Classify(ctx, id, req.Customers)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Filiais
// ============================================================

func listFiliaisHandler(svc *service.ParameterService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/filiais")
		defer span.End()

		filiais, err := svc.ListFiliais(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, filiais)
	}
}

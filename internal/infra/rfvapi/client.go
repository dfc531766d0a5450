// Package rfvapi is the client for the external RFV API that persists
// configurations, segments and the branch list.
package rfvapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("rfvapi")

var (
	_ port.RFVBackend    = (*Client)(nil)
	_ port.HealthChecker = (*Client)(nil)
)

func encodeQuery(q port.ParameterQuery) string {
	v := url.Values{}
	if q.Active != nil {
		v.Set("active", strconv.FormatBool(*q.Active))
	}
	if q.FilialID != nil {
		v.Set("filialId", strconv.Itoa(*q.FilialID))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Client wraps HTTP calls to the RFV API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates an RFV API client.
func NewClient(httpClient *http.Client, baseURL, token string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:        cfg,
		logger:     logger,
	}
}

// doRequest executes one request. Non-2xx answers come back as *APIError,
// 4xx ones wrapped as permanent.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		c.logger.Error("rfvapi: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	reqID := middleware.GetReqID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("rfvapi: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("rfvapi: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, body)
		c.logger.Warn("rfvapi: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message),
		)
		return nil, classify(apiErr)
	}

	c.logger.Debug("rfvapi: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

// read runs an idempotent GET behind the breaker with retries.
func (c *Client) read(ctx context.Context, path string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return resilience.Permanent(fmt.Errorf("failed to decode %s: %w", path, err))
			}
			return nil
		})
	})
	return err
}

// write runs a mutating request exactly once behind the breaker.
func (c *Client) write(ctx context.Context, method, path string, payload, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		body, err := c.doRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return nil, resilience.Permanent(fmt.Errorf("failed to decode %s: %w", path, err))
			}
		}
		return nil, nil
	})
	return err
}

// --- Parameters ---

// ListParameters fetches configurations and attaches their segments.
func (c *Client) ListParameters(ctx context.Context, q port.ParameterQuery) ([]domain.ParameterSet, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.ListParameters")
	defer span.End()

	var (
		rows     []ParameterFromAPI
		segments []SegmentFromAPI
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.read(gctx, "/api/rfv/parameters"+encodeQuery(q), &rows)
	})
	g.Go(func() error {
		return c.read(gctx, "/api/rfv/segments", &segments)
	})
	if err := g.Wait(); err != nil {
		return nil, translate("rfv/parameters", "", err)
	}

	bySet := make(map[int][]domain.Segment)
	for _, s := range segments {
		bySet[s.ParameterSetID] = append(bySet[s.ParameterSetID], s.ToDomain())
	}

	out := make([]domain.ParameterSet, 0, len(rows))
	for _, row := range rows {
		p, err := row.ToDomain()
		if err != nil {
			c.logger.Warn("rfvapi: skipping unreadable configuration",
				zap.Int("id", row.ID),
				zap.Error(err),
			)
			continue
		}
		if segs, ok := bySet[p.ID]; ok {
			p.Segments = segs
		}
		out = append(out, *p)
	}

	span.SetAttributes(attribute.Int("rfv.parameters.count", len(out)))
	return out, nil
}

// CreateParameter persists a new configuration (segments not included).
func (c *Client) CreateParameter(ctx context.Context, p *domain.ParameterSet) (*domain.ParameterSet, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.CreateParameter")
	defer span.End()

	var row ParameterFromAPI
	if err := c.write(ctx, http.MethodPost, "/api/rfv/parameters", ToBody(p), &row); err != nil {
		return nil, translate("rfv/parameters", "", err)
	}
	return c.savedOrDraft(row, p)
}

// UpdateParameter replaces an existing configuration (segments not included).
func (c *Client) UpdateParameter(ctx context.Context, id int, p *domain.ParameterSet) (*domain.ParameterSet, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.UpdateParameter")
	defer span.End()
	span.SetAttributes(attribute.Int("rfv.parameter.id", id))

	var row ParameterFromAPI
	path := fmt.Sprintf("/api/rfv/parameters/%d", id)
	if err := c.write(ctx, http.MethodPut, path, ToBody(p), &row); err != nil {
		return nil, translate("rfv/parameters", strconv.Itoa(id), err)
	}
	if row.ID == 0 {
		row.ID = id
	}
	return c.savedOrDraft(row, p)
}

// savedOrDraft prefers the stored representation, falling back to the draft
// with the assigned id when the API answers with an empty or partial body.
func (c *Client) savedOrDraft(row ParameterFromAPI, draft *domain.ParameterSet) (*domain.ParameterSet, error) {
	if row.EffectiveFrom != "" {
		if saved, err := row.ToDomain(); err == nil {
			return saved, nil
		}
	}
	if row.ID == 0 {
		return nil, &domain.ErrExternalService{
			Service: "rfv/parameters",
			Err:     fmt.Errorf("response without configuration id"),
		}
	}
	saved := draft.Clone()
	saved.ID = row.ID
	saved.Segments = []domain.Segment{}
	return saved, nil
}

// DeleteParameter removes a configuration. A foreign-key refusal comes
// back as *APIError.
func (c *Client) DeleteParameter(ctx context.Context, id int) error {
	ctx, span := tracer.Start(ctx, "RFVAPI.DeleteParameter")
	defer span.End()
	span.SetAttributes(attribute.Int("rfv.parameter.id", id))

	path := fmt.Sprintf("/api/rfv/parameters/%d", id)
	if err := c.write(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return translate("rfv/parameters", strconv.Itoa(id), err)
	}
	return nil
}

// --- Segments ---

// ListSegments returns the segments of one configuration.
func (c *Client) ListSegments(ctx context.Context, parameterSetID int) ([]domain.Segment, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.ListSegments")
	defer span.End()

	var rows []SegmentFromAPI
	path := fmt.Sprintf("/api/rfv/segments?parameterSetId=%d", parameterSetID)
	if err := c.read(ctx, path, &rows); err != nil {
		return nil, translate("rfv/segments", "", err)
	}

	out := make([]domain.Segment, 0, len(rows))
	for _, r := range rows {
		// older deployments ignore the query filter
		if r.ParameterSetID == parameterSetID {
			out = append(out, r.ToDomain())
		}
	}
	return out, nil
}

// CreateSegment attaches a segment to a configuration.
func (c *Client) CreateSegment(ctx context.Context, parameterSetID int, seg domain.Segment) (*domain.Segment, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.CreateSegment")
	defer span.End()

	body := SegmentBody{
		SegmentName:    seg.Name,
		Rules:          seg.Rules,
		Priority:       seg.Priority,
		ParameterSetID: parameterSetID,
	}
	var row SegmentFromAPI
	if err := c.write(ctx, http.MethodPost, "/api/rfv/segments", body, &row); err != nil {
		return nil, translate("rfv/segments", "", err)
	}
	created := row.ToDomain()
	if created.Name == "" {
		created = seg
		created.ID = row.ID
	}
	return &created, nil
}

// DeleteSegment removes one segment.
func (c *Client) DeleteSegment(ctx context.Context, id int) error {
	ctx, span := tracer.Start(ctx, "RFVAPI.DeleteSegment")
	defer span.End()

	path := fmt.Sprintf("/api/rfv/segments/%d", id)
	if err := c.write(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return translate("rfv/segments", strconv.Itoa(id), err)
	}
	return nil
}

// --- Filiais ---

// ListFiliais returns the branch list.
func (c *Client) ListFiliais(ctx context.Context) ([]domain.Filial, error) {
	ctx, span := tracer.Start(ctx, "RFVAPI.ListFiliais")
	defer span.End()

	var rows []FilialFromAPI
	if err := c.read(ctx, "/api/filiais", &rows); err != nil {
		return nil, translate("filiais", "", err)
	}

	out := make([]domain.Filial, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Filial{ID: r.ID, Name: r.Nome})
	}
	return out, nil
}

// Ping checks the API is reachable (used by /readyz).
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/filiais", nil); err != nil {
		return translate("rfvapi", "", err)
	}
	return nil
}

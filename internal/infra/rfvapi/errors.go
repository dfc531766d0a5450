package rfvapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// GenericErrorMessage is used when the API error body cannot be parsed.
const GenericErrorMessage = "erro inesperado na API RFV"

// APIError is a non-2xx answer from the RFV API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rfv api returned %d: %s", e.Status, e.Message)
}

// IsForeignKeyViolation reports whether the backend refused the operation
// because dependent rows still reference the target.
func (e *APIError) IsForeignKeyViolation() bool {
	return strings.Contains(strings.ToLower(e.Message), "foreign key")
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// parseError builds an APIError from a response body of the form
// {"error": "..."} or {"message": "..."}.
func parseError(status int, body []byte) *APIError {
	var eb errorBody
	msg := GenericErrorMessage
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Error != "":
			msg = eb.Error
		case eb.Message != "":
			msg = eb.Message
		}
	}
	return &APIError{Status: status, Message: msg}
}

// classify wraps a 4xx APIError as permanent so it neither retries nor
// trips the breaker.
func classify(apiErr *APIError) error {
	if apiErr.Status >= 400 && apiErr.Status < 500 {
		return resilience.Permanent(apiErr)
	}
	return apiErr
}

// translate maps a failure coming out of the breaker into a domain error.
// Business errors are returned as *APIError for the service to inspect.
func translate(service, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusNotFound {
			return &domain.ErrNotFound{Resource: service, ID: id}
		}
		if apiErr.Status < 500 {
			return apiErr
		}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

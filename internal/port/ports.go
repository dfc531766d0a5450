// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// ParameterQuery narrows a configuration listing on the backend side.
type ParameterQuery struct {
	Active   *bool
	FilialID *int
}

// RFVBackend persists configurations, their segments and the branch list.
// Implemented by the RFV API adapter.
type RFVBackend interface {
	// Configurations (segments attached on listing)
	ListParameters(ctx context.Context, q ParameterQuery) ([]domain.ParameterSet, error)
	CreateParameter(ctx context.Context, p *domain.ParameterSet) (*domain.ParameterSet, error)
	UpdateParameter(ctx context.Context, id int, p *domain.ParameterSet) (*domain.ParameterSet, error)
	DeleteParameter(ctx context.Context, id int) error

	// Segments
	ListSegments(ctx context.Context, parameterSetID int) ([]domain.Segment, error)
	CreateSegment(ctx context.Context, parameterSetID int, seg domain.Segment) (*domain.Segment, error)
	DeleteSegment(ctx context.Context, id int) error

	// Branches
	ListFiliais(ctx context.Context) ([]domain.Filial, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository exposes the row queries the aggregation core consumes.
type Repository interface {
	ListOrderRows(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderRow, error)
	ListOrderItemRows(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderItemRow, error)
}

// ServiceConfig carries optional collaborators for the Service.
type ServiceConfig struct {
	Logger       *slog.Logger
	MaxRangeDays int
	Now          func() time.Time
}

// Service coordinates report computation with the cache layer. It holds no
// per-report state; every call fetches, groups and reduces afresh.
type Service struct {
	repo         Repository
	cache        *Cache
	logger       *slog.Logger
	maxRangeDays int
	now          func() time.Time
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:         repo,
		cache:        cache,
		logger:       logger.With(slog.String("component", "reporting")),
		maxRangeDays: cfg.MaxRangeDays,
		now:          now,
	}
}

// Cache exposes the cache helper so jobs can bump it.
func (s *Service) Cache() *Cache {
	return s.cache
}

func (s *Service) prepare(businessID uuid.UUID, filters Filters) (Filters, error) {
	if s.repo == nil {
		return Filters{}, fmt.Errorf("reporting: repository not configured")
	}
	if businessID == uuid.Nil {
		return Filters{}, fmt.Errorf("%w: business id required", ErrInvalidFilter)
	}
	if err := filters.Validate(s.maxRangeDays); err != nil {
		return Filters{}, err
	}
	filters.DateFrom = truncateDate(filters.DateFrom)
	filters.DateTo = truncateDate(filters.DateTo)
	filters.Denominator = filters.EffectiveDenominator()
	return filters, nil
}

// cached runs loader through the cache, or directly when no cache is configured.
func (s *Service) cached(ctx context.Context, report string, businessID uuid.UUID, filters Filters, dest interface{}, loader func(context.Context) (interface{}, error), extra ...string) error {
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	key, err := s.cache.BuildKey(ctx, reportKey(report, businessID, filters, extra...))
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, report, key, dest, loader)
}

func (s *Service) fetchOrders(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderRow, error) {
	rows, err := s.repo.ListOrderRows(ctx, businessID, filters)
	if err != nil {
		return nil, fmt.Errorf("reporting: list orders: %w", err)
	}
	conflicting := 0
	for _, row := range rows {
		if row.Metrics.Classifications() > 1 {
			conflicting++
		}
	}
	if conflicting > 0 {
		s.logger.Warn("orders with conflicting status classification",
			slog.String("business_id", businessID.String()),
			slog.Int("orders", conflicting))
	}
	return rows, nil
}

func (s *Service) fetchItems(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderItemRow, error) {
	rows, err := s.repo.ListOrderItemRows(ctx, businessID, filters)
	if err != nil {
		return nil, fmt.Errorf("reporting: list order items: %w", err)
	}
	return rows, nil
}

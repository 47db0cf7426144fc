package reporting

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/tawseel/tawseel/internal/metrics"
)

// GetStatusDistribution counts matching orders per status, busiest first.
func (s *Service) GetStatusDistribution(ctx context.Context, businessID uuid.UUID, filters Filters) ([]StatusShare, error) {
	filters, err := s.prepare(businessID, filters)
	if err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		rows, err := s.fetchOrders(ctx, businessID, filters)
		if err != nil {
			return nil, err
		}
		return statusDistribution(rows), nil
	}
	var shares []StatusShare
	if err := s.cached(ctx, "statuses", businessID, filters, &shares, loader); err != nil {
		return nil, err
	}
	return shares, nil
}

func statusDistribution(rows []OrderRow) []StatusShare {
	groups, keys := groupBy(rows, func(row OrderRow) string { return row.StatusKey })
	shares := make([]StatusShare, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		shares = append(shares, StatusShare{
			StatusKey:  key,
			Label:      group[0].StatusLabel,
			Count:      len(group),
			Percentage: roundRate(metrics.Percentage(len(group), len(rows))),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].StatusKey < shares[j].StatusKey
	})
	return shares
}

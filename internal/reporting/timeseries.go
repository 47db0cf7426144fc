package reporting

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tawseel/tawseel/internal/metrics"
)

// GetTimeSeries groups matching orders by bucket and returns one point per
// bucket in ascending date order. An empty bucket means BucketDay.
func (s *Service) GetTimeSeries(ctx context.Context, businessID uuid.UUID, filters Filters, bucket Bucket) ([]TimeSeriesPoint, error) {
	if bucket == "" {
		bucket = BucketDay
	}
	if bucket != BucketDay {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBucket, bucket)
	}
	filters, err := s.prepare(businessID, filters)
	if err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		rows, err := s.fetchOrders(ctx, businessID, filters)
		if err != nil {
			return nil, err
		}
		return buildTimeSeries(rows, filters.AdCostIncluded()), nil
	}
	var points []TimeSeriesPoint
	if err := s.cached(ctx, "timeseries", businessID, filters, &points, loader, string(bucket)); err != nil {
		return nil, err
	}
	return points, nil
}

func buildTimeSeries(rows []OrderRow, includeAdCost bool) []TimeSeriesPoint {
	groups, keys := groupBy(rows, func(row OrderRow) string {
		return row.OrderDate.Format(dateLayout)
	})
	sort.Strings(keys)
	points := make([]TimeSeriesPoint, 0, len(keys))
	for _, key := range keys {
		agg := metrics.Aggregate(orderMetrics(groups[key]), includeAdCost)
		points = append(points, TimeSeriesPoint{
			Date:       key,
			Total:      agg.TotalOrders,
			Delivered:  agg.DeliveredOrders,
			Returned:   agg.ReturnOrders,
			GrossSales: roundMoney(agg.GrossSales),
			NetProfit:  roundMoney(agg.NetProfit),
		})
	}
	return points
}

// groupBy partitions items by key and returns the keys in first-seen order.
func groupBy[K comparable, T any](items []T, key func(T) K) (map[K][]T, []K) {
	groups := make(map[K][]T)
	keys := make([]K, 0)
	for _, item := range items {
		k := key(item)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], item)
	}
	return groups, keys
}

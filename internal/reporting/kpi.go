package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tawseel/tawseel/internal/metrics"
)

// GetKPIs aggregates every order matching filters into the headline summary.
// KPIs bypass the result cache: each call reads the store and stamps ComputedAt.
func (s *Service) GetKPIs(ctx context.Context, businessID uuid.UUID, filters Filters) (KPIs, error) {
	filters, err := s.prepare(businessID, filters)
	if err != nil {
		return KPIs{}, err
	}
	rows, err := s.fetchOrders(ctx, businessID, filters)
	if err != nil {
		return KPIs{}, err
	}
	return buildKPIs(rows, filters, s.now()), nil
}

func buildKPIs(rows []OrderRow, filters Filters, now time.Time) KPIs {
	include := filters.AdCostIncluded()
	denominator := filters.EffectiveDenominator()
	agg := roundAggregated(metrics.Aggregate(orderMetrics(rows), include))
	base := denominatorCount(agg, denominator)
	return KPIs{
		Aggregated:    agg,
		DeliveryRate:  roundRate(metrics.DeliveryRate(agg.DeliveredOrders, base)),
		ReturnRate:    roundRate(metrics.ReturnRate(agg.ReturnOrders, base)),
		AOV:           metrics.AOV(agg.GrossSales, base).Round(2),
		Denominator:   denominator,
		IncludeAdCost: include,
		ComputedAt:    now,
	}
}

// denominatorCount picks the order count rates and AOV divide by.
func denominatorCount(agg metrics.Aggregated, denominator Denominator) int {
	if denominator == DenominatorDelivered {
		return agg.DeliveredOrders
	}
	return agg.TotalOrders
}

func orderMetrics(rows []OrderRow) []metrics.OrderMetrics {
	out := make([]metrics.OrderMetrics, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Metrics)
	}
	return out
}

// roundRate keeps percentages at two decimal places for display.
func roundRate(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// roundMoney is applied to every money field a read model returns. Sums keep
// full precision until this point.
func roundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func roundAggregated(agg metrics.Aggregated) metrics.Aggregated {
	agg.GrossSales = roundMoney(agg.GrossSales)
	agg.TotalCOGS = roundMoney(agg.TotalCOGS)
	agg.TotalShippingCost = roundMoney(agg.TotalShippingCost)
	agg.TotalAdCost = roundMoney(agg.TotalAdCost)
	agg.NetProfit = roundMoney(agg.NetProfit)
	return agg
}

package reporting

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tawseel/tawseel/internal/metrics"
)

// dimension identifies a breakdown group. A nil ID collects orders without the
// dimension set.
type dimension struct {
	ID   uuid.UUID
	Name string
}

// dimensionBreakdowns is the cached shape of the three order-level breakdowns,
// which share one order fetch.
type dimensionBreakdowns struct {
	ByCountry  []DimensionBreakdown `json:"by_country"`
	ByCarrier  []DimensionBreakdown `json:"by_carrier"`
	ByEmployee []DimensionBreakdown `json:"by_employee"`
}

// GetBreakdowns computes the country, carrier, employee and product breakdowns.
// Orders are read once for the three order dimensions while line items load
// concurrently. The first failure cancels the remaining work.
func (s *Service) GetBreakdowns(ctx context.Context, businessID uuid.UUID, filters Filters) (Breakdowns, error) {
	filters, err := s.prepare(businessID, filters)
	if err != nil {
		return Breakdowns{}, err
	}
	include := filters.AdCostIncluded()

	var (
		dims     dimensionBreakdowns
		products []ProductBreakdown
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loader := func(ctx context.Context) (interface{}, error) {
			rows, err := s.fetchOrders(ctx, businessID, filters)
			if err != nil {
				return nil, err
			}
			return dimensionBreakdowns{
				ByCountry:  breakdownBy(rows, countryOf, include),
				ByCarrier:  breakdownBy(rows, carrierOf, include),
				ByEmployee: breakdownBy(rows, employeeOf, include),
			}, nil
		}
		return s.cached(gctx, "breakdown_dimensions", businessID, filters, &dims, loader)
	})

	g.Go(func() error {
		loader := func(ctx context.Context) (interface{}, error) {
			items, err := s.fetchItems(ctx, businessID, filters)
			if err != nil {
				return nil, err
			}
			return productBreakdown(items, include), nil
		}
		return s.cached(gctx, "breakdown_product", businessID, filters, &products, loader)
	})

	if err := g.Wait(); err != nil {
		return Breakdowns{}, err
	}
	return Breakdowns{
		ByCountry:  dims.ByCountry,
		ByCarrier:  dims.ByCarrier,
		ByEmployee: dims.ByEmployee,
		ByProduct:  products,
	}, nil
}

func countryOf(row OrderRow) dimension  { return dimensionOf(row.CountryID, row.CountryName) }
func carrierOf(row OrderRow) dimension  { return dimensionOf(row.CarrierID, row.CarrierName) }
func employeeOf(row OrderRow) dimension { return dimensionOf(row.EmployeeID, row.EmployeeName) }

func dimensionOf(id *uuid.UUID, name string) dimension {
	if id == nil {
		return dimension{ID: uuid.Nil, Name: UnassignedLabel}
	}
	return dimension{ID: *id, Name: name}
}

// breakdownBy groups rows by key, aggregates each group and orders the result
// busiest first.
func breakdownBy(rows []OrderRow, key func(OrderRow) dimension, includeAdCost bool) []DimensionBreakdown {
	groups, keys := groupBy(rows, func(row OrderRow) uuid.UUID { return key(row).ID })
	out := make([]DimensionBreakdown, 0, len(keys))
	for _, id := range keys {
		group := groups[id]
		agg := metrics.Aggregate(orderMetrics(group), includeAdCost)
		out = append(out, DimensionBreakdown{
			ID:           id,
			Name:         key(group[0]).Name,
			Total:        agg.TotalOrders,
			Delivered:    agg.DeliveredOrders,
			Returned:     agg.ReturnOrders,
			Active:       agg.ActiveOrders,
			GrossSales:   roundMoney(agg.GrossSales),
			NetProfit:    roundMoney(agg.NetProfit),
			DeliveryRate: roundRate(metrics.DeliveryRate(agg.DeliveredOrders, agg.TotalOrders)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// productBreakdown attributes each line to its product by quantity. The parent
// order's shipping and ad cost are split across its lines by quantity share.
// Sorted by profit, highest first.
func productBreakdown(items []OrderItemRow, includeAdCost bool) []ProductBreakdown {
	groups, keys := groupBy(items, func(item OrderItemRow) uuid.UUID { return item.ProductID })
	out := make([]ProductBreakdown, 0, len(keys))
	for _, id := range keys {
		entry := ProductBreakdown{
			ProductID: id,
			Name:      groups[id][0].ProductName,
			Revenue:   decimal.Zero,
			Profit:    decimal.Zero,
		}
		for _, item := range groups[id] {
			share := quantityShare(item.Quantity, item.OrderQuantity)
			shipping := item.OrderShippingCost.Mul(share)
			adCost := decimal.NullDecimal{}
			if item.OrderAdCost.Valid {
				adCost = decimal.NewNullDecimal(item.OrderAdCost.Decimal.Mul(share))
			}
			entry.Quantity += item.Quantity
			if item.CountsAsDelivered {
				entry.DeliveredQuantity += item.Quantity
			}
			if item.CountsAsReturn {
				entry.ReturnedQuantity += item.Quantity
			}
			entry.Revenue = entry.Revenue.Add(item.Revenue)
			entry.Profit = entry.Profit.Add(metrics.NetProfit(item.Revenue, item.COGS, shipping, adCost, includeAdCost))
		}
		entry.Revenue = roundMoney(entry.Revenue)
		entry.Profit = roundMoney(entry.Profit)
		entry.DeliveryRate = roundRate(metrics.DeliveryRate(entry.DeliveredQuantity, entry.Quantity))
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Profit.Cmp(out[j].Profit); c != 0 {
			return c > 0
		}
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// quantityShare is the fraction of the order's quantity carried by one line.
// A missing order quantity gives the line the whole order.
func quantityShare(quantity, orderQuantity int) decimal.Decimal {
	if orderQuantity <= 0 || quantity >= orderQuantity {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(quantity)).Div(decimal.NewFromInt(int64(orderQuantity)))
}

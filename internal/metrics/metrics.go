// Package metrics holds the order economics used by every report: rates, net
// profit, average order value and the single-pass aggregate over a set of orders.
// Nothing here returns an error; degenerate input resolves to zero.
package metrics

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// OrderMetrics is the economic snapshot of one order.
type OrderMetrics struct {
	Revenue           decimal.Decimal     `json:"revenue"`
	COGS              decimal.Decimal     `json:"cogs"`
	ShippingCost      decimal.Decimal     `json:"shipping_cost"`
	AdCost            decimal.NullDecimal `json:"ad_cost"`
	CountsAsDelivered bool                `json:"counts_as_delivered"`
	CountsAsReturn    bool                `json:"counts_as_return"`
	CountsAsActive    bool                `json:"counts_as_active"`
	IsFinal           bool                `json:"is_final"`
}

// Classifications reports how many operational buckets the order's status claims.
// Well-formed status configuration yields exactly one.
func (o OrderMetrics) Classifications() int {
	n := 0
	for _, flag := range []bool{o.CountsAsDelivered, o.CountsAsReturn, o.CountsAsActive} {
		if flag {
			n++
		}
	}
	return n
}

// Aggregated is the reduction of a collection of OrderMetrics.
type Aggregated struct {
	TotalOrders       int             `json:"total_orders"`
	DeliveredOrders   int             `json:"delivered_orders"`
	ReturnOrders      int             `json:"return_orders"`
	ActiveOrders      int             `json:"active_orders"`
	GrossSales        decimal.Decimal `json:"gross_sales"`
	TotalCOGS         decimal.Decimal `json:"total_cogs"`
	TotalShippingCost decimal.Decimal `json:"total_shipping_cost"`
	TotalAdCost       decimal.Decimal `json:"total_ad_cost"`
	NetProfit         decimal.Decimal `json:"net_profit"`
}

// DeliveryRate returns delivered/total as a percentage, or zero for an empty total.
func DeliveryRate(delivered, total int) decimal.Decimal {
	return percentage(delivered, total)
}

// ReturnRate returns returns/total as a percentage, or zero for an empty total.
func ReturnRate(returns, total int) decimal.Decimal {
	return percentage(returns, total)
}

// Percentage exposes the zero-guarded share computation for other count ratios.
func Percentage(part, total int) decimal.Decimal {
	return percentage(part, total)
}

func percentage(part, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(total))).Mul(hundred)
}

// NetProfit subtracts costs from revenue. A null ad cost counts as zero and ad
// cost is only subtracted when includeAdCost is set.
func NetProfit(revenue, cogs, shippingCost decimal.Decimal, adCost decimal.NullDecimal, includeAdCost bool) decimal.Decimal {
	profit := revenue.Sub(cogs).Sub(shippingCost)
	if includeAdCost {
		profit = profit.Sub(adCostValue(adCost))
	}
	return profit
}

// AOV returns grossSales/orderCount, or zero when there are no orders.
func AOV(grossSales decimal.Decimal, orderCount int) decimal.Decimal {
	if orderCount == 0 {
		return decimal.Zero
	}
	return grossSales.Div(decimal.NewFromInt(int64(orderCount)))
}

// Aggregate reduces orders in one pass. Net profit accumulates per order through
// NetProfit so the total always equals the sum of the per-order figures. When
// includeAdCost is false TotalAdCost is reported as zero.
func Aggregate(orders []OrderMetrics, includeAdCost bool) Aggregated {
	agg := Aggregated{
		GrossSales:        decimal.Zero,
		TotalCOGS:         decimal.Zero,
		TotalShippingCost: decimal.Zero,
		TotalAdCost:       decimal.Zero,
		NetProfit:         decimal.Zero,
	}
	for _, order := range orders {
		agg.Add(order, includeAdCost)
	}
	if !includeAdCost {
		agg.TotalAdCost = decimal.Zero
	}
	return agg
}

// Add folds a single order into the aggregate.
func (a *Aggregated) Add(order OrderMetrics, includeAdCost bool) {
	a.TotalOrders++
	if order.CountsAsDelivered {
		a.DeliveredOrders++
	}
	if order.CountsAsReturn {
		a.ReturnOrders++
	}
	if order.CountsAsActive {
		a.ActiveOrders++
	}
	a.GrossSales = a.GrossSales.Add(order.Revenue)
	a.TotalCOGS = a.TotalCOGS.Add(order.COGS)
	a.TotalShippingCost = a.TotalShippingCost.Add(order.ShippingCost)
	if includeAdCost {
		a.TotalAdCost = a.TotalAdCost.Add(adCostValue(order.AdCost))
	}
	a.NetProfit = a.NetProfit.Add(NetProfit(order.Revenue, order.COGS, order.ShippingCost, order.AdCost, includeAdCost))
}

func adCostValue(adCost decimal.NullDecimal) decimal.Decimal {
	if !adCost.Valid {
		return decimal.Zero
	}
	return adCost.Decimal
}

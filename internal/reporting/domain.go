package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tawseel/tawseel/internal/metrics"
)

var (
	// ErrInvalidFilter marks a filter set that cannot be queried.
	ErrInvalidFilter = errors.New("reporting: invalid filter")
	// ErrUnsupportedBucket is returned for time buckets other than BucketDay.
	ErrUnsupportedBucket = errors.New("reporting: unsupported bucket")
)

const dateLayout = "2006-01-02"

// DefaultMaxRangeDays bounds the reporting window when no limit is configured.
const DefaultMaxRangeDays = 366

// UnassignedLabel names breakdown rows whose dimension is not set on the order.
const UnassignedLabel = "غير محدد"

// Denominator selects the order count used for rates and AOV.
type Denominator string

const (
	// DenominatorTotal divides by every order in the filter set.
	DenominatorTotal Denominator = "total"
	// DenominatorDelivered divides by delivered orders only.
	DenominatorDelivered Denominator = "delivered"
)

// Valid reports whether d is a known denominator.
func (d Denominator) Valid() bool {
	return d == DenominatorTotal || d == DenominatorDelivered
}

// Bucket is the time-series grouping unit.
type Bucket string

// BucketDay groups by the ISO date of the order.
const BucketDay Bucket = "day"

// Filters scopes every report. DateFrom and DateTo are inclusive order dates.
type Filters struct {
	DateFrom      time.Time
	DateTo        time.Time
	CountryID     *uuid.UUID
	CarrierID     *uuid.UUID
	EmployeeID    *uuid.UUID
	ProductID     *uuid.UUID
	StatusID      *uuid.UUID
	StatusKey     string
	IncludeAdCost *bool
	Denominator   Denominator
}

// AdCostIncluded resolves the ad-cost switch, which defaults to on.
func (f Filters) AdCostIncluded() bool {
	return f.IncludeAdCost == nil || *f.IncludeAdCost
}

// EffectiveDenominator resolves the denominator, defaulting to DenominatorTotal.
func (f Filters) EffectiveDenominator() Denominator {
	if f.Denominator == "" {
		return DenominatorTotal
	}
	return f.Denominator
}

// Validate checks the date window and option values. maxDays <= 0 applies
// DefaultMaxRangeDays.
func (f Filters) Validate(maxDays int) error {
	if f.DateFrom.IsZero() || f.DateTo.IsZero() {
		return fmt.Errorf("%w: date_from and date_to are required", ErrInvalidFilter)
	}
	from := truncateDate(f.DateFrom)
	to := truncateDate(f.DateTo)
	if from.After(to) {
		return fmt.Errorf("%w: date_from %s after date_to %s", ErrInvalidFilter, from.Format(dateLayout), to.Format(dateLayout))
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxRangeDays
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > maxDays {
		return fmt.Errorf("%w: range of %d days exceeds %d", ErrInvalidFilter, days, maxDays)
	}
	if !f.EffectiveDenominator().Valid() {
		return fmt.Errorf("%w: unknown denominator %q", ErrInvalidFilter, f.Denominator)
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// OrderRow is one order joined with its status classification and dimension names.
type OrderRow struct {
	ID           uuid.UUID
	OrderDate    time.Time
	StatusID     uuid.UUID
	StatusKey    string
	StatusLabel  string
	CountryID    *uuid.UUID
	CountryName  string
	CarrierID    *uuid.UUID
	CarrierName  string
	EmployeeID   *uuid.UUID
	EmployeeName string
	Metrics      metrics.OrderMetrics
}

// OrderItemRow is one order line with the parent order's costs and status.
// Revenue and COGS are line totals; OrderQuantity is the sum of quantities on
// the parent order.
type OrderItemRow struct {
	OrderID           uuid.UUID
	ProductID         uuid.UUID
	ProductName       string
	Quantity          int
	Revenue           decimal.Decimal
	COGS              decimal.Decimal
	OrderQuantity     int
	OrderShippingCost decimal.Decimal
	OrderAdCost       decimal.NullDecimal
	CountsAsDelivered bool
	CountsAsReturn    bool
	CountsAsActive    bool
}

// KPIs is the headline summary for a filter set.
type KPIs struct {
	metrics.Aggregated
	DeliveryRate  decimal.Decimal `json:"delivery_rate"`
	ReturnRate    decimal.Decimal `json:"return_rate"`
	AOV           decimal.Decimal `json:"aov"`
	Denominator   Denominator     `json:"denominator"`
	IncludeAdCost bool            `json:"include_ad_cost"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// TimeSeriesPoint aggregates one bucket. Rates are left to the caller.
type TimeSeriesPoint struct {
	Date       string          `json:"date"`
	Total      int             `json:"total"`
	Delivered  int             `json:"delivered"`
	Returned   int             `json:"returned"`
	GrossSales decimal.Decimal `json:"gross_sales"`
	NetProfit  decimal.Decimal `json:"net_profit"`
}

// DimensionBreakdown projects order metrics onto a country, carrier or employee.
type DimensionBreakdown struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Total        int             `json:"total"`
	Delivered    int             `json:"delivered"`
	Returned     int             `json:"returned"`
	Active       int             `json:"active"`
	GrossSales   decimal.Decimal `json:"gross_sales"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	DeliveryRate decimal.Decimal `json:"delivery_rate"`
}

// ProductBreakdown attributes line-item quantities and profit to a product.
type ProductBreakdown struct {
	ProductID         uuid.UUID       `json:"product_id"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	DeliveredQuantity int             `json:"delivered_quantity"`
	ReturnedQuantity  int             `json:"returned_quantity"`
	Revenue           decimal.Decimal `json:"revenue"`
	Profit            decimal.Decimal `json:"profit"`
	DeliveryRate      decimal.Decimal `json:"delivery_rate"`
}

// Breakdowns bundles the four dimensional breakdowns.
type Breakdowns struct {
	ByCountry  []DimensionBreakdown `json:"by_country"`
	ByCarrier  []DimensionBreakdown `json:"by_carrier"`
	ByEmployee []DimensionBreakdown `json:"by_employee"`
	ByProduct  []ProductBreakdown   `json:"by_product"`
}

// StatusShare is one status's share of the filter set.
type StatusShare struct {
	StatusKey  string          `json:"status_key"`
	Label      string          `json:"label"`
	Count      int             `json:"count"`
	Percentage decimal.Decimal `json:"percentage"`
}

package perf

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tawseel/tawseel/internal/metrics"
	"github.com/tawseel/tawseel/internal/reporting"
)

// syntheticRepo serves a fixed slice of generated rows regardless of filters.
type syntheticRepo struct {
	orders []reporting.OrderRow
	items  []reporting.OrderItemRow
}

func (r *syntheticRepo) ListOrderRows(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) ([]reporting.OrderRow, error) {
	return r.orders, nil
}

func (r *syntheticRepo) ListOrderItemRows(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) ([]reporting.OrderItemRow, error) {
	return r.items, nil
}

func dimensionIDs(kind string, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", kind, i)))
	}
	return ids
}

func newSyntheticRepo(orderCount int) *syntheticRepo {
	rng := rand.New(rand.NewPCG(7, 11))
	countries := dimensionIDs("country", 6)
	carriers := dimensionIDs("carrier", 4)
	employees := dimensionIDs("employee", 12)
	products := dimensionIDs("product", 40)
	statuses := []struct {
		id                          uuid.UUID
		key                         string
		delivered, returned, active bool
	}{
		{uuid.NewSHA1(uuid.NameSpaceOID, []byte("delivered")), "delivered", true, false, false},
		{uuid.NewSHA1(uuid.NameSpaceOID, []byte("returned")), "returned", false, true, false},
		{uuid.NewSHA1(uuid.NameSpaceOID, []byte("shipped")), "shipped", false, false, true},
	}

	repo := &syntheticRepo{}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < orderCount; i++ {
		status := statuses[rng.IntN(len(statuses))]
		country := countries[rng.IntN(len(countries))]
		carrier := carriers[rng.IntN(len(carriers))]
		employee := employees[rng.IntN(len(employees))]
		revenue := decimal.NewFromInt(int64(50 + rng.IntN(400)))
		cogs := revenue.Mul(decimal.NewFromFloat(0.4)).Round(2)
		shipping := decimal.NewFromInt(int64(10 + rng.IntN(20)))
		ad := decimal.NewNullDecimal(decimal.NewFromInt(int64(rng.IntN(30))))

		order := reporting.OrderRow{
			ID:           uuid.New(),
			OrderDate:    start.AddDate(0, 0, rng.IntN(90)),
			StatusID:     status.id,
			StatusKey:    status.key,
			StatusLabel:  status.key,
			CountryID:    &country,
			CountryName:  country.String()[:8],
			CarrierID:    &carrier,
			CarrierName:  carrier.String()[:8],
			EmployeeID:   &employee,
			EmployeeName: employee.String()[:8],
			Metrics: metrics.OrderMetrics{
				Revenue:           revenue,
				COGS:              cogs,
				ShippingCost:      shipping,
				AdCost:            ad,
				CountsAsDelivered: status.delivered,
				CountsAsReturn:    status.returned,
				CountsAsActive:    status.active,
			},
		}
		repo.orders = append(repo.orders, order)

		lines := 1 + rng.IntN(3)
		for l := 0; l < lines; l++ {
			share := decimal.NewFromInt(int64(lines))
			repo.items = append(repo.items, reporting.OrderItemRow{
				OrderID:           order.ID,
				ProductID:         products[rng.IntN(len(products))],
				ProductName:       "product",
				Quantity:          1,
				Revenue:           revenue.Div(share).Round(2),
				COGS:              cogs.Div(share).Round(2),
				OrderQuantity:     lines,
				OrderShippingCost: shipping,
				OrderAdCost:       ad,
				CountsAsDelivered: status.delivered,
				CountsAsReturn:    status.returned,
				CountsAsActive:    status.active,
			})
		}
	}
	return repo
}

func quarterFilters() reporting.Filters {
	return reporting.Filters{
		DateFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

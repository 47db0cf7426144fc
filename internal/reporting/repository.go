package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type pgRepository struct {
	db dbtx
}

// NewRepository returns a Repository backed by a pgx pool or transaction.
func NewRepository(db dbtx) Repository {
	return &pgRepository{db: db}
}

const orderRowsQuery = `
	SELECT o.id, o.order_date,
	       s.id, s.key, s.label,
	       s.counts_as_delivered, s.counts_as_return, s.counts_as_active, s.is_final,
	       o.country_id, COALESCE(c.name, ''),
	       o.carrier_id, COALESCE(ca.name, ''),
	       o.employee_id, COALESCE(e.full_name, ''),
	       o.total_amount, o.cogs, o.shipping_cost, o.ad_cost
	FROM orders o
	JOIN statuses s ON s.id = o.status_id
	LEFT JOIN countries c ON c.id = o.country_id
	LEFT JOIN carriers ca ON ca.id = o.carrier_id
	LEFT JOIN employees e ON e.id = o.employee_id
	%s
	ORDER BY o.order_date, o.id`

// Order quantities are computed over every line of the order before the
// product filter narrows the lines returned.
const orderItemRowsQuery = `
	WITH lines AS (
		SELECT oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.unit_cost,
		       SUM(oi.quantity) OVER (PARTITION BY oi.order_id) AS order_quantity
		FROM order_items oi
		WHERE oi.order_id IN (
			SELECT id FROM orders WHERE business_id = $1 AND order_date BETWEEN $2 AND $3
		)
	)
	SELECT l.order_id, l.product_id, COALESCE(p.name, ''),
	       l.quantity, l.quantity * l.unit_price, l.quantity * COALESCE(l.unit_cost, 0),
	       l.order_quantity,
	       o.shipping_cost, o.ad_cost,
	       s.counts_as_delivered, s.counts_as_return, s.counts_as_active
	FROM lines l
	JOIN orders o ON o.id = l.order_id
	JOIN statuses s ON s.id = o.status_id
	LEFT JOIN products p ON p.id = l.product_id
	%s
	ORDER BY l.order_id, l.product_id`

// whereBuilder accumulates positional conditions.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

func (b *whereBuilder) add(format string, arg interface{}) {
	b.args = append(b.args, arg)
	b.conditions = append(b.conditions, fmt.Sprintf(format, len(b.args)))
}

func (b *whereBuilder) clause() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.conditions, " AND ")
}

// orderConditions scopes orders; the first three arguments are always the
// business id and the inclusive date bounds.
func orderConditions(businessID uuid.UUID, filters Filters, productColumn string) *whereBuilder {
	b := &whereBuilder{}
	b.add("o.business_id = $%d", uuidParam(businessID))
	b.add("o.order_date >= $%d", dateParam(filters.DateFrom))
	b.add("o.order_date <= $%d", dateParam(filters.DateTo))
	if filters.CountryID != nil {
		b.add("o.country_id = $%d", uuidParam(*filters.CountryID))
	}
	if filters.CarrierID != nil {
		b.add("o.carrier_id = $%d", uuidParam(*filters.CarrierID))
	}
	if filters.EmployeeID != nil {
		b.add("o.employee_id = $%d", uuidParam(*filters.EmployeeID))
	}
	if filters.StatusID != nil {
		b.add("o.status_id = $%d", uuidParam(*filters.StatusID))
	}
	if filters.StatusKey != "" {
		b.add("s.key = $%d", filters.StatusKey)
	}
	if filters.ProductID != nil {
		b.add(productColumn, uuidParam(*filters.ProductID))
	}
	return b
}

func (r *pgRepository) ListOrderRows(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderRow, error) {
	where := orderConditions(businessID, filters,
		"EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id AND oi.product_id = $%d)")
	rows, err := r.db.Query(ctx, fmt.Sprintf(orderRowsQuery, where.clause()), where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var row OrderRow
		var id, statusID, countryID, carrierID, employeeID pgtype.UUID
		var orderDate pgtype.Date
		var revenue, cogs, shipping, adCost pgtype.Numeric
		if err := rows.Scan(
			&id, &orderDate,
			&statusID, &row.StatusKey, &row.StatusLabel,
			&row.Metrics.CountsAsDelivered, &row.Metrics.CountsAsReturn, &row.Metrics.CountsAsActive, &row.Metrics.IsFinal,
			&countryID, &row.CountryName,
			&carrierID, &row.CarrierName,
			&employeeID, &row.EmployeeName,
			&revenue, &cogs, &shipping, &adCost,
		); err != nil {
			return nil, err
		}
		row.ID = uuid.UUID(id.Bytes)
		row.StatusID = uuid.UUID(statusID.Bytes)
		if orderDate.Valid {
			row.OrderDate = time.Date(orderDate.Time.Year(), orderDate.Time.Month(), orderDate.Time.Day(), 0, 0, 0, 0, time.UTC)
		}
		row.CountryID = nullableUUID(countryID)
		row.CarrierID = nullableUUID(carrierID)
		row.EmployeeID = nullableUUID(employeeID)
		row.Metrics.Revenue = numericToDecimal(revenue)
		row.Metrics.COGS = numericToDecimal(cogs)
		row.Metrics.ShippingCost = numericToDecimal(shipping)
		row.Metrics.AdCost = numericToNullDecimal(adCost)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pgRepository) ListOrderItemRows(ctx context.Context, businessID uuid.UUID, filters Filters) ([]OrderItemRow, error) {
	where := orderConditions(businessID, filters, "l.product_id = $%d")
	rows, err := r.db.Query(ctx, fmt.Sprintf(orderItemRowsQuery, where.clause()), where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItemRow
	for rows.Next() {
		var row OrderItemRow
		var orderID, productID pgtype.UUID
		var revenue, cogs, shipping, adCost pgtype.Numeric
		var quantity, orderQuantity int64
		if err := rows.Scan(
			&orderID, &productID, &row.ProductName,
			&quantity, &revenue, &cogs,
			&orderQuantity,
			&shipping, &adCost,
			&row.CountsAsDelivered, &row.CountsAsReturn, &row.CountsAsActive,
		); err != nil {
			return nil, err
		}
		row.OrderID = uuid.UUID(orderID.Bytes)
		row.ProductID = uuid.UUID(productID.Bytes)
		row.Quantity = int(quantity)
		row.OrderQuantity = int(orderQuantity)
		row.Revenue = numericToDecimal(revenue)
		row.COGS = numericToDecimal(cogs)
		row.OrderShippingCost = numericToDecimal(shipping)
		row.OrderAdCost = numericToNullDecimal(adCost)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveBusinesses lists businesses with orders dated on or after since.
func ActiveBusinesses(ctx context.Context, db dbtx, since time.Time) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `SELECT DISTINCT business_id FROM orders WHERE order_date >= $1 ORDER BY business_id`, dateParam(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id.Valid {
			ids = append(ids, uuid.UUID(id.Bytes))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func uuidParam(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func nullableUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func dateParam(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func numericToNullDecimal(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}

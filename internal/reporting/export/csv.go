// Package export renders report results as CSV with localized headers.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/text/message"

	"github.com/tawseel/tawseel/internal/reporting"
)

// Report bundles every section of a CSV export.
type Report struct {
	DateFrom   string
	DateTo     string
	KPIs       reporting.KPIs
	Series     []reporting.TimeSeriesPoint
	Breakdowns reporting.Breakdowns
	Statuses   []reporting.StatusShare
}

// WriteReport writes every section separated by a blank line.
func WriteReport(w io.Writer, p *message.Printer, report Report) error {
	sections := []func() error{
		func() error { return WriteKPICSV(w, p, report.KPIs, report.DateFrom, report.DateTo) },
		func() error { return WriteTimeSeriesCSV(w, p, report.Series) },
		func() error { return WriteDimensionCSV(w, p, "Country", report.Breakdowns.ByCountry) },
		func() error { return WriteDimensionCSV(w, p, "Carrier", report.Breakdowns.ByCarrier) },
		func() error { return WriteDimensionCSV(w, p, "Employee", report.Breakdowns.ByEmployee) },
		func() error { return WriteProductCSV(w, p, report.Breakdowns.ByProduct) },
		func() error { return WriteStatusCSV(w, p, report.Statuses) },
	}
	for i, section := range sections {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := section(); err != nil {
			return err
		}
	}
	return nil
}

// WriteKPICSV serialises the KPI summary as metric/value rows.
func WriteKPICSV(w io.Writer, p *message.Printer, kpis reporting.KPIs, from, to string) error {
	writer := csv.NewWriter(w)
	records := [][]string{
		{p.Sprintf("Metric"), p.Sprintf("Value")},
		{p.Sprintf("Date from"), from},
		{p.Sprintf("Date to"), to},
		{p.Sprintf("Total orders"), strconv.Itoa(kpis.TotalOrders)},
		{p.Sprintf("Delivered orders"), strconv.Itoa(kpis.DeliveredOrders)},
		{p.Sprintf("Return orders"), strconv.Itoa(kpis.ReturnOrders)},
		{p.Sprintf("Active orders"), strconv.Itoa(kpis.ActiveOrders)},
		{p.Sprintf("Gross sales"), formatAmount(kpis.GrossSales)},
		{p.Sprintf("Total COGS"), formatAmount(kpis.TotalCOGS)},
		{p.Sprintf("Total shipping cost"), formatAmount(kpis.TotalShippingCost)},
		{p.Sprintf("Total ad cost"), formatAmount(kpis.TotalAdCost)},
		{p.Sprintf("Net profit"), formatAmount(kpis.NetProfit)},
		{p.Sprintf("Delivery rate"), formatAmount(kpis.DeliveryRate)},
		{p.Sprintf("Return rate"), formatAmount(kpis.ReturnRate)},
		{p.Sprintf("Average order value"), formatAmount(kpis.AOV)},
		{p.Sprintf("Denominator"), string(kpis.Denominator)},
		{p.Sprintf("Ad cost included"), yesNo(p, kpis.IncludeAdCost)},
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

// WriteTimeSeriesCSV emits one row per day.
func WriteTimeSeriesCSV(w io.Writer, p *message.Printer, points []reporting.TimeSeriesPoint) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{
		p.Sprintf("Date"), p.Sprintf("Total"), p.Sprintf("Delivered"), p.Sprintf("Returned"),
		p.Sprintf("Gross sales"), p.Sprintf("Net profit"),
	}); err != nil {
		return err
	}
	for _, point := range points {
		if err := writer.Write([]string{
			point.Date,
			strconv.Itoa(point.Total),
			strconv.Itoa(point.Delivered),
			strconv.Itoa(point.Returned),
			formatAmount(point.GrossSales),
			formatAmount(point.NetProfit),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDimensionCSV emits a country, carrier or employee breakdown. title is
// the untranslated dimension header.
func WriteDimensionCSV(w io.Writer, p *message.Printer, title string, rows []reporting.DimensionBreakdown) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{
		p.Sprintf(title), p.Sprintf("Total"), p.Sprintf("Delivered"), p.Sprintf("Returned"), p.Sprintf("Active"),
		p.Sprintf("Gross sales"), p.Sprintf("Net profit"), p.Sprintf("Delivery rate"),
	}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.Name,
			strconv.Itoa(row.Total),
			strconv.Itoa(row.Delivered),
			strconv.Itoa(row.Returned),
			strconv.Itoa(row.Active),
			formatAmount(row.GrossSales),
			formatAmount(row.NetProfit),
			formatAmount(row.DeliveryRate),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteProductCSV emits the product breakdown.
func WriteProductCSV(w io.Writer, p *message.Printer, rows []reporting.ProductBreakdown) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{
		p.Sprintf("Product"), p.Sprintf("Quantity"), p.Sprintf("Delivered quantity"), p.Sprintf("Returned quantity"),
		p.Sprintf("Revenue"), p.Sprintf("Profit"), p.Sprintf("Delivery rate"),
	}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.Name,
			strconv.Itoa(row.Quantity),
			strconv.Itoa(row.DeliveredQuantity),
			strconv.Itoa(row.ReturnedQuantity),
			formatAmount(row.Revenue),
			formatAmount(row.Profit),
			formatAmount(row.DeliveryRate),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteStatusCSV emits the status distribution.
func WriteStatusCSV(w io.Writer, p *message.Printer, shares []reporting.StatusShare) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{p.Sprintf("Status"), p.Sprintf("Label"), p.Sprintf("Count"), p.Sprintf("Share")}); err != nil {
		return err
	}
	for _, share := range shares {
		if err := writer.Write([]string{
			share.StatusKey,
			share.Label,
			strconv.Itoa(share.Count),
			formatAmount(share.Percentage),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func yesNo(p *message.Printer, v bool) string {
	if v {
		return p.Sprintf("Yes")
	}
	return p.Sprintf("No")
}

// Package finance normalizes raw filing histories into a fixed-shape,
// currency-formatted record set and derives burn-rate and runway metrics
// from the most recent year. Everything here is a pure function: same
// inputs, same outputs, no I/O.
package finance

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
)

// NotAvailable is the display token used wherever a raw value is absent.
const NotAvailable = "N/A"

// DefaultYears is the number of annual records returned when the caller
// does not specify a history depth.
const DefaultYears = 5

var printer = message.NewPrinter(language.AmericanEnglish)

// RawValues carries the nullable numeric twins of a YearRecord's formatted
// fields. Nil means the source did not report the figure; it is never
// collapsed to zero.
type RawValues struct {
	Revenue     *int64 `json:"revenue"`
	Expenses    *int64 `json:"expenses"`
	NetIncome   *int64 `json:"netIncome"`
	TotalAssets *int64 `json:"totalAssets"`
	NetAssets   *int64 `json:"netAssets"`
}

// YearRecord is one normalized annual record. Each formatted string is
// derived solely from its raw twin: nil raw if and only if "N/A" formatted.
// Liabilities are not reported by the disclosure extract, so the field is
// always the not-available token.
type YearRecord struct {
	Year        int       `json:"year"`
	Revenue     string    `json:"revenue"`
	Expenses    string    `json:"expenses"`
	NetIncome   string    `json:"netIncome"`
	Assets      string    `json:"assets"`
	NetAssets   string    `json:"netAssets"`
	Liabilities string    `json:"liabilities"`
	Raw         RawValues `json:"raw"`
}

// DerivedMetrics holds burn rate and runway computed from the first (most
// recent) year only. Raw fields are nil when the metric is not computable;
// display fields then carry an explicit token instead of a number.
type DerivedMetrics struct {
	MonthlyBurn        *int64 `json:"monthly_burn_raw"`
	MonthlyBurnDisplay string `json:"monthly_burn"`
	RunwayMonths       *int64 `json:"runway_months_raw"`
	RunwayDisplay      string `json:"runway"`
}

// FormatCurrency renders a nullable amount as localized whole-dollar
// currency, sign before the symbol ("-$1,234,567"). Nil formats as "N/A".
func FormatCurrency(v *int64) string {
	if v == nil {
		return NotAvailable
	}
	if *v < 0 {
		return printer.Sprintf("-$%d", -*v)
	}
	return printer.Sprintf("$%d", *v)
}

// Normalize converts a filing history into YearRecords, preserving input
// order (the source already delivers most recent first; no re-sort) and
// truncating to at most years entries (DefaultYears when years <= 0).
// Net income is computed as revenue minus expenses when both are present.
// An empty history yields an empty slice and not-computable metrics; it
// never fails.
func Normalize(history []filings.Filing, years int) ([]YearRecord, DerivedMetrics) {
	if years <= 0 {
		years = DefaultYears
	}
	if len(history) > years {
		history = history[:years]
	}

	records := make([]YearRecord, 0, len(history))
	for _, f := range history {
		records = append(records, normalizeYear(f))
	}
	return records, deriveMetrics(records)
}

func normalizeYear(f filings.Filing) YearRecord {
	var netIncome *int64
	if f.TotalRevenue != nil && f.TotalExpenses != nil {
		ni := *f.TotalRevenue - *f.TotalExpenses
		netIncome = &ni
	}

	return YearRecord{
		Year:        f.Year,
		Revenue:     FormatCurrency(f.TotalRevenue),
		Expenses:    FormatCurrency(f.TotalExpenses),
		NetIncome:   FormatCurrency(netIncome),
		Assets:      FormatCurrency(f.TotalAssets),
		NetAssets:   FormatCurrency(f.NetAssets),
		Liabilities: NotAvailable,
		Raw: RawValues{
			Revenue:     f.TotalRevenue,
			Expenses:    f.TotalExpenses,
			NetIncome:   netIncome,
			TotalAssets: f.TotalAssets,
			NetAssets:   f.NetAssets,
		},
	}
}

// deriveMetrics computes burn and runway from the first record only;
// earlier years never enter the calculation.
func deriveMetrics(records []YearRecord) DerivedMetrics {
	metrics := DerivedMetrics{
		MonthlyBurnDisplay: "not computable",
		RunwayDisplay:      "N/A (no net assets data)",
	}
	if len(records) == 0 {
		return metrics
	}

	latest := records[0].Raw
	if latest.Expenses == nil || *latest.Expenses <= 0 {
		return metrics
	}
	burn := int64(math.Round(float64(*latest.Expenses) / 12))
	metrics.MonthlyBurn = &burn
	metrics.MonthlyBurnDisplay = FormatCurrency(&burn) + "/month"

	if latest.NetAssets == nil || *latest.NetAssets <= 0 || burn == 0 {
		return metrics
	}
	runway := int64(math.Round(float64(*latest.NetAssets) / float64(burn)))
	metrics.RunwayMonths = &runway
	metrics.RunwayDisplay = printer.Sprintf("%d months", runway)
	return metrics
}

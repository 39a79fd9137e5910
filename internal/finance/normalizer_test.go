package finance

import (
	"testing"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
)

func i64(v int64) *int64 { return &v }

// ---------------------------------------------------------------------------
// FormatCurrency
// ---------------------------------------------------------------------------

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		name string
		in   *int64
		want string
	}{
		{"nil", nil, "N/A"},
		{"zero", i64(0), "$0"},
		{"small", i64(42), "$42"},
		{"thousands grouping", i64(1234567), "$1,234,567"},
		{"negative sign before symbol", i64(-1234567), "-$1,234,567"},
		{"negative small", i64(-5), "-$5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCurrency(tt.in); got != tt.want {
				t.Errorf("FormatCurrency() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Normalize
// ---------------------------------------------------------------------------

func TestNormalize_FormattedMatchesRaw(t *testing.T) {
	history := []filings.Filing{
		{Year: 2023, TotalRevenue: i64(1000000), TotalExpenses: i64(900000), TotalAssets: i64(2500000), NetAssets: i64(300000)},
		{Year: 2022, TotalRevenue: i64(950000), TotalExpenses: nil, TotalAssets: nil, NetAssets: i64(-12000)},
		{Year: 2021},
	}

	records, _ := Normalize(history, 5)
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	// Formatted value is "N/A" if and only if the raw twin is nil.
	checks := []struct {
		name      string
		formatted string
		raw       *int64
	}{
		{"2023 revenue", records[0].Revenue, records[0].Raw.Revenue},
		{"2023 expenses", records[0].Expenses, records[0].Raw.Expenses},
		{"2023 net income", records[0].NetIncome, records[0].Raw.NetIncome},
		{"2022 expenses", records[1].Expenses, records[1].Raw.Expenses},
		{"2022 assets", records[1].Assets, records[1].Raw.TotalAssets},
		{"2022 net assets", records[1].NetAssets, records[1].Raw.NetAssets},
		{"2021 revenue", records[2].Revenue, records[2].Raw.Revenue},
		{"2021 net income", records[2].NetIncome, records[2].Raw.NetIncome},
	}
	for _, c := range checks {
		isNA := c.formatted == NotAvailable
		if isNA != (c.raw == nil) {
			t.Errorf("%s: formatted %q, raw %v — formatted must be N/A exactly when raw is nil", c.name, c.formatted, c.raw)
		}
	}

	if records[0].Revenue != "$1,000,000" {
		t.Errorf("2023 revenue = %q, want $1,000,000", records[0].Revenue)
	}
	if records[0].NetIncome != "$100,000" {
		t.Errorf("2023 net income = %q, want $100,000", records[0].NetIncome)
	}
	if records[1].NetAssets != "-$12,000" {
		t.Errorf("2022 net assets = %q, want -$12,000", records[1].NetAssets)
	}
	// Net income requires both revenue and expenses.
	if records[1].NetIncome != NotAvailable {
		t.Errorf("2022 net income = %q, want N/A (expenses absent)", records[1].NetIncome)
	}
	// Liabilities are never reported by the extract.
	for i, rec := range records {
		if rec.Liabilities != NotAvailable {
			t.Errorf("records[%d].Liabilities = %q, want N/A", i, rec.Liabilities)
		}
	}
}

func TestNormalize_PreservesOrderAndTruncates(t *testing.T) {
	history := []filings.Filing{
		{Year: 2023}, {Year: 2022}, {Year: 2021}, {Year: 2020}, {Year: 2019}, {Year: 2018}, {Year: 2017},
	}
	records, _ := Normalize(history, 5)
	if len(records) != 5 {
		t.Fatalf("len(records) = %d, want 5", len(records))
	}
	for i, wantYear := range []int{2023, 2022, 2021, 2020, 2019} {
		if records[i].Year != wantYear {
			t.Errorf("records[%d].Year = %d, want %d (input order must be preserved)", i, records[i].Year, wantYear)
		}
	}
}

func TestNormalize_DefaultYears(t *testing.T) {
	history := make([]filings.Filing, 8)
	for i := range history {
		history[i] = filings.Filing{Year: 2023 - i}
	}
	records, _ := Normalize(history, 0)
	if len(records) != DefaultYears {
		t.Errorf("len(records) = %d, want %d", len(records), DefaultYears)
	}
}

func TestNormalize_EmptyHistory(t *testing.T) {
	records, metrics := Normalize(nil, 5)
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
	if metrics.MonthlyBurn != nil {
		t.Errorf("MonthlyBurn = %v, want nil", metrics.MonthlyBurn)
	}
	if metrics.MonthlyBurnDisplay != "not computable" {
		t.Errorf("MonthlyBurnDisplay = %q, want %q", metrics.MonthlyBurnDisplay, "not computable")
	}
	if metrics.RunwayDisplay != "N/A (no net assets data)" {
		t.Errorf("RunwayDisplay = %q", metrics.RunwayDisplay)
	}
}

// ---------------------------------------------------------------------------
// Derived metrics
// ---------------------------------------------------------------------------

func TestDeriveMetrics_HartfordScenario(t *testing.T) {
	// Most recent year: revenue 1,000,000, expenses 900,000, net assets 300,000.
	history := []filings.Filing{
		{Year: 2023, TotalRevenue: i64(1000000), TotalExpenses: i64(900000), NetAssets: i64(300000)},
		{Year: 2022, TotalRevenue: i64(950000), TotalExpenses: i64(880000), NetAssets: i64(280000)},
	}

	_, metrics := Normalize(history, 5)

	if metrics.MonthlyBurn == nil || *metrics.MonthlyBurn != 75000 {
		t.Fatalf("MonthlyBurn = %v, want 75000", metrics.MonthlyBurn)
	}
	if metrics.MonthlyBurnDisplay != "$75,000/month" {
		t.Errorf("MonthlyBurnDisplay = %q, want $75,000/month", metrics.MonthlyBurnDisplay)
	}
	if metrics.RunwayMonths == nil || *metrics.RunwayMonths != 4 {
		t.Fatalf("RunwayMonths = %v, want 4", metrics.RunwayMonths)
	}
	if metrics.RunwayDisplay != "4 months" {
		t.Errorf("RunwayDisplay = %q, want %q", metrics.RunwayDisplay, "4 months")
	}
}

func TestDeriveMetrics_OnlyMostRecentYearCounts(t *testing.T) {
	// Older years have wildly different figures; they must not influence
	// the metrics.
	history := []filings.Filing{
		{Year: 2023, TotalRevenue: i64(1000000), TotalExpenses: i64(120000), NetAssets: i64(100000)},
		{Year: 2022, TotalRevenue: i64(99), TotalExpenses: i64(99000000), NetAssets: i64(1)},
	}
	_, metrics := Normalize(history, 5)
	if metrics.MonthlyBurn == nil || *metrics.MonthlyBurn != 10000 {
		t.Errorf("MonthlyBurn = %v, want 10000 (first year only)", metrics.MonthlyBurn)
	}
	if metrics.RunwayMonths == nil || *metrics.RunwayMonths != 10 {
		t.Errorf("RunwayMonths = %v, want 10", metrics.RunwayMonths)
	}
}

func TestDeriveMetrics_NotComputableCases(t *testing.T) {
	tests := []struct {
		name       string
		latest     filings.Filing
		wantBurn   bool
		wantRunway bool
	}{
		{"no expenses", filings.Filing{Year: 2023, TotalRevenue: i64(500000), NetAssets: i64(100000)}, false, false},
		{"zero expenses", filings.Filing{Year: 2023, TotalExpenses: i64(0), NetAssets: i64(100000)}, false, false},
		{"negative expenses", filings.Filing{Year: 2023, TotalExpenses: i64(-5000)}, false, false},
		{"burn but no net assets", filings.Filing{Year: 2023, TotalExpenses: i64(120000)}, true, false},
		{"burn but negative net assets", filings.Filing{Year: 2023, TotalExpenses: i64(120000), NetAssets: i64(-40000)}, true, false},
		{"burn but zero net assets", filings.Filing{Year: 2023, TotalExpenses: i64(120000), NetAssets: i64(0)}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, metrics := Normalize([]filings.Filing{tt.latest}, 5)
			if (metrics.MonthlyBurn != nil) != tt.wantBurn {
				t.Errorf("MonthlyBurn = %v, want present=%v", metrics.MonthlyBurn, tt.wantBurn)
			}
			if (metrics.RunwayMonths != nil) != tt.wantRunway {
				t.Errorf("RunwayMonths = %v, want present=%v", metrics.RunwayMonths, tt.wantRunway)
			}
			if !tt.wantBurn && metrics.MonthlyBurnDisplay != "not computable" {
				t.Errorf("MonthlyBurnDisplay = %q, want %q", metrics.MonthlyBurnDisplay, "not computable")
			}
			if !tt.wantRunway && metrics.RunwayDisplay != "N/A (no net assets data)" {
				t.Errorf("RunwayDisplay = %q, want %q", metrics.RunwayDisplay, "N/A (no net assets data)")
			}
		})
	}
}

func TestDeriveMetrics_RoundsToNearest(t *testing.T) {
	// 100,000 / 12 = 8,333.33... → 8,333
	history := []filings.Filing{{Year: 2023, TotalExpenses: i64(100000), NetAssets: i64(25000)}}
	_, metrics := Normalize(history, 5)
	if metrics.MonthlyBurn == nil || *metrics.MonthlyBurn != 8333 {
		t.Fatalf("MonthlyBurn = %v, want 8333", metrics.MonthlyBurn)
	}
	// 25,000 / 8,333 = 3.0001 → 3
	if metrics.RunwayMonths == nil || *metrics.RunwayMonths != 3 {
		t.Errorf("RunwayMonths = %v, want 3", metrics.RunwayMonths)
	}
}

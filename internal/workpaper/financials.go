package workpaper

// FinancialMetrics groups the ratios computed upstream. A nil pointer means
// the ratio could not be computed; the reason is in MetricsNotes.
type FinancialMetrics struct {
	Profitability Profitability `json:"profitability"`
	Liquidity     Liquidity     `json:"liquidity"`
	Leverage      Leverage      `json:"leverage"`
	Efficiency    Efficiency    `json:"efficiency"`
	Valuation     Valuation     `json:"valuation"`
}

type Profitability struct {
	ROE             *float64 `json:"roe"`
	ROA             *float64 `json:"roa"`
	GrossMargin     *float64 `json:"gross_margin"`
	OperatingMargin *float64 `json:"operating_margin"`
	NetMargin       *float64 `json:"net_margin"`
}

type Liquidity struct {
	CurrentRatio *float64 `json:"current_ratio"`
	QuickRatio   *float64 `json:"quick_ratio"`
	CashRatio    *float64 `json:"cash_ratio"`
}

type Leverage struct {
	DebtToEquity        *float64 `json:"debt_to_equity"`
	InterestCoverage    *float64 `json:"interest_coverage"`
	DebtServiceCoverage *float64 `json:"debt_service_coverage"`
}

type Efficiency struct {
	AssetTurnover        *float64 `json:"asset_turnover"`
	InventoryTurnover    *float64 `json:"inventory_turnover"`
	ReceivablesTurnover  *float64 `json:"receivables_turnover"`
	DaysSalesOutstanding *float64 `json:"days_sales_outstanding"`
}

type Valuation struct {
	EPS               *float64 `json:"eps"`
	PERatio           *float64 `json:"pe_ratio"`
	BookValuePerShare *float64 `json:"book_value_per_share"`
	PBRatio           *float64 `json:"pb_ratio"`
	PSRatio           *float64 `json:"ps_ratio"`
	EVToEBITDA        *float64 `json:"ev_to_ebitda"`
	PEGRatio          *float64 `json:"peg_ratio"`
}

// Available counts the ratios that carry a value.
func (m FinancialMetrics) Available() int {
	n := 0
	for _, v := range []*float64{
		m.Profitability.ROE, m.Profitability.ROA, m.Profitability.GrossMargin,
		m.Profitability.OperatingMargin, m.Profitability.NetMargin,
		m.Liquidity.CurrentRatio, m.Liquidity.QuickRatio, m.Liquidity.CashRatio,
		m.Leverage.DebtToEquity, m.Leverage.InterestCoverage, m.Leverage.DebtServiceCoverage,
		m.Efficiency.AssetTurnover, m.Efficiency.InventoryTurnover,
		m.Efficiency.ReceivablesTurnover, m.Efficiency.DaysSalesOutstanding,
		m.Valuation.EPS, m.Valuation.PERatio, m.Valuation.BookValuePerShare,
		m.Valuation.PBRatio, m.Valuation.PSRatio, m.Valuation.EVToEBITDA, m.Valuation.PEGRatio,
	} {
		if v != nil {
			n++
		}
	}
	return n
}

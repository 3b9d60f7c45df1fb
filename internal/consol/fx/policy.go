package fx

import "github.com/odyssey-erp/glbridge/internal/ledger"

// Policy describes which exchange rate each statement is translated at.
type Policy struct {
	ProfitLossMethod   Method
	BalanceSheetMethod Method
}

// Method enumerates supported FX conversion methods.
type Method string

const (
	// MethodAverage translates each transaction at the rate of its own
	// posting period.
	MethodAverage Method = "AVERAGE"
	// MethodClosing translates all contributing history at the rate of the
	// reporting period.
	MethodClosing Method = "CLOSING"
	// MethodNone leaves amounts in the recorded currency.
	MethodNone Method = "NONE"
)

// DefaultPolicy returns the flow/stock split used by consolidated reports.
func DefaultPolicy() Policy {
	return Policy{
		ProfitLossMethod:   MethodAverage,
		BalanceSheetMethod: MethodClosing,
	}
}

// MethodFor returns the method applied to a classification.
func (p Policy) MethodFor(c ledger.Classification) Method {
	m := p.BalanceSheetMethod
	if c == ledger.IncomeStatement {
		m = p.ProfitLossMethod
	}
	if m == "" {
		return DefaultPolicy().MethodFor(c)
	}
	return m
}

// ParseMethod maps a configuration value onto a Method.
func ParseMethod(raw string) (Method, bool) {
	switch Method(raw) {
	case MethodAverage, MethodClosing, MethodNone:
		return Method(raw), true
	}
	return "", false
}

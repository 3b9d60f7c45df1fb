package ledger

import "strings"

// AccountType is the ERP-defined account type code (Account.accttype).
type AccountType string

// Account type codes as reported by the ledger.
const (
	TypeBank             AccountType = "Bank"
	TypeAcctRec          AccountType = "AcctRec"
	TypeOthCurrAsset     AccountType = "OthCurrAsset"
	TypeFixedAsset       AccountType = "FixedAsset"
	TypeOthAsset         AccountType = "OthAsset"
	TypeDeferExpense     AccountType = "DeferExpense"
	TypeUnbilledRec      AccountType = "UnbilledRec"
	TypeAcctPay          AccountType = "AcctPay"
	TypeCredCard         AccountType = "CredCard"
	TypeOthCurrLiab      AccountType = "OthCurrLiab"
	TypeLongTermLiab     AccountType = "LongTermLiab"
	TypeDeferRevenue     AccountType = "DeferRevenue"
	TypeEquity           AccountType = "Equity"
	TypeRetainedEarnings AccountType = "RetainedEarnings"
	TypeIncome           AccountType = "Income"
	TypeOthIncome        AccountType = "OthIncome"
	TypeCOGS             AccountType = "COGS"
	TypeExpense          AccountType = "Expense"
	TypeOthExpense       AccountType = "OthExpense"
	TypeNonPosting       AccountType = "NonPosting"
	TypeStat             AccountType = "Stat"
)

// Classification splits accounts by temporal semantics.
type Classification int

const (
	// BalanceSheet accounts report cumulative balances since inception.
	BalanceSheet Classification = iota
	// IncomeStatement accounts report activity within a period.
	IncomeStatement
)

func (c Classification) String() string {
	if c == IncomeStatement {
		return "income_statement"
	}
	return "balance_sheet"
}

// Family groups account types for sign handling and equity totals.
type Family string

const (
	FamilyAsset     Family = "asset"
	FamilyLiability Family = "liability"
	FamilyEquity    Family = "equity"
	FamilyIncome    Family = "income"
	FamilyExpense   Family = "expense"
	FamilyOther     Family = "other"
)

// SignConvention tells whether stored amounts must be negated for display.
type SignConvention int

const (
	Natural SignConvention = iota
	Flipped
)

var families = map[AccountType]Family{
	TypeBank:             FamilyAsset,
	TypeAcctRec:          FamilyAsset,
	TypeOthCurrAsset:     FamilyAsset,
	TypeFixedAsset:       FamilyAsset,
	TypeOthAsset:         FamilyAsset,
	TypeDeferExpense:     FamilyAsset,
	TypeUnbilledRec:      FamilyAsset,
	TypeAcctPay:          FamilyLiability,
	TypeCredCard:         FamilyLiability,
	TypeOthCurrLiab:      FamilyLiability,
	TypeLongTermLiab:     FamilyLiability,
	TypeDeferRevenue:     FamilyLiability,
	TypeEquity:           FamilyEquity,
	TypeRetainedEarnings: FamilyEquity,
	TypeIncome:           FamilyIncome,
	TypeOthIncome:        FamilyIncome,
	TypeCOGS:             FamilyExpense,
	TypeExpense:          FamilyExpense,
	TypeOthExpense:       FamilyExpense,
	TypeNonPosting:       FamilyOther,
	TypeStat:             FamilyOther,
}

var aliases = map[string]AccountType{
	"bank":                      TypeBank,
	"accounts receivable":       TypeAcctRec,
	"other current asset":       TypeOthCurrAsset,
	"fixed asset":               TypeFixedAsset,
	"other asset":               TypeOthAsset,
	"deferred expense":          TypeDeferExpense,
	"unbilled receivable":       TypeUnbilledRec,
	"accounts payable":          TypeAcctPay,
	"credit card":               TypeCredCard,
	"other current liability":   TypeOthCurrLiab,
	"long term liability":       TypeLongTermLiab,
	"deferred revenue":          TypeDeferRevenue,
	"equity":                    TypeEquity,
	"retained earnings":         TypeRetainedEarnings,
	"income":                    TypeIncome,
	"other income":              TypeOthIncome,
	"cost of goods sold":        TypeCOGS,
	"expense":                   TypeExpense,
	"other expense":             TypeOthExpense,
	"non posting":               TypeNonPosting,
	"statistical":               TypeStat,
	"liability":                 TypeOthCurrLiab,
	"other current liabilities": TypeOthCurrLiab,
}

// ParseAccountType maps a raw type code or display label onto a known type.
// The second result is false for codes this package does not know.
func ParseAccountType(raw string) (AccountType, bool) {
	trimmed := strings.TrimSpace(raw)
	if _, ok := families[AccountType(trimmed)]; ok {
		return AccountType(trimmed), true
	}
	key := strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(trimmed, "-", " ")), " "))
	if t, ok := aliases[key]; ok {
		return t, true
	}
	for t := range families {
		if strings.EqualFold(string(t), trimmed) {
			return t, true
		}
	}
	return AccountType(trimmed), false
}

// Known reports whether t is one of the listed type codes.
func (t AccountType) Known() bool {
	_, ok := families[t]
	return ok
}

// Classify maps an account type onto its classification. Any type outside the
// income statement set is treated as a balance sheet account.
func Classify(t AccountType) Classification {
	switch t {
	case TypeIncome, TypeOthIncome, TypeCOGS, TypeExpense, TypeOthExpense:
		return IncomeStatement
	default:
		return BalanceSheet
	}
}

// FamilyOf returns the family for t, FamilyOther when unknown.
func FamilyOf(t AccountType) Family {
	if f, ok := families[t]; ok {
		return f
	}
	return FamilyOther
}

// SignFlip reports whether amounts of type t are credit-normal and must be
// negated to present as conventional positive values.
func SignFlip(t AccountType) bool {
	switch FamilyOf(t) {
	case FamilyLiability, FamilyEquity, FamilyIncome:
		return true
	default:
		return false
	}
}

// Convention returns the sign convention for t.
func Convention(t AccountType) SignConvention {
	if SignFlip(t) {
		return Flipped
	}
	return Natural
}

// TypesOf lists every known type belonging to one of the given families,
// in a stable order.
func TypesOf(fams ...Family) []AccountType {
	want := make(map[Family]struct{}, len(fams))
	for _, f := range fams {
		want[f] = struct{}{}
	}
	out := make([]AccountType, 0, len(families))
	for _, t := range orderedTypes {
		if _, ok := want[families[t]]; ok {
			out = append(out, t)
		}
	}
	return out
}

// IncomeStatementTypes lists the closed income statement set.
func IncomeStatementTypes() []AccountType {
	return []AccountType{TypeIncome, TypeOthIncome, TypeCOGS, TypeExpense, TypeOthExpense}
}

// BalanceSheetTypes lists every known type that is not an income statement type.
func BalanceSheetTypes() []AccountType {
	out := make([]AccountType, 0, len(orderedTypes))
	for _, t := range orderedTypes {
		if Classify(t) == BalanceSheet {
			out = append(out, t)
		}
	}
	return out
}

// FlippedTypes lists every known type whose sign must be flipped.
func FlippedTypes() []AccountType {
	out := make([]AccountType, 0, len(orderedTypes))
	for _, t := range orderedTypes {
		if SignFlip(t) {
			out = append(out, t)
		}
	}
	return out
}

var orderedTypes = []AccountType{
	TypeBank, TypeAcctRec, TypeOthCurrAsset, TypeFixedAsset, TypeOthAsset, TypeDeferExpense, TypeUnbilledRec,
	TypeAcctPay, TypeCredCard, TypeOthCurrLiab, TypeLongTermLiab, TypeDeferRevenue,
	TypeEquity, TypeRetainedEarnings,
	TypeIncome, TypeOthIncome, TypeCOGS, TypeExpense, TypeOthExpense,
	TypeNonPosting, TypeStat,
}

// Account is a ledger account keyed by its external number.
type Account struct {
	Number   string
	Name     string
	FullName string
	Type     AccountType
}

// Classification derives the account classification from its type.
func (a Account) Classification() Classification {
	return Classify(a.Type)
}

// SignConvention derives the display sign convention from its type.
func (a Account) SignConvention() SignConvention {
	return Convention(a.Type)
}

// IsRetainedEarnings reports whether the account is typed or named as
// retained earnings.
func (a Account) IsRetainedEarnings() bool {
	if a.Type == TypeRetainedEarnings {
		return true
	}
	name := strings.ToLower(a.FullName)
	if name == "" {
		name = strings.ToLower(a.Name)
	}
	return strings.Contains(name, RetainedEarningsName)
}

// RetainedEarningsName is the lower-cased name fragment identifying retained
// earnings accounts posted as plain equity.
const RetainedEarningsName = "retained earnings"

package ledger

import (
	"testing"
	"time"
)

func TestClassifyIsTotal(t *testing.T) {
	incomeStatement := map[AccountType]bool{
		TypeIncome: true, TypeOthIncome: true, TypeCOGS: true, TypeExpense: true, TypeOthExpense: true,
	}
	for _, typ := range orderedTypes {
		got := Classify(typ)
		if got != IncomeStatement && got != BalanceSheet {
			t.Fatalf("type %s mapped to unknown classification %d", typ, got)
		}
		if want := incomeStatement[typ]; want != (got == IncomeStatement) {
			t.Fatalf("type %s classified as %s", typ, got)
		}
		if Classify(typ) != got {
			t.Fatalf("classification of %s is not stable", typ)
		}
	}
}

func TestClassifyUnknownDefaultsToBalanceSheet(t *testing.T) {
	for _, raw := range []string{"", "CryptoAsset", "income ", "LeaseLiab"} {
		if got := Classify(AccountType(raw)); got != BalanceSheet {
			t.Fatalf("expected %q to default to balance sheet, got %s", raw, got)
		}
	}
}

func TestSignFlip(t *testing.T) {
	cases := map[AccountType]bool{
		TypeBank:             false,
		TypeAcctRec:          false,
		TypeFixedAsset:       false,
		TypeAcctPay:          true,
		TypeCredCard:         true,
		TypeOthCurrLiab:      true,
		TypeLongTermLiab:     true,
		TypeDeferRevenue:     true,
		TypeEquity:           true,
		TypeRetainedEarnings: true,
		TypeIncome:           true,
		TypeOthIncome:        true,
		TypeCOGS:             false,
		TypeExpense:          false,
		TypeOthExpense:       false,
		TypeStat:             false,
	}
	for typ, want := range cases {
		if got := SignFlip(typ); got != want {
			t.Fatalf("SignFlip(%s) = %v want %v", typ, got, want)
		}
	}
	if Convention(TypeIncome) != Flipped || Convention(TypeBank) != Natural {
		t.Fatalf("unexpected sign conventions")
	}
}

func TestParseAccountTypeAliases(t *testing.T) {
	cases := map[string]AccountType{
		"Income":                  TypeIncome,
		"Other Income":            TypeOthIncome,
		"OthIncome":               TypeOthIncome,
		"cost of goods sold":      TypeCOGS,
		" Long-Term Liability ":   TypeLongTermLiab,
		"othcurrliab":             TypeOthCurrLiab,
		"Other Current Liability": TypeOthCurrLiab,
	}
	for raw, want := range cases {
		got, ok := ParseAccountType(raw)
		if !ok || got != want {
			t.Fatalf("ParseAccountType(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseAccountType("Unheard Of"); ok {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestTypeListsPartitionKnownTypes(t *testing.T) {
	seen := make(map[AccountType]int)
	for _, typ := range IncomeStatementTypes() {
		seen[typ]++
	}
	for _, typ := range BalanceSheetTypes() {
		seen[typ]++
	}
	if len(seen) != len(orderedTypes) {
		t.Fatalf("expected %d types, got %d", len(orderedTypes), len(seen))
	}
	for typ, n := range seen {
		if n != 1 {
			t.Fatalf("type %s listed %d times", typ, n)
		}
	}
	assets := TypesOf(FamilyAsset)
	if len(assets) != 7 || assets[0] != TypeBank {
		t.Fatalf("unexpected asset types %v", assets)
	}
}

func TestAccountIsRetainedEarnings(t *testing.T) {
	if !(Account{Type: TypeRetainedEarnings}).IsRetainedEarnings() {
		t.Fatalf("typed retained earnings not detected")
	}
	if !(Account{Type: TypeEquity, FullName: "Equity : Retained Earnings"}).IsRetainedEarnings() {
		t.Fatalf("named retained earnings not detected")
	}
	if (Account{Type: TypeEquity, Name: "Common Stock"}).IsRetainedEarnings() {
		t.Fatalf("common stock flagged as retained earnings")
	}
}

func TestSynthesisePeriod(t *testing.T) {
	p, err := SynthesisePeriod("Feb 2024")
	if err != nil {
		t.Fatalf("SynthesisePeriod: %v", err)
	}
	if !p.Synthesised() {
		t.Fatalf("expected nil id")
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !p.EndDate.Equal(want) {
		t.Fatalf("expected end %s got %s", want, p.EndDate)
	}
	if want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC); !p.StartDate.Equal(want) {
		t.Fatalf("expected start %s got %s", want, p.StartDate)
	}
	if _, err := SynthesisePeriod("Q1 2024"); err == nil {
		t.Fatalf("expected quarter label to be rejected")
	}
}

func TestFiltersHash(t *testing.T) {
	a := Filters{}.With(DimSubsidiary, 3).With(DimDepartment, 13)
	b := Filters{}.With(DimDepartment, 13).With(DimSubsidiary, 3)
	if a.Hash(1) != b.Hash(1) {
		t.Fatalf("expected equal hashes, got %s and %s", a.Hash(1), b.Hash(1))
	}
	if a.Hash(1) == a.Hash(2) {
		t.Fatalf("book must partition the hash")
	}
	if a.Hash(1) == (Filters{}).With(DimSubsidiary, 3).Hash(1) {
		t.Fatalf("department must partition the hash")
	}
	if !a.HasSegments() || (Filters{}).With(DimSubsidiary, 1).HasSegments() {
		t.Fatalf("unexpected HasSegments result")
	}
}

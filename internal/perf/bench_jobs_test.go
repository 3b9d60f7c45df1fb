package perf

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/ledger"
)

func grid(accounts, months int) ([]string, []ledger.Period, consol.Balances) {
	numbers := make([]string, accounts)
	for i := range numbers {
		numbers[i] = fmt.Sprintf("%d", 1000+i)
	}
	periods := make([]ledger.Period, months)
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for m := range periods {
		s := start.AddDate(0, m, 0)
		periods[m] = ledger.Period{Name: s.Format("Jan 2006"), StartDate: s, EndDate: s.AddDate(0, 1, -1)}
	}
	activity := make(consol.Balances, accounts)
	for i, n := range numbers {
		row := make(map[string]decimal.Decimal, months)
		for m, p := range periods {
			row[p.Name] = decimal.NewFromInt(int64((i + 1) * (m + 1))).Div(decimal.NewFromInt(7))
		}
		activity[n] = row
	}
	return numbers, periods, activity
}

func BenchmarkFoldTwelveMonths(b *testing.B) {
	accounts, periods, activity := grid(200, 12)
	opening := make(map[string]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		opening[a] = decimal.NewFromInt(1000)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = consol.Fold(accounts, periods, opening, activity)
	}
}

func BenchmarkBalanceCacheGetBatch(b *testing.B) {
	accounts, periods, activity := grid(200, 12)
	names := make([]string, len(periods))
	for i, p := range periods {
		names[i] = p.Name
	}
	layer := cache.New(cache.Options{})
	layer.Balances.Replace("p", activity)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := layer.Balances.GetBatch("p", accounts, names); !ok {
			b.Fatal("expected a full hit")
		}
	}
}

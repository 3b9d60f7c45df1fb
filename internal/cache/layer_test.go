package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestBalanceBatchIsAllOrNothing(t *testing.T) {
	layer := New(Options{})
	layer.Balances.Replace("F", map[string]map[string]decimal.Decimal{
		"A": {"P1": dec("1"), "P2": dec("2")},
		"B": {"P1": dec("3"), "P2": dec("4")},
	})

	got, ok := layer.Balances.GetBatch("F", []string{"A", "B"}, []string{"P1", "P2"})
	if !ok || !got["B"]["P2"].Equal(dec("4")) {
		t.Fatalf("expected full hit, got %v %v", got, ok)
	}
	if got, ok := layer.Balances.GetBatch("F", []string{"A", "C"}, []string{"P1", "P2"}); ok || got != nil {
		t.Fatalf("partial coverage must miss, got %v", got)
	}
	if _, ok := layer.Balances.GetBatch("G", []string{"A"}, []string{"P1"}); ok {
		t.Fatalf("other partition must miss")
	}
	if _, ok := layer.Balances.GetBatch("F", nil, []string{"P1"}); ok {
		t.Fatalf("empty batch must miss")
	}
}

func TestBalanceReplaceDropsEveryPartition(t *testing.T) {
	layer := New(Options{})
	layer.Balances.Put("F", "A", "P1", dec("1"))
	layer.Balances.Put("G", "A", "P1", dec("2"))
	layer.Balances.Replace("F", map[string]map[string]decimal.Decimal{"B": {"P1": dec("5")}})

	if _, ok := layer.Balances.Get("F", "A", "P1"); ok {
		t.Fatalf("replaced cache must not keep old entries of the same partition")
	}
	if _, ok := layer.Balances.Get("G", "A", "P1"); ok {
		t.Fatalf("replaced cache must not keep other partitions")
	}
	if v, ok := layer.Balances.Get("F", "B", "P1"); !ok || !v.Equal(dec("5")) {
		t.Fatalf("expected new entry, got %s %v", v, ok)
	}
	if layer.Balances.Len() != 1 {
		t.Fatalf("expected one entry, got %d", layer.Balances.Len())
	}
}

func TestStoreExpiresEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore[string, int]("test", 5*time.Minute)
	store.now = func() time.Time { return now }
	store.Set("k", 1)

	now = now.Add(4 * time.Minute)
	if v, ok := store.Get("k"); !ok || v != 1 {
		t.Fatalf("expected live entry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := store.Get("k"); ok {
		t.Fatalf("expected expired entry")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry must be evicted")
	}
}

func TestStoreWithoutTTLNeverExpires(t *testing.T) {
	now := time.Now()
	store := NewStore[string, string]("accounts", 0)
	store.now = func() time.Time { return now }
	store.Set("4010", "Revenue")
	now = now.Add(365 * 24 * time.Hour)
	if v, ok := store.Get("4010"); !ok || v != "Revenue" {
		t.Fatalf("process lifetime entry expired")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore[int, int]("c", time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Set(j, i)
				store.Get(j)
				if j%50 == 0 {
					store.Replace(map[int]int{j: i})
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestMetricsObserveBatchOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	layer := New(Options{Observer: metrics})
	layer.Balances.Put("F", "A", "P1", dec("1"))

	layer.Balances.GetBatch("F", []string{"A"}, []string{"P1"})
	layer.Balances.GetBatch("F", []string{"A", "B"}, []string{"P1"})
	layer.Accounts.Get("missing")

	if got := testutil.ToFloat64(metrics.hits.WithLabelValues(NameBalances)); got != 1 {
		t.Fatalf("expected one balance hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.misses.WithLabelValues(NameBalances)); got != 1 {
		t.Fatalf("expected one balance miss, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.misses.WithLabelValues(NameAccounts)); got != 1 {
		t.Fatalf("expected one account miss, got %v", got)
	}

	again, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("re-registering must reuse collectors: %v", err)
	}
	again.Hit(NameAccounts)
	if got := testutil.ToFloat64(metrics.hits.WithLabelValues(NameAccounts)); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

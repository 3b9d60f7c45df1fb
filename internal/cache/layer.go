package cache

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/ledger"
)

// DefaultBalanceTTL bounds how long computed balances are served.
const DefaultBalanceTTL = 5 * time.Minute

// Cache names used for metrics labels.
const (
	NameDimensions  = "dimensions"
	NameBalances    = "balances"
	NameFiscalYears = "fiscal_years"
	NameAccounts    = "accounts"
)

// Layer bundles the four caches shared by the engine components. It is built
// once per process and handed to constructors.
type Layer struct {
	Dimensions  *Store[string, ledger.DimensionValue]
	Balances    *BalanceCache
	FiscalYears *Store[string, ledger.FiscalYear]
	Accounts    *Store[string, ledger.Account]
}

// Options configure a Layer.
type Options struct {
	BalanceTTL time.Duration
	Observer   Observer
}

// New constructs the cache layer.
func New(opts Options) *Layer {
	ttl := opts.BalanceTTL
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	l := &Layer{
		Dimensions:  NewStore[string, ledger.DimensionValue](NameDimensions, 0),
		Balances:    &BalanceCache{store: NewStore[BalanceKey, decimal.Decimal](NameBalances, ttl)},
		FiscalYears: NewStore[string, ledger.FiscalYear](NameFiscalYears, 0),
		Accounts:    NewStore[string, ledger.Account](NameAccounts, 0),
	}
	if opts.Observer != nil {
		l.Dimensions.observer = opts.Observer
		l.Balances.store.observer = opts.Observer
		l.FiscalYears.observer = opts.Observer
		l.Accounts.observer = opts.Observer
	}
	return l
}

// Stats reports live entry counts per cache.
func (l *Layer) Stats() map[string]int {
	return map[string]int{
		NameDimensions:  l.Dimensions.Len(),
		NameBalances:    l.Balances.Len(),
		NameFiscalYears: l.FiscalYears.Len(),
		NameAccounts:    l.Accounts.Len(),
	}
}

// BalanceKey addresses one computed balance.
type BalanceKey struct {
	Partition string
	Account   string
	Period    string
}

// BalanceCache stores computed balances by filter partition.
type BalanceCache struct {
	store *Store[BalanceKey, decimal.Decimal]
}

// Get returns a single cached balance.
func (c *BalanceCache) Get(partition, account, period string) (decimal.Decimal, bool) {
	return c.store.Get(BalanceKey{Partition: partition, Account: account, Period: period})
}

// GetBatch serves accounts x periods only when every pair is cached under
// partition. A single miss reports false and returns nothing.
func (c *BalanceCache) GetBatch(partition string, accounts, periods []string) (map[string]map[string]decimal.Decimal, bool) {
	if len(accounts) == 0 || len(periods) == 0 {
		c.store.observe(false)
		return nil, false
	}
	out := make(map[string]map[string]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		row := make(map[string]decimal.Decimal, len(periods))
		for _, period := range periods {
			v, ok := c.store.peek(BalanceKey{Partition: partition, Account: account, Period: period})
			if !ok {
				c.store.observe(false)
				return nil, false
			}
			row[period] = v
		}
		out[account] = row
	}
	c.store.observe(true)
	return out, true
}

// Put stores one balance without disturbing other entries.
func (c *BalanceCache) Put(partition, account, period string, value decimal.Decimal) {
	c.store.Set(BalanceKey{Partition: partition, Account: account, Period: period}, value)
}

// Replace discards every cached balance, across all partitions, and stores
// values under partition.
func (c *BalanceCache) Replace(partition string, values map[string]map[string]decimal.Decimal) {
	flat := make(map[BalanceKey]decimal.Decimal)
	for account, periods := range values {
		for period, v := range periods {
			flat[BalanceKey{Partition: partition, Account: account, Period: period}] = v
		}
	}
	c.store.Replace(flat)
}

// Bust drops every cached balance.
func (c *BalanceCache) Bust() {
	c.store.Bust()
}

// Len counts live balances.
func (c *BalanceCache) Len() int {
	return c.store.Len()
}

// TTL returns the balance lifetime.
func (c *BalanceCache) TTL() time.Duration {
	return c.store.TTL()
}

// DimensionKey is the forward lookup key for a normalized name.
func DimensionKey(dim ledger.Dimension, normalized string) string {
	return string(dim) + "|" + normalized
}

// DimensionIDKey is the reverse lookup key for an id.
func DimensionIDKey(dim ledger.Dimension, id int64) string {
	return string(dim) + "#" + formatInt(id)
}

// FiscalYearKey keys fiscal years by period name and book.
func FiscalYearKey(period string, book int64) string {
	return period + "|" + formatInt(book)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod indicates a period label that cannot be mapped to a month.
var ErrInvalidPeriod = errors.New("ledger: invalid period name")

// Period is an accounting period as referenced by spreadsheet formulas.
type Period struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	// ID is nil when the period is missing from the remote period table.
	ID         *int64
	FiscalYear *FiscalYear
}

// Synthesised reports whether the period was derived locally instead of
// loaded from the remote period table.
func (p Period) Synthesised() bool {
	return p.ID == nil
}

// FiscalYear bounds the retained earnings and net income windows.
type FiscalYear struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Periods   []Period
}

// Contains reports whether day falls inside the fiscal year.
func (fy FiscalYear) Contains(day time.Time) bool {
	return !day.Before(fy.StartDate) && !day.After(fy.EndDate)
}

var periodLayouts = []string{"Jan 2006", "January 2006", "2006-01", "01/2006", "Jan-06", "Jan 06"}

// SynthesisePeriod builds a period from its label alone, covering the whole
// calendar month the label names. The returned period has a nil ID.
func SynthesisePeriod(name string) (Period, error) {
	trimmed := strings.Join(strings.Fields(name), " ")
	for _, layout := range periodLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		start := time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{
			Name:      name,
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
		}, nil
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, name)
}

// SortPeriods orders periods chronologically by start date, then name.
func SortPeriods(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		if periods[i].StartDate.Equal(periods[j].StartDate) {
			return periods[i].Name < periods[j].Name
		}
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
}

// CalendarFiscalYear is the fallback fiscal year for a day when the remote
// calendar cannot be read.
func CalendarFiscalYear(day time.Time) FiscalYear {
	start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	return FiscalYear{
		Name:      "FY " + strconv.Itoa(day.Year()),
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
	}
}

// Subsidiary is a legal entity in the consolidation tree.
type Subsidiary struct {
	ID            int64
	Name          string
	ParentID      *int64
	IsElimination bool
	Currency      string
}

// IsRoot reports whether the subsidiary has no parent.
func (s Subsidiary) IsRoot() bool {
	return s.ParentID == nil
}

// Dimension names a segment lookup table.
type Dimension string

const (
	DimSubsidiary Dimension = "subsidiary"
	DimDepartment Dimension = "department"
	DimClass      Dimension = "class"
	DimLocation   Dimension = "location"
)

// Dimensions lists the supported dimensions in canonical order.
func Dimensions() []Dimension {
	return []Dimension{DimSubsidiary, DimDepartment, DimClass, DimLocation}
}

// ParseDimension maps a user supplied dimension label.
func ParseDimension(raw string) (Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "subsidiary", "subsidiaries":
		return DimSubsidiary, true
	case "department", "departments":
		return DimDepartment, true
	case "class", "classes", "classification":
		return DimClass, true
	case "location", "locations":
		return DimLocation, true
	}
	return "", false
}

// DimensionValue is one row of a dimension lookup table.
type DimensionValue struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name,omitempty"`
}

// FilterInput carries raw, unresolved filter values (names or ids).
type FilterInput struct {
	Subsidiary string `json:"subsidiary"`
	Department string `json:"department"`
	Class      string `json:"class"`
	Location   string `json:"location"`
}

// Value returns the raw input for a dimension.
func (f FilterInput) Value(dim Dimension) string {
	switch dim {
	case DimSubsidiary:
		return f.Subsidiary
	case DimDepartment:
		return f.Department
	case DimClass:
		return f.Class
	case DimLocation:
		return f.Location
	}
	return ""
}

// Filters is the resolved filter tuple. Nil members are absent.
type Filters struct {
	Subsidiary *int64
	Department *int64
	Class      *int64
	Location   *int64
}

// Get returns the resolved id for a dimension.
func (f Filters) Get(dim Dimension) *int64 {
	switch dim {
	case DimSubsidiary:
		return f.Subsidiary
	case DimDepartment:
		return f.Department
	case DimClass:
		return f.Class
	case DimLocation:
		return f.Location
	}
	return nil
}

// With returns a copy of f with dim set to id.
func (f Filters) With(dim Dimension, id int64) Filters {
	v := id
	switch dim {
	case DimSubsidiary:
		f.Subsidiary = &v
	case DimDepartment:
		f.Department = &v
	case DimClass:
		f.Class = &v
	case DimLocation:
		f.Location = &v
	}
	return f
}

// HasSegments reports whether a department, class or location is set.
func (f Filters) HasSegments() bool {
	return f.Department != nil || f.Class != nil || f.Location != nil
}

// Hash is the canonical encoding used to partition cached balances.
func (f Filters) Hash(book int64) string {
	part := func(v *int64) string {
		if v == nil {
			return "-"
		}
		return strconv.FormatInt(*v, 10)
	}
	return fmt.Sprintf("sub=%s;dep=%s;cls=%s;loc=%s;book=%d",
		part(f.Subsidiary), part(f.Department), part(f.Class), part(f.Location), book)
}

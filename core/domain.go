package core

import (
	"sort"
	"strings"
	"time"
)

// Identity is the opaque session key tokens are stored under.
type Identity string

func (i Identity) String() string { return string(i) }

func (i Identity) IsZero() bool { return strings.TrimSpace(string(i)) == "" }

// TokenPair is the result of one successful grant exchange. It is never
// mutated; a refresh produces a new pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    time.Duration
	IssuedAt     time.Time
	Raw          map[string]any
}

// CacheTTL scales the upstream lifetime by margin so the token is refreshed
// before the provider invalidates it.
func (p TokenPair) CacheTTL(margin float64) time.Duration {
	if p.ExpiresIn <= 0 || margin <= 0 {
		return 0
	}
	return time.Duration(float64(p.ExpiresIn) * margin)
}

type ResourceType string

// Cursor is the continuation marker of a paged endpoint. The zero value
// means "first page" on requests and "no more pages" on results.
type Cursor string

func (c Cursor) IsZero() bool { return c == "" }

func (c Cursor) String() string { return string(c) }

type FilterOperator string

const (
	FilterEQ               FilterOperator = "EQ"
	FilterNEQ              FilterOperator = "NEQ"
	FilterLT               FilterOperator = "LT"
	FilterLTE              FilterOperator = "LTE"
	FilterGT               FilterOperator = "GT"
	FilterGTE              FilterOperator = "GTE"
	FilterBetween          FilterOperator = "BETWEEN"
	FilterIn               FilterOperator = "IN"
	FilterNotIn            FilterOperator = "NOT_IN"
	FilterHasProperty      FilterOperator = "HAS_PROPERTY"
	FilterNotHasProperty   FilterOperator = "NOT_HAS_PROPERTY"
	FilterContainsToken    FilterOperator = "CONTAINS_TOKEN"
	FilterNotContainsToken FilterOperator = "NOT_CONTAINS_TOKEN"
)

func (o FilterOperator) Valid() bool {
	switch o {
	case FilterEQ, FilterNEQ, FilterLT, FilterLTE, FilterGT, FilterGTE,
		FilterBetween, FilterIn, FilterNotIn, FilterHasProperty, FilterNotHasProperty,
		FilterContainsToken, FilterNotContainsToken:
		return true
	default:
		return false
	}
}

type Filter struct {
	Property  string
	Operator  FilterOperator
	Value     string
	HighValue string
	Values    []string
}

// FilterGroup filters are combined with AND. Groups are combined with OR.
type FilterGroup struct {
	Filters []Filter
}

type SortDirection string

const (
	SortAscending  SortDirection = "ASCENDING"
	SortDescending SortDirection = "DESCENDING"
)

type Sort struct {
	Property  string
	Direction SortDirection
}

// Record is one raw item returned by the upstream API.
type Record map[string]any

type PagedRequest struct {
	Resource     ResourceType
	PageSize     int
	Cursor       Cursor
	Properties   []string
	Associations []string
	FilterGroups []FilterGroup
	Sorts        []Sort
}

// WithCursor returns a copy of the request pointed at cursor.
func (r PagedRequest) WithCursor(cursor Cursor) PagedRequest {
	out := r.clone()
	out.Cursor = cursor
	return out
}

// IsSearch reports whether the request needs the search endpoint.
func (r PagedRequest) IsSearch() bool {
	return len(r.FilterGroups) > 0 || len(r.Sorts) > 0
}

// Normalized trims and deduplicates field and association names and clamps
// the page size into [1, maxSize].
func (r PagedRequest) Normalized(defaultSize int, maxSize int) PagedRequest {
	out := r.clone()
	out.Resource = ResourceType(strings.TrimSpace(string(out.Resource)))
	out.Properties = normalizeNameSet(out.Properties)
	out.Associations = normalizeNameSet(out.Associations)
	if out.PageSize <= 0 {
		out.PageSize = defaultSize
	}
	if maxSize > 0 && out.PageSize > maxSize {
		out.PageSize = maxSize
	}
	if out.PageSize <= 0 {
		out.PageSize = 1
	}
	return out
}

func (r PagedRequest) clone() PagedRequest {
	out := r
	out.Properties = append([]string(nil), r.Properties...)
	out.Associations = append([]string(nil), r.Associations...)
	out.Sorts = append([]Sort(nil), r.Sorts...)
	if len(r.FilterGroups) > 0 {
		out.FilterGroups = make([]FilterGroup, 0, len(r.FilterGroups))
		for _, group := range r.FilterGroups {
			filters := make([]Filter, 0, len(group.Filters))
			for _, filter := range group.Filters {
				filter.Values = append([]string(nil), filter.Values...)
				filters = append(filters, filter)
			}
			out.FilterGroups = append(out.FilterGroups, FilterGroup{Filters: filters})
		}
	}
	return out
}

type PageResult struct {
	Items []Record
	Next  Cursor
}

func normalizeNameSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

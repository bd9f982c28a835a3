package contentrepo

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/exp/constraints"
)

// OrderBy is one sort key of a Query.
type OrderBy struct {
	Field string
	Desc  bool
}

// DefaultOrder sorts by Index, then Name.
var DefaultOrder = []OrderBy{{Field: "Index"}, {Field: "Name"}}

// Query selects and pages the children of a content.
type Query struct {
	// Recursive includes every descendant, not only direct children
	Recursive bool
	// Types keeps content of the listed types or types derived from them
	Types []string
	// Filter keeps content the predicate accepts
	Filter func(*Content) bool
	// OrderBy sorts the result; DefaultOrder when empty
	OrderBy []OrderBy
	// Top limits the page size; 0 means no limit
	Top  int
	Skip int
}

// QueryResult is one page of a query.
type QueryResult struct {
	Items []*Content
	// Total counts the matches before paging
	Total int
}

// SortContents sorts in place by the given keys.
func SortContents(items []*Content, order []OrderBy) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, o := range order {
			c := CompareValues(items[i].Comparable(o.Field), items[j].Comparable(o.Field))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Page applies skip and top to a sorted slice.
func Page[T any](items []T, skip, top int) []T {
	if skip > 0 {
		if skip >= len(items) {
			return items[:0]
		}
		items = items[skip:]
	}
	if top > 0 && top < len(items) {
		items = items[:top]
	}
	return items
}

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// CompareValues orders comparable field values. Nil sorts first, numbers
// compare numerically across int and float, strings case-insensitively.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return compareOrdered(fa, fb)
		}
	}
	switch ta := a.(type) {
	case string:
		if tb, ok := b.(string); ok {
			if c := compareOrdered(strings.ToLower(ta), strings.ToLower(tb)); c != 0 {
				return c
			}
			return compareOrdered(ta, tb)
		}
	case bool:
		if tb, ok := b.(bool); ok {
			switch {
			case ta == tb:
				return 0
			case !ta:
				return -1
			}
			return 1
		}
	case time.Time:
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return compareOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

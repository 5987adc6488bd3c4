package eventcache

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var queryValidate = validator.New()

// Aggregation selects how a query's matched events are post-processed
// before ordering/paging.
type Aggregation string

const (
	AggregationRaw         Aggregation = "raw"
	AggregationChangesOnly Aggregation = "changes_only"
	AggregationSummary     Aggregation = "summary"
	AggregationStatistics  Aggregation = "statistics"
)

// OrderField selects the sort key applied before offset/limit.
type OrderField string

const (
	OrderByTimestamp   OrderField = "timestamp"
	OrderByControlName OrderField = "control_name"
	OrderByValue       OrderField = "value"
)

// OrderDirection selects ascending or descending sort.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// FilterOp is a value-filter operator (§3.5).
type FilterOp string

const (
	OpEq         FilterOp = "eq"
	OpNeq        FilterOp = "neq"
	OpGt         FilterOp = "gt"
	OpGte        FilterOp = "gte"
	OpLt         FilterOp = "lt"
	OpLte        FilterOp = "lte"
	OpContains   FilterOp = "contains"
	OpChangedTo  FilterOp = "changed_to"
	OpChangedFrom FilterOp = "changed_from"
	OpBetween    FilterOp = "between"
	OpIn         FilterOp = "in"
	OpRegex      FilterOp = "regex"
)

// ValueFilter narrows a query by comparing each candidate event's value
// (or transition) against Value/Value2.
type ValueFilter struct {
	Op     FilterOp
	Value  Value
	Value2 Value // only meaningful for OpBetween
	InSet  []Value // only meaningful for OpIn
}

// Matches applies the filter to a single event, per the "type mismatch ->
// false" dispatch rule in §9: operators never panic on a kind mismatch,
// they simply report no match.
func (f *ValueFilter) Matches(e *CachedEvent) bool {
	switch f.Op {
	case OpEq:
		return e.Value.Equal(f.Value)
	case OpNeq:
		return !e.Value.Equal(f.Value)
	case OpGt:
		cmp, ok := e.Value.compare(f.Value)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := e.Value.compare(f.Value)
		return ok && cmp >= 0
	case OpLt:
		cmp, ok := e.Value.compare(f.Value)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := e.Value.compare(f.Value)
		return ok && cmp <= 0
	case OpContains:
		if e.Value.Kind != ValueString || f.Value.Kind != ValueString {
			return false
		}
		return strings.Contains(e.Value.Str, f.Value.Str)
	case OpChangedTo:
		return e.HasPrevious && e.Value.Equal(f.Value) && !e.PreviousValue.Equal(f.Value)
	case OpChangedFrom:
		return e.HasPrevious && e.PreviousValue.Equal(f.Value) && !e.Value.Equal(f.Value)
	case OpBetween:
		lo, ok1 := e.Value.compare(f.Value)
		hi, ok2 := e.Value.compare(f.Value2)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case OpIn:
		for _, v := range f.InSet {
			if e.Value.Equal(v) {
				return true
			}
		}
		return false
	case OpRegex:
		if e.Value.Kind != ValueString && f.Value.Kind != ValueString {
			return false
		}
		re, err := regexp.Compile(f.Value.Str)
		if err != nil {
			return false
		}
		return re.MatchString(e.Value.String())
	default:
		return false
	}
}

// Query is the logical query object (§3.5). Zero-value fields mean
// "unset"; Normalize fills in the documented defaults.
type Query struct {
	GroupID        string // empty = all groups
	HasGroupID     bool

	StartTimeMs int64
	HasStart    bool
	EndTimeMs   int64
	HasEnd      bool

	ControlNames []string `validate:"omitempty,max=256,dive,min=1"` // empty = no filter

	ValueFilter *ValueFilter

	Aggregation Aggregation `validate:"omitempty,oneof=raw changes_only summary statistics"`

	OrderBy        OrderField     `validate:"omitempty,oneof=timestamp control_name value"`
	OrderDirection OrderDirection `validate:"omitempty,oneof=asc desc"`

	Limit    int `validate:"omitempty,min=1,max=10000"`
	HasLimit bool
	Offset   int `validate:"min=0"`
}

// Validate runs struct-tag validation (enum membership, bounds) layered
// under Normalize's defaulting/clamping, plus the one cross-field rule
// struct tags can't express: an explicit start must not be after an
// explicit end.
func (q *Query) Validate() error {
	if err := queryValidate.Struct(q); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	if q.HasStart && q.HasEnd && q.StartTimeMs > q.EndTimeMs {
		return fmt.Errorf("invalid query: start_time_ms %d is after end_time_ms %d", q.StartTimeMs, q.EndTimeMs)
	}
	return nil
}

const (
	defaultWindowMs = 60_000
	minLimit        = 1
	maxLimit        = 10_000
	defaultLimit    = 1_000
)

// Normalize fills in §4.1.3 step-1 defaults and clamps Limit/Offset. nowMs
// is injected so normalization is deterministic and testable.
func (q *Query) Normalize(nowMs int64) {
	if !q.HasEnd {
		q.EndTimeMs = nowMs
		q.HasEnd = true
	}
	if !q.HasStart {
		q.StartTimeMs = q.EndTimeMs - defaultWindowMs
		q.HasStart = true
	}
	if q.Aggregation == "" {
		q.Aggregation = AggregationRaw
	}
	if q.OrderBy == "" {
		q.OrderBy = OrderByTimestamp
	}
	if q.OrderDirection == "" {
		q.OrderDirection = OrderAsc
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	if q.Limit < minLimit {
		q.Limit = minLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.HasLimit = true
}

// CacheKey computes the canonical, order-independent serialization used
// as the query cache key (§4.1.3 step 2 / §4.6).
func (q *Query) CacheKey() string {
	var b strings.Builder
	b.WriteString("g=")
	if q.HasGroupID {
		b.WriteString(q.GroupID)
	} else {
		b.WriteString("*")
	}
	b.WriteString(";s=")
	b.WriteString(strconv.FormatInt(q.StartTimeMs, 10))
	b.WriteString(";e=")
	b.WriteString(strconv.FormatInt(q.EndTimeMs, 10))
	b.WriteString(";c=")
	names := append([]string(nil), q.ControlNames...)
	sort.Strings(names)
	b.WriteString(strings.Join(names, ","))
	b.WriteString(";a=")
	b.WriteString(string(q.Aggregation))
	b.WriteString(";o=")
	b.WriteString(string(q.OrderBy))
	b.WriteString(string(q.OrderDirection))
	b.WriteString(";l=")
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteString(";off=")
	b.WriteString(strconv.Itoa(q.Offset))
	if q.ValueFilter != nil {
		b.WriteString(";f=")
		b.WriteString(string(q.ValueFilter.Op))
		operands := append([]Value{q.ValueFilter.Value, q.ValueFilter.Value2}, q.ValueFilter.InSet...)
		for _, v := range operands {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(int(v.Kind)))
			b.WriteString("/")
			b.WriteString(v.String())
		}
	}
	return b.String()
}

// Package rules evaluates automation rules against enriched transactions and
// owns the rule registry and its management operations.
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// EvaluateCondition evaluates one condition against a record produced by
// EnrichedTransaction.Record. It never panics and never returns an error:
// incompatible operands make the condition false.
func EvaluateCondition(record map[string]any, cond domain.RuleCondition) bool {
	if cond.Operator == domain.OpExpression {
		return evalExpression(record, cond.Value)
	}

	field, present := Lookup(record, cond.Field)

	switch cond.Operator {
	case domain.OpEquals:
		return present && equal(field, cond.Value) || !present && cond.Value == nil
	case domain.OpNotEquals:
		if !present {
			return cond.Value != nil
		}
		return !equal(field, cond.Value)

	case domain.OpGreaterThan:
		return compare(field, cond.Value, func(a, b float64) bool { return a > b })
	case domain.OpLessThan:
		return compare(field, cond.Value, func(a, b float64) bool { return a < b })
	case domain.OpGreaterEqual:
		return compare(field, cond.Value, func(a, b float64) bool { return a >= b })
	case domain.OpLessEqual:
		return compare(field, cond.Value, func(a, b float64) bool { return a <= b })

	case domain.OpContains:
		return present && containsFold(field, cond.Value)
	case domain.OpNotContains:
		return !present || !containsFold(field, cond.Value)

	case domain.OpIn:
		in, ok := member(field, present, cond.Value)
		return ok && in
	case domain.OpNotIn:
		in, ok := member(field, present, cond.Value)
		return ok && !in

	case domain.OpMatchesRegex:
		return present && matches(field, cond.Value)

	case domain.OpBetween:
		return between(field, cond.Value)
	}

	return false
}

// Lookup resolves a dot-separated path into a nested record.
func Lookup(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = record
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toNumber coerces numeric kinds and numeric strings. Everything else is NaN.
func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case decimal.Decimal:
		return n.InexactFloat64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number, decimal.Decimal:
		return true
	default:
		return false
	}
}

// compare applies op to both operands; NaN on either side yields false
// because every IEEE comparison with NaN is false.
func compare(a, b any, op func(a, b float64) bool) bool {
	return op(toNumber(a), toNumber(b))
}

// equal is strict: numbers compare by value across Go numeric types,
// other kinds must match exactly.
func equal(a, b any) bool {
	if isNumeric(a) || isNumeric(b) {
		if !isNumeric(a) || !isNumeric(b) {
			return false
		}
		return toNumber(a) == toNumber(b)
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	return reflect.DeepEqual(a, b)
}

// stringForm renders a value the way contains and matches_regex see it.
func stringForm(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case decimal.Decimal:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func containsFold(field, needle any) bool {
	return strings.Contains(strings.ToLower(stringForm(field)), strings.ToLower(stringForm(needle)))
}

// member reports whether field is in the array-valued list. ok is false
// when list is not an array.
func member(field any, present bool, list any) (in bool, ok bool) {
	if list == nil {
		return false, false
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, false
	}
	if !present {
		return false, true
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(field, rv.Index(i).Interface()) {
			return true, true
		}
	}
	return false, true
}

func matches(field, pattern any) bool {
	src, ok := pattern.(string)
	if !ok {
		return false
	}

	var re *regexp.Regexp
	if cached, ok := patterns.Get(src); ok {
		re, _ = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(src)
		if err != nil {
			patterns.Add(src, (*regexp.Regexp)(nil))
			return false
		}
		patterns.Add(src, compiled)
		re = compiled
	}
	if re == nil {
		return false
	}
	return re.MatchString(stringForm(field))
}

// between is an inclusive range test; value must be a two-element numeric array.
func between(field, bounds any) bool {
	if bounds == nil {
		return false
	}
	rv := reflect.ValueOf(bounds)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() != 2 {
		return false
	}
	low := toNumber(rv.Index(0).Interface())
	high := toNumber(rv.Index(1).Interface())
	v := toNumber(field)
	return v >= low && v <= high
}

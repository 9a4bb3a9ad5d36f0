// Package condition evaluates step conditions against a run context.
package condition

import (
	"reflect"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
	"github.com/spf13/cast"
)

// Operators understood by Evaluate. Anything else evaluates to false.
const (
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpEqual          = "=="
	OpStrictEqual    = "==="
	OpNotEqual       = "!="
	OpStrictNotEqual = "!=="
	OpContains       = "contains"
	OpExists         = "exists"
)

// Evaluate resolves cond.Field in data and applies cond.Operator against cond.Value.
// It never panics and returns false for unknown operators or values that cannot be
// compared.
func Evaluate(cond models.Condition, data map[string]any) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()

	field, found := template.Lookup(data, cond.Field)

	switch cond.Operator {
	case OpExists:
		return found && field != nil
	case OpEqual, OpStrictEqual:
		return found && equal(field, cond.Value)
	case OpNotEqual, OpStrictNotEqual:
		return !found || !equal(field, cond.Value)
	case OpContains:
		return found && strings.Contains(template.Stringify(field), template.Stringify(cond.Value))
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual:
		return found && compare(cond.Operator, field, cond.Value)
	default:
		return false
	}
}

func compare(op string, left, right any) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)

	if lok && rok {
		return ordered(op, strings.Compare(ls, rs))
	}

	lf, ok := number(left)
	if !ok {
		return false
	}

	rf, ok := number(right)
	if !ok {
		return false
	}

	switch {
	case lf < rf:
		return ordered(op, -1)
	case lf > rf:
		return ordered(op, 1)
	default:
		return ordered(op, 0)
	}
}

func ordered(op string, cmp int) bool {
	switch op {
	case OpGreater:
		return cmp > 0
	case OpLess:
		return cmp < 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLessOrEqual:
		return cmp <= 0
	}

	return false
}

func number(value any) (float64, bool) {
	if value == nil {
		return 0, false
	}

	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, false
	}

	return f, true
}

func isNumeric(value any) bool {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// equal is strict: no string/number coercion, but numeric kinds compare by value so
// a decoded JSON float64 equals an int literal.
func equal(left, right any) bool {
	if isNumeric(left) && isNumeric(right) {
		return cast.ToFloat64(left) == cast.ToFloat64(right)
	}

	return reflect.DeepEqual(left, right)
}

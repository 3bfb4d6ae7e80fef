package expression

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/keduman/workflow-app/pkg/workflow"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// BuildContext creates the variable map a step's rules are evaluated against.
//
// Every non-empty submitted value is exposed under its own key after
// coercion. For each field on step whose key was submitted, the value is
// also exposed under an identifier derived from the field label, unless that
// name is already taken:
//
//	values: {"amount": "1500"}
//	field:  {Label: "Amount", Key: "amount"}
//	result: {"amount": 1500, "Amount": 1500}
//
// step may be nil, in which case no label aliases are added.
func BuildContext(values map[string]any, step *workflow.Step) map[string]any {
	ctx := make(map[string]any, len(values))
	for k, v := range values {
		if isEmpty(v) {
			continue
		}
		ctx[k] = Coerce(v)
	}

	if step == nil {
		return ctx
	}
	for _, f := range step.Fields {
		v, ok := values[f.Key]
		if !ok || isEmpty(v) {
			continue
		}
		alias, ok := LabelIdentifier(f.Label)
		if !ok {
			continue
		}
		if _, exists := ctx[alias]; exists {
			continue
		}
		ctx[alias] = Coerce(v)
	}
	return ctx
}

// LabelIdentifier derives a variable name from a field label by trimming it
// and replacing each run of whitespace with a single underscore. ok is false
// when the result is not a valid identifier.
func LabelIdentifier(label string) (string, bool) {
	id := strings.Join(strings.Fields(label), "_")
	if !identifierPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// Coerce converts a raw submitted value to the type rules compare against.
// Strings holding a base-10 integer become int64, other numeric strings
// become float64, and anything else stays a string. Integral JSON numbers
// become int64. Non-string, non-numeric values are returned unchanged.
func Coerce(v any) any {
	switch val := v.(type) {
	case string:
		return coerceString(val)
	case json.Number:
		return coerceString(val.String())
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val < math.MaxInt64 {
			return int64(val)
		}
		return val
	case float32:
		return Coerce(float64(val))
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	default:
		return v
	}
}

func coerceString(s string) any {
	if !isDecimalLiteral(s) {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// isDecimalLiteral reports whether s uses only plain decimal number syntax.
// strconv also accepts underscores, hex floats, inf and nan, which must stay
// strings.
func isDecimalLiteral(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '+', c == '-', c == '.', c == 'e', c == 'E':
		default:
			return false
		}
	}
	return true
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case json.Number:
		return val == ""
	}
	return false
}

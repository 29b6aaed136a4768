package cards

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Scope prefixes recognized by Resolve
const (
	prefixInput   = "input."
	prefixData    = "data."
	prefixContext = "context."
	prefixState   = "state."
)

// InputSource answers the current value of a rendered input by id. The
// second return value is false when no input with that id exists or a
// radio group has nothing selected.
type InputSource interface {
	InputValue(id string) (any, bool)
}

// InputKind says how an input's value is read
type InputKind string

const (
	InputPlain    InputKind = "plain"
	InputCheckbox InputKind = "checkbox"
	InputRadio    InputKind = "radio"
)

// InputValue is the live state of one input control
type InputValue struct {
	Kind     InputKind
	Value    any
	Checked  bool
	Selected string
}

// Text is a plain input holding v
func Text(v any) InputValue { return InputValue{Kind: InputPlain, Value: v} }

// Checkbox is a checkbox input
func Checkbox(checked bool) InputValue { return InputValue{Kind: InputCheckbox, Checked: checked} }

// Radio is a radio group with the given option selected. An empty
// selection means nothing is checked.
func Radio(selected string) InputValue { return InputValue{Kind: InputRadio, Selected: selected} }

// Inputs holds input values keyed by input id
type Inputs map[string]InputValue

// InputValue implements InputSource
func (in Inputs) InputValue(id string) (any, bool) {
	if id == "" || in == nil {
		return nil, false
	}
	v, ok := in[id]
	if !ok {
		return nil, false
	}
	switch v.Kind {
	case InputCheckbox:
		return v.Checked, true
	case InputRadio:
		if v.Selected == "" {
			return nil, false
		}
		return v.Selected, true
	default:
		return v.Value, true
	}
}

// Scope is the set of value sources an expression can read from
type Scope struct {
	Input   InputSource
	Data    map[string]any
	Context map[string]any
	State   map[string]any
}

// Resolve looks an expression up in the scope. Prefixed expressions read
// only their scope and may walk nested maps with dots. A bare name is
// looked up in data, then context, then state, then among the inputs.
// The boolean is false when nothing was found.
func (s Scope) Resolve(expr string) (any, bool) {
	if expr == "" {
		return nil, false
	}

	switch {
	case strings.HasPrefix(expr, prefixInput):
		return s.input(expr[len(prefixInput):])
	case strings.HasPrefix(expr, prefixData):
		return lookupPath(s.Data, expr[len(prefixData):])
	case strings.HasPrefix(expr, prefixContext):
		return lookupPath(s.Context, expr[len(prefixContext):])
	case strings.HasPrefix(expr, prefixState):
		return lookupPath(s.State, expr[len(prefixState):])
	}

	for _, m := range []map[string]any{s.Data, s.Context, s.State} {
		if v, ok := m[expr]; ok {
			return v, true
		}
	}
	return s.input(expr)
}

func (s Scope) input(id string) (any, bool) {
	if s.Input == nil {
		return nil, false
	}
	return s.Input.InputValue(id)
}

// lookupPath tries the exact key first, then walks dotted segments
// through nested objects.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Truthy applies JavaScript truthiness. found=false is undefined.
func Truthy(v any, found bool) bool {
	if !found || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	}
	return true
}

// Stringify converts a value the way JavaScript's String() does
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(t)
	case float32:
		return formatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			if item != nil {
				parts[i] = Stringify(item)
			}
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case map[string]any:
		return "[object Object]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

// displayString is the text a resolved value contributes to output:
// undefined and null become empty.
func displayString(v any, found bool) string {
	if !found || v == nil {
		return ""
	}
	return Stringify(v)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.Abs(f) >= 1e21:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

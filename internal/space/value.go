// Package space holds the declarative search-space vocabulary shared by the
// tuner, the candidate generators and the launcher: a setting is either a
// fixed scalar or an enumerated candidate set.
package space

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is a single launcher or workload setting. The zero Value is a nil
// scalar.
type Value struct {
	scalar     any
	candidates []any
	enumerated bool
}

// Fixed returns a scalar Value.
func Fixed(v any) Value {
	return Value{scalar: v}
}

// OneOf returns a candidate-set Value. The candidates are copied.
func OneOf(candidates ...any) Value {
	return Value{candidates: append([]any(nil), candidates...), enumerated: true}
}

// IsCandidateSet reports whether v enumerates candidates rather than holding
// a scalar.
func (v Value) IsCandidateSet() bool { return v.enumerated }

// Candidates returns a copy of the candidate set, or nil for scalars.
func (v Value) Candidates() []any {
	if !v.enumerated {
		return nil
	}
	return append([]any(nil), v.candidates...)
}

// Scalar returns the scalar value, or nil for candidate sets.
func (v Value) Scalar() any { return v.scalar }

// Interface returns the scalar, or the candidates as []any.
func (v Value) Interface() any {
	if v.enumerated {
		return v.Candidates()
	}
	return v.scalar
}

// Ints returns the value as a list of integers. A scalar yields one element.
func (v Value) Ints() ([]int, error) {
	raw := v.candidates
	if !v.enumerated {
		raw = []any{v.scalar}
	}
	out := make([]int, 0, len(raw))
	for _, c := range raw {
		n, ok := AsInt(c)
		if !ok {
			return nil, fmt.Errorf("value %v is not an integer", c)
		}
		out = append(out, n)
	}
	return out, nil
}

// String renders scalars with fmt and candidate sets comma-joined.
func (v Value) String() string {
	if !v.enumerated {
		return fmt.Sprint(v.scalar)
	}
	parts := make([]string, len(v.candidates))
	for i, c := range v.candidates {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, ",")
}

// UnmarshalYAML decodes a sequence node as a candidate set and anything else
// as a scalar.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var items []any
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("decode candidate set: %w", err)
		}
		*v = OneOf(items...)
		return nil
	}
	var scalar any
	if err := node.Decode(&scalar); err != nil {
		return fmt.Errorf("decode scalar: %w", err)
	}
	*v = Fixed(scalar)
	return nil
}

// MarshalJSON writes candidate sets as JSON arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON mirrors UnmarshalYAML. Integral numbers decode as int.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if items, ok := raw.([]any); ok {
		for i := range items {
			items[i] = normalizeNumber(items[i])
		}
		*v = OneOf(items...)
		return nil
	}
	*v = Fixed(normalizeNumber(raw))
	return nil
}

// Parameters maps a configuration key to its Value.
type Parameters map[string]Value

// Clone returns an independent copy; a nil receiver yields an empty map.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		if v.enumerated {
			v = OneOf(v.candidates...)
		}
		out[k] = v
	}
	return out
}

// Has reports whether key is present.
func (p Parameters) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the keys in sorted order.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseAssignment parses "key=value" as given on the command line. A value
// containing commas becomes a candidate set; numeric items become ints or
// floats.
func ParseAssignment(s string) (string, Value, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", Value{}, fmt.Errorf("invalid assignment %q: want key=value", s)
	}
	return key, ParseValue(raw), nil
}

// ParseValue parses a command-line value; see ParseAssignment.
func ParseValue(raw string) Value {
	if !strings.Contains(raw, ",") {
		return Fixed(parseScalar(raw))
	}
	parts := strings.Split(raw, ",")
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, parseScalar(p))
		}
	}
	return OneOf(items...)
}

// AsInt converts the numeric shapes produced by YAML, JSON and flag parsing
// into an int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func parseScalar(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func normalizeNumber(v any) any {
	if f, ok := v.(float64); ok && f == float64(int(f)) {
		return int(f)
	}
	return v
}

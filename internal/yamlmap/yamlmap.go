// Package yamlmap decodes YAML mappings into an order-preserving map.
// Binding documents give meaning to key order (later property entries win),
// which a plain map[string]any cannot represent.
package yamlmap

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Map is a YAML mapping whose keys iterate in document order. Nested
// mappings decode as *Map, sequences as []any, scalars as their native Go
// values.
type Map struct {
	keys []string
	vals map[string]any
}

// New returns an empty Map.
func New() *Map {
	return &Map{vals: map[string]any{}}
}

// Parse decodes a YAML document into a Map. An empty document parses as an
// empty map.
func Parse(data []byte) (*Map, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	if n.Kind == 0 || len(n.Content) == 0 {
		return New(), nil
	}
	v, err := decodeNode(n.Content[0])
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("top level is not a mapping")
	}
	return m, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Map) UnmarshalYAML(value *yaml.Node) error {
	v, err := decodeNode(value)
	if err != nil {
		return err
	}
	mm, ok := v.(*Map)
	if !ok {
		return fmt.Errorf("line %d: expected a mapping", value.Line)
	}
	*m = *mm
	return nil
}

func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.MappingNode:
		m := New()
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, err
			}
			val, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if m.Has(key) {
				return nil, fmt.Errorf("line %d: duplicate key %q", n.Content[i].Line, key)
			}
			m.Set(key, val)
		}
		return m, nil
	case yaml.SequenceNode:
		seq := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in document order. The slice is a copy.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

// Get returns the value for key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// GetMap returns the value for key when it is a nested mapping, and nil
// otherwise.
func (m *Map) GetMap(key string) *Map {
	if v, ok := m.vals[key]; ok {
		if mm, ok := v.(*Map); ok {
			return mm
		}
	}
	return nil
}

// Set stores key→val, appending to the key order when key is new and
// keeping its position when it already exists.
func (m *Map) Set(key string, val any) {
	if m.vals == nil {
		m.vals = map[string]any{}
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

// Delete removes key, preserving the order of the remaining entries.
func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Rename changes the key of an entry in place, keeping its position and
// value. Renaming onto an existing key or from a missing one is a no-op.
func (m *Map) Rename(old, new string) {
	v, ok := m.vals[old]
	if !ok || m.Has(new) || old == new {
		return
	}
	for i, k := range m.keys {
		if k == old {
			m.keys[i] = new
			break
		}
	}
	delete(m.vals, old)
	m.vals[new] = v
}

// Equal reports deep equality of two decoded YAML values.
func Equal(a, b any) bool {
	am, aok := a.(*Map)
	bm, bok := b.(*Map)
	if aok != bok {
		return false
	}
	if aok {
		if am.Len() != bm.Len() {
			return false
		}
		for _, k := range am.keys {
			bv, ok := bm.Get(k)
			if !ok || !Equal(am.vals[k], bv) {
				return false
			}
		}
		return true
	}
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok != bok {
		return false
	}
	if aok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

package binding

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vk/settree/internal/yamlmap"
	"github.com/vk/settree/sterr"
)

// DefaultOverridableKeys are the keys a binding may deliberately overwrite
// when it includes another binding. Everything else must merge cleanly.
var DefaultOverridableKeys = []string{"title", "description", "schema", "compatible"}

// ResolveOptions tunes binding resolution.
type ResolveOptions struct {
	// RequireSchema makes a missing schema key an error.
	RequireSchema bool
	// RequireDescription makes a missing description an error.
	RequireDescription bool
	// OverridableKeys overrides DefaultOverridableKeys when non-nil.
	OverridableKeys []string
}

// Binding is a parsed, include-resolved and validated binding document.
type Binding struct {
	// Path is the file the binding was loaded from.
	Path string
	// Dialect is the source family the binding is written for.
	Dialect *Dialect
	// IsChild is true for bindings that came from a node-typed property
	// entry of a parent binding.
	IsChild bool

	// Schema is the schema name the binding defines, or "" for anonymous
	// child bindings.
	Schema      string
	Description string

	// OnBus restricts the binding to nodes on the named bus; it doubles as
	// the binding variant during registration.
	OnBus string
	// Buses names the buses a bound node provides to its children.
	Buses []string
	// SpecifierCells maps a cell namespace (like "gpio") to the names of
	// the data cells an indexed reference to a bound node carries.
	SpecifierCells map[string][]string

	// Specs are the property specifications in merge order: included files
	// first, the binding's own entries last.
	Specs []*PropertySpec
	// Children are the child binding entries keyed by child name pattern.
	Children []*ChildBindings

	raw *yamlmap.Map
}

// ChildBindings collects every binding that applies to children whose name
// matches the pattern. The bindings accumulate across includes in merge
// order, the binding's own entry last.
type ChildBindings struct {
	Name     string
	Bindings []*Binding

	pattern *namePattern
}

// MatchName reports whether the entry covers the given child name.
func (c *ChildBindings) MatchName(name string) bool {
	return c.pattern.matchFull(name)
}

// Variant returns the registration variant of the binding: the bus it is
// restricted to, or "".
func (b *Binding) Variant() string { return b.OnBus }

// HasBus reports whether bound nodes provide the named bus.
func (b *Binding) HasBus(bus string) bool {
	for _, have := range b.Buses {
		if have == bus {
			return true
		}
	}
	return false
}

// Spec returns the property specification covering the given name, letting
// the binding's own entries override included ones, or nil.
func (b *Binding) Spec(name string) *PropertySpec {
	for i := len(b.Specs) - 1; i >= 0; i-- {
		if b.Specs[i].MatchName(name) {
			return b.Specs[i]
		}
	}
	return nil
}

func (b *Binding) String() string {
	s := "<Binding " + baseName(b.Path)
	if b.Schema != "" {
		s += fmt.Sprintf(" for schema '%s'", b.Schema)
	}
	if b.OnBus != "" {
		s += fmt.Sprintf(" on '%s'", b.OnBus)
	}
	return s + ">"
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Resolve parses a binding document, resolves its includes through the
// resolver and validates the result against the dialect.
func Resolve(data []byte, path string, res Resolver, d *Dialect, opts ResolveOptions) (*Binding, error) {
	src, err := yamlmap.Parse(data)
	if err != nil {
		return nil, sterr.Schemaf("%s: invalid contents, expected a mapping: %v", path, err)
	}
	bld := &builder{
		res:         res,
		dialect:     d,
		overridable: map[string]struct{}{},
	}
	keys := opts.OverridableKeys
	if keys == nil {
		keys = DefaultOverridableKeys
	}
	for _, k := range keys {
		bld.overridable[k] = struct{}{}
	}
	return bld.build(src, path, opts.RequireSchema, opts.RequireDescription, nil, nil, false)
}

// check validates the fully merged binding document.
func (bld *builder) check(b *Binding, requireSchema, requireDescription bool) error {
	d := bld.dialect

	if v, ok := b.raw.Get(d.SchemaKey); ok {
		if _, isStr := v.(string); !isStr {
			return sterr.Schemaf("malformed '%s: %v' field in %s - should be a string, not %T",
				d.SchemaKey, v, b.Path, v)
		}
	} else if requireSchema {
		return sterr.Schemaf("missing '%s' property in %s", d.SchemaKey, b.Path)
	}

	if v, ok := b.raw.Get("description"); ok {
		if s, isStr := v.(string); !isStr || s == "" {
			return sterr.Schemaf("malformed or empty 'description' in %s", b.Path)
		}
	} else if requireDescription {
		return sterr.Schemaf("missing 'description' in %s", b.Path)
	}

	for _, key := range b.raw.Keys() {
		if hint, legacy := d.LegacyErrors[key]; legacy {
			return sterr.Schemaf("legacy '%s:' in %s, %s", key, b.Path, hint)
		}
		if !bld.topLevelKeyOK(b, key) {
			return sterr.Schemaf("unknown key '%s' in %s", key, b.Path)
		}
	}

	if err := bld.checkBusKeys(b); err != nil {
		return err
	}
	return bld.checkProperties(b)
}

func (bld *builder) topLevelKeyOK(b *Binding, key string) bool {
	d := bld.dialect
	switch key {
	case d.SchemaKey, "description", "properties":
		return true
	case "type":
		return b.IsChild
	case "bus", "on-bus":
		return d.Buses
	}
	if d.Buses && strings.HasSuffix(key, "-cells") {
		return true
	}
	// Child binding entries may carry the same value-spec keys as any
	// property entry.
	if b.IsChild {
		switch key {
		case "required", "deprecated", "enum", "const", "default":
			return true
		}
	}
	return false
}

func (bld *builder) checkBusKeys(b *Binding) error {
	if !bld.dialect.Buses {
		return nil
	}
	if v, ok := b.raw.Get("bus"); ok {
		buses, err := toStringList(v)
		if err != nil {
			return sterr.Schemaf("malformed 'bus:' value in %s, expected string or list of strings", b.Path)
		}
		b.Buses = buses
	}
	if v, ok := b.raw.Get("on-bus"); ok {
		s, isStr := v.(string)
		if !isStr {
			return sterr.Schemaf("malformed 'on-bus:' value in %s, expected string", b.Path)
		}
		b.OnBus = s
	}
	for _, key := range b.raw.Keys() {
		space, found := strings.CutSuffix(key, "-cells")
		if !found || space == "" {
			continue
		}
		v, _ := b.raw.Get(key)
		names, err := toStringList(v)
		if err != nil {
			return sterr.Schemaf("malformed '%s:' in %s, expected a list of cell names", key, b.Path)
		}
		if b.SpecifierCells == nil {
			b.SpecifierCells = map[string][]string{}
		}
		b.SpecifierCells[space] = names
	}
	return nil
}

func (bld *builder) checkProperties(b *Binding) error {
	props := b.raw.GetMap("properties")
	if props == nil {
		return nil
	}

	okKeys := map[string]struct{}{
		"description": {}, "type": {}, "required": {}, "enum": {},
		"const": {}, "default": {}, "deprecated": {},
	}
	for _, k := range bld.dialect.ExtraPropKeys {
		okKeys[k] = struct{}{}
	}
	childKeys := map[string]struct{}{
		bld.dialect.SchemaKey: {}, "description": {}, "properties": {}, "type": {},
	}

	for _, name := range props.Keys() {
		entry := props.GetMap(name)
		if entry == nil {
			return sterr.Schemaf("malformed 'properties: %s: ...' in %s, expected a mapping", name, b.Path)
		}
		isChild := entryType(entry) == string(Node)

		for _, key := range entry.Keys() {
			if isChild {
				if _, ok := childKeys[key]; ok {
					continue
				}
			}
			if _, ok := okKeys[key]; !ok {
				return sterr.Schemaf("unknown setting '%s' in 'properties: %s: ...' in %s",
					key, name, b.Path)
			}
		}

		if err := bld.checkPropByType(b, name, entry); err != nil {
			return err
		}

		for _, flag := range []string{"required", "deprecated"} {
			if v, ok := entry.Get(flag); ok {
				if _, isBool := v.(bool); !isBool {
					return sterr.Schemaf("malformed '%s:' setting '%v' for '%s' in 'properties' in %s, expected true/false",
						flag, v, name, b.Path)
				}
			}
		}
		req, _ := entry.Get("required")
		dep, _ := entry.Get("deprecated")
		if req == true && dep == true {
			return sterr.Schemaf("'%s' in 'properties' in %s should not have both 'deprecated' and 'required' set",
				name, b.Path)
		}

		if v, ok := entry.Get("description"); ok {
			if _, isStr := v.(string); !isStr {
				return sterr.Schemaf("missing, malformed, or empty 'description' for '%s' in 'properties' in %s",
					name, b.Path)
			}
		}
		if v, ok := entry.Get("enum"); ok {
			if _, isList := v.([]any); !isList {
				return sterr.Schemaf("enum in %s for property '%s' is not a list", b.Path, name)
			}
		}
	}
	return nil
}

func (bld *builder) checkPropByType(b *Binding, name string, entry *yamlmap.Map) error {
	d := bld.dialect

	typeVal, hasType := entry.Get("type")
	if !hasType {
		return sterr.Schemaf("missing 'type:' for '%s' in 'properties' in %s", name, b.Path)
	}
	typeStr, isStr := typeVal.(string)
	if !isStr {
		return sterr.Schemaf("malformed 'type:' for '%s' in 'properties' in %s", name, b.Path)
	}
	pt := PropType(typeStr)
	if pt == Node {
		// Child nodes are checked by their child bindings.
		return nil
	}
	if !d.TypeOK(pt) {
		return sterr.Schemaf("'%s' in 'properties:' in %s has unknown type '%s', expected one of %s",
			name, b.Path, pt, strings.Join(d.TypeNames(), ", "))
	}

	if d.Buses {
		space, hasSpace := entry.Get("specifier-space")
		if hasSpace {
			if pt != PHandleArray {
				return sterr.Schemaf("'specifier-space' in %s for property '%s' is only legal on 'type: phandle-array'",
					b.Path, name)
			}
			if _, isStr := space.(string); !isStr {
				return sterr.Schemaf("malformed 'specifier-space' for '%s' in %s, expected string", name, b.Path)
			}
		}
		if pt == PHandleArray && !hasSpace && !strings.HasSuffix(name, "s") {
			return sterr.Schemaf("'%s' in 'properties:' in %s has type 'phandle-array' and its name does not end in 's', but no 'specifier-space' was provided",
				name, b.Path)
		}
	}

	constVal, hasConst := entry.Get("const")
	if hasConst && constVal != nil {
		switch pt {
		case Int, Array, Uint8Array, String, StringArray:
		default:
			return sterr.Schemaf("const in %s for property '%s' has type '%s', expected one of int, array, uint8-array, string, string-array",
				b.Path, name, pt)
		}
	}

	def, hasDefault := entry.Get("default")
	if !hasDefault || def == nil {
		return nil
	}
	if !d.Types[pt].CanDefault {
		return sterr.Schemaf("'default:' can't be combined with 'type: %s' for '%s' in 'properties:' in %s",
			pt, name, b.Path)
	}
	if !defaultOK(pt, def) {
		return sterr.Schemaf("'default: %v' is invalid for '%s' in 'properties:' in %s, which has type %s",
			def, name, b.Path, pt)
	}
	return nil
}

// defaultOK reports whether v is a valid default for the property type.
func defaultOK(pt PropType, v any) bool {
	switch pt {
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Int:
		return isInt(v)
	case Array:
		vals, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range vals {
			if !isInt(e) {
				return false
			}
		}
		return true
	case Uint8Array:
		return bytesOK(v)
	case String:
		_, ok := v.(string)
		return ok
	case StringArray:
		vals, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range vals {
			if _, ok := e.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// bytesOK accepts a byte-array literal: a list of integers or a hex string.
func bytesOK(v any) bool {
	switch val := v.(type) {
	case []any:
		for _, e := range val {
			if !isInt(e) {
				return false
			}
		}
		return true
	case string:
		_, err := hex.DecodeString(strings.ReplaceAll(val, " ", ""))
		return err == nil
	}
	return false
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int64, uint64:
		return true
	}
	return false
}

// AsInt widens any decoded YAML integer to int64.
func AsInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

func entryType(entry *yamlmap.Map) string {
	if v, ok := entry.Get("type"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toStringList(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string or list of strings, got %T", v)
}

package binding

// TypeInfo describes how one property type behaves in a dialect.
type TypeInfo struct {
	// CanDefault is true when a binding may give the type a default value.
	CanDefault bool
}

// Dialect captures how a source family spells its binding documents: the
// key naming the schema, the property types it accepts, and the legacy
// keys it rejects. The two dialects share the resolution machinery.
type Dialect struct {
	Name string

	// SchemaKey is the top-level key carrying the schema name.
	SchemaKey string

	// Types maps every accepted property type to its behavior.
	Types map[PropType]TypeInfo

	// ExtraPropKeys extends the per-property key set beyond the common one.
	ExtraPropKeys []string

	// LegacyErrors maps obsolete top-level keys to migration hints.
	LegacyErrors map[string]string

	// Buses is true when bindings may declare 'bus:' and 'on-bus:' and
	// '*-cells' specifier name lists.
	Buses bool
}

// TypeOK reports whether the dialect accepts the property type.
func (d *Dialect) TypeOK(t PropType) bool {
	_, ok := d.Types[t]
	return ok
}

// TypeNames returns the accepted type names for error messages.
func (d *Dialect) TypeNames() []string {
	names := make([]string, 0, len(d.Types))
	for t := range d.Types {
		names = append(names, string(t))
	}
	return names
}

var commonLegacyErrors = map[string]string{
	"sub-node": "use a property with 'type: node' instead",
	"title":    "use 'description' instead",
}

// Hardware is the dialect of devicetree-like sources: byte payloads,
// device handles and indexed references. Reference-like types cannot carry
// defaults, and neither can boolean, whose value is pure presence.
var Hardware = &Dialect{
	Name:      "hardware",
	SchemaKey: "compatible",
	Types: map[PropType]TypeInfo{
		Boolean:      {CanDefault: false},
		Int:          {CanDefault: true},
		Array:        {CanDefault: true},
		Uint8Array:   {CanDefault: true},
		String:       {CanDefault: true},
		StringArray:  {CanDefault: true},
		PHandle:      {CanDefault: false},
		PHandles:     {CanDefault: false},
		PHandleArray: {CanDefault: false},
		Path:         {CanDefault: false},
		Compound:     {CanDefault: false},
	},
	ExtraPropKeys: []string{"specifier-space"},
	LegacyErrors: map[string]string{
		"sub-node":   commonLegacyErrors["sub-node"],
		"title":      commonLegacyErrors["title"],
		"#cells":     "use '*-cells' syntax instead",
		"child":      "use 'child-binding' instead",
		"child-bus":  "use 'bus' instead",
		"parent":     "use 'on-bus' instead",
		"parent-bus": "use 'on-bus' instead",
	},
	Buses: true,
}

// Software is the dialect of configuration-overlay sources. Values are
// language-native scalars, so boolean may default, and indexed references
// do not exist.
var Software = &Dialect{
	Name:      "software",
	SchemaKey: "schema",
	Types: map[PropType]TypeInfo{
		Boolean:     {CanDefault: true},
		Int:         {CanDefault: true},
		Array:       {CanDefault: true},
		Uint8Array:  {CanDefault: true},
		String:      {CanDefault: true},
		StringArray: {CanDefault: true},
		PHandle:     {CanDefault: false},
		PHandles:    {CanDefault: false},
		Path:        {CanDefault: false},
	},
	LegacyErrors: commonLegacyErrors,
}

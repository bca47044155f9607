package binding

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/settree/internal/yamlmap"
)

// PropType is the declared type of a property, as spelled in binding files.
type PropType string

const (
	Boolean      PropType = "boolean"
	Int          PropType = "int"
	Array        PropType = "array"
	Uint8Array   PropType = "uint8-array"
	String       PropType = "string"
	StringArray  PropType = "string-array"
	PHandle      PropType = "phandle"
	PHandles     PropType = "phandles"
	PHandleArray PropType = "phandle-array"
	Path         PropType = "path"
	Compound     PropType = "compound"

	// Node marks a property entry that is a child binding rather than a
	// value specification.
	Node PropType = "node"
)

var notAlnumOrUnderscore = regexp.MustCompile(`[^0-9A-Za-z_]`)

// PropertySpec describes one property as specified by a binding: its type,
// value constraints and flags. The name is normally exact but may be a
// pattern covering several property names.
type PropertySpec struct {
	// Name is the property name or name pattern as written in the binding.
	Name string
	// Binding is the binding that carries this spec.
	Binding *Binding
	// Path is the file where the spec was last modified; for specs merged
	// in through includes this is the included file.
	Path string

	Type        PropType
	Description string
	Enum        []any
	Const       any
	Default     any
	Required    bool
	Deprecated  bool
	// SpecifierSpace overrides the cell namespace of an indexed reference
	// property whose name does not end in "s".
	SpecifierSpace string

	pattern *namePattern

	enumTokens []string
	tokenized  bool
}

// MatchName reports whether the spec covers the given property name.
func (s *PropertySpec) MatchName(name string) bool {
	return s.pattern.matchFull(name)
}

// MatchNamePrefix reports whether the spec's name pattern matches a prefix
// of the given property name. Dependency scanning uses this looser form.
func (s *PropertySpec) MatchNamePrefix(name string) bool {
	return s.pattern.matchPrefix(name)
}

// EnumTokens returns the enum values with every character outside
// [0-9A-Za-z_] replaced by an underscore. Non-string enums yield nil.
func (s *PropertySpec) EnumTokens() []string {
	if !s.tokenized {
		s.tokenized = true
		if s.Type != String && s.Type != StringArray {
			return nil
		}
		for _, v := range s.Enum {
			str, ok := v.(string)
			if !ok {
				s.enumTokens = nil
				return nil
			}
			s.enumTokens = append(s.enumTokens, notAlnumOrUnderscore.ReplaceAllString(str, "_"))
		}
	}
	return s.enumTokens
}

// EnumTokenizable reports whether the property has a string-typed enum
// whose values stay unique after tokenization.
func (s *PropertySpec) EnumTokenizable() bool {
	tokens := s.EnumTokens()
	if tokens == nil {
		return false
	}
	return uniqueStrings(tokens)
}

// EnumUpperTokenizable is EnumTokenizable with the values also unique after
// uppercasing.
func (s *PropertySpec) EnumUpperTokenizable() bool {
	if !s.EnumTokenizable() {
		return false
	}
	upper := make([]string, len(s.enumTokens))
	for i, t := range s.enumTokens {
		upper[i] = strings.ToUpper(t)
	}
	return uniqueStrings(upper)
}

func uniqueStrings(vals []string) bool {
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if _, dup := seen[v]; dup {
			return false
		}
		seen[v] = struct{}{}
	}
	return true
}

func (s *PropertySpec) String() string {
	return fmt.Sprintf("<PropertySpec %s type '%s' in '%s'>", s.Name, s.Type, s.Path)
}

// namePattern is a compiled property name pattern. Blocklist filtering
// spells exclusions as chained '(?!^name$)' prefixes, which RE2 cannot
// compile, so those prefixes are parsed off into an exclusion set and the
// remainder compiled as a plain pattern.
type namePattern struct {
	source  string
	full    *regexp.Regexp
	prefix  *regexp.Regexp
	exclude map[string]struct{}
}

var excludePrefix = regexp.MustCompile(`^\(\?!\^(.*?)\$\)`)

func compileNamePattern(source string) (*namePattern, error) {
	rest := source
	var exclude map[string]struct{}
	for {
		m := excludePrefix.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		if exclude == nil {
			exclude = map[string]struct{}{}
		}
		exclude[m[1]] = struct{}{}
		rest = rest[len(m[0]):]
	}
	full, err := regexp.Compile(`\A(?:` + rest + `)\z`)
	if err != nil {
		return nil, err
	}
	prefix, err := regexp.Compile(`\A(?:` + rest + `)`)
	if err != nil {
		return nil, err
	}
	return &namePattern{source: source, full: full, prefix: prefix, exclude: exclude}, nil
}

func (p *namePattern) matchFull(name string) bool {
	if _, blocked := p.exclude[name]; blocked {
		return false
	}
	return p.full.MatchString(name)
}

// matchPrefix mirrors a non-anchored match of the pattern against a filter
// key, which is how allowlist and blocklist entries are compared to
// pattern-named property entries.
func (p *namePattern) matchPrefix(name string) bool {
	if _, blocked := p.exclude[name]; blocked {
		return false
	}
	return p.prefix.MatchString(name)
}

// NewPropertySpec creates a standalone property specification that is not
// backed by a binding document. Sources use this for the default
// specifications applied to nodes without a binding. Enum, Default and the
// other exported fields may be filled in afterwards.
func NewPropertySpec(name, path string, t PropType) (*PropertySpec, error) {
	pattern, err := compileNamePattern(name)
	if err != nil {
		return nil, fmt.Errorf("property name pattern '%s': %w", name, err)
	}
	return &PropertySpec{Name: name, Path: path, Type: t, pattern: pattern}, nil
}

// newPropertySpec parses one property entry of a binding document.
// Validation of the entry happens separately in the binding check pass.
func newPropertySpec(name, path string, b *Binding, src *yamlmap.Map) (*PropertySpec, error) {
	pattern, err := compileNamePattern(name)
	if err != nil {
		return nil, fmt.Errorf("property name pattern '%s' in %s: %w", name, path, err)
	}
	s := &PropertySpec{
		Name:    name,
		Binding: b,
		Path:    path,
		pattern: pattern,
	}
	if v, ok := src.Get("type"); ok {
		if str, ok := v.(string); ok {
			s.Type = PropType(str)
		}
	}
	if v, ok := src.Get("description"); ok {
		s.Description, _ = v.(string)
	}
	if v, ok := src.Get("enum"); ok {
		s.Enum, _ = v.([]any)
	}
	s.Const, _ = src.Get("const")
	s.Default, _ = src.Get("default")
	if v, ok := src.Get("required"); ok {
		s.Required, _ = v.(bool)
	}
	if v, ok := src.Get("deprecated"); ok {
		s.Deprecated, _ = v.(bool)
	}
	if v, ok := src.Get("specifier-space"); ok {
		s.SpecifierSpace, _ = v.(string)
	}
	return s, nil
}

package binding

import (
	"github.com/vk/settree/internal/yamlmap"
	"github.com/vk/settree/sterr"
)

// builder carries the state shared by one resolution run: the include
// resolver, the dialect and the override-exempt key set.
type builder struct {
	res         Resolver
	dialect     *Dialect
	overridable map[string]struct{}
}

// specOrigin records where a property spec was last modified and in which
// merge position it first appeared.
type specOrigin struct {
	names []string
	paths map[string]string
}

func (o *specOrigin) set(name, path string) {
	if o.paths == nil {
		o.paths = map[string]string{}
	}
	if _, ok := o.paths[name]; !ok {
		o.names = append(o.names, name)
	}
	o.paths[name] = path
}

// childAcc accumulates child binding entries across the include hierarchy.
type childAcc struct {
	entries []*ChildBindings
	byName  map[string]*ChildBindings
}

func (a *childAcc) add(name string, b *Binding) error {
	if a.byName == nil {
		a.byName = map[string]*ChildBindings{}
	}
	entry, ok := a.byName[name]
	if !ok {
		pattern, err := compileNamePattern(name)
		if err != nil {
			return sterr.Schemaf("child binding name pattern '%s': %v", name, err)
		}
		entry = &ChildBindings{Name: name, pattern: pattern}
		a.byName[name] = entry
		a.entries = append(a.entries, entry)
	}
	entry.Bindings = append(entry.Bindings, b)
	return nil
}

// build assembles one binding from an already parsed document: it
// normalizes the legacy child-binding key, resolves includes depth first,
// and validates the merged result.
func (bld *builder) build(src *yamlmap.Map, path string, requireSchema, requireDescription bool,
	allowlist, blocklist []string, isChild bool) (*Binding, error) {

	if err := normalizeChildBinding(src, path); err != nil {
		return nil, err
	}

	b := &Binding{
		Path:    path,
		Dialect: bld.dialect,
		IsChild: isChild,
		raw:     src,
	}

	origin := &specOrigin{}
	children := &childAcc{}
	if err := bld.mergeIncludes(b, src, path, allowlist, blocklist, origin, children); err != nil {
		return nil, err
	}

	if v, ok := src.Get(bld.dialect.SchemaKey); ok {
		b.Schema, _ = v.(string)
	}
	if v, ok := src.Get("description"); ok {
		b.Description, _ = v.(string)
	}

	if err := bld.check(b, requireSchema, requireDescription); err != nil {
		return nil, err
	}

	// Instantiate property specs from the fully merged document so values
	// contributed by includes (like OR-ed 'required') are visible.
	props := src.GetMap("properties")
	for _, name := range origin.names {
		if props == nil {
			break
		}
		entry := props.GetMap(name)
		if entry == nil {
			continue
		}
		spec, err := newPropertySpec(name, origin.paths[name], b, entry)
		if err != nil {
			return nil, sterr.Schemaf("%v", err)
		}
		b.Specs = append(b.Specs, spec)
	}
	b.Children = children.entries

	return b, nil
}

// mergeIncludes destructively merges the files named by src's 'include:'
// key into src, removing the key. Merging advances depth first, so property
// entries defined by includes are overridden by the including file's own.
func (bld *builder) mergeIncludes(b *Binding, src *yamlmap.Map, path string,
	allowlist, blocklist []string, origin *specOrigin, children *childAcc) error {

	// The including file's own entries are collected up front but applied
	// after the recursion below, so they land on top of included ones.
	var ownSpecs []string
	var ownChildren []*ChildBindings
	if props := src.GetMap("properties"); props != nil {
		for _, name := range props.Keys() {
			entry := props.GetMap(name)
			if entry == nil {
				return sterr.Schemaf("malformed 'properties: %s: ...' in %s, expected a mapping", name, path)
			}
			if entryType(entry) != string(Node) {
				ownSpecs = append(ownSpecs, name)
				continue
			}
			child, err := bld.build(entry, path, false, false, allowlist, blocklist, true)
			if err != nil {
				return err
			}
			pattern, perr := compileNamePattern(name)
			if perr != nil {
				return sterr.Schemaf("child binding name pattern '%s' in %s: %v", name, path, perr)
			}
			ownChildren = append(ownChildren, &ChildBindings{Name: name, pattern: pattern, Bindings: []*Binding{child}})
		}
	}

	if includesVal, ok := src.Get("include"); ok {
		src.Delete("include")

		var includes []any
		switch v := includesVal.(type) {
		case string:
			includes = []any{v}
		case []any:
			includes = v
		default:
			return sterr.Schemaf("'include:' in %s should be a string or list, but has type %T", path, includesVal)
		}

		merged := yamlmap.New()
		for _, elem := range includes {
			name, mAllow, mBlock, childFilter, err := bld.parseIncludeElem(elem, path, allowlist, blocklist)
			if err != nil {
				return err
			}

			filtered, err := bld.loadAndFilterInclude(b, name, mAllow, mBlock, childFilter, origin, children)
			if err != nil {
				return err
			}
			if err := bld.mergeYAML(path, merged, filtered, false, ""); err != nil {
				return err
			}
		}
		if err := bld.mergeYAML(path, src, merged, true, ""); err != nil {
			return err
		}
	}

	// Own entries override included ones.
	for _, name := range ownSpecs {
		origin.set(name, path)
	}
	for _, entry := range ownChildren {
		if err := children.add(entry.Name, entry.Bindings[0]); err != nil {
			return err
		}
	}
	return nil
}

// parseIncludeElem decodes one element of an 'include:' list: a bare file
// name, or a map with a name and optional property filters. Filter lists
// merge additively with those propagated from including files.
func (bld *builder) parseIncludeElem(elem any, path string, allowlist, blocklist []string) (
	name string, mAllow, mBlock []string, childFilter *yamlmap.Map, err error) {

	switch v := elem.(type) {
	case string:
		return v, allowlist, blocklist, nil, nil
	case *yamlmap.Map:
		if nv, ok := v.Get("name"); ok {
			name, _ = nv.(string)
		}

		mergeList := func(key string, previous []string) ([]string, error) {
			additional, ok := v.Get(key)
			if !ok {
				return previous, nil
			}
			vals, err := toStringList(additional)
			if err != nil {
				return nil, sterr.Schemaf("'%s' value in %s should be a list", key, path)
			}
			return append(vals, previous...), nil
		}
		if mAllow, err = mergeList("property-allowlist", allowlist); err != nil {
			return "", nil, nil, nil, err
		}
		if mBlock, err = mergeList("property-blocklist", blocklist); err != nil {
			return "", nil, nil, nil, err
		}
		childFilter = v.GetMap("child-binding")

		for _, key := range v.Keys() {
			switch key {
			case "name", "property-allowlist", "property-blocklist", "child-binding":
			default:
				return "", nil, nil, nil, sterr.Schemaf(
					"'include:' in %s should not have these unexpected contents: %s", path, key)
			}
		}

		if err := checkIncludeDict(name, mAllow, mBlock, childFilter, path); err != nil {
			return "", nil, nil, nil, err
		}
		return name, mAllow, mBlock, childFilter, nil
	default:
		return "", nil, nil, nil, sterr.Schemaf(
			"all elements in 'include:' in %s should be either strings or maps with a 'name' key "+
				"and optional 'property-allowlist' or 'property-blocklist' keys, but got: %v", path, elem)
	}
}

// checkIncludeDict validates the structure of a filtered include before any
// file is read: the name must be present, and allowlist and blocklist are
// mutually exclusive at every child-binding nesting level.
func checkIncludeDict(name string, allowlist, blocklist []string, childFilter *yamlmap.Map, path string) error {
	if name == "" {
		return sterr.Schemaf("'include:' element in %s should have a 'name' key", path)
	}
	if allowlist != nil && blocklist != nil {
		return sterr.Schemaf("'include:' of file '%s' in %s should not specify both "+
			"'property-allowlist:' and 'property-blocklist:'", name, path)
	}

	for filter := childFilter; filter != nil; {
		var childAllow, childBlock bool
		var next *yamlmap.Map
		for _, key := range filter.Keys() {
			switch key {
			case "property-allowlist":
				childAllow = true
			case "property-blocklist":
				childBlock = true
			case "child-binding":
				next = filter.GetMap("child-binding")
			default:
				return sterr.Schemaf("'include:' of file '%s' in %s should not have these "+
					"unexpected contents in a 'child-binding': %s", name, path, key)
			}
		}
		if childAllow && childBlock {
			return sterr.Schemaf("'include:' of file '%s' in %s should not specify both "+
				"'property-allowlist:' and 'property-blocklist:' in a 'child-binding:'", name, path)
		}
		filter = next
	}
	return nil
}

// loadAndFilterInclude reads one included binding file, applies the
// property filters to it, and recursively merges its own includes.
func (bld *builder) loadAndFilterInclude(b *Binding, name string, allowlist, blocklist []string,
	childFilter *yamlmap.Map, origin *specOrigin, children *childAcc) (*yamlmap.Map, error) {

	if bld.res == nil {
		return nil, sterr.Schemaf("'%s' not found: no include resolver configured", name)
	}
	data, ipath, err := bld.res.ReadInclude(name)
	if err != nil {
		return nil, sterr.Schemaf("include '%s': %v", name, err)
	}
	src, err := yamlmap.Parse(data)
	if err != nil {
		return nil, sterr.Schemaf("%s: invalid contents, expected a mapping: %v", ipath, err)
	}
	if err := normalizeChildBinding(src, ipath); err != nil {
		return nil, err
	}
	if err := bld.filterProperties(b.Path, src.GetMap("properties"), allowlist, blocklist, childFilter); err != nil {
		return nil, err
	}
	if err := bld.mergeIncludes(b, src, ipath, allowlist, blocklist, origin, children); err != nil {
		return nil, err
	}
	return src, nil
}

// normalizeChildBinding recursively rewrites the legacy 'child-binding:'
// key into a '.*' property entry of type node.
func normalizeChildBinding(src *yamlmap.Map, path string) error {
	child, ok := src.Get("child-binding")
	if !ok {
		return nil
	}
	childMap, isMap := child.(*yamlmap.Map)
	if !isMap {
		return sterr.Schemaf("malformed 'child-binding:' in %s, expected a binding (dictionary with keys/values)", path)
	}
	src.Delete("child-binding")
	if err := normalizeChildBinding(childMap, path); err != nil {
		return err
	}
	childMap.Set("type", string(Node))
	props := src.GetMap("properties")
	if props == nil {
		props = yamlmap.New()
		src.Set("properties", props)
	}
	props.Set(".*", childMap)
	return nil
}

// filterProperties destructively applies an allowlist or blocklist to a
// properties map. Node-typed entries are never filtered directly; the child
// filter recurses into them instead.
//
// An allowlist keeps exact matches and rewrites pattern entries that cover
// an allowed name into exact entries. A blocklist deletes exact matches and
// narrows pattern entries so they no longer cover the blocked name.
func (bld *builder) filterProperties(path string, props *yamlmap.Map,
	allowlist, blocklist []string, childFilter *yamlmap.Map) error {

	if props == nil {
		return nil
	}

	type addition struct {
		name  string
		entry any
	}
	var toDelete []string
	var toAdd []addition
	added := map[string]struct{}{}

	patternOf := func(name string) (*namePattern, error) {
		pattern, err := compileNamePattern(name)
		if err != nil {
			return nil, sterr.Schemaf("property name pattern '%s' in %s: %v", name, path, err)
		}
		return pattern, nil
	}

	switch {
	case allowlist != nil:
		for _, name := range props.Keys() {
			entry, _ := props.Get(name)
			if entryIsNode(entry) {
				continue
			}
			if containsStr(allowlist, name) {
				continue
			}
			toDelete = append(toDelete, name)

			pattern, err := patternOf(name)
			if err != nil {
				return err
			}
			for _, allowKey := range allowlist {
				if !pattern.matchPrefix(allowKey) || props.Has(allowKey) {
					continue
				}
				if _, dup := added[allowKey]; dup {
					continue
				}
				added[allowKey] = struct{}{}
				toAdd = append(toAdd, addition{allowKey, entry})
			}
		}

	case blocklist != nil:
		for _, name := range props.Keys() {
			entry, _ := props.Get(name)
			if entryIsNode(entry) {
				continue
			}
			if containsStr(blocklist, name) {
				toDelete = append(toDelete, name)
				continue
			}

			pattern, err := patternOf(name)
			if err != nil {
				return err
			}
			restricted := name
			matched := false
			for _, blockKey := range blocklist {
				if pattern.matchPrefix(blockKey) {
					matched = true
					restricted = "(?!^" + blockKey + "$)" + restricted
				}
			}
			if matched {
				toDelete = append(toDelete, name)
				if !props.Has(restricted) {
					toAdd = append(toAdd, addition{restricted, entry})
				}
			}
		}
	}

	for _, name := range toDelete {
		props.Delete(name)
	}
	for _, add := range toAdd {
		props.Set(add.name, add.entry)
	}

	if childFilter == nil {
		return nil
	}

	var childAllow, childBlock []string
	if v, ok := childFilter.Get("property-allowlist"); ok {
		var err error
		if childAllow, err = toStringList(v); err != nil {
			return sterr.Schemaf("'property-allowlist' value in %s should be a list", path)
		}
	}
	if v, ok := childFilter.Get("property-blocklist"); ok {
		var err error
		if childBlock, err = toStringList(v); err != nil {
			return sterr.Schemaf("'property-blocklist' value in %s should be a list", path)
		}
	}
	for _, name := range props.Keys() {
		entry := props.GetMap(name)
		if entry == nil || entryType(entry) != string(Node) {
			continue
		}
		if err := bld.filterProperties(path, entry.GetMap("properties"),
			childAllow, childBlock, childFilter.GetMap("child-binding")); err != nil {
			return err
		}
	}
	return nil
}

func entryIsNode(entry any) bool {
	m, ok := entry.(*yamlmap.Map)
	return ok && entryType(m) == string(Node)
}

func containsStr(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// mergeYAML recursively merges from into to. Maps merge key by key; a key
// only in from is copied; equal values collapse; 'required' flags OR
// together, and when checkRequired is set an including file may not
// downgrade an included 'required: true'. Any other conflicting value is an
// error unless the key is override-exempt.
func (bld *builder) mergeYAML(path string, to, from *yamlmap.Map, checkRequired bool, parentKey string) error {
	for _, key := range from.Keys() {
		fromVal, _ := from.Get(key)
		toVal, hasTo := to.Get(key)

		toMap, toIsMap := toVal.(*yamlmap.Map)
		fromMap, fromIsMap := fromVal.(*yamlmap.Map)
		switch {
		case hasTo && toIsMap && fromIsMap:
			if err := bld.mergeYAML(path, toMap, fromMap, checkRequired, key); err != nil {
				return err
			}
		case !hasTo:
			to.Set(key, fromVal)
		case bld.badOverwrite(key, toVal, fromVal, checkRequired):
			return sterr.Schemaf("%s (in '%s'): '%s' from included file overwritten ('%v' replaced with '%v')",
				path, parentKey, key, fromVal, toVal)
		case key == "required":
			toReq, toOK := toVal.(bool)
			fromReq, fromOK := fromVal.(bool)
			if !toOK || !fromOK {
				return sterr.Schemaf("malformed 'required:' setting for '%s' in 'properties' in %s, expected true/false",
					parentKey, path)
			}
			to.Set(key, toReq || fromReq)
		}
	}
	return nil
}

// badOverwrite reports whether it is an error for toVal to take precedence
// over fromVal for the given key.
func (bld *builder) badOverwrite(key string, toVal, fromVal any, checkRequired bool) bool {
	if yamlmap.Equal(toVal, fromVal) {
		return false
	}
	if _, ok := bld.overridable[key]; ok {
		return false
	}
	if key == "required" {
		if !checkRequired {
			return false
		}
		return fromVal == true && toVal == false
	}
	return true
}

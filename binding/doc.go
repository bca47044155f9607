// Package binding loads and validates binding documents: YAML files that
// describe settings nodes and their properties. Nodes are mapped to bindings
// via their schema property; a binding constrains the bound node and,
// through node-typed property entries (child bindings), its children.
//
// Binding files compose through 'include:' with optional property
// allowlist/blocklist filters. Includes are resolved depth first, so a
// binding overrides the property specifications of the files it includes.
package binding

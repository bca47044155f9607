// Package graph implements the dependency digraph behind initialization
// ordering. It is string-keyed and deterministic for a fixed order key, and
// reports strongly connected components in dependency order: no component
// depends on a later one.
package graph

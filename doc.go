// Package settree merges settings from several source files into one
// normalized tree of schema-validated, binding-typed nodes.
//
// Each source file (a hardware description, a YAML configuration overlay
// set, ...) is wrapped in a PartialTree. Partial trees are added to a Tree
// and processed in order: nodes are validated against their bindings,
// property values are resolved and cross-references between nodes are
// followed. Nodes that share a path across sources merge into a single
// MergedNode. Processing finishes by computing a dependency graph over the
// merged nodes and assigning each node a dependency ordinal, so that a node
// never depends on a node with a higher ordinal.
package settree

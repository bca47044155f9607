// Package cfgtree adapts software configuration sources to the settree
// merge pipeline. A configuration source is a list of overlays, each
// mounting a subtree of plain YAML (or HCL) values at an absolute path or
// at a node label. Schemas are assigned through the "schema" property and
// nodes are toggled through "enabled".
package cfgtree

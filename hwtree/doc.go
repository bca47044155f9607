// Package hwtree adapts hardware description sources to the settree merge
// pipeline. Hardware sources carry cell encoded payloads, address device
// references through 32-bit handles and assign schemas through the
// "compatible" property. The package also decodes register blocks and
// address range translations from raw nodes.
package hwtree

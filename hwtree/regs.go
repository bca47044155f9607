package hwtree

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/settree"
	"github.com/vk/settree/internal/ctxlog"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
)

// Register is one decoded register block of a node's "reg" property, with
// the address translated into the root address space.
type Register struct {
	// Name is the block's name from "reg-names", or "".
	Name string
	Addr uint64
	Size uint64
	// HasAddr and HasSize are false when the respective cell count on
	// the parent is zero.
	HasAddr bool
	HasSize bool
}

// Range is one address translation entry of a node's "ranges" property.
type Range struct {
	ChildBusCells  int
	ChildBusAddr   uint64
	HasChildAddr   bool
	ParentBusCells int
	ParentBusAddr  uint64
	HasParentAddr  bool
	LengthCells    int
	Length         uint64
	HasLength      bool
}

// Registers decodes the node's "reg" property. Cell counts come from the
// parent's "#address-cells" and "#size-cells", defaulting to 2 and 1.
// Addresses are translated through "ranges" properties on ancestors.
func Registers(n *settree.Node) ([]Register, error) {
	raw := n.Raw()
	v, ok := raw.Prop("reg")
	if !ok {
		return nil, nil
	}

	addrCells, err := addressCells(raw)
	if err != nil {
		return nil, err
	}
	sizeCells, err := sizeCells(raw)
	if err != nil {
		return nil, err
	}

	entries, err := sliceCells(raw, "reg", v, addrCells+sizeCells,
		fmt.Sprintf("4*(<#address-cells> (= %d) + <#size-cells> (= %d))", addrCells, sizeCells))
	if err != nil {
		return nil, err
	}

	var regs []Register
	for _, entry := range entries {
		var reg Register
		if addrCells > 0 {
			addr, err := translate(cellsToNum(entry[:addrCells]), raw)
			if err != nil {
				return nil, err
			}
			reg.Addr, reg.HasAddr = addr, true
		}
		if sizeCells > 0 {
			reg.Size, reg.HasSize = cellsToNum(entry[addrCells:]), true
			if reg.Size == 0 {
				return nil, sterr.Propertyf(
					"zero-sized 'reg' in %s seems meaningless (maybe you want a size of one or #size-cells = 0 instead)",
					raw.Path())
			}
		}
		regs = append(regs, reg)
	}

	if err := nameObjects(raw, "reg", len(regs), func(i int, name string) {
		regs[i].Name = name
	}); err != nil {
		return nil, err
	}
	return regs, nil
}

// Ranges decodes the node's "ranges" property.
func Ranges(n *settree.Node) ([]Range, error) {
	raw := n.Raw()
	v, ok := raw.Prop("ranges")
	if !ok {
		return nil, nil
	}

	childAddrCells := cellCountProp(raw, "#address-cells", 2)
	parentAddrCells, err := addressCells(raw)
	if err != nil {
		return nil, err
	}
	childSizeCells := cellCountProp(raw, "#size-cells", 1)

	entryCells := childAddrCells + parentAddrCells + childSizeCells
	if entryCells == 0 {
		if len(v.Bytes) == 0 {
			return nil, nil
		}
		return nil, sterr.Propertyf(
			"'ranges' should be empty in %s since <#address-cells> = %d, <#address-cells for parent> = %d and <#size-cells> = %d",
			raw.Path(), childAddrCells, parentAddrCells, childSizeCells)
	}

	entries, err := sliceCells(raw, "ranges", v, entryCells,
		fmt.Sprintf("4*(<#address-cells> (= %d) + <#address-cells for parent> (= %d) + <#size-cells> (= %d))",
			childAddrCells, parentAddrCells, childSizeCells))
	if err != nil {
		return nil, err
	}

	var ranges []Range
	for _, entry := range entries {
		r := Range{
			ChildBusCells:  childAddrCells,
			ParentBusCells: parentAddrCells,
			LengthCells:    childSizeCells,
		}
		if childAddrCells > 0 {
			r.ChildBusAddr, r.HasChildAddr = cellsToNum(entry[:childAddrCells]), true
		}
		if parentAddrCells > 0 {
			r.ParentBusAddr = cellsToNum(entry[childAddrCells : childAddrCells+parentAddrCells])
			r.HasParentAddr = true
		}
		if childSizeCells > 0 {
			r.Length, r.HasLength = cellsToNum(entry[childAddrCells+parentAddrCells:]), true
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// UnitAddr returns the "@<unit-address>" part of the node name, translated
// into the root address space. ok is false when the name carries no unit
// address.
func UnitAddr(n *settree.Node) (addr uint64, ok bool, err error) {
	name := n.Raw().Name
	i := strings.IndexByte(name, '@')
	if i < 0 {
		return 0, false, nil
	}
	parsed, err := strconv.ParseUint(name[i+1:], 16, 64)
	if err != nil {
		return 0, false, sterr.Propertyf("%s has non-hex unit address", n.Path())
	}
	translated, err := translate(parsed, n.Raw())
	if err != nil {
		return 0, false, err
	}
	return translated, true, nil
}

// CheckUnitAddrs warns about nodes whose unit address does not match the
// first register address, which is usually a copy-paste mistake.
func CheckUnitAddrs(ctx context.Context, nodes []*settree.Node) error {
	log := ctxlog.FromContext(ctx)
	for _, n := range nodes {
		addr, ok, err := UnitAddr(n)
		if err != nil || !ok {
			continue
		}
		regs, err := Registers(n)
		if err != nil || len(regs) == 0 || !regs[0].HasAddr {
			continue
		}
		if regs[0].Addr != addr {
			log.Warn(fmt.Sprintf(
				"unit address 0x%x and first address in 'reg' (0x%x) don't match for %s",
				addr, regs[0].Addr, n.Path()))
		}
	}
	return nil
}

// translate recursively maps addr from the node's address space into its
// parents' address spaces, following "ranges" translations upward.
func translate(addr uint64, raw *rawtree.Node) (uint64, error) {
	if raw.Parent == nil {
		return addr, nil
	}
	ranges, ok := raw.Parent.Prop("ranges")
	if !ok {
		return addr, nil
	}
	if len(ranges.Bytes) == 0 {
		// An empty "ranges" declares the child and parent address
		// spaces identical.
		return translate(addr, raw.Parent)
	}

	// The translation entry layout is declared by the node holding
	// "ranges": its own cell counts for the child side, its parent's
	// address cells for the parent side.
	childAddrCells := cellCountProp(raw.Parent, "#address-cells", 2)
	parentAddrCells, err := addressCells(raw.Parent)
	if err != nil {
		return 0, err
	}
	childSizeCells := cellCountProp(raw.Parent, "#size-cells", 1)

	entries, err := sliceCells(raw.Parent, "ranges", ranges, childAddrCells+parentAddrCells+childSizeCells,
		fmt.Sprintf("4*(<#address-cells> (= %d) + <#address-cells for parent> (= %d) + <#size-cells> (= %d))",
			childAddrCells, parentAddrCells, childSizeCells))
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		childAddr := cellsToNum(entry[:childAddrCells])
		parentAddr := cellsToNum(entry[childAddrCells : childAddrCells+parentAddrCells])
		length := cellsToNum(entry[childAddrCells+parentAddrCells:])

		if childAddr <= addr && addr < childAddr+length {
			return translate(parentAddr+addr-childAddr, raw.Parent)
		}
	}

	// Not covered by any translation entry.
	return addr, nil
}

// addressCells returns the number of address cells the node's parent
// declares for its children, 2 when undeclared.
func addressCells(raw *rawtree.Node) (int, error) {
	if raw.Parent == nil {
		return cellCountProp(raw, "#address-cells", 2), nil
	}
	return cellCountProp(raw.Parent, "#address-cells", 2), nil
}

func sizeCells(raw *rawtree.Node) (int, error) {
	if raw.Parent == nil {
		return cellCountProp(raw, "#size-cells", 1), nil
	}
	return cellCountProp(raw.Parent, "#size-cells", 1), nil
}

func cellCountProp(raw *rawtree.Node, name string, def int) int {
	v, ok := raw.Prop(name)
	if !ok || (v.Kind != rawtree.Num && v.Kind != rawtree.Nums) || len(v.Bytes) != 4 {
		return def
	}
	return int(binary.BigEndian.Uint32(v.Bytes))
}

// sliceCells splits a cell payload into equally sized entries of cell
// lists, erroring out when the payload does not divide evenly.
func sliceCells(raw *rawtree.Node, name string, v rawtree.Value, entryCells int, sizeHint string) ([][]uint32, error) {
	entrySize := 4 * entryCells
	if entrySize == 0 || len(v.Bytes)%entrySize != 0 {
		return nil, sterr.Propertyf(
			"'%s' property in %s has length %d, which is not evenly divisible by %d (= %s)",
			name, raw.Path(), len(v.Bytes), entrySize, sizeHint)
	}
	cells := rawtree.UnpackCells(v.Bytes)
	var out [][]uint32
	for i := 0; i < len(cells); i += entryCells {
		out = append(out, cells[i:i+entryCells])
	}
	return out, nil
}

// cellsToNum joins big-endian cells into one number.
func cellsToNum(cells []uint32) uint64 {
	var out uint64
	for _, c := range cells {
		out = out<<32 | uint64(c)
	}
	return out
}

// nameObjects applies the strings of a "<ident>-names" property to a list
// of decoded objects.
func nameObjects(raw *rawtree.Node, ident string, count int, set func(int, string)) error {
	v, ok := raw.Prop(ident + "-names")
	if !ok {
		return nil
	}
	var names []string
	switch v.Kind {
	case rawtree.String:
		names = []string{v.Str}
	case rawtree.Strings:
		names = v.Strs
	default:
		return sterr.Propertyf("'%s-names' in %s is not a string list", ident, raw.Path())
	}
	if len(names) != count {
		return sterr.Propertyf(
			"%s-names property in %s has %d strings, expected %d strings",
			ident, raw.Path(), len(names), count)
	}
	for i, name := range names {
		set(i, name)
	}
	return nil
}

package settree

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/ctxlog"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
)

// resolveProp turns one declared property into its typed value. The second
// return is false when the property is absent from the source and has no
// default, in which case it is not stored on the node.
func (pt *PartialTree) resolveProp(ctx context.Context, n *Node, spec *binding.PropertySpec) (*Property, bool, error) {
	raw, present := n.raw.Prop(spec.Name)

	if present {
		if spec.Deprecated {
			msg := fmt.Sprintf(
				"'%s' is marked as deprecated in 'properties:' in %s for node %s.",
				spec.Name, spec.Path, n.Path())
			if pt.tree.opts.ErrOnDeprecated {
				return nil, false, sterr.Propertyf("%s", msg)
			}
			ctxlog.FromContext(ctx).Warn(msg)
		}
	} else {
		if spec.Required && n.enabled {
			return nil, false, sterr.Propertyf(
				"'%s' is marked as required in 'properties:' in %s, but does not appear in %s.",
				spec.Name, spec.Path, n.Path())
		}
		if spec.Default != nil {
			val, err := defaultVal(spec)
			if err != nil {
				return nil, false, err
			}
			return &Property{Spec: spec, Node: n, Val: val}, true, nil
		}
		if spec.Type == binding.Boolean {
			return &Property{Spec: spec, Node: n, Val: Value{Kind: binding.Boolean}}, true, nil
		}
		return nil, false, nil
	}

	var val Value
	var err error
	switch pt.src.Kind() {
	case HardwareSource:
		val, err = pt.hardwareVal(n, spec, raw)
	case SoftwareSource:
		val, err = pt.softwareVal(n, spec, raw)
	default:
		err = sterr.Propertyf("unsupported source kind %s", pt.src.Kind())
	}
	if err != nil {
		return nil, false, err
	}
	return &Property{Spec: spec, Node: n, Val: val}, true, nil
}

// defaultVal converts a binding supplied default to a typed value. Defaults
// are written in YAML, so byte arrays arrive as integer lists or hex
// strings and need normalizing.
func defaultVal(spec *binding.PropertySpec) (Value, error) {
	switch spec.Type {
	case binding.Boolean:
		b, ok := spec.Default.(bool)
		if !ok {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s is not a boolean", spec.Name, spec.Path)
		}
		return Value{Kind: binding.Boolean, Bool: b}, nil
	case binding.Int:
		i, ok := binding.AsInt(spec.Default)
		if !ok {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s is not an integer", spec.Name, spec.Path)
		}
		return Value{Kind: binding.Int, Int: i}, nil
	case binding.Array:
		list, ok := spec.Default.([]any)
		if !ok {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s is not an integer list", spec.Name, spec.Path)
		}
		ints := make([]int64, 0, len(list))
		for _, e := range list {
			i, ok := binding.AsInt(e)
			if !ok {
				return Value{}, sterr.Propertyf(
					"default for '%s' in %s is not an integer list", spec.Name, spec.Path)
			}
			ints = append(ints, i)
		}
		return Value{Kind: binding.Array, Ints: ints}, nil
	case binding.Uint8Array:
		b, err := defaultBytes(spec.Default)
		if err != nil {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s: %s", spec.Name, spec.Path, err)
		}
		return Value{Kind: binding.Uint8Array, Bytes: b}, nil
	case binding.String:
		s, ok := spec.Default.(string)
		if !ok {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s is not a string", spec.Name, spec.Path)
		}
		return Value{Kind: binding.String, Str: s}, nil
	case binding.StringArray:
		list, ok := spec.Default.([]any)
		if !ok {
			return Value{}, sterr.Propertyf(
				"default for '%s' in %s is not a string list", spec.Name, spec.Path)
		}
		strs := make([]string, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok {
				return Value{}, sterr.Propertyf(
					"default for '%s' in %s is not a string list", spec.Name, spec.Path)
			}
			strs = append(strs, s)
		}
		return Value{Kind: binding.StringArray, Strs: strs}, nil
	}
	return Value{}, sterr.Propertyf(
		"'%s' in %s has a default but type '%s' cannot be defaulted",
		spec.Name, spec.Path, spec.Type)
}

// defaultBytes accepts the two YAML spellings of a byte array: a list of
// integers in 0..255 or a hex string like "0012ff" (spaces allowed).
func defaultBytes(v any) ([]byte, error) {
	switch val := v.(type) {
	case []any:
		out := make([]byte, 0, len(val))
		for _, e := range val {
			i, ok := binding.AsInt(e)
			if !ok || i < 0 || i > 255 {
				return nil, fmt.Errorf("'%v' is not a byte value", e)
			}
			out = append(out, byte(i))
		}
		return out, nil
	case string:
		b, err := hex.DecodeString(strings.ReplaceAll(val, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a valid hex string", val)
		}
		return b, nil
	}
	return nil, fmt.Errorf("'%v' is not a byte array", v)
}

//
// Hardware value conversion. Payloads are cell encoded byte strings; node
// references travel as 32-bit device handles resolved through the raw
// tree's handle table.
//

func (pt *PartialTree) hardwareVal(n *Node, spec *binding.PropertySpec, raw rawtree.Value) (Value, error) {
	switch spec.Type {
	case binding.Boolean:
		if raw.Kind != rawtree.Empty {
			return Value{}, sterr.Propertyf(
				"'%s' in %s is defined with 'type: boolean' in %s, but is assigned a value instead of being empty ('%s;')",
				spec.Name, n.Path(), spec.Path, spec.Name)
		}
		return Value{Kind: binding.Boolean, Bool: true}, nil

	case binding.Int:
		cells, err := pt.cells(n, spec, raw)
		if err != nil {
			return Value{}, err
		}
		if len(cells) != 1 {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to hold a single cell, has %d",
				spec.Name, n.Path(), pt.src.Path(), len(cells))
		}
		return Value{Kind: binding.Int, Int: int64(cells[0])}, nil

	case binding.Array:
		cells, err := pt.cells(n, spec, raw)
		if err != nil {
			return Value{}, err
		}
		ints := make([]int64, len(cells))
		for i, c := range cells {
			ints[i] = int64(c)
		}
		return Value{Kind: binding.Array, Ints: ints}, nil

	case binding.Uint8Array:
		if raw.Kind != rawtree.Bytes {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be assigned with '%s = [ ... ]', not %s",
				spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
		}
		return Value{Kind: binding.Uint8Array, Bytes: raw.Bytes}, nil

	case binding.String:
		if raw.Kind != rawtree.String {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be assigned with '%s = \"...\"', not %s",
				spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
		}
		return Value{Kind: binding.String, Str: raw.Str}, nil

	case binding.StringArray:
		switch raw.Kind {
		case rawtree.String:
			return Value{Kind: binding.StringArray, Strs: []string{raw.Str}}, nil
		case rawtree.Strings:
			return Value{Kind: binding.StringArray, Strs: raw.Strs}, nil
		}
		return Value{}, sterr.Propertyf(
			"expected property '%s' on %s in %s to be assigned with '%s = \"...\", \"...\"', not %s",
			spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)

	case binding.PHandle:
		if raw.Kind != rawtree.PHandle || len(raw.Bytes) != 4 {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be assigned with '%s = < &foo >', not %s",
				spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
		}
		path, err := pt.handlePath(n, spec, binary.BigEndian.Uint32(raw.Bytes))
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: binding.PHandle, RefPath: path}, nil

	case binding.Path:
		var path string
		switch raw.Kind {
		case rawtree.PathRef:
			path = raw.Str
		case rawtree.String:
			path = raw.Str
		default:
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be assigned with '%s = &foo' or '%s = \"/path\"', not %s",
				spec.Name, n.Path(), pt.src.Path(), spec.Name, spec.Name, raw.Kind)
		}
		target := pt.src.Raw().Node(path)
		if target == nil {
			return Value{}, sterr.Propertyf(
				"property '%s' on %s in %s points at nonexistent node '%s'",
				spec.Name, n.Path(), pt.src.Path(), path)
		}
		return Value{Kind: binding.Path, RefPath: target.Path()}, nil

	case binding.PHandles:
		if raw.Kind != rawtree.PHandle && raw.Kind != rawtree.PHandles {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be assigned with '%s = < &foo &bar ... >', not %s",
				spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
		}
		var paths []string
		for _, h := range rawtree.UnpackCells(raw.Bytes) {
			path, err := pt.handlePath(n, spec, h)
			if err != nil {
				return Value{}, err
			}
			paths = append(paths, path)
		}
		return Value{Kind: binding.PHandles, RefPaths: paths}, nil

	case binding.PHandleArray:
		entries, err := pt.refEntries(n, spec, raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: binding.PHandleArray, Entries: entries}, nil

	case binding.Compound:
		// Compound is an escape hatch for payloads that fit no other
		// type. No value is synthesized for it.
		return Value{Kind: binding.Compound}, nil
	}
	return Value{}, sterr.Propertyf(
		"'%s' in %s has unsupported type '%s'", spec.Name, spec.Path, spec.Type)
}

// cells returns the property payload as 32-bit cells.
func (pt *PartialTree) cells(n *Node, spec *binding.PropertySpec, raw rawtree.Value) ([]uint32, error) {
	if raw.Kind != rawtree.Num && raw.Kind != rawtree.Nums {
		return nil, sterr.Propertyf(
			"expected property '%s' on %s in %s to be assigned with '%s = < (number) ... >', not %s",
			spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
	}
	if len(raw.Bytes)%4 != 0 {
		return nil, sterr.Propertyf(
			"value of property '%s' on %s in %s is not a whole number of cells",
			spec.Name, n.Path(), pt.src.Path())
	}
	return rawtree.UnpackCells(raw.Bytes), nil
}

func (pt *PartialTree) handlePath(n *Node, spec *binding.PropertySpec, handle uint32) (string, error) {
	path, ok := pt.src.Raw().PhandleToPath[handle]
	if !ok {
		return "", sterr.Propertyf(
			"property '%s' on %s in %s contains an undefined handle (%d)",
			spec.Name, n.Path(), pt.src.Path(), handle)
	}
	return path, nil
}

// refEntries parses an indexed reference payload: a flat run of
// '<handle> <cell> ...' groups where the cell count of each group comes
// from the '#<space>-cells' property on the referenced controller. A zero
// handle is an intentional hole and yields an absent entry.
func (pt *PartialTree) refEntries(n *Node, spec *binding.PropertySpec, raw rawtree.Value) ([]RefEntry, error) {
	switch raw.Kind {
	case rawtree.PHandle, rawtree.PHandles, rawtree.PHandlesAndNums, rawtree.Nums:
	default:
		return nil, sterr.Propertyf(
			"expected property '%s' on %s in %s to be assigned with '%s = < &foo 1 2 ... >', not %s",
			spec.Name, n.Path(), pt.src.Path(), spec.Name, raw.Kind)
	}

	space := spec.SpecifierSpace
	if space == "" {
		if strings.HasSuffix(spec.Name, "gpios") {
			// 'foo-gpios' maps to '#gpio-cells', not '#foo-gpio-cells'.
			space = "gpio"
		} else {
			// The binding check guarantees the name ends in 's' when no
			// specifier space is given.
			space = strings.TrimSuffix(spec.Name, "s")
		}
	}

	var entries []RefEntry
	payload := raw.Bytes
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, sterr.Propertyf(
				"missing data after handle in property '%s' on %s in %s",
				spec.Name, n.Path(), pt.src.Path())
		}
		handle := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]

		controllerPath, ok := pt.src.Raw().PhandleToPath[handle]
		if !ok {
			// A zero or otherwise unassigned handle leaves a hole.
			entries = append(entries, RefEntry{Basename: space, Absent: true})
			continue
		}
		controller := pt.src.Raw().Node(controllerPath)

		nCells, err := pt.cellCount(n.Path(), controller, space)
		if err != nil {
			return nil, err
		}
		if len(payload) < 4*nCells {
			return nil, sterr.Propertyf(
				"missing data after handle in property '%s' on %s in %s",
				spec.Name, n.Path(), pt.src.Path())
		}
		data := payload[:4*nCells]
		payload = payload[4*nCells:]

		mappedController, mappedData, err := pt.mapSpecifier(space, n.raw, controller, data)
		if err != nil {
			return nil, err
		}
		cells, err := pt.namedCells(n, mappedController, mappedData, space)
		if err != nil {
			return nil, err
		}
		entries = append(entries, RefEntry{
			Basename:       space,
			ControllerPath: mappedController.Path(),
			Cells:          cells,
		})
	}

	if err := pt.nameEntries(n, space, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (pt *PartialTree) cellCount(refPath string, controller *rawtree.Node, space string) (int, error) {
	cellsProp := "#" + space + "-cells"
	v, ok := controller.Prop(cellsProp)
	if !ok {
		return 0, sterr.Propertyf(
			"expected '%s' property on %s (referenced by %s)",
			cellsProp, controller.Path(), refPath)
	}
	if (v.Kind != rawtree.Num && v.Kind != rawtree.Nums) || len(v.Bytes) != 4 {
		return 0, sterr.Propertyf(
			"'%s' on %s is not a single cell", cellsProp, controller.Path())
	}
	return int(binary.BigEndian.Uint32(v.Bytes)), nil
}

// mapSpecifier follows '<space>-map' tables on the referenced controller,
// re-targeting the reference through nexus nodes until a controller without
// a map is reached. '<space>-map-mask' masks the looked-up specifier and
// '<space>-map-pass-thru' lets cells of the original specifier survive the
// mapping.
func (pt *PartialTree) mapSpecifier(space string, child, parent *rawtree.Node, childSpec []byte) (*rawtree.Node, []byte, error) {
	mapProp, ok := parent.Prop(space + "-map")
	if !ok {
		return parent, childSpec, nil
	}

	masked, err := pt.maskSpecifier(space, child, parent, childSpec)
	if err != nil {
		return nil, nil, err
	}

	raw := mapProp.Bytes
	for len(raw) > 0 {
		if len(raw) < len(childSpec) {
			return nil, nil, sterr.Propertyf(
				"bad value for '%s-map' in %s, missing/truncated child data", space, parent.Path())
		}
		entry := raw[:len(childSpec)]
		raw = raw[len(childSpec):]

		if len(raw) < 4 {
			return nil, nil, sterr.Propertyf(
				"bad value for '%s-map' in %s, missing/truncated handle", space, parent.Path())
		}
		handle := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]

		mapParentPath, ok := pt.src.Raw().PhandleToPath[handle]
		if !ok {
			return nil, nil, sterr.Propertyf(
				"bad handle (%d) in '%s-map' in %s", handle, space, parent.Path())
		}
		mapParent := pt.src.Raw().Node(mapParentPath)

		nCells, err := pt.cellCount(child.Path(), mapParent, space)
		if err != nil {
			return nil, nil, err
		}
		if len(raw) < 4*nCells {
			return nil, nil, sterr.Propertyf(
				"bad value for '%s-map' in %s, missing/truncated parent data", space, parent.Path())
		}
		parentSpec := raw[:4*nCells]
		raw = raw[4*nCells:]

		if !bytesEqual(entry, masked) {
			continue
		}

		parentSpec, err = pt.passThru(space, child, parent, childSpec, parentSpec)
		if err != nil {
			return nil, nil, err
		}
		return pt.mapSpecifier(space, parent, mapParent, parentSpec)
	}

	return nil, nil, sterr.Propertyf(
		"child specifier for %s (% x) does not appear in '%s-map' in %s",
		child.Path(), childSpec, space, parent.Path())
}

func (pt *PartialTree) maskSpecifier(space string, child, parent *rawtree.Node, childSpec []byte) ([]byte, error) {
	maskProp, ok := parent.Prop(space + "-map-mask")
	if !ok {
		return childSpec, nil
	}
	mask := maskProp.Bytes
	if len(mask) != len(childSpec) {
		return nil, sterr.Propertyf(
			"%s: expected '%s-map-mask' in %s to be %d bytes, is %d bytes",
			child.Path(), space, parent.Path(), len(childSpec), len(mask))
	}
	return andBytes(childSpec, mask), nil
}

func (pt *PartialTree) passThru(space string, child, parent *rawtree.Node, childSpec, parentSpec []byte) ([]byte, error) {
	passProp, ok := parent.Prop(space + "-map-pass-thru")
	if !ok {
		return parentSpec, nil
	}
	pass := passProp.Bytes
	if len(pass) != len(childSpec) {
		return nil, sterr.Propertyf(
			"%s: expected '%s-map-pass-thru' in %s to be %d bytes, is %d bytes",
			child.Path(), space, parent.Path(), len(childSpec), len(pass))
	}
	res := orBytes(andBytes(childSpec, pass), andBytes(parentSpec, notBytes(pass)))
	// Truncate to the parent specifier's length.
	return res[len(res)-len(parentSpec):], nil
}

// namedCells pairs the specifier data cells with the names the
// controller's binding declares for the space. A controller without a
// names declaration accepts only empty specifiers.
func (pt *PartialTree) namedCells(n *Node, controller *rawtree.Node, data []byte, space string) ([]Cell, error) {
	controllerNode := pt.nodeByPath(controller.Path())
	if controllerNode == nil || len(controllerNode.bindings) == 0 {
		return nil, sterr.Propertyf(
			"%s controller %s for %s lacks binding", space, controller.Path(), n.Path())
	}
	names, _ := controllerNode.SpecifierCells(space)

	vals := rawtree.UnpackCells(data)
	if len(vals) != len(names) {
		return nil, sterr.Propertyf(
			"unexpected '%s-cells:' length in binding for %s - %d instead of %d",
			space, controller.Path(), len(names), len(vals))
	}
	cells := make([]Cell, len(vals))
	for i, v := range vals {
		cells[i] = Cell{Name: names[i], Val: v}
	}
	return cells, nil
}

// nameEntries fills in entry names from the matching '<space>-names'
// property, when present.
func (pt *PartialTree) nameEntries(n *Node, space string, entries []RefEntry) error {
	namesProp, ok := n.raw.Prop(space + "-names")
	if !ok {
		return nil
	}
	var names []string
	switch namesProp.Kind {
	case rawtree.String:
		names = []string{namesProp.Str}
	case rawtree.Strings:
		names = namesProp.Strs
	default:
		return sterr.Propertyf(
			"'%s-names' in %s in %s is not a string list", space, n.Path(), pt.src.Path())
	}
	if len(names) != len(entries) {
		return sterr.Propertyf(
			"%s-names property in %s in %s has %d strings, expected %d strings",
			space, n.Path(), pt.src.Path(), len(names), len(entries))
	}
	for i := range entries {
		if entries[i].Absent {
			continue
		}
		entries[i].Name = names[i]
	}
	return nil
}

func andBytes(b1, b2 []byte) []byte {
	maxLen := max(len(b1), len(b2))
	b1, b2 = padLeft(b1, maxLen, 0xff), padLeft(b2, maxLen, 0xff)
	out := make([]byte, maxLen)
	for i := range out {
		out[i] = b1[i] & b2[i]
	}
	return out
}

func orBytes(b1, b2 []byte) []byte {
	maxLen := max(len(b1), len(b2))
	b1, b2 = padLeft(b1, maxLen, 0x00), padLeft(b2, maxLen, 0x00)
	out := make([]byte, maxLen)
	for i := range out {
		out[i] = b1[i] | b2[i]
	}
	return out
}

func notBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, x := range b {
		out[i] = ^x
	}
	return out
}

func padLeft(b []byte, length int, fill byte) []byte {
	if len(b) >= length {
		return b
	}
	out := make([]byte, length)
	for i := 0; i < length-len(b); i++ {
		out[i] = fill
	}
	copy(out[length-len(b):], b)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

//
// Software value conversion. Payloads are plain YAML scalars and lists;
// node references are written as '&label' or absolute paths.
//

func (pt *PartialTree) softwareVal(n *Node, spec *binding.PropertySpec, raw rawtree.Value) (Value, error) {
	switch spec.Type {
	case binding.Boolean:
		if raw.Kind != rawtree.Bool {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be a boolean, not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		return Value{Kind: binding.Boolean, Bool: raw.Bool}, nil

	case binding.Int:
		i, err := pt.softwareInt(n, spec, raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: binding.Int, Int: i}, nil

	case binding.Array:
		if raw.Kind != rawtree.List {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be a list of integers, not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		ints := make([]int64, 0, len(raw.List))
		for _, elem := range raw.List {
			i, err := pt.softwareInt(n, spec, elem)
			if err != nil {
				return Value{}, err
			}
			ints = append(ints, i)
		}
		return Value{Kind: binding.Array, Ints: ints}, nil

	case binding.Uint8Array:
		return pt.softwareBytes(n, spec, raw)

	case binding.String:
		if raw.Kind != rawtree.String {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be a string, not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		return Value{Kind: binding.String, Str: raw.Str}, nil

	case binding.StringArray:
		if raw.Kind != rawtree.List {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be a list of strings, not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		strs := make([]string, 0, len(raw.List))
		for _, elem := range raw.List {
			if elem.Kind != rawtree.String {
				return Value{}, sterr.Propertyf(
					"expected property '%s' on %s in %s to be a list of strings, but it contains '%s'",
					spec.Name, n.Path(), spec.Path, rawValueString(elem))
			}
			strs = append(strs, elem.Str)
		}
		return Value{Kind: binding.StringArray, Strs: strs}, nil

	case binding.PHandle, binding.Path:
		if raw.Kind != rawtree.String {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be '&foo' or '/bar/foo', not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		path, err := pt.resolvePointer(n, spec, raw.Str)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: spec.Type, RefPath: path}, nil

	case binding.PHandles:
		if raw.Kind != rawtree.List {
			return Value{}, sterr.Propertyf(
				"expected property '%s' on %s in %s to be a list of pointers, not '%s'",
				spec.Name, n.Path(), spec.Path, rawValueString(raw))
		}
		paths := make([]string, 0, len(raw.List))
		for _, elem := range raw.List {
			if elem.Kind != rawtree.String {
				return Value{}, sterr.Propertyf(
					"expected property '%s' on %s in %s to be a list of '&foo' or '/bar/foo', but it contains '%s'",
					spec.Name, n.Path(), spec.Path, rawValueString(elem))
			}
			path, err := pt.resolvePointer(n, spec, elem.Str)
			if err != nil {
				return Value{}, err
			}
			paths = append(paths, path)
		}
		return Value{Kind: binding.PHandles, RefPaths: paths}, nil
	}
	return Value{}, sterr.Propertyf(
		"'%s' in %s has unsupported type '%s'", spec.Name, spec.Path, spec.Type)
}

func (pt *PartialTree) softwareInt(n *Node, spec *binding.PropertySpec, raw rawtree.Value) (int64, error) {
	switch raw.Kind {
	case rawtree.Int:
		return raw.Int, nil
	case rawtree.String:
		i, err := evalIntExpr(raw.Str)
		if err != nil {
			return 0, sterr.Propertyf(
				"expected property '%s' on %s in %s to be an integer expression, not '%s'",
				spec.Name, n.Path(), spec.Path, raw.Str)
		}
		return i, nil
	}
	return 0, sterr.Propertyf(
		"expected property '%s' on %s in %s to be an integer, not '%s'",
		spec.Name, n.Path(), spec.Path, rawValueString(raw))
}

func (pt *PartialTree) softwareBytes(n *Node, spec *binding.PropertySpec, raw rawtree.Value) (Value, error) {
	switch raw.Kind {
	case rawtree.Int:
		// Big-endian, using as few bytes as the value needs.
		v := uint64(raw.Int)
		var out []byte
		for v > 0 {
			out = append([]byte{byte(v)}, out...)
			v >>= 8
		}
		if len(out) == 0 {
			out = []byte{0}
		}
		return Value{Kind: binding.Uint8Array, Bytes: out}, nil
	case rawtree.String:
		b, err := hex.DecodeString(raw.Str)
		if err != nil {
			return Value{}, sterr.Propertyf(
				"value of property '%s' ('%s') on %s in %s is not a valid hex number",
				spec.Name, raw.Str, n.Path(), spec.Path)
		}
		return Value{Kind: binding.Uint8Array, Bytes: b}, nil
	}
	return Value{}, sterr.Propertyf(
		"expected property '%s' on %s in %s to be a scalar value, not '%s'",
		spec.Name, n.Path(), spec.Path, rawValueString(raw))
}

// resolvePointer resolves a '&label' or '/abs/path' reference, preferring
// nodes of the same source over the merged tree.
func (pt *PartialTree) resolvePointer(n *Node, spec *binding.PropertySpec, pointer string) (string, error) {
	target := strings.TrimPrefix(pointer, "&")
	byLabel := target != pointer

	if !byLabel {
		if local := pt.nodeByPath(pointer); local != nil {
			return local.Path(), nil
		}
	} else if local := pt.labelToNode[target]; local != nil {
		return local.Path(), nil
	}
	if merged := pt.tree.labelToNode[target]; byLabel && merged != nil {
		return merged.Path(), nil
	}
	if merged := pt.tree.pathToNode[pointer]; !byLabel && merged != nil {
		return merged.Path(), nil
	}
	return "", sterr.Propertyf(
		"could not resolve property '%s' on %s in %s to a node",
		spec.Name, n.Path(), spec.Path)
}

func rawValueString(v rawtree.Value) string {
	switch v.Kind {
	case rawtree.Bool:
		return fmt.Sprintf("%t", v.Bool)
	case rawtree.Int:
		return fmt.Sprintf("%d", v.Int)
	case rawtree.String, rawtree.PathRef:
		return v.Str
	case rawtree.Strings:
		return strings.Join(v.Strs, ", ")
	case rawtree.List:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = rawValueString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.Kind.String()
}

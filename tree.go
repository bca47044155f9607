package settree

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/settree/internal/ctxlog"
	"github.com/vk/settree/internal/graph"
	"github.com/vk/settree/sterr"
)

// The schema grammar comes from dt-schema.
var schemaRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9,+\-._]+$`)

type treeState int

const (
	stateInitial treeState = iota
	stateHasSources
	stateHasNodes
	stateHasOrdinals
	stateProcessed
)

var treeStateNames = map[treeState]string{
	stateInitial:     "initial",
	stateHasSources:  "has-sources",
	stateHasNodes:    "has-nodes",
	stateHasOrdinals: "has-ordinals",
	stateProcessed:   "processed",
}

func (s treeState) String() string { return treeStateNames[s] }

// Options tunes tree processing.
type Options struct {
	// VendorPrefixes maps known vendor prefixes in schema names to the
	// vendor's name. When non-empty, schemas of the form "vendor,device"
	// with an unknown prefix are reported.
	VendorPrefixes map[string]string
	// ErrOnMissingVendor turns unknown vendor prefixes into errors
	// instead of warnings.
	ErrOnMissingVendor bool
	// ErrOnDeprecated turns uses of deprecated properties into errors
	// instead of warnings.
	ErrOnDeprecated bool
}

// Tree is the merged settings tree. Add partial trees in dependency order,
// base sources first, then call Process once. The lookup tables and the
// dependency order become available after processing.
type Tree struct {
	opts  Options
	state treeState

	partials []*PartialTree

	nodes      []*MergedNode
	pathToNode map[string]*MergedNode
	pathOrder  []string

	labelCandidates map[string][]*MergedNode
	labelToNode     map[string]*MergedNode

	graph     *graph.Graph
	ordToNode map[int]*MergedNode

	schemaOrder     []string
	schemaToOkay    map[string][]*MergedNode
	schemaToNotOkay map[string][]*MergedNode
	schemaToVendor  map[string]string
	schemaToModel   map[string]string
}

// New returns an empty tree.
func New(opts Options) *Tree {
	return &Tree{
		opts:            opts,
		pathToNode:      map[string]*MergedNode{},
		labelCandidates: map[string][]*MergedNode{},
		labelToNode:     map[string]*MergedNode{},
		graph:           graph.New(treeOrderKey),
		ordToNode:       map[int]*MergedNode{},
		schemaToOkay:    map[string][]*MergedNode{},
		schemaToNotOkay: map[string][]*MergedNode{},
		schemaToVendor:  map[string]string{},
		schemaToModel:   map[string]string{},
	}
}

// treeOrderKey sorts sibling nodes by name under their parent, so ordinal
// assignment is stable across runs.
func treeOrderKey(path string) string {
	if path == "/" {
		return "\x00"
	}
	i := lastSlash(path)
	return path[:i] + "\x00" + path[i+1:]
}

func (t *Tree) checkState(min, max treeState) error {
	if t.state >= min && t.state <= max {
		return nil
	}
	want := treeStateNames[min]
	if max != min {
		want += "' to '" + treeStateNames[max]
	}
	return sterr.Statef("tree should be in state '%s' but is in state '%s'", want, t.state)
}

// AddSource attaches a partial tree to the merged tree. Sources that
// reference nodes of other sources must be added after them.
func (t *Tree) AddSource(pt *PartialTree) error {
	if err := t.checkState(stateInitial, stateHasSources); err != nil {
		return err
	}
	if pt.tree != nil {
		return sterr.Statef(
			"partial tree for '%s' is already attached to a tree", pt.src.Path())
	}
	pt.tree = t
	t.partials = append(t.partials, pt)
	t.state = stateHasSources
	return nil
}

// Process resolves every source against its bindings, merges the sources
// into one tree and computes the dependency order. It must be called
// exactly once, after all sources have been added.
func (t *Tree) Process(ctx context.Context) error {
	if err := t.checkState(stateHasSources, stateHasSources); err != nil {
		return err
	}
	log := ctxlog.FromContext(ctx)

	for _, pt := range t.partials {
		if err := pt.process(ctx); err != nil {
			return err
		}
		if err := t.merge(pt); err != nil {
			return err
		}
	}
	t.state = stateHasNodes

	if err := t.initOrdinals(); err != nil {
		return err
	}
	t.state = stateHasOrdinals

	if err := t.initLUTs(ctx); err != nil {
		return err
	}
	t.state = stateProcessed

	log.Info("settings tree processed",
		"sources", len(t.partials), "nodes", len(t.nodes), "schemas", len(t.schemaOrder))
	return nil
}

// merge folds one processed partial tree into the merged node table. The
// label table is rebuilt afterwards so sources processed later can resolve
// references against labels of earlier sources.
func (t *Tree) merge(pt *PartialTree) error {
	for _, path := range pt.pathOrder {
		n := pt.pathTo[path]
		merged := t.pathToNode[path]
		if merged == nil {
			var err error
			merged, err = newMergedNode(t, n)
			if err != nil {
				return err
			}
			t.pathToNode[path] = merged
			t.pathOrder = append(t.pathOrder, path)
			t.nodes = append(t.nodes, merged)
		} else if err := merged.addNode(n); err != nil {
			return err
		}

		for _, label := range n.Labels() {
			t.labelCandidates[label] = append(t.labelCandidates[label], merged)
		}
	}

	// Only unique labels address a node.
	t.labelToNode = map[string]*MergedNode{}
	for label, nodes := range t.labelCandidates {
		unique := nodes[0]
		for _, n := range nodes[1:] {
			if n != unique {
				unique = nil
				break
			}
		}
		if unique != nil {
			t.labelToNode[label] = unique
		}
	}
	return nil
}

// initOrdinals builds the dependency graph and assigns each node its
// position in the dependency order. A dependency loop leaves every ordinal
// unassigned.
func (t *Tree) initOrdinals() error {
	for _, n := range t.nodes {
		if err := n.addToGraph(t.graph, nil, nil); err != nil {
			return err
		}
	}

	sccs, err := t.graph.OrderedSCCs()
	if err != nil {
		return err
	}
	for _, scc := range sccs {
		if len(scc) > 1 {
			return sterr.Graphf("Dependency loop detected: %s", graph.FormatCycle(scc))
		}
	}

	ordinal := 0
	for _, scc := range sccs {
		n := t.pathToNode[scc[0]]
		if n == nil {
			return sterr.Graphf("graph node '%s' is not part of the merged tree", scc[0])
		}
		n.ordinal = ordinal
		t.ordToNode[ordinal] = n
		ordinal++
	}
	return nil
}

// initLUTs fills the schema lookup tables and checks schema names against
// the schema grammar and the known vendor prefixes.
func (t *Tree) initLUTs(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	seen := map[string]struct{}{}

	for _, n := range t.nodes {
		for _, schema := range n.Schemas() {
			if _, ok := t.schemaToOkay[schema]; !ok {
				if _, ok := t.schemaToNotOkay[schema]; !ok {
					t.schemaOrder = append(t.schemaOrder, schema)
				}
			}
			if n.enabled {
				t.schemaToOkay[schema] = append(t.schemaToOkay[schema], n)
			} else {
				t.schemaToNotOkay[schema] = append(t.schemaToNotOkay[schema], n)
			}

			if _, done := seen[schema]; done {
				continue
			}

			if !schemaRe.MatchString(schema) {
				return sterr.Schemaf(
					"node '%s' schema '%s' must match this regular expression: '%s'",
					n.path, schema, schemaRe.String())
			}

			if strings.Contains(schema, ",") && len(t.opts.VendorPrefixes) > 0 {
				vendor, model, _ := strings.Cut(schema, ",")
				if name, known := t.opts.VendorPrefixes[vendor]; known {
					t.schemaToVendor[schema] = name
					t.schemaToModel[schema] = model
					seen[schema] = struct{}{}
				} else if n.path != "/" {
					// The root node may follow whatever schema it
					// wants; everything else gets checked.
					msg := fmt.Sprintf(
						"node '%s' schema '%s' has unknown vendor prefix '%s'",
						n.path, schema, vendor)
					if t.opts.ErrOnMissingVendor {
						return sterr.Schemaf("%s", msg)
					}
					log.Warn(msg)
					seen[schema] = struct{}{}
				}
			} else {
				seen[schema] = struct{}{}
			}
		}
	}
	return nil
}

// refNode resolves a stored reference path to its merged node.
func (t *Tree) refNode(path string) (*MergedNode, error) {
	if err := t.checkState(stateHasNodes, stateProcessed); err != nil {
		return nil, err
	}
	n := t.pathToNode[path]
	if n == nil {
		return nil, sterr.Graphf("referenced node '%s' is not part of the merged tree", path)
	}
	return n, nil
}

func (t *Tree) graphNeighbors(m *MergedNode, fn func(string) []string) ([]*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	var out []*MergedNode
	for _, path := range fn(m.path) {
		if n := t.pathToNode[path]; n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// Nodes returns every merged node in merge order, parents before their
// children within each source.
func (t *Tree) Nodes() []*MergedNode { return t.nodes }

// NodeByPath returns the merged node at the given path, or nil.
func (t *Tree) NodeByPath(path string) (*MergedNode, error) {
	if err := t.checkState(stateHasNodes, stateProcessed); err != nil {
		return nil, err
	}
	return t.pathToNode[path], nil
}

// NodeByLabel returns the node addressed by a label. Labels carried by
// more than one node address nothing.
func (t *Tree) NodeByLabel(label string) (*MergedNode, error) {
	if err := t.checkState(stateHasNodes, stateProcessed); err != nil {
		return nil, err
	}
	return t.labelToNode[label], nil
}

// NodeByOrdinal returns the node with the given dependency ordinal, or
// nil.
func (t *Tree) NodeByOrdinal(ordinal int) (*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	return t.ordToNode[ordinal], nil
}

// Schemas returns every schema used in the tree, in first-seen order.
func (t *Tree) Schemas() ([]string, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	return t.schemaOrder, nil
}

// SchemaToNodes returns the nodes using a schema, enabled nodes first.
func (t *Tree) SchemaToNodes(schema string) ([]*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	okay := t.schemaToOkay[schema]
	notOkay := t.schemaToNotOkay[schema]
	out := make([]*MergedNode, 0, len(okay)+len(notOkay))
	out = append(out, okay...)
	out = append(out, notOkay...)
	return out, nil
}

// SchemaToOkayNodes returns the enabled nodes using a schema.
func (t *Tree) SchemaToOkayNodes(schema string) ([]*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	return t.schemaToOkay[schema], nil
}

// SchemaToNotOkayNodes returns the disabled nodes using a schema.
func (t *Tree) SchemaToNotOkayNodes(schema string) ([]*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	return t.schemaToNotOkay[schema], nil
}

// Vendor returns the vendor name a "vendor,device" schema resolved to.
func (t *Tree) Vendor(schema string) (string, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return "", err
	}
	return t.schemaToVendor[schema], nil
}

// Model returns the device part of a "vendor,device" schema.
func (t *Tree) Model(schema string) (string, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return "", err
	}
	return t.schemaToModel[schema], nil
}

// OrderedSCCs returns the strongly connected components of the dependency
// graph in dependency order. In a processed tree every component is a
// single node.
func (t *Tree) OrderedSCCs() ([][]*MergedNode, error) {
	if err := t.checkState(stateProcessed, stateProcessed); err != nil {
		return nil, err
	}
	sccs, err := t.graph.OrderedSCCs()
	if err != nil {
		return nil, err
	}
	out := make([][]*MergedNode, 0, len(sccs))
	for _, scc := range sccs {
		nodes := make([]*MergedNode, 0, len(scc))
		for _, path := range scc {
			if n := t.pathToNode[path]; n != nil {
				nodes = append(nodes, n)
			}
		}
		out = append(out, nodes)
	}
	return out, nil
}

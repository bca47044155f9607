package binding

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/settree/internal/ctxlog"
	"github.com/vk/settree/internal/yamlmap"
	"github.com/vk/settree/sterr"
)

// Resolver maps an include name, as written after 'include:' in a binding,
// to the contents of the named file.
type Resolver interface {
	// ReadInclude returns the document registered under name and the path
	// it was loaded from, for error messages.
	ReadInclude(name string) ([]byte, string, error)
}

// MapResolver resolves include names from an in-memory map. Useful in tests
// and for embedded binding sets.
type MapResolver map[string]string

func (m MapResolver) ReadInclude(name string) ([]byte, string, error) {
	doc, ok := m[name]
	if !ok {
		return nil, "", fmt.Errorf("'%s' not found", name)
	}
	return []byte(doc), name, nil
}

// DirResolver resolves include names against an index of every YAML file
// found under a set of root directories, keyed by base name.
type DirResolver struct {
	fname2path map[string]string
}

// NewDirResolver walks the given roots and indexes the .yaml files they
// contain. Two files with the same base name are an error, since an include
// name could then resolve to either.
func NewDirResolver(roots ...string) (*DirResolver, error) {
	index := map[string]string{}
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".yaml") {
				return nil
			}
			if prev, dup := index[d.Name()]; dup {
				return fmt.Errorf("multiple candidates for include file '%s': '%s' and '%s'",
					d.Name(), prev, path)
			}
			index[d.Name()] = path
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return &DirResolver{fname2path: index}, nil
}

func (r *DirResolver) ReadInclude(name string) ([]byte, string, error) {
	path, ok := r.fname2path[name]
	if !ok {
		return nil, "", fmt.Errorf("'%s' not found", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, path, nil
}

// LoadDirs loads every schema-carrying binding document found under the
// given roots, resolving includes against the same roots. Files without a
// schema key are include libraries and are skipped. Failures aggregate so
// one broken file does not hide the rest.
func LoadDirs(ctx context.Context, d *Dialect, roots []string, opts ResolveOptions) ([]*Binding, error) {
	logger := ctxlog.FromContext(ctx)

	res, err := NewDirResolver(roots...)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".yaml") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var bindings []*Binding
	var errs []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		top, err := yamlmap.Parse(data)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if !top.Has(d.SchemaKey) {
			logger.Debug("skipping include library", "path", path)
			continue
		}
		b, err := Resolve(data, path, res, d, opts)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		bindings = append(bindings, b)
		logger.Debug("loaded binding", "path", path, "schema", b.Schema, "variant", b.Variant())
	}
	if len(errs) > 0 {
		return nil, sterr.Schemaf("binding validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Info("bindings loaded", "count", len(bindings), "dialect", d.Name)
	return bindings, nil
}

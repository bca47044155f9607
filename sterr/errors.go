// Package sterr defines the error taxonomy shared by the settings-tree
// packages. Each kind is a distinct type so callers can dispatch with
// errors.As without parsing message text.
package sterr

import "fmt"

// SchemaError reports a malformed or contradictory binding document, an
// ill-formed schema name, or a duplicate schema registration.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return e.Msg }

// Schemaf builds a SchemaError from a format string.
func Schemaf(format string, args ...any) error {
	return &SchemaError{Msg: fmt.Sprintf(format, args...)}
}

// PropertyError reports a property value that does not satisfy its spec:
// wrong shape, failed enum/const check, unresolvable reference, missing
// required value, or a merge collision between sources.
type PropertyError struct {
	Msg string
}

func (e *PropertyError) Error() string { return e.Msg }

// Propertyf builds a PropertyError from a format string.
func Propertyf(format string, args ...any) error {
	return &PropertyError{Msg: fmt.Sprintf(format, args...)}
}

// GraphError reports a defect in the dependency graph, such as a dependency
// cycle or a graph with nodes but no roots.
type GraphError struct {
	Msg string
}

func (e *GraphError) Error() string { return e.Msg }

// Graphf builds a GraphError from a format string.
func Graphf(format string, args ...any) error {
	return &GraphError{Msg: fmt.Sprintf(format, args...)}
}

// StateError reports an operation invoked in the wrong lifecycle phase.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

// Statef builds a StateError from a format string.
func Statef(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}

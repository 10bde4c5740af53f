package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateNode     = errors.New("depgraph: duplicate node")
	ErrCycleDetected     = errors.New("depgraph: cycle detected")
	ErrUnknownNode       = errors.New("depgraph: unknown node")
	ErrInvalidTransition = errors.New("depgraph: invalid transition")
)

// GraphError carries one of the sentinel errors above with detail about
// the node involved. Match it with errors.Is against the sentinel.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError[K comparable](path []K) error {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = fmt.Sprint(k)
	}
	return &GraphError{Kind: ErrCycleDetected, Msg: strings.Join(parts, " -> ")}
}

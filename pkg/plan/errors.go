package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a compilation failure.
type ErrorCode string

const (
	CodeNoEntryPoint      ErrorCode = "NoEntryPoint"
	CodeInvalidInputs     ErrorCode = "InvalidInputs"
	CodeDanglingReference ErrorCode = "DanglingReference"
)

var (
	// ErrNoEntryPoint indicates the graph has no nodes to start from.
	ErrNoEntryPoint = errors.New("no entry point")

	// ErrInvalidInputs indicates nodes whose predecessors can never be satisfied: a cycle,
	// a dependency on a missing node, or a duplicated node id.
	ErrInvalidInputs = errors.New("invalid inputs")

	// ErrDanglingReference indicates an edge endpoint that is not a node of the graph.
	ErrDanglingReference = errors.New("dangling reference")
)

// CompilationError reports the offending node ids of a graph that cannot be planned.
type CompilationError struct {
	Code    ErrorCode
	NodeIDs []string
}

func (e *CompilationError) Error() string {
	if len(e.NodeIDs) == 0 {
		return fmt.Sprintf("compile: %v", e.Unwrap())
	}

	return fmt.Sprintf("compile: %v: %s", e.Unwrap(), strings.Join(e.NodeIDs, ", "))
}

func (e *CompilationError) Unwrap() error {
	switch e.Code {
	case CodeNoEntryPoint:
		return ErrNoEntryPoint
	case CodeDanglingReference:
		return ErrDanglingReference
	default:
		return ErrInvalidInputs
	}
}

// AsCompilationError extracts a *CompilationError from err.
func AsCompilationError(err error) (*CompilationError, bool) {
	var compileErr *CompilationError
	if errors.As(err, &compileErr) {
		return compileErr, true
	}

	return nil, false
}

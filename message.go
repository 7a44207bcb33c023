package caprpc

import "sync"

// Struct is this module's stand-in for capnp's segmented-memory message and
// its ObjectPointer root: a mutable, named-field bag used to hold call
// parameters, results, and any embedded capabilities. Wire serialisation is
// explicitly out of scope for this runtime (see SPEC_FULL.md); Struct gives
// Request/Response something concrete to build and read without committing
// to a framing format.
//
// A Struct is safe to fill from one goroutine and read from another,
// provided the usual single-writer-then-readers discipline is respected:
// the runtime never mutates a Struct concurrently with a read.
type Struct struct {
	mu     sync.Mutex
	fields map[string]any
}

// NewStruct returns an empty, fillable Struct. firstSegmentHint is accepted
// for interface fidelity with wire-backed implementations (which use it to
// size the first message segment) and is otherwise unused here.
func NewStruct(firstSegmentHint int) *Struct {
	return &Struct{fields: make(map[string]any)}
}

// Set stores v under name, overwriting any previous value.
func (s *Struct) Set(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[name] = v
}

// Get returns the value stored under name and whether it was present.
func (s *Struct) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.fields[name]
	return v, ok
}

// PipelineOp is one step of a path identifying a sub-capability within a
// not-yet-arrived response: descend into the named field of the current
// Struct. A sequence of PipelineOps is a value type — two sequences are
// equal iff their fields match component-wise.
type PipelineOp struct {
	Field string
}

// EqualPipelineOps reports whether two op sequences are component-wise
// equal.
func EqualPipelineOps(a, b []PipelineOp) bool {
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

// getPipelinedCap walks ops from root, expecting every non-final step to
// land on a nested *Struct and the final step to land on a Client (the
// sub-capability). Any failure — a missing field, the wrong type, a nil
// client — resolves to a broken client, matching §7's propagation policy
// ("pipelined sub-capabilities resolve to broken client hooks").
func getPipelinedCap(root *Struct, ops []PipelineOp) Client {
	cur := root
	for i, op := range ops {
		v, ok := cur.Get(op.Field)
		if !ok {
			return NewBrokenClient(&ContractViolationError{
				Message: "pipeline op references a field that was never set: " + op.Field,
			})
		}
		if i == len(ops)-1 {
			if c, ok := v.(Client); ok && c.IsValid() {
				return c
			}
			return NewBrokenClient(&ContractViolationError{
				Message: "pipeline op field " + op.Field + " is not a capability",
			})
		}
		next, ok := v.(*Struct)
		if !ok {
			return NewBrokenClient(&ContractViolationError{
				Message: "pipeline op field " + op.Field + " is not a struct",
			})
		}
		cur = next
	}
	// Empty ops: the root struct itself isn't a capability.
	return NewBrokenClient(&ContractViolationError{Message: "empty pipeline op sequence has no capability"})
}

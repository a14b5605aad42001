// Package schema defines the narrow lookup interface the validator and merge
// engine use to resolve category and predicate names, plus an HCL-backed
// implementation. The core never hard-codes an inheritance hierarchy; any
// backend satisfying Resolver will do.
package schema

import "fmt"

// Kind distinguishes node categories from edge predicates.
type Kind int

const (
	ClassKind Kind = iota
	PredicateKind
)

func (k Kind) String() string {
	if k == PredicateKind {
		return "predicate"
	}
	return "class"
}

// Slot ranges. A range outside this set names an enum declared in the schema.
const (
	RangeString  = "string"
	RangeInteger = "integer"
	RangeBoolean = "boolean"
	RangeFloat   = "float"
)

// Slot is a property declaration on a class or predicate.
type Slot struct {
	Name        string
	Range       string
	Multivalued bool
	// Enum holds the permitted values when Range names an enum.
	Enum []string
}

// Term is the resolved metadata for a category or predicate name: its full
// ancestry chain (self first, root last) and every slot declared on it or
// inherited from an ancestor.
type Term struct {
	Name     string
	Kind     Kind
	Ancestry []string
	Slots    []Slot
	// RootedAncestry reports whether the chain reaches a term marked as a
	// recognized graph-entity root.
	RootedAncestry bool
}

// Slot returns the slot declared under name, if any.
func (t *Term) Slot(name string) (*Slot, bool) {
	for i := range t.Slots {
		if t.Slots[i].Name == name {
			return &t.Slots[i], true
		}
	}
	return nil, false
}

// Resolver is the read-only lookup service the core depends on.
type Resolver interface {
	// Resolve returns the term metadata for a category or predicate name,
	// or an UnknownTermError if the schema does not define it.
	Resolve(name string) (*Term, error)
}

// UnknownTermError reports a schema lookup miss. It is always fatal to the
// record that carried the name.
type UnknownTermError struct {
	Name string
}

func (e *UnknownTermError) Error() string {
	return fmt.Sprintf("term %q is not defined in the schema", e.Name)
}

// Package kg implements the canonical graph model: the format-independent
// node/edge representation that every adapter translates to and from.
//
// A Graph owns its nodes and edges, keyed by identifier. Inserting under an
// existing key merges property-wise (union for list values, overwrite with a
// warning for scalars, SchemaConflictError for irreconcilable types). The
// graph operates in one of two modes declared at construction: fully resident
// in memory, or streaming with a bounded working set spilled to an append-only
// store.
package kg

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"strings"
)

func init() {
	// Property values cross the spill-store boundary inside map[string]any,
	// so every concrete scalar and list shape must be registered for gob.
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Node is a graph entity with a globally unique identifier, an ordered set of
// category names (most specific first), and an open property mapping.
// The identifier is immutable after creation.
type Node struct {
	ID         string
	Categories []string
	Properties map[string]any
}

// Edge connects two node identifiers under a predicate name. ID is derived
// deterministically from subject, predicate, object and provenance when the
// serialization does not carry one.
type Edge struct {
	ID         string
	Subject    string
	Predicate  string
	Object     string
	Properties map[string]any
}

// ProvidedBy is the property key carrying record provenance, following the
// convention of knowledge graph exchange formats.
const ProvidedBy = "provided_by"

// DeriveEdgeID builds the deterministic edge key used when a serialization
// carries no explicit edge identifier.
func DeriveEdgeID(subject, predicate, object, provenance string) string {
	if provenance == "" {
		return strings.Join([]string{subject, predicate, object}, "|")
	}
	return strings.Join([]string{subject, predicate, object, provenance}, "|")
}

// Key returns the edge's identifier, deriving it from the endpoints and the
// provenance property when no explicit identifier is present.
func (e *Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}
	prov, _ := e.Properties[ProvidedBy].(string)
	return DeriveEdgeID(e.Subject, e.Predicate, e.Object, prov)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := &Node{
		ID:         n.ID,
		Categories: append([]string(nil), n.Categories...),
		Properties: cloneProperties(n.Properties),
	}
	return out
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	return &Edge{
		ID:         e.ID,
		Subject:    e.Subject,
		Predicate:  e.Predicate,
		Object:     e.Object,
		Properties: cloneProperties(e.Properties),
	}
}

func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)
		} else {
			out[k] = v
		}
	}
	return out
}

// unionInto merges src properties into dst. List values are unioned with
// duplicates removed. A scalar under an existing key overwrites the previous
// value; the onOverwrite callback observes every such replacement. A scalar
// meeting a list, two scalars of different dynamic types, or differing values
// outside the scalar shapes, is an irreconcilable clash and returns a
// SchemaConflictError.
func unionInto(id string, dst, src map[string]any, onOverwrite func(key string, old, new any)) error {
	for k, incoming := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = incoming
			continue
		}

		existingList, existingIsList := existing.([]any)
		incomingList, incomingIsList := incoming.([]any)

		switch {
		case existingIsList && incomingIsList:
			dst[k] = unionLists(existingList, incomingList)
		case existingIsList != incomingIsList:
			return &SchemaConflictError{ID: id, Property: k,
				Existing: typeName(existing), Incoming: typeName(incoming)}
		default:
			if typeName(existing) != typeName(incoming) {
				return &SchemaConflictError{ID: id, Property: k,
					Existing: typeName(existing), Incoming: typeName(incoming)}
			}
			if !isComparable(existing) || !isComparable(incoming) {
				// Values outside the scalar shapes (maps, nested lists) cannot
				// be compared with == without panicking. Equal composites are a
				// no-op; differing ones have no merge rule, so they clash.
				if !reflect.DeepEqual(existing, incoming) {
					return &SchemaConflictError{ID: id, Property: k,
						Existing: typeName(existing), Incoming: typeName(incoming)}
				}
				continue
			}
			if existing != incoming {
				if onOverwrite != nil {
					onOverwrite(k, existing, incoming)
				}
				dst[k] = incoming
			}
		}
	}
	return nil
}

func unionLists(a, b []any) []any {
	seen := make(map[any]struct{}, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	appendUnique := func(v any) {
		if isComparable(v) {
			if _, dup := seen[v]; dup {
				return
			}
			seen[v] = struct{}{}
		} else {
			// Uncomparable elements cannot key the map; fall back to a scan.
			for _, have := range out {
				if reflect.DeepEqual(have, v) {
					return
				}
			}
		}
		out = append(out, v)
	}
	for _, v := range a {
		appendUnique(v)
	}
	for _, v := range b {
		appendUnique(v)
	}
	return out
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

// unionCategories appends categories from src not already present in dst,
// preserving dst's most-specific-first ordering.
func unionCategories(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c] = struct{}{}
	}
	for _, c := range src {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			dst = append(dst, c)
		}
	}
	return dst
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case float64:
		return "float"
	case []any:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

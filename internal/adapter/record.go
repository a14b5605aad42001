package adapter

import (
	"fmt"

	"github.com/vk/graphmeld/internal/kg"
)

// RecordKind tags a raw record as a node or an edge.
type RecordKind int

const (
	KindNode RecordKind = iota
	KindEdge
)

func (k RecordKind) String() string {
	if k == KindEdge {
		return "edge"
	}
	return "node"
}

// RawRecord is one record as found in a serialization, before type coercion:
// a kind tag plus the raw key/value pairs.
type RawRecord struct {
	Kind   RecordKind
	Fields map[string]any
}

// Core field names shared by the record-oriented exchange formats.
const (
	FieldID        = "id"
	FieldCategory  = "category"
	FieldSubject   = "subject"
	FieldPredicate = "predicate"
	FieldObject    = "object"
)

// NodeFromRecord builds a canonical node from a raw node record. The id and
// category fields are lifted out; every other field must hold a scalar or a
// list of scalars and lands in Properties.
func NodeFromRecord(rec RawRecord) (*kg.Node, error) {
	id, ok := rec.Fields[FieldID].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("node record has no id field")
	}
	n := &kg.Node{ID: id, Properties: make(map[string]any, len(rec.Fields))}
	for k, v := range rec.Fields {
		switch k {
		case FieldID:
		case FieldCategory:
			n.Categories = toStringList(v)
		default:
			if err := checkPropertyValue(k, v); err != nil {
				return nil, fmt.Errorf("node %s: %w", id, err)
			}
			n.Properties[k] = v
		}
	}
	return n, nil
}

// EdgeFromRecord builds a canonical edge from a raw edge record. A missing id
// field is fine; the graph derives one.
func EdgeFromRecord(rec RawRecord) (*kg.Edge, error) {
	subject, _ := rec.Fields[FieldSubject].(string)
	predicate, _ := rec.Fields[FieldPredicate].(string)
	object, _ := rec.Fields[FieldObject].(string)
	if subject == "" || predicate == "" || object == "" {
		return nil, fmt.Errorf("edge record is missing subject, predicate, or object")
	}
	e := &kg.Edge{
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Properties: make(map[string]any, len(rec.Fields)),
	}
	for k, v := range rec.Fields {
		switch k {
		case FieldSubject, FieldPredicate, FieldObject:
		case FieldID:
			if id, ok := v.(string); ok {
				e.ID = id
			}
		default:
			if err := checkPropertyValue(k, v); err != nil {
				return nil, fmt.Errorf("edge %s: %w", e.Key(), err)
			}
			e.Properties[k] = v
		}
	}
	return e, nil
}

// NodeRecord converts a canonical node back into the raw record shape.
func NodeRecord(n *kg.Node) RawRecord {
	fields := make(map[string]any, len(n.Properties)+2)
	fields[FieldID] = n.ID
	if len(n.Categories) > 0 {
		cats := make([]any, len(n.Categories))
		for i, c := range n.Categories {
			cats[i] = c
		}
		fields[FieldCategory] = cats
	}
	for k, v := range n.Properties {
		fields[k] = v
	}
	return RawRecord{Kind: KindNode, Fields: fields}
}

// EdgeRecord converts a canonical edge back into the raw record shape.
func EdgeRecord(e *kg.Edge) RawRecord {
	fields := make(map[string]any, len(e.Properties)+4)
	fields[FieldID] = e.ID
	fields[FieldSubject] = e.Subject
	fields[FieldPredicate] = e.Predicate
	fields[FieldObject] = e.Object
	for k, v := range e.Properties {
		fields[k] = v
	}
	return RawRecord{Kind: KindEdge, Fields: fields}
}

// checkPropertyValue enforces the property data model: scalars and lists of
// scalars only. Nested objects and nested lists have no union rule in the
// canonical model, so the record carrying one is excluded as a whole.
func checkPropertyValue(key string, v any) error {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return nil
	case []string:
		return nil
	case []any:
		for _, item := range val {
			switch item.(type) {
			case string, bool, int64, float64:
			default:
				return fmt.Errorf("property %q: list elements must be scalars, got %T", key, item)
			}
		}
		return nil
	default:
		return fmt.Errorf("property %q: value must be a scalar or a list of scalars, got %T", key, v)
	}
}

func toStringList(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		return nil
	}
}

// Package validate checks canonical nodes and edges against the external
// schema. The validator is stateless across records: it returns a Result per
// record and leaves accumulation to the orchestrator's report.
//
// Checks run in order and short-circuit on the first fatal violation:
//  1. every declared category/predicate name must resolve via the resolver;
//  2. the resolved ancestry must reach a recognized root term;
//  3. property names must be declared slots or whitelisted extensions,
//     non-fatal unless strict mode promotes it;
//  4. property values must match the slot's declared range; mismatches are
//     coerced where possible, otherwise recorded as non-fatal.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vk/graphmeld/internal/ctxlog"
	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/schema"
)

// Config controls validation behavior.
type Config struct {
	// Strict promotes unrecognized-property violations from warnings to fatal.
	Strict bool
	// ExtensionProperties are admitted without a slot declaration.
	ExtensionProperties []string
}

// Violation describes one failed check.
type Violation struct {
	Field  string
	Reason string
	Fatal  bool
}

// Result is the outcome of validating a single record. Admit reports whether
// the record may enter the graph.
type Result struct {
	Admit      bool
	Violations []Violation
}

func (r *Result) fatal(field, reason string) {
	r.Admit = false
	r.Violations = append(r.Violations, Violation{Field: field, Reason: reason, Fatal: true})
}

func (r *Result) warn(field, reason string) {
	r.Violations = append(r.Violations, Violation{Field: field, Reason: reason})
}

// Validator validates records against a schema resolver.
type Validator struct {
	resolver   schema.Resolver
	cfg        Config
	extensions map[string]struct{}
}

// New builds a Validator.
func New(resolver schema.Resolver, cfg Config) *Validator {
	ext := make(map[string]struct{}, len(cfg.ExtensionProperties))
	for _, name := range cfg.ExtensionProperties {
		ext[name] = struct{}{}
	}
	return &Validator{resolver: resolver, cfg: cfg, extensions: ext}
}

// ValidateNode checks a node's categories and properties. Property values may
// be mutated by successful type coercion.
func (v *Validator) ValidateNode(ctx context.Context, n *kg.Node) Result {
	res := Result{Admit: true}

	if len(n.Categories) == 0 {
		res.fatal("category", "node declares no category")
		return res
	}

	terms := make([]*schema.Term, 0, len(n.Categories))
	for _, cat := range n.Categories {
		term, err := v.resolver.Resolve(cat)
		if err != nil {
			var unknown *schema.UnknownTermError
			if errors.As(err, &unknown) {
				res.fatal("category", fmt.Sprintf("category %q is not defined in the schema", cat))
			} else {
				res.fatal("category", err.Error())
			}
			return res
		}
		if term.Kind != schema.ClassKind {
			res.fatal("category", fmt.Sprintf("%q is a %s, not a node category", cat, term.Kind))
			return res
		}
		if !term.RootedAncestry {
			res.fatal("category", fmt.Sprintf("category %q does not descend from a recognized graph-entity root", cat))
			return res
		}
		terms = append(terms, term)
	}

	v.checkProperties(ctx, &res, n.ID, n.Properties, terms)
	return res
}

// ValidateEdge checks an edge's predicate and properties.
func (v *Validator) ValidateEdge(ctx context.Context, e *kg.Edge) Result {
	res := Result{Admit: true}

	term, err := v.resolver.Resolve(e.Predicate)
	if err != nil {
		var unknown *schema.UnknownTermError
		if errors.As(err, &unknown) {
			res.fatal("predicate", fmt.Sprintf("predicate %q is not defined in the schema", e.Predicate))
		} else {
			res.fatal("predicate", err.Error())
		}
		return res
	}
	if term.Kind != schema.PredicateKind {
		res.fatal("predicate", fmt.Sprintf("%q is a %s, not an edge predicate", e.Predicate, term.Kind))
		return res
	}
	if !term.RootedAncestry {
		res.fatal("predicate", fmt.Sprintf("predicate %q does not descend from a recognized root", e.Predicate))
		return res
	}

	v.checkProperties(ctx, &res, e.Key(), e.Properties, []*schema.Term{term})
	return res
}

// checkProperties applies checks 3 and 4 against the union of slots declared
// across the resolved terms.
func (v *Validator) checkProperties(ctx context.Context, res *Result, recordID string, props map[string]any, terms []*schema.Term) {
	logger := ctxlog.FromContext(ctx)
	for name, value := range props {
		if _, whitelisted := v.extensions[name]; whitelisted {
			continue
		}
		var slot *schema.Slot
		for _, term := range terms {
			if s, ok := term.Slot(name); ok {
				slot = s
				break
			}
		}
		if slot == nil {
			reason := fmt.Sprintf("property %q is not a declared slot of any category in the record's ancestry", name)
			if v.cfg.Strict {
				res.fatal(name, reason)
				return
			}
			res.warn(name, reason)
			continue
		}

		coerced, ok := coerce(value, slot)
		if !ok {
			res.warn(name, fmt.Sprintf("value %v does not match declared range %q and could not be coerced", value, slot.Range))
			continue
		}
		if !sameValue(coerced, value) {
			logger.Debug("Coerced property value to declared range.",
				"record", recordID, "property", name, "range", slot.Range)
			props[name] = coerced
		}
	}
}

// coerce attempts to convert value to the slot's declared range. It returns
// the (possibly rewritten) value and whether it now conforms.
func coerce(value any, slot *schema.Slot) (any, bool) {
	if slot.Multivalued {
		list, isList := value.([]any)
		if !isList {
			// A lone scalar for a multivalued slot becomes a singleton list.
			list = []any{value}
		}
		out := make([]any, len(list))
		for i, elem := range list {
			c, ok := coerceScalar(elem, slot)
			if !ok {
				return value, false
			}
			out[i] = c
		}
		return out, true
	}
	if _, isList := value.([]any); isList {
		return value, false
	}
	return coerceScalar(value, slot)
}

func coerceScalar(value any, slot *schema.Slot) (any, bool) {
	if len(slot.Enum) > 0 {
		s, ok := value.(string)
		if !ok {
			return value, false
		}
		for _, permitted := range slot.Enum {
			if s == permitted {
				return s, true
			}
		}
		return value, false
	}

	switch slot.Range {
	case schema.RangeString:
		switch v := value.(type) {
		case string:
			return v, true
		case int64:
			return strconv.FormatInt(v, 10), true
		case bool:
			return strconv.FormatBool(v), true
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), true
		}
	case schema.RangeInteger:
		switch v := value.(type) {
		case int64:
			return v, true
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
		case string:
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				return parsed, true
			}
		}
	case schema.RangeBoolean:
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			if parsed, err := strconv.ParseBool(v); err == nil {
				return parsed, true
			}
		}
	case schema.RangeFloat:
		switch v := value.(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case string:
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed, true
			}
		}
	}
	return value, false
}

func sameValue(a, b any) bool {
	if _, isList := a.([]any); isList {
		return false
	}
	if _, isList := b.([]any); isList {
		return false
	}
	return a == b
}

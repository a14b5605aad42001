package schema

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/graphmeld/internal/fsutil"
)

// hclFile mirrors the top level of a schema document.
type hclFile struct {
	Classes    []hclTerm `hcl:"class,block"`
	Predicates []hclTerm `hcl:"predicate,block"`
	Enums      []hclEnum `hcl:"enum,block"`
}

type hclTerm struct {
	Name    string    `hcl:"name,label"`
	Extends *string   `hcl:"extends,optional"`
	Root    bool      `hcl:"root,optional"`
	Slots   []hclSlot `hcl:"slot,block"`
}

type hclSlot struct {
	Name        string `hcl:"name,label"`
	Range       string `hcl:"range,optional"`
	Multivalued bool   `hcl:"multivalued,optional"`
}

type hclEnum struct {
	Name   string   `hcl:"name,label"`
	Values []string `hcl:"values"`
}

// Schema is the HCL-backed Resolver. It precomputes ancestry chains and
// inherited slot sets at load time, so Resolve is a map lookup.
type Schema struct {
	terms map[string]*Term
}

// Load parses every .hcl schema file under the given paths (files or
// directories) into one Schema. Inheritance chains are validated: an extends
// target must exist and must not form a cycle.
func Load(paths ...string) (*Schema, error) {
	parser := hclparse.NewParser()
	var raw hclFile
	for _, path := range paths {
		files, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("locating schema files under %s: %w", path, err)
		}
		for _, file := range files {
			hclF, diags := parser.ParseHCLFile(file)
			if diags.HasErrors() {
				return nil, fmt.Errorf("parsing schema file %s: %w", file, diags)
			}
			var part hclFile
			if diags := gohcl.DecodeBody(hclF.Body, nil, &part); diags.HasErrors() {
				return nil, fmt.Errorf("decoding schema file %s: %w", file, diags)
			}
			raw.Classes = append(raw.Classes, part.Classes...)
			raw.Predicates = append(raw.Predicates, part.Predicates...)
			raw.Enums = append(raw.Enums, part.Enums...)
		}
	}
	return build(&raw)
}

func build(raw *hclFile) (*Schema, error) {
	enums := make(map[string][]string, len(raw.Enums))
	for _, e := range raw.Enums {
		if _, dup := enums[e.Name]; dup {
			return nil, fmt.Errorf("enum %q declared twice", e.Name)
		}
		enums[e.Name] = e.Values
	}

	type declared struct {
		hclTerm
		kind Kind
	}
	decls := make(map[string]*declared)
	addDecl := func(t hclTerm, kind Kind) error {
		if _, dup := decls[t.Name]; dup {
			return fmt.Errorf("term %q declared twice", t.Name)
		}
		decls[t.Name] = &declared{hclTerm: t, kind: kind}
		return nil
	}
	for _, c := range raw.Classes {
		if err := addDecl(c, ClassKind); err != nil {
			return nil, err
		}
	}
	for _, p := range raw.Predicates {
		if err := addDecl(p, PredicateKind); err != nil {
			return nil, err
		}
	}

	s := &Schema{terms: make(map[string]*Term, len(decls))}
	for name, decl := range decls {
		term := &Term{Name: name, Kind: decl.kind}
		slotSeen := make(map[string]struct{})
		visited := make(map[string]struct{})

		for cur := decl; ; {
			if _, cycle := visited[cur.Name]; cycle {
				return nil, fmt.Errorf("inheritance cycle through %q", cur.Name)
			}
			visited[cur.Name] = struct{}{}
			term.Ancestry = append(term.Ancestry, cur.Name)
			if cur.Root {
				term.RootedAncestry = true
			}
			for _, sl := range cur.Slots {
				// The nearest declaration of a slot wins over ancestors.
				if _, shadowed := slotSeen[sl.Name]; shadowed {
					continue
				}
				slotSeen[sl.Name] = struct{}{}
				resolved, err := resolveSlot(sl, enums)
				if err != nil {
					return nil, fmt.Errorf("term %q: %w", name, err)
				}
				term.Slots = append(term.Slots, resolved)
			}
			if cur.Extends == nil {
				break
			}
			parent, ok := decls[*cur.Extends]
			if !ok {
				return nil, fmt.Errorf("term %q extends undeclared term %q", cur.Name, *cur.Extends)
			}
			if parent.kind != decl.kind {
				return nil, fmt.Errorf("term %q (%s) extends %q (%s)", cur.Name, decl.kind, parent.Name, parent.kind)
			}
			cur = parent
		}
		s.terms[name] = term
	}
	return s, nil
}

func resolveSlot(sl hclSlot, enums map[string][]string) (Slot, error) {
	rng := sl.Range
	if rng == "" {
		rng = RangeString
	}
	out := Slot{Name: sl.Name, Range: rng, Multivalued: sl.Multivalued}
	switch rng {
	case RangeString, RangeInteger, RangeBoolean, RangeFloat:
	default:
		values, ok := enums[rng]
		if !ok {
			return Slot{}, fmt.Errorf("slot %q has unknown range %q", sl.Name, rng)
		}
		out.Enum = values
	}
	return out, nil
}

// Resolve implements Resolver.
func (s *Schema) Resolve(name string) (*Term, error) {
	term, ok := s.terms[name]
	if !ok {
		return nil, &UnknownTermError{Name: name}
	}
	return term, nil
}

// IsAncestor reports whether ancestor appears in descendant's ancestry chain.
// A term is its own ancestor.
func (s *Schema) IsAncestor(ancestor, descendant string) bool {
	term, ok := s.terms[descendant]
	if !ok {
		return false
	}
	for _, name := range term.Ancestry {
		if name == ancestor {
			return true
		}
	}
	return false
}

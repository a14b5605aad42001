// Package prefix manages CURIE prefix mappings: expansion of compact
// identifiers like GO:0008150 to full IRIs and contraction back. Identifiers
// whose prefix is not in the map fall back to a designated UNKNOWN namespace
// rather than failing, so ill-prefixed records survive a round trip.
package prefix

import (
	"sort"
	"strings"
)

// DefaultNamespace is the fallback base IRI for unmapped prefixes.
const DefaultNamespace = "https://www.example.org/UNKNOWN/"

// defaults are always present unless overridden.
var defaults = map[string]string{
	"biolink": "https://w3id.org/biolink/vocab/",
	"rdf":     "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs":    "http://www.w3.org/2000/01/rdf-schema#",
	"owl":     "http://www.w3.org/2002/07/owl#",
	"":        DefaultNamespace,
}

// Manager holds a prefix-to-IRI map and its reverse for contraction.
type Manager struct {
	prefixMap map[string]string
	// reverse is sorted by descending IRI length so contraction picks the
	// longest matching base.
	reverse []reverseEntry
}

type reverseEntry struct {
	base   string
	prefix string
}

// NewManager builds a Manager from the default mappings plus any overrides.
func NewManager(overrides map[string]string) *Manager {
	m := &Manager{prefixMap: make(map[string]string, len(defaults)+len(overrides))}
	for k, v := range defaults {
		m.prefixMap[k] = v
	}
	for k, v := range overrides {
		m.prefixMap[k] = v
	}
	m.rebuildReverse()
	return m
}

// Update merges new prefix-to-IRI mappings into the manager.
func (m *Manager) Update(mappings map[string]string) {
	for k, v := range mappings {
		m.prefixMap[k] = v
	}
	m.rebuildReverse()
}

func (m *Manager) rebuildReverse() {
	m.reverse = m.reverse[:0]
	for prefix, base := range m.prefixMap {
		if base == "" {
			continue
		}
		m.reverse = append(m.reverse, reverseEntry{base: base, prefix: prefix})
	}
	sort.Slice(m.reverse, func(i, j int) bool {
		if len(m.reverse[i].base) != len(m.reverse[j].base) {
			return len(m.reverse[i].base) > len(m.reverse[j].base)
		}
		return m.reverse[i].base < m.reverse[j].base
	})
}

// Expand converts a CURIE to a full IRI. Inputs that already look like IRIs
// pass through unchanged; unknown prefixes expand against DefaultNamespace.
func (m *Manager) Expand(curie string) string {
	if IsIRI(curie) {
		return curie
	}
	pfx, reference, ok := strings.Cut(curie, ":")
	if !ok {
		return DefaultNamespace + curie
	}
	if base, known := m.prefixMap[pfx]; known {
		return base + reference
	}
	return DefaultNamespace + curie
}

// Contract converts an IRI back to a CURIE using the longest matching base.
// IRIs with no matching base are returned unchanged.
func (m *Manager) Contract(iri string) string {
	for _, entry := range m.reverse {
		if rest, ok := strings.CutPrefix(iri, entry.base); ok && rest != "" {
			if entry.prefix == "" {
				return rest
			}
			return entry.prefix + ":" + rest
		}
	}
	return iri
}

// IsIRI reports whether s looks like a full IRI rather than a CURIE.
func IsIRI(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "urn:")
}

// Of returns the namespace prefix of a CURIE-shaped identifier, or the empty
// string when the identifier carries none.
func Of(id string) string {
	pfx, _, ok := strings.Cut(id, ":")
	if !ok {
		return ""
	}
	return pfx
}

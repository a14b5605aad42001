package kg

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// entityStore is an identifier-keyed map of graph entities with an optional
// bound on the resident working set. With a limit of zero everything stays in
// memory. With a positive limit, entities beyond the bound are evicted in
// first-in order to the spill store and transparently decoded on lookup, so
// callers observe a single map regardless of mode.
type entityStore struct {
	limit     int
	resident  map[string]any
	fifo      []string
	spill     *spillStore
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte) (any, error)
}

func newEntityStore(limit int, spill *spillStore, marshal func(any) ([]byte, error), unmarshal func([]byte) (any, error)) *entityStore {
	return &entityStore{
		limit:     limit,
		resident:  make(map[string]any),
		spill:     spill,
		marshal:   marshal,
		unmarshal: unmarshal,
	}
}

func (s *entityStore) get(id string) (any, bool, error) {
	if v, ok := s.resident[id]; ok {
		return v, true, nil
	}
	if s.spill == nil {
		return nil, false, nil
	}
	payload, ok, err := s.spill.get(id)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := s.unmarshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decoding spilled entity %q: %w", id, err)
	}
	return v, true, nil
}

// put inserts or replaces the entity under id, evicting the oldest resident
// entities once the working-set bound is exceeded.
func (s *entityStore) put(id string, v any) error {
	if _, already := s.resident[id]; !already {
		s.fifo = append(s.fifo, id)
	}
	s.resident[id] = v

	if s.limit <= 0 || s.spill == nil {
		return nil
	}
	for len(s.resident) > s.limit && len(s.fifo) > 0 {
		victim := s.fifo[0]
		s.fifo = s.fifo[1:]
		ent, ok := s.resident[victim]
		if !ok {
			continue
		}
		payload, err := s.marshal(ent)
		if err != nil {
			return fmt.Errorf("encoding entity %q for spill: %w", victim, err)
		}
		if err := s.spill.append(victim, payload); err != nil {
			return err
		}
		delete(s.resident, victim)
	}
	return nil
}

func (s *entityStore) delete(id string) {
	delete(s.resident, id)
	if s.spill != nil {
		s.spill.delete(id)
	}
}

func (s *entityStore) contains(id string) bool {
	if _, ok := s.resident[id]; ok {
		return true
	}
	if s.spill != nil {
		if _, ok := s.spill.index[id]; ok {
			return true
		}
	}
	return false
}

// keys returns a snapshot of every identifier in the store, resident or spilled.
func (s *entityStore) keys() []string {
	out := make([]string, 0, len(s.resident))
	for id := range s.resident {
		out = append(out, id)
	}
	if s.spill != nil {
		for id := range s.spill.index {
			if _, dup := s.resident[id]; !dup {
				out = append(out, id)
			}
		}
	}
	return out
}

func (s *entityStore) size() int {
	n := len(s.resident)
	if s.spill != nil {
		for id := range s.spill.index {
			if _, dup := s.resident[id]; !dup {
				n++
			}
		}
	}
	return n
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecodeNode(payload []byte) (any, error) {
	var n Node
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&n); err != nil {
		return nil, err
	}
	// gob drops empty maps; restore the invariant that Properties is non-nil.
	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	return &n, nil
}

func gobDecodeEdge(payload []byte) (any, error) {
	var e Edge
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return nil, err
	}
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	return &e, nil
}

package kg

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// spillStore is the append-only overflow store behind streaming mode. Records
// are length-prefixed key/payload pairs; an in-memory index maps each key to
// the offset of its most recent record, so overwrite is append with
// latest-wins-by-offset semantics. Appends are serialized by the owning
// Graph's lock; point lookups use ReadAt and may run concurrently.
type spillStore struct {
	f      *os.File
	path   string
	index  map[string]int64
	offset int64
}

func newSpillStore(dir, name string) (*spillStore, error) {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "graphmeld-spill-")
		if err != nil {
			return nil, fmt.Errorf("creating spill directory: %w", err)
		}
	}
	path := filepath.Join(dir, name+".spill")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening spill store %s: %w", path, err)
	}
	return &spillStore{
		f:     f,
		path:  path,
		index: make(map[string]int64),
	}, nil
}

// append writes a record for id and points the index at it. Any earlier
// record for the same id becomes unreachable garbage in the log.
func (s *spillStore) append(id string, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(id)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	at := s.offset
	if _, err := s.f.WriteAt(header[:], at); err != nil {
		return fmt.Errorf("spill append %q: %w", id, err)
	}
	if _, err := s.f.WriteAt([]byte(id), at+8); err != nil {
		return fmt.Errorf("spill append %q: %w", id, err)
	}
	if _, err := s.f.WriteAt(payload, at+8+int64(len(id))); err != nil {
		return fmt.Errorf("spill append %q: %w", id, err)
	}
	s.offset = at + 8 + int64(len(id)) + int64(len(payload))
	s.index[id] = at
	return nil
}

// get returns the latest payload recorded for id.
func (s *spillStore) get(id string) ([]byte, bool, error) {
	at, ok := s.index[id]
	if !ok {
		return nil, false, nil
	}
	var header [8]byte
	if _, err := s.f.ReadAt(header[:], at); err != nil {
		return nil, false, fmt.Errorf("spill read %q: %w", id, err)
	}
	keyLen := int64(binary.BigEndian.Uint32(header[0:4]))
	payloadLen := int64(binary.BigEndian.Uint32(header[4:8]))
	payload := make([]byte, payloadLen)
	if _, err := s.f.ReadAt(payload, at+8+keyLen); err != nil {
		return nil, false, fmt.Errorf("spill read %q: %w", id, err)
	}
	return payload, true, nil
}

func (s *spillStore) delete(id string) {
	delete(s.index, id)
}

func (s *spillStore) close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if rmErr := os.Remove(s.path); err == nil {
		err = rmErr
	}
	return err
}

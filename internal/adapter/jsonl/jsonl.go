// Package jsonl reads and writes graphs as line-delimited JSON records: a
// pair of files {base}_nodes.jsonl and {base}_edges.jsonl with one object per
// line. The format is fully streaming in both directions.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/kg"
)

// Module registers the jsonl format.
type Module struct{}

// Register implements adapter.Module.
func (Module) Register(r *adapter.Registry) {
	r.RegisterFormat("jsonl", &adapter.Factory{
		NewSource: func() adapter.Source { return &Source{} },
		NewSink:   func() adapter.Sink { return &Sink{} },
	})
}

func nodesPath(base string) string { return base + "_nodes.jsonl" }
func edgesPath(base string) string { return base + "_edges.jsonl" }

// Source streams records line by line.
type Source struct {
	location  string
	nodesFile *os.File
	edgesFile *os.File
}

// Open implements adapter.Source. A missing edges file is tolerated.
func (s *Source) Open(ctx context.Context, location string) error {
	s.location = location
	var err error
	if s.nodesFile, err = os.Open(nodesPath(location)); err != nil {
		return &adapter.SourceReadError{Location: location, Err: err}
	}
	if s.edgesFile, err = os.Open(edgesPath(location)); err != nil {
		if os.IsNotExist(err) {
			s.edgesFile = nil
			return nil
		}
		return &adapter.SourceReadError{Location: location, Err: err}
	}
	return nil
}

// Read implements adapter.Source.
func (s *Source) Read(ctx context.Context, out chan<- adapter.RawRecord) error {
	if err := s.readLines(ctx, s.nodesFile, adapter.KindNode, out); err != nil {
		return err
	}
	if s.edgesFile == nil {
		return nil
	}
	return s.readLines(ctx, s.edgesFile, adapter.KindEdge, out)
}

func (s *Source) readLines(ctx context.Context, f *os.File, kind adapter.RecordKind, out chan<- adapter.RawRecord) error {
	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()
	for {
		var fields map[string]any
		err := dec.Decode(&fields)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		normalizeNumbers(fields)
		select {
		case out <- adapter.RawRecord{Kind: kind, Fields: fields}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// normalizeNumbers rewrites json.Number values into int64 where exact,
// float64 otherwise, so numeric properties survive a round trip with their
// canonical type.
func normalizeNumbers(fields map[string]any) {
	for k, v := range fields {
		fields[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	case map[string]any:
		normalizeNumbers(val)
		return val
	default:
		return v
	}
}

// Close implements adapter.Source.
func (s *Source) Close() error {
	var err error
	if s.nodesFile != nil {
		err = s.nodesFile.Close()
		s.nodesFile = nil
	}
	if s.edgesFile != nil {
		if closeErr := s.edgesFile.Close(); err == nil {
			err = closeErr
		}
		s.edgesFile = nil
	}
	return err
}

// Sink writes each record as it arrives. A truncated run leaves a prefix of
// valid lines, never a corrupt fragment.
type Sink struct {
	location  string
	nodesFile *os.File
	edgesFile *os.File
	nodesBuf  *bufio.Writer
	edgesBuf  *bufio.Writer
	finalized bool
}

// Open implements adapter.Sink.
func (s *Sink) Open(ctx context.Context, location string) error {
	s.location = location
	var err error
	if s.nodesFile, err = os.Create(nodesPath(location)); err != nil {
		return &adapter.SinkWriteError{Location: location, Err: err}
	}
	if s.edgesFile, err = os.Create(edgesPath(location)); err != nil {
		s.nodesFile.Close()
		return &adapter.SinkWriteError{Location: location, Err: err}
	}
	s.nodesBuf = bufio.NewWriter(s.nodesFile)
	s.edgesBuf = bufio.NewWriter(s.edgesFile)
	return nil
}

// WriteNode implements adapter.Sink.
func (s *Sink) WriteNode(ctx context.Context, n *kg.Node) error {
	return s.writeRecord(s.nodesBuf, adapter.NodeRecord(n))
}

// WriteEdge implements adapter.Sink.
func (s *Sink) WriteEdge(ctx context.Context, e *kg.Edge) error {
	return s.writeRecord(s.edgesBuf, adapter.EdgeRecord(e))
}

func (s *Sink) writeRecord(w *bufio.Writer, rec adapter.RawRecord) error {
	line, err := json.Marshal(rec.Fields)
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

// Finalize implements adapter.Sink. Idempotent.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	var err error
	for _, buf := range []*bufio.Writer{s.nodesBuf, s.edgesBuf} {
		if buf == nil {
			continue
		}
		if flushErr := buf.Flush(); err == nil {
			err = flushErr
		}
	}
	for _, f := range []*os.File{s.nodesFile, s.edgesFile} {
		if f == nil {
			continue
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}
	s.nodesFile, s.edgesFile = nil, nil
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

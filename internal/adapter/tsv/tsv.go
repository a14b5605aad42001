// Package tsv reads and writes graphs as tabular node/edge lists: a pair of
// tab-separated files {base}_nodes.tsv and {base}_edges.tsv with one header
// row each. Multivalued cells are pipe-delimited. All cell values surface as
// raw strings; type coercion belongs to the validator.
package tsv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/kg"
)

// ListSeparator delimits multivalued cells.
const ListSeparator = "|"

// Module registers the tsv format.
type Module struct{}

// Register implements adapter.Module.
func (Module) Register(r *adapter.Registry) {
	r.RegisterFormat("tsv", &adapter.Factory{
		NewSource: func() adapter.Source { return &Source{} },
		NewSink:   func() adapter.Sink { return &Sink{} },
	})
}

func nodesPath(base string) string { return base + "_nodes.tsv" }
func edgesPath(base string) string { return base + "_edges.tsv" }

// Source streams node then edge records from a tabular pair. Files are read
// row by row; the input is never materialized whole.
type Source struct {
	location  string
	nodesFile *os.File
	edgesFile *os.File
}

// Open opens both files of the pair. A missing edges file is tolerated: some
// exports are node-only.
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
	if err := s.readTable(ctx, s.nodesFile, adapter.KindNode, out); err != nil {
		return err
	}
	if s.edgesFile == nil {
		return nil
	}
	return s.readTable(ctx, s.edgesFile, adapter.KindEdge, out)
}

func (s *Source) readTable(ctx context.Context, f *os.File, kind adapter.RecordKind, out chan<- adapter.RawRecord) error {
	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		fields := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(row) || row[i] == "" {
				continue
			}
			fields[col] = parseCell(row[i])
		}
		select {
		case out <- adapter.RawRecord{Kind: kind, Fields: fields}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseCell keeps cells as raw strings, splitting pipe-delimited values into
// lists.
func parseCell(cell string) any {
	if strings.Contains(cell, ListSeparator) {
		parts := strings.Split(cell, ListSeparator)
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return cell
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

// Sink buffers one table at a time and writes both files at Finalize, since
// the full column set is only known once every record has been seen. This is
// the single-materialization concession the tabular format requires.
type Sink struct {
	location  string
	nodes     []adapter.RawRecord
	edges     []adapter.RawRecord
	finalized bool
}

// Open implements adapter.Sink.
func (s *Sink) Open(ctx context.Context, location string) error {
	s.location = location
	return nil
}

// WriteNode implements adapter.Sink.
func (s *Sink) WriteNode(ctx context.Context, n *kg.Node) error {
	s.nodes = append(s.nodes, adapter.NodeRecord(n))
	return nil
}

// WriteEdge implements adapter.Sink.
func (s *Sink) WriteEdge(ctx context.Context, e *kg.Edge) error {
	s.edges = append(s.edges, adapter.EdgeRecord(e))
	return nil
}

var nodeCoreColumns = []string{adapter.FieldID, adapter.FieldCategory}
var edgeCoreColumns = []string{adapter.FieldID, adapter.FieldSubject, adapter.FieldPredicate, adapter.FieldObject}

// Finalize writes both tables. Idempotent; with zero records it still emits
// valid header-only documents.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	if err := writeTable(nodesPath(s.location), nodeCoreColumns, s.nodes); err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	if err := writeTable(edgesPath(s.location), edgeCoreColumns, s.edges); err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	s.nodes, s.edges = nil, nil
	return nil
}

func writeTable(path string, core []string, records []adapter.RawRecord) error {
	columns := append([]string(nil), core...)
	seen := make(map[string]struct{}, len(core))
	for _, c := range core {
		seen[c] = struct{}{}
	}
	var extras []string
	for _, rec := range records {
		for col := range rec.Fields {
			if _, dup := seen[col]; !dup {
				seen[col] = struct{}{}
				extras = append(extras, col)
			}
		}
	}
	sort.Strings(extras)
	columns = append(columns, extras...)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'

	if err := w.Write(columns); err != nil {
		f.Close()
		return err
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = formatCell(rec.Fields[col])
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatCell(item)
		}
		return strings.Join(parts, ListSeparator)
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

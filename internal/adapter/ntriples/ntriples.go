// Package ntriples reads and writes graphs as RDF N-Triples. Node categories
// surface as rdf:type statements, scalar and list properties as literal
// statements, and edges as IRI-object statements. Identifiers are contracted
// to CURIEs on read and expanded on write through the prefix manager.
// Edge properties are not reified; they do not survive this serialization.
package ntriples

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/prefix"
)

const (
	rdfType    = "rdf:type"
	xsdInteger = "http://www.w3.org/2001/XMLSchema#integer"
	xsdBoolean = "http://www.w3.org/2001/XMLSchema#boolean"
	xsdDouble  = "http://www.w3.org/2001/XMLSchema#double"
)

// Module registers the nt format.
type Module struct{}

// Register implements adapter.Module.
func (Module) Register(r *adapter.Registry) {
	r.RegisterFormat("nt", &adapter.Factory{
		NewSource: func() adapter.Source { return &Source{prefixes: prefix.NewManager(nil)} },
		NewSink:   func() adapter.Sink { return &Sink{prefixes: prefix.NewManager(nil)} },
	})
}

// Source streams one raw record per triple. Partial node records for the same
// subject union naturally in the canonical model, so no per-subject state is
// kept and the input is never materialized whole.
type Source struct {
	prefixes *prefix.Manager
	location string
	file     *os.File
}

// Open implements adapter.Source.
func (s *Source) Open(ctx context.Context, location string) error {
	s.location = location
	f, err := os.Open(location)
	if err != nil {
		return &adapter.SourceReadError{Location: location, Err: err}
	}
	s.file = f
	return nil
}

// Read implements adapter.Source.
func (s *Source) Read(ctx context.Context, out chan<- adapter.RawRecord) error {
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		triple, err := parseTriple(line)
		if err != nil {
			return &adapter.SourceReadError{Location: s.location,
				Err: fmt.Errorf("line %d: %w", lineNo, err)}
		}
		rec := s.recordFor(triple)
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}
	return nil
}

func (s *Source) recordFor(t triple) adapter.RawRecord {
	subject := s.prefixes.Contract(t.subject)
	predicate := s.prefixes.Contract(t.predicate)

	if t.objectIsIRI {
		object := s.prefixes.Contract(t.object)
		if predicate == rdfType {
			return adapter.RawRecord{Kind: adapter.KindNode, Fields: map[string]any{
				adapter.FieldID:       subject,
				adapter.FieldCategory: []any{object},
			}}
		}
		return adapter.RawRecord{Kind: adapter.KindEdge, Fields: map[string]any{
			adapter.FieldSubject:   subject,
			adapter.FieldPredicate: predicate,
			adapter.FieldObject:    object,
		}}
	}

	return adapter.RawRecord{Kind: adapter.KindNode, Fields: map[string]any{
		adapter.FieldID: subject,
		predicate:       literalValue(t.object, t.datatype),
	}}
}

func literalValue(lexical, datatype string) any {
	switch datatype {
	case xsdInteger:
		if i, err := strconv.ParseInt(lexical, 10, 64); err == nil {
			return i
		}
	case xsdBoolean:
		if b, err := strconv.ParseBool(lexical); err == nil {
			return b
		}
	case xsdDouble:
		if f, err := strconv.ParseFloat(lexical, 64); err == nil {
			return f
		}
	}
	return lexical
}

// Close implements adapter.Source.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type triple struct {
	subject     string
	predicate   string
	object      string
	objectIsIRI bool
	datatype    string
}

func parseTriple(line string) (triple, error) {
	var t triple
	rest := line

	subject, rest, err := parseIRI(rest)
	if err != nil {
		return t, fmt.Errorf("subject: %w", err)
	}
	predicate, rest, err := parseIRI(rest)
	if err != nil {
		return t, fmt.Errorf("predicate: %w", err)
	}
	t.subject, t.predicate = subject, predicate

	rest = strings.TrimLeft(rest, " \t")
	switch {
	case strings.HasPrefix(rest, "<"):
		object, tail, err := parseIRI(rest)
		if err != nil {
			return t, fmt.Errorf("object: %w", err)
		}
		t.object, t.objectIsIRI = object, true
		rest = tail
	case strings.HasPrefix(rest, `"`):
		lexical, tail, err := parseLiteral(rest)
		if err != nil {
			return t, fmt.Errorf("object: %w", err)
		}
		t.object = lexical
		rest = tail
		if strings.HasPrefix(rest, "@") {
			// Language tags are dropped; only the lexical form is kept.
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				return t, fmt.Errorf("unterminated language tag")
			}
			rest = rest[end:]
		}
		if datatype, tail, ok := strings.Cut(rest, "^^"); ok && strings.TrimSpace(datatype) == "" {
			dt, tail2, err := parseIRI(tail)
			if err != nil {
				return t, fmt.Errorf("datatype: %w", err)
			}
			t.datatype = dt
			rest = tail2
		}
	default:
		return t, fmt.Errorf("unexpected object term %q", rest)
	}

	if strings.TrimSpace(rest) != "." {
		return t, fmt.Errorf("missing terminating dot")
	}
	return t, nil
}

func parseIRI(s string) (string, string, error) {
	s = strings.TrimLeft(s, " \t")
	if !strings.HasPrefix(s, "<") {
		return "", "", fmt.Errorf("expected IRI, got %q", s)
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return "", "", fmt.Errorf("unterminated IRI")
	}
	return s[1:end], s[end+1:], nil
}

func parseLiteral(s string) (string, string, error) {
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(s[i])
			}
			continue
		}
		if c == '"' {
			return sb.String(), s[i+1:], nil
		}
		sb.WriteByte(c)
	}
	return "", "", fmt.Errorf("unterminated literal")
}

// Sink streams triples as records arrive. Every flushed prefix of the output
// is a valid N-Triples document.
type Sink struct {
	prefixes  *prefix.Manager
	location  string
	file      *os.File
	buf       *bufio.Writer
	finalized bool
}

// Open implements adapter.Sink.
func (s *Sink) Open(ctx context.Context, location string) error {
	s.location = location
	f, err := os.Create(location)
	if err != nil {
		return &adapter.SinkWriteError{Location: location, Err: err}
	}
	s.file = f
	s.buf = bufio.NewWriter(f)
	return nil
}

// WriteNode implements adapter.Sink.
func (s *Sink) WriteNode(ctx context.Context, n *kg.Node) error {
	subject := s.prefixes.Expand(n.ID)
	for _, category := range n.Categories {
		if err := s.emit(subject, s.prefixes.Expand(rdfType), iriTerm(s.prefixes.Expand(category))); err != nil {
			return err
		}
	}
	for name, value := range n.Properties {
		predicate := s.prefixes.Expand(name)
		values, ok := value.([]any)
		if !ok {
			values = []any{value}
		}
		for _, v := range values {
			if err := s.emit(subject, predicate, literalTerm(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteEdge implements adapter.Sink.
func (s *Sink) WriteEdge(ctx context.Context, e *kg.Edge) error {
	return s.emit(s.prefixes.Expand(e.Subject), s.prefixes.Expand(e.Predicate),
		iriTerm(s.prefixes.Expand(e.Object)))
}

func (s *Sink) emit(subject, predicate, objectTerm string) error {
	if _, err := fmt.Fprintf(s.buf, "<%s> <%s> %s .\n", subject, predicate, objectTerm); err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

func iriTerm(iri string) string {
	return "<" + iri + ">"
}

func literalTerm(v any) string {
	switch val := v.(type) {
	case int64:
		return fmt.Sprintf("%q^^<%s>", strconv.FormatInt(val, 10), xsdInteger)
	case bool:
		return fmt.Sprintf("%q^^<%s>", strconv.FormatBool(val), xsdBoolean)
	case float64:
		return fmt.Sprintf("%q^^<%s>", strconv.FormatFloat(val, 'g', -1, 64), xsdDouble)
	default:
		return strconv.Quote(fmt.Sprintf("%v", val))
	}
}

// Finalize implements adapter.Sink. Idempotent.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	var err error
	if s.buf != nil {
		err = s.buf.Flush()
	}
	if s.file != nil {
		if closeErr := s.file.Close(); err == nil {
			err = closeErr
		}
		s.file = nil
	}
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

// Package sqlitestore reads and writes graphs as a labeled-property-graph
// store backed by an embedded SQLite database: one row per node and per edge,
// properties serialized as JSON. Writes batch inside transactions and retry
// briefly on lock contention.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/kg"
)

const (
	batchSize     = 500
	writeAttempts = 3
	retryDelay    = 50 * time.Millisecond
)

const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	properties TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	predicate  TEXT NOT NULL,
	object     TEXT NOT NULL,
	properties TEXT NOT NULL
);
`

// Module registers the sqlite format.
type Module struct{}

// Register implements adapter.Module.
func (Module) Register(r *adapter.Registry) {
	r.RegisterFormat("sqlite", &adapter.Factory{
		NewSource: func() adapter.Source { return &Source{} },
		NewSink:   func() adapter.Sink { return &Sink{} },
	})
}

// Source streams rows out of the store with a sequential scan per table.
type Source struct {
	location string
	db       *sql.DB
}

// Open implements adapter.Source.
func (s *Source) Open(ctx context.Context, location string) error {
	s.location = location
	db, err := sql.Open("sqlite", location)
	if err != nil {
		return &adapter.SourceReadError{Location: location, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &adapter.SourceReadError{Location: location, Err: err}
	}
	s.db = db
	return nil
}

// Read implements adapter.Source.
func (s *Source) Read(ctx context.Context, out chan<- adapter.RawRecord) error {
	if err := s.readNodes(ctx, out); err != nil {
		return err
	}
	return s.readEdges(ctx, out)
}

func (s *Source) readNodes(ctx context.Context, out chan<- adapter.RawRecord) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, properties FROM nodes`)
	if err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var id, category, properties string
		if err := rows.Scan(&id, &category, &properties); err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		fields, err := decodeProperties(properties)
		if err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		fields[adapter.FieldID] = id
		if cats := decodeCategories(category); len(cats) > 0 {
			fields[adapter.FieldCategory] = cats
		}
		select {
		case out <- adapter.RawRecord{Kind: adapter.KindNode, Fields: fields}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}
	return nil
}

func (s *Source) readEdges(ctx context.Context, out chan<- adapter.RawRecord) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject, predicate, object, properties FROM edges`)
	if err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var id, subject, predicate, object, properties string
		if err := rows.Scan(&id, &subject, &predicate, &object, &properties); err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		fields, err := decodeProperties(properties)
		if err != nil {
			return &adapter.SourceReadError{Location: s.location, Err: err}
		}
		fields[adapter.FieldID] = id
		fields[adapter.FieldSubject] = subject
		fields[adapter.FieldPredicate] = predicate
		fields[adapter.FieldObject] = object
		select {
		case out <- adapter.RawRecord{Kind: adapter.KindEdge, Fields: fields}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return &adapter.SourceReadError{Location: s.location, Err: err}
	}
	return nil
}

// Close implements adapter.Source.
func (s *Source) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Sink batches rows into transactions of batchSize.
type Sink struct {
	location  string
	db        *sql.DB
	tx        *sql.Tx
	pending   int
	finalized bool
}

// Open implements adapter.Sink.
func (s *Sink) Open(ctx context.Context, location string) error {
	s.location = location
	db, err := sql.Open("sqlite", location)
	if err != nil {
		return &adapter.SinkWriteError{Location: location, Err: err}
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return &adapter.SinkWriteError{Location: location, Err: err}
	}
	s.db = db
	return nil
}

// WriteNode implements adapter.Sink.
func (s *Sink) WriteNode(ctx context.Context, n *kg.Node) error {
	properties, err := json.Marshal(n.Properties)
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return s.exec(ctx,
		`INSERT OR REPLACE INTO nodes (id, category, properties) VALUES (?, ?, ?)`,
		n.ID, strings.Join(n.Categories, "|"), string(properties))
}

// WriteEdge implements adapter.Sink.
func (s *Sink) WriteEdge(ctx context.Context, e *kg.Edge) error {
	properties, err := json.Marshal(e.Properties)
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return s.exec(ctx,
		`INSERT OR REPLACE INTO edges (id, subject, predicate, object, properties) VALUES (?, ?, ?, ?, ?)`,
		e.Key(), e.Subject, e.Predicate, e.Object, string(properties))
}

func (s *Sink) exec(ctx context.Context, query string, args ...any) error {
	err := adapter.Retry(ctx, writeAttempts, retryDelay, func() error {
		if s.tx == nil {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			s.tx = tx
		}
		if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		s.pending++
		if s.pending >= batchSize {
			return s.flush()
		}
		return nil
	})
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

func (s *Sink) flush() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.pending = 0
	return err
}

// Finalize implements adapter.Sink. Commits the open batch; the store is a
// valid (possibly empty) database even with zero records. Idempotent.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	err := s.flush()
	if s.db != nil {
		if closeErr := s.db.Close(); err == nil {
			err = closeErr
		}
		s.db = nil
	}
	if err != nil {
		return &adapter.SinkWriteError{Location: s.location, Err: err}
	}
	return nil
}

func decodeProperties(payload string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	for k, v := range fields {
		fields[k] = normalizeValue(v)
	}
	return fields, nil
}

func decodeCategories(category string) []any {
	if category == "" {
		return nil
	}
	parts := strings.Split(category, "|")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
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
	default:
		return v
	}
}

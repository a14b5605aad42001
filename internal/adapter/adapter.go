// Package adapter defines the source/sink contract every serialization
// implements, the raw record shape exchanged with the pipeline, and the
// format registry that maps profile format names to constructors.
package adapter

import (
	"context"
	"fmt"

	"github.com/vk/graphmeld/internal/kg"
)

// Source streams raw records out of one serialized graph location.
type Source interface {
	// Open prepares the source for reading from location.
	Open(ctx context.Context, location string) error
	// Read streams records into out until exhaustion, error, or context
	// cancellation. It must not hold the whole input in memory for line- or
	// record-oriented formats, and must not close out.
	Read(ctx context.Context, out chan<- RawRecord) error
	// Close releases underlying handles. Safe after a failed Open.
	Close() error
}

// Sink consumes canonical nodes and edges one at a time and owns any
// format-specific batching.
type Sink interface {
	// Open prepares the sink for writing to location.
	Open(ctx context.Context, location string) error
	WriteNode(ctx context.Context, n *kg.Node) error
	WriteEdge(ctx context.Context, e *kg.Edge) error
	// Finalize flushes and completes the output document. It must be
	// idempotent: it is called once on normal completion and possibly again
	// during abort cleanup, and even a zero-record or truncated document must
	// be syntactically valid.
	Finalize(ctx context.Context) error
}

// SourceReadError wraps an I/O failure while reading a source.
type SourceReadError struct {
	Location string
	Err      error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("reading source %s: %v", e.Location, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// SinkWriteError wraps an I/O failure while writing a sink.
type SinkWriteError struct {
	Location string
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("writing sink %s: %v", e.Location, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

package adapter

import (
	"fmt"
	"log/slog"
	"sort"
)

// Factory builds sources and sinks for one format. Either constructor may be
// nil when the format supports only one direction.
type Factory struct {
	NewSource func() Source
	NewSink   func() Sink
}

// Registry maps format names used in profiles to their factories.
type Registry struct {
	formats map[string]*Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]*Factory)}
}

// RegisterFormat registers a factory under a format name.
func (r *Registry) RegisterFormat(name string, f *Factory) {
	if _, exists := r.formats[name]; exists {
		panic(fmt.Sprintf("format %q already registered", name))
	}
	slog.Debug("Registering format.", "name", name)
	r.formats[name] = f
}

// NewSource builds a source for the named format.
func (r *Registry) NewSource(format string) (Source, error) {
	f, ok := r.formats[format]
	if !ok || f.NewSource == nil {
		return nil, fmt.Errorf("format %q has no registered source", format)
	}
	return f.NewSource(), nil
}

// NewSink builds a sink for the named format.
func (r *Registry) NewSink(format string) (Sink, error) {
	f, ok := r.formats[format]
	if !ok || f.NewSink == nil {
		return nil, fmt.Errorf("format %q has no registered sink", format)
	}
	return f.NewSink(), nil
}

// Formats lists the registered format names in stable order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.formats))
	for name := range r.formats {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Module is the interface every format package implements to plug into the
// registry.
type Module interface {
	Register(r *Registry)
}

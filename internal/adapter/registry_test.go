package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/graphmeld/internal/kg"
)

type nopSink struct{}

func (nopSink) Open(ctx context.Context, location string) error { return nil }
func (nopSink) WriteNode(ctx context.Context, n *kg.Node) error { return nil }
func (nopSink) WriteEdge(ctx context.Context, e *kg.Edge) error { return nil }
func (nopSink) Finalize(ctx context.Context) error              { return nil }

func TestRegisterFormat_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.RegisterFormat("fake", &Factory{NewSink: func() Sink { return nopSink{} }})
	assert.Panics(t, func() {
		r.RegisterFormat("fake", &Factory{NewSink: func() Sink { return nopSink{} }})
	})
}

func TestNewSource_UnknownFormat(t *testing.T) {
	r := NewRegistry()
	_, err := r.NewSource("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestNewSource_SinkOnlyFormat(t *testing.T) {
	r := NewRegistry()
	r.RegisterFormat("sinkonly", &Factory{NewSink: func() Sink { return nopSink{} }})
	_, err := r.NewSource("sinkonly")
	require.Error(t, err)

	snk, err := r.NewSink("sinkonly")
	require.NoError(t, err)
	assert.NotNil(t, snk)
}

func TestFormats_Sorted(t *testing.T) {
	r := NewRegistry()
	r.RegisterFormat("zeta", &Factory{NewSink: func() Sink { return nopSink{} }})
	r.RegisterFormat("alpha", &Factory{NewSink: func() Sink { return nopSink{} }})
	assert.Equal(t, []string{"alpha", "zeta"}, r.Formats())
}

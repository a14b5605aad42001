// Package pipeline wires sources through the validator into the canonical
// graph model, through the merge engine when more than one source is
// declared, and out to the sinks. Stages run as independent workers connected
// by bounded channels: a worker blocks only when its input queue is empty or
// its output queue is full, and a run-level cancellation closes the head
// queue so every downstream stage drains in-flight records and exits.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/ctxlog"
	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/merge"
	"github.com/vk/graphmeld/internal/report"
	"github.com/vk/graphmeld/internal/summary"
	"github.com/vk/graphmeld/internal/validate"
)

const (
	openAttempts = 3
	openBackoff  = 200 * time.Millisecond

	// seqSourceShift composes a record's first-seen sequence from the declared
	// source index and the record's ordinal within that source. 40 bits of
	// ordinal keep sequences from distinct sources disjoint.
	seqSourceShift = 40
)

// SourceSpec names one input: a registered format, its location, and the
// provenance tag stamped on every record it yields.
type SourceSpec struct {
	Format     string
	Location   string
	Provenance string
}

// SinkSpec names one output.
type SinkSpec struct {
	Format   string
	Location string
}

// Config controls a run.
type Config struct {
	Graph    kg.Options
	Dangling kg.DanglingPolicy
	// QueueSize bounds every inter-stage channel.
	QueueSize int
	// Workers caps how many source streams ingest concurrently. Record order
	// within one source is always preserved; only distinct sources overlap.
	Workers int
}

// Result summarizes a completed run.
type Result struct {
	Nodes        int
	Edges        int
	DroppedEdges []kg.Dangling
	MergeOutcome *merge.Outcome
}

// Pipeline is the run orchestrator.
type Pipeline struct {
	registry  *adapter.Registry
	validator *validate.Validator
	engine    *merge.Engine
	report    *report.Report
	summary   *summary.Summary
	cfg       Config
}

// New assembles a pipeline. summary may be nil to disable stream inspection.
func New(registry *adapter.Registry, validator *validate.Validator, engine *merge.Engine,
	rep *report.Report, sum *summary.Summary, cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		registry:  registry,
		validator: validator,
		engine:    engine,
		report:    rep,
		summary:   sum,
		cfg:       cfg,
	}
}

// Run executes ingestion, merge, finalize, and egress. The graph is fully
// built and checked before any sink opens, so a structural failure never
// leaves partial output; once egress begins, an abort still finalizes every
// opened sink so partial documents stay syntactically valid.
func (p *Pipeline) Run(ctx context.Context, sources []SourceSpec, sinks []SinkSpec) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	g, err := kg.New(p.cfg.Graph)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	result := &Result{}

	logger.Info("▶️ Ingesting sources.", "count", len(sources))
	if err := p.ingest(ctx, g, sources); err != nil {
		return result, err
	}

	if len(sources) > 1 {
		logger.Info("▶️ Collapsing equivalence cliques.")
		outcome, err := p.engine.Collapse(ctx, g)
		if err != nil {
			return result, fmt.Errorf("merging graphs: %w", err)
		}
		result.MergeOutcome = outcome
		for _, conflict := range outcome.Conflicts {
			p.report.Record(report.Entry{
				Source:   "merge",
				RecordID: conflict.Member,
				Field:    "category",
				Reason: fmt.Sprintf("clique member category %q conflicts with leader %s category %q",
					conflict.MemberCategory, conflict.Leader, conflict.LeaderCategory),
				Severity: report.SeverityWarning,
			})
		}
	}

	dropped, err := g.Finalize(ctx, p.cfg.Dangling)
	if err != nil {
		return result, fmt.Errorf("referential integrity check failed: %w", err)
	}
	result.DroppedEdges = dropped
	for _, d := range dropped {
		p.report.Record(report.Entry{
			Source:   "finalize",
			RecordID: d.EdgeID,
			Reason:   fmt.Sprintf("edge dropped: endpoint %q does not exist", d.Missing),
			Severity: report.SeverityWarning,
		})
	}

	result.Nodes = g.NodeCount()
	result.Edges = g.EdgeCount()

	if len(sinks) > 0 {
		logger.Info("▶️ Writing sinks.", "count", len(sinks))
		if err := p.egress(ctx, g, sinks); err != nil {
			return result, err
		}
	} else if p.summary != nil {
		if err := p.inspect(g); err != nil {
			return result, err
		}
	}
	logger.Info("✅ Pipeline finished.", "nodes", result.Nodes, "edges", result.Edges)
	return result, nil
}

// ingest runs one reader and one consumer worker per source, with at most
// cfg.Workers sources in flight. Sources may interleave, so first-seen order
// cannot come from a shared arrival counter; each record's sequence composes
// the declared source index with its ordinal within that source, making
// leader tie-breaks a function of the profile and its inputs alone.
func (p *Pipeline) ingest(ctx context.Context, g *kg.Graph, sources []SourceSpec) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Workers)

	for i, spec := range sources {
		seqBase := int64(i) << seqSourceShift
		group.Go(func() error {
			return p.ingestSource(groupCtx, g, spec, seqBase)
		})
	}
	return group.Wait()
}

func (p *Pipeline) ingestSource(ctx context.Context, g *kg.Graph, spec SourceSpec, seqBase int64) error {
	logger := ctxlog.FromContext(ctx).With("source", spec.Provenance, "format", spec.Format)
	src, err := p.registry.NewSource(spec.Format)
	if err != nil {
		return err
	}
	defer src.Close()

	err = adapter.Retry(ctx, openAttempts, openBackoff, func() error {
		return src.Open(ctx, spec.Location)
	})
	if err != nil {
		return fmt.Errorf("opening source %s: %w", spec.Location, err)
	}

	records := make(chan adapter.RawRecord, p.cfg.QueueSize)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(records)
		return src.Read(groupCtx, records)
	})

	group.Go(func() error {
		count := 0
		for rec := range records {
			if err := p.admit(groupCtx, g, spec, rec, seqBase+int64(count)); err != nil {
				return err
			}
			count++
		}
		logger.Debug("Source drained.", "records", count)
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("ingesting %s: %w", spec.Provenance, err)
	}
	return nil
}

// admit converts, validates, and inserts one raw record. Fatal violations
// exclude the record and are reported; non-fatal ones admit it with a
// warning entry.
func (p *Pipeline) admit(ctx context.Context, g *kg.Graph, spec SourceSpec, rec adapter.RawRecord, seq int64) error {
	switch rec.Kind {
	case adapter.KindNode:
		n, err := adapter.NodeFromRecord(rec)
		if err != nil {
			p.recordFatal(spec.Provenance, "", err.Error())
			return nil
		}
		res := p.validator.ValidateNode(ctx, n)
		p.recordViolations(spec.Provenance, n.ID, res)
		if !res.Admit {
			return nil
		}
		stampProvenance(n.Properties, spec.Provenance)
		if err := g.AddNodeOrdered(ctx, n, seq); err != nil {
			var conflict *kg.SchemaConflictError
			if errors.As(err, &conflict) {
				p.recordFatal(spec.Provenance, n.ID, conflict.Error())
				return nil
			}
			return err
		}
	case adapter.KindEdge:
		e, err := adapter.EdgeFromRecord(rec)
		if err != nil {
			p.recordFatal(spec.Provenance, "", err.Error())
			return nil
		}
		res := p.validator.ValidateEdge(ctx, e)
		p.recordViolations(spec.Provenance, e.Key(), res)
		if !res.Admit {
			return nil
		}
		stampProvenance(e.Properties, spec.Provenance)
		if err := g.AddEdge(ctx, e); err != nil {
			var conflict *kg.SchemaConflictError
			if errors.As(err, &conflict) {
				p.recordFatal(spec.Provenance, e.Key(), conflict.Error())
				return nil
			}
			return err
		}
	}
	return nil
}

func stampProvenance(props map[string]any, provenance string) {
	if provenance == "" {
		return
	}
	if _, ok := props[kg.ProvidedBy]; !ok {
		props[kg.ProvidedBy] = provenance
	}
}

func (p *Pipeline) recordFatal(source, recordID, reason string) {
	p.report.Record(report.Entry{
		Source: source, RecordID: recordID, Reason: reason, Severity: report.SeverityFatal,
	})
}

func (p *Pipeline) recordViolations(source, recordID string, res validate.Result) {
	for _, v := range res.Violations {
		severity := report.SeverityWarning
		if v.Fatal {
			severity = report.SeverityFatal
		}
		p.report.Record(report.Entry{
			Source: source, RecordID: recordID, Field: v.Field, Reason: v.Reason, Severity: severity,
		})
	}
}

// inspect feeds the summary when no sink consumes the graph.
func (p *Pipeline) inspect(g *kg.Graph) error {
	for n, err := range g.Nodes() {
		if err != nil {
			return err
		}
		p.summary.InspectNode(n)
	}
	for e, err := range g.Edges() {
		if err != nil {
			return err
		}
		p.summary.InspectEdge(e)
	}
	return nil
}

// egress fans the graph out to every sink: one producer iterates nodes then
// edges, each sink consumes from its own bounded queue. The producer blocks
// on the slowest sink's queue, which is the backpressure contract.
func (p *Pipeline) egress(ctx context.Context, g *kg.Graph, sinks []SinkSpec) error {
	opened := make([]adapter.Sink, 0, len(sinks))
	defer func() {
		// Finalize is idempotent; calling it again during abort cleanup
		// guarantees no sink is left claiming successful completion with a
		// corrupt fragment.
		for _, snk := range opened {
			_ = snk.Finalize(context.WithoutCancel(ctx))
		}
	}()

	for _, spec := range sinks {
		snk, err := p.registry.NewSink(spec.Format)
		if err != nil {
			return err
		}
		err = adapter.Retry(ctx, openAttempts, openBackoff, func() error {
			return snk.Open(ctx, spec.Location)
		})
		if err != nil {
			return fmt.Errorf("opening sink %s: %w", spec.Location, err)
		}
		opened = append(opened, snk)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	queues := make([]chan any, len(opened))
	for i, snk := range opened {
		queues[i] = make(chan any, p.cfg.QueueSize)
		queue := queues[i]
		group.Go(func() error {
			for item := range queue {
				var err error
				switch v := item.(type) {
				case *kg.Node:
					err = snk.WriteNode(groupCtx, v)
				case *kg.Edge:
					err = snk.WriteEdge(groupCtx, v)
				}
				if err != nil {
					return err
				}
			}
			return snk.Finalize(groupCtx)
		})
	}

	group.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for n, err := range g.Nodes() {
			if err != nil {
				return err
			}
			if p.summary != nil {
				p.summary.InspectNode(n)
			}
			if err := fanOut(groupCtx, queues, n); err != nil {
				return err
			}
		}
		for e, err := range g.Edges() {
			if err != nil {
				return err
			}
			if p.summary != nil {
				p.summary.InspectEdge(e)
			}
			if err := fanOut(groupCtx, queues, e); err != nil {
				return err
			}
		}
		return nil
	})

	return group.Wait()
}

func fanOut(ctx context.Context, queues []chan any, item any) error {
	for _, q := range queues {
		select {
		case q <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

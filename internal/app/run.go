package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/vk/graphmeld/internal/ctxlog"
	"github.com/vk/graphmeld/internal/merge"
	"github.com/vk/graphmeld/internal/pipeline"
	"github.com/vk/graphmeld/internal/report"
	"github.com/vk/graphmeld/internal/schema"
	"github.com/vk/graphmeld/internal/summary"
	"github.com/vk/graphmeld/internal/validate"
)

// ErrFatalViolations is returned when the run completed but at least one
// record was excluded by a fatal violation.
var ErrFatalViolations = errors.New("run completed with fatal violations")

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	sch, err := schema.Load(a.profile.Schema.Paths...)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	a.logger.Debug("Schema loaded.", "paths", a.profile.Schema.Paths)

	validatorCfg := validate.Config{}
	if a.profile.Validator != nil {
		validatorCfg.Strict = a.profile.Validator.Strict
		validatorCfg.ExtensionProperties = a.profile.Validator.Extensions
	}
	if appConfig.Strict {
		validatorCfg.Strict = true
	}
	validator := validate.New(sch, validatorCfg)

	mergeCfg := merge.Config{}
	if a.profile.Merge != nil {
		policy, err := merge.ParseLeaderPolicy(a.profile.Merge.LeaderPolicy)
		if err != nil {
			return err
		}
		mergeCfg.Policy = policy
		mergeCfg.SameAsPredicates = a.profile.Merge.SameAs
	}
	engine := merge.New(sch, mergeCfg)

	runID := uuid.NewString()
	reportCap := 0
	if a.profile.Report != nil {
		reportCap = a.profile.Report.Cap
	}
	rep := report.New(runID, reportCap)

	var sum *summary.Summary
	if a.profile.Summary != nil {
		sum = summary.New(a.profile.graphName())
	}

	pipe := pipeline.New(a.registry, validator, engine, rep, sum, pipeline.Config{
		Graph:     a.profile.graphOptions(),
		Dangling:  a.profile.danglingPolicy(),
		QueueSize: appConfig.QueueSize,
		Workers:   appConfig.Workers,
	})

	sources := make([]pipeline.SourceSpec, 0, len(a.profile.Sources))
	for _, s := range a.profile.Sources {
		sources = append(sources, pipeline.SourceSpec{
			Format:     s.Format,
			Location:   s.Location,
			Provenance: s.Name,
		})
	}
	sinks := make([]pipeline.SinkSpec, 0, len(a.profile.Sinks))
	for _, s := range a.profile.Sinks {
		sinks = append(sinks, pipeline.SinkSpec{Format: s.Format, Location: s.Location})
	}

	a.logger.Info("🚀 Starting pipeline run.", "run_id", runID, "graph", a.profile.graphName())
	result, runErr := pipe.Run(ctx, sources, sinks)

	// The report and summary are written even when the run failed partway;
	// a partial report is the record of what went wrong.
	if err := a.writeArtifacts(rep, sum); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			a.logger.Error("Failed to write run artifacts.", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("pipeline run failed: %w", runErr)
	}

	a.logger.Info("🏁 Run finished.",
		"run_id", runID,
		"nodes", result.Nodes,
		"edges", result.Edges,
		"dropped_edges", len(result.DroppedEdges),
		"warnings", rep.Count(report.SeverityWarning),
		"fatal", rep.Count(report.SeverityFatal))

	if rep.HasFatal() {
		return fmt.Errorf("%d records excluded: %w", rep.Count(report.SeverityFatal), ErrFatalViolations)
	}
	return nil
}

func (a *App) writeArtifacts(rep *report.Report, sum *summary.Summary) error {
	if a.profile.Report != nil {
		if err := writeFile(a.profile.Report.Path, rep.WriteJSON); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		a.logger.Debug("Report written.", "path", a.profile.Report.Path)
	}
	if sum != nil {
		if err := writeFile(a.profile.Summary.Path, sum.WriteJSON); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
		a.logger.Debug("Summary written.", "path", a.profile.Summary.Path)
	}
	return nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/graphmeld/internal/fsutil"
	"github.com/vk/graphmeld/internal/kg"
)

// Profile is the declarative description of one run: the graph to build,
// the schema that governs it, the sources feeding it, and the sinks
// receiving it.
type Profile struct {
	Graph     *graphBlock     `hcl:"graph,block"`
	Schema    *schemaBlock    `hcl:"schema,block"`
	Validator *validatorBlock `hcl:"validator,block"`
	Merge     *mergeBlock     `hcl:"merge,block"`
	Sources   []sourceBlock   `hcl:"source,block"`
	Sinks     []sinkBlock     `hcl:"sink,block"`
	Report    *reportBlock    `hcl:"report,block"`
	Summary   *summaryBlock   `hcl:"summary,block"`
}

type graphBlock struct {
	Name       string `hcl:"name,optional"`
	Mode       string `hcl:"mode,optional"`
	WorkingSet int    `hcl:"working_set,optional"`
	SpillDir   string `hcl:"spill_dir,optional"`
	Dangling   string `hcl:"dangling,optional"`
}

type schemaBlock struct {
	Paths []string `hcl:"paths"`
}

type validatorBlock struct {
	Strict     bool     `hcl:"strict,optional"`
	Extensions []string `hcl:"extensions,optional"`
}

type mergeBlock struct {
	LeaderPolicy string   `hcl:"leader_policy,optional"`
	SameAs       []string `hcl:"same_as,optional"`
}

type sourceBlock struct {
	Name     string `hcl:"name,label"`
	Format   string `hcl:"format"`
	Location string `hcl:"location"`
}

type sinkBlock struct {
	Name     string `hcl:"name,label"`
	Format   string `hcl:"format"`
	Location string `hcl:"location"`
}

type reportBlock struct {
	Path string `hcl:"path"`
	Cap  int    `hcl:"cap,optional"`
}

type summaryBlock struct {
	Path string `hcl:"path"`
}

// LoadProfile parses every .hcl file under path (a file or a directory) into
// one Profile and validates it.
func LoadProfile(path string) (*Profile, error) {
	parser := hclparse.NewParser()
	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("locating profile files under %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl profile files found under %s", path)
	}

	evalCtx := evalContext()
	var profile Profile
	for _, file := range files {
		hclF, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing profile file %s: %w", file, diags)
		}
		var part Profile
		if diags := gohcl.DecodeBody(hclF.Body, evalCtx, &part); diags.HasErrors() {
			return nil, fmt.Errorf("decoding profile file %s: %w", file, diags)
		}
		mergeProfile(&profile, &part)
	}

	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// evalContext exposes process environment variables to profile expressions,
// so locations can be written as "${env.DATA_DIR}/graph".
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func mergeProfile(dst, src *Profile) {
	if src.Graph != nil {
		dst.Graph = src.Graph
	}
	if src.Schema != nil {
		dst.Schema = src.Schema
	}
	if src.Validator != nil {
		dst.Validator = src.Validator
	}
	if src.Merge != nil {
		dst.Merge = src.Merge
	}
	if src.Report != nil {
		dst.Report = src.Report
	}
	if src.Summary != nil {
		dst.Summary = src.Summary
	}
	dst.Sources = append(dst.Sources, src.Sources...)
	dst.Sinks = append(dst.Sinks, src.Sinks...)
}

func (p *Profile) validate() error {
	if p.Schema == nil || len(p.Schema.Paths) == 0 {
		return fmt.Errorf("profile must declare a schema block with at least one path")
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("profile must declare at least one source block")
	}
	seen := make(map[string]struct{}, len(p.Sources))
	for _, s := range p.Sources {
		if s.Format == "" || s.Location == "" {
			return fmt.Errorf("source %q must set format and location", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	for _, s := range p.Sinks {
		if s.Format == "" || s.Location == "" {
			return fmt.Errorf("sink %q must set format and location", s.Name)
		}
	}
	if p.Graph != nil {
		switch p.Graph.Mode {
		case "", "memory", "streaming":
		default:
			return fmt.Errorf("graph mode must be 'memory' or 'streaming', got %q", p.Graph.Mode)
		}
		switch p.Graph.Dangling {
		case "", "drop", "abort":
		default:
			return fmt.Errorf("graph dangling policy must be 'drop' or 'abort', got %q", p.Graph.Dangling)
		}
	}
	return nil
}

// graphOptions maps the graph block to canonical model options.
func (p *Profile) graphOptions() kg.Options {
	opts := kg.Options{}
	if p.Graph == nil {
		return opts
	}
	if p.Graph.Mode == "streaming" {
		opts.Mode = kg.Streaming
	}
	opts.WorkingSet = p.Graph.WorkingSet
	opts.SpillDir = p.Graph.SpillDir
	return opts
}

func (p *Profile) danglingPolicy() kg.DanglingPolicy {
	if p.Graph != nil && p.Graph.Dangling == "abort" {
		return kg.AbortOnDangling
	}
	return kg.DropDangling
}

func (p *Profile) graphName() string {
	if p.Graph != nil && p.Graph.Name != "" {
		return p.Graph.Name
	}
	return "graph"
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runTestSchema = `
class "named thing" {
  root = true

  slot "name" {
    range = "string"
  }
}

class "gene" {
  extends = "named thing"
}

class "disease" {
  extends = "named thing"
}

predicate "related to" {
  root = true
}
`

func setupRun(t *testing.T, nodesTSV, edgesTSV string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.hcl"), []byte(runTestSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_nodes.tsv"), []byte(nodesTSV), 0o644))
	if edgesTSV != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a_edges.tsv"), []byte(edgesTSV), 0o644))
	}

	profile := fmt.Sprintf(`
graph {
  name = "run-test"
}

schema {
  paths = [%q]
}

validator {
  extensions = ["provided_by"]
}

source "graph-a" {
  format   = "tsv"
  location = %q
}

sink "out" {
  format   = "jsonl"
  location = %q
}

report {
  path = %q
}

summary {
  path = %q
}
`,
		filepath.Join(dir, "schema.hcl"),
		filepath.Join(dir, "a"),
		filepath.Join(dir, "out"),
		filepath.Join(dir, "report.json"),
		filepath.Join(dir, "summary.json"))

	profilePath := filepath.Join(dir, "profile.hcl")
	require.NoError(t, os.WriteFile(profilePath, []byte(profile), 0o644))
	return profilePath, dir
}

func TestAppRun_CleanRunWritesArtifacts(t *testing.T) {
	profilePath, dir := setupRun(t,
		"id\tcategory\tname\nHGNC:11603\tgene\tTBX4\nMONDO:0005002\tdisease\tPAH\n",
		"subject\tpredicate\tobject\nHGNC:11603\trelated to\tMONDO:0005002\n")

	cfg, err := NewConfig(Config{ProfilePath: profilePath, LogLevel: "error", LogFormat: "text"})
	require.NoError(t, err)

	meldApp := NewApp(io.Discard, cfg)
	require.NoError(t, meldApp.Run(context.Background(), cfg))

	nodes, err := os.ReadFile(filepath.Join(dir, "out_nodes.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(nodes), "HGNC:11603")

	var reportDoc struct {
		RunID  string         `json:"run_id"`
		Totals map[string]int `json:"totals"`
	}
	reportData, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reportData, &reportDoc))
	assert.NotEmpty(t, reportDoc.RunID)
	assert.Zero(t, reportDoc.Totals["fatal"])

	var summaryDoc struct {
		Name       string `json:"graph_name"`
		TotalNodes int    `json:"total_nodes"`
		TotalEdges int    `json:"total_edges"`
	}
	summaryData, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(summaryData, &summaryDoc))
	assert.Equal(t, "run-test", summaryDoc.Name)
	assert.Equal(t, 2, summaryDoc.TotalNodes)
	assert.Equal(t, 1, summaryDoc.TotalEdges)
}

func TestAppRun_FatalViolationsSurface(t *testing.T) {
	profilePath, dir := setupRun(t,
		"id\tcategory\nHGNC:11603\tgene\nX:1\tspaceship\n", "")

	cfg, err := NewConfig(Config{ProfilePath: profilePath, LogLevel: "error", LogFormat: "text"})
	require.NoError(t, err)

	meldApp := NewApp(io.Discard, cfg)
	err = meldApp.Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrFatalViolations)

	// The report is still written and records the excluded record.
	reportData, readErr := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, readErr)
	assert.Contains(t, string(reportData), "X:1")
}

func TestNewApp_BadProfilePanics(t *testing.T) {
	cfg, err := NewConfig(Config{ProfilePath: filepath.Join(t.TempDir(), "missing"), LogLevel: "error"})
	require.NoError(t, err)
	assert.Panics(t, func() { NewApp(io.Discard, cfg) })
}

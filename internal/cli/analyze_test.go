package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pwmEdges = `- {at: 0, edge: rising}
- {at: 250, edge: falling}
- {at: 1000, edge: rising}
- {at: 1250, edge: falling}
- {at: 2000, edge: rising}
`

func TestAnalyzeCommand_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "edges.yaml", pwmEdges)

	out, err := execute(t, nil, "analyze", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Edges:       5")
	assert.Contains(t, out, "Periods:     2")
	assert.Contains(t, out, "Frequency:   1000.000000 Hz")
	assert.Contains(t, out, "Duty cycle:  0.250000")
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "edges.yaml", pwmEdges)

	out, err := execute(t, nil, "analyze", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   AnalyzeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Data.Wave)
	assert.Equal(t, 2, resp.Data.Wave.FullPeriods)
	assert.InDelta(t, 1000, resp.Data.Wave.MeanFrequency, 1e-6)
	assert.InDelta(t, 0.25, resp.Data.Wave.MeanDutyCycle, 1e-9)
}

func TestAnalyzeCommand_TooFewEdges(t *testing.T) {
	path := writeFile(t, t.TempDir(), "edges.yaml", "- {at: 0, edge: rising}\n- {at: 5, edge: falling}\n")

	out, err := execute(t, nil, "analyze", path)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 edges contain no full period")
	assert.Contains(t, out, "no full period")
}

func TestAnalyzeCommand_BadInput(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "edges.yaml", "- {at: 0, edge: sideways}\n")

	_, err := execute(t, nil, "analyze", bad)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sideways")

	_, err = execute(t, nil, "analyze", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

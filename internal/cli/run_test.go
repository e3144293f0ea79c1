package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoScenario = `name: echo
description: UART echo
steps:
  - uart_transmit: {uart: UART1, data: "0102"}
  - uart_receive: {uart: UART1, timeout: 1ms, expect: "0102"}
`

const wrongScenario = `name: wrong
description: expects the wrong echo
steps:
  - uart_transmit: {uart: UART1, data: "0102"}
  - uart_receive: {uart: UART1, timeout: 1ms, expect: "ffff"}
`

func TestRunCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, echoEngine(10), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunCommand_PassAndFail(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", echoScenario)
	writeFile(t, dir, "wrong.yaml", wrongScenario)
	writeFile(t, dir, "notes.txt", "ignored")

	out, err := execute(t, echoEngine(10), "run", dir)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 scenario(s) failed")
	assert.Contains(t, out, "✓ echo\n")
	assert.Contains(t, out, "✗ wrong\n  step 2 (uart_receive): received 0102, expected ffff\n")
	assert.Contains(t, out, "Summary: 1 passed, 1 failed, 2 total")
}

func TestRunCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", echoScenario)
	writeFile(t, dir, "wrong.yaml", wrongScenario)

	out, err := execute(t, echoEngine(10), "run", dir, "--filter", "ec*")

	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "wrong")
}

func TestRunCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "wrong.yaml", wrongScenario)

	out, err := execute(t, echoEngine(10), "run", file, "--format", "json")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "wrong", resp.Data.Scenarios[0].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[0].RunID)
}

func TestRunCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", echoScenario)
	goldenPath := filepath.Join(dir, "golden", "echo.golden")

	_, err := execute(t, echoEngine(10), "run", dir, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"run_id":""`)
	assert.Contains(t, string(golden), `"at":10`)

	_, err = execute(t, echoEngine(10), "run", dir)
	require.NoError(t, err, "same firmware must reproduce the golden trace")

	out, err := execute(t, echoEngine(25), "run", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match")
	assert.Contains(t, out, "--update")
}

func TestRunCommand_LoadErrorsFailScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\nsteps: []\n")

	out, err := execute(t, echoEngine(10), "run", dir)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestRunCommand_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", echoScenario)
	junk := writeFile(t, dir, "junk.wasm", "not a module")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing scenarios", []string{"run", filepath.Join(dir, "nope")}, "failed to find scenarios"},
		{"no engine", []string{"run", dir}, "no engine module configured"},
		{"missing engine file", []string{"run", dir, "--engine", filepath.Join(dir, "nope.wasm")}, "failed to read engine module"},
		{"invalid engine module", []string{"run", dir, "--engine", junk}, "failed to load engine module"},
		{"missing config", []string{"run", dir, "--config", filepath.Join(dir, "nope.cue")}, "failed to load bench configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, nil, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadBench(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bench.cue", `engine: "fw.wasm"
receive_timeout: "5ms"
`)

	b, err := LoadBench(BenchFlags{Config: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fw.wasm"), b.Engine)

	b, err = LoadBench(BenchFlags{Config: path, Engine: "other.wasm"})
	require.NoError(t, err)
	assert.Equal(t, "other.wasm", b.Engine)

	b, err = LoadBench(BenchFlags{})
	require.NoError(t, err)
	assert.Empty(t, b.Engine)
}

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: ivan_ages
description: A later put replaces the current version.
flow:
  - tx:
      - put: {id: ivan, doc: {age: 30}}
    expect: {outcome: committed}
  - tx:
      - put: {id: ivan, doc: {age: 31}}
assertions:
  - {type: entity, id: ivan, expect: {age: 31}}
  - {type: log_count, count: 2}
`

const failingScenario = `name: wrong_age
description: The assertion expects the wrong age.
flow:
  - tx:
      - put: {id: ivan, doc: {age: 30}}
assertions:
  - {type: entity, id: ivan, expect: {age: 99}}
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScenarioCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestScenarioCommandNonExistentPath(t *testing.T) {
	_, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestScenarioCommandEmptyDir(t *testing.T) {
	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestScenarioCommandEmptyDirJSON(t *testing.T) {
	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "json")), t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestScenarioCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "ivan_ages.yaml", passingScenario)

	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ ivan_ages")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "ivan_ages.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"ivan_ages"`)

	out, _, err = execute(t, NewScenarioCommand(testOptions(t, "text")), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Scenario Summary: 1 passed, 0 failed, 1 total")

	// A stale golden file fails the run.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "ivan_ages.golden"), []byte("{}"), 0644))
	out, _, err = execute(t, NewScenarioCommand(testOptions(t, "text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenarioCommandFailures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "ivan_ages.yaml", passingScenario)
	writeScenario(t, dir, "wrong_age.yaml", failingScenario)
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string            `json:"status"`
		Data   ScenarioRunResult `json:"data"`
		Error  *CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Failed)

	byName := map[string]ScenarioResult{}
	for _, s := range resp.Data.Scenarios {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "broken.yaml")
	assert.Contains(t, byName["broken.yaml"].Errors[0], "failed to load scenario")
	require.Contains(t, byName, "wrong_age")
	assert.Contains(t, byName["wrong_age"].Errors[0], "Assertion failed: entity")
}

func TestScenarioCommandSingleFileAndGoldenDir(t *testing.T) {
	dir := t.TempDir()
	goldenDir := filepath.Join(t.TempDir(), "fixtures")
	file := writeScenario(t, dir, "ivan_ages.yaml", passingScenario)

	_, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), file, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(goldenDir, "ivan_ages.golden"))
	assert.NoError(t, err)
}

func TestScenarioCommandHarnessFixtures(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")
	goldenDir := filepath.Join("..", "harness", "testdata", "golden")

	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), dir, "--golden-dir", goldenDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenarioHelpText(t *testing.T) {
	out, _, err := execute(t, NewScenarioCommand(testOptions(t, "text")), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "conformance")
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "--golden-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "evict-one.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "evict-all.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "match-stale.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "evict-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.Regexp(t, `evict-[a-z]+\.yaml$`, f)
	}

	_, err = findScenarioFiles(tmpDir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input     string
		goldenDir string
		expected  string
	}{
		{"/path/to/scenario.yaml", "", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "", "scenarios/golden/test.golden"},
		{"scenarios/test.yaml", "testdata/golden", "testdata/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input, tc.goldenDir))
	}
}

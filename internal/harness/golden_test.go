package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario in testdata/scenarios and compares its
// trace against testdata/golden.
func TestScenarios(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "linear_probe.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	AssertGolden(t, scenario.Name, result)
}

func TestRender(t *testing.T) {
	result := NewResult()
	result.BatchID = "b"
	result.AddTrace(TraceEvent{Op: OpResolve, File: "a.prt", Identity: "a", PartNumber: "000000000001", Revision: 1, IsNew: true})

	assert.Equal(t,
		"scenario: s\nbatch: b\n[1] resolve a.prt -> 000000000001 identity=\"a\" rev=1 new\n",
		result.Render("s"),
	)
}

package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PassingSuite(t *testing.T) {
	stdout, _, err := execute(t, "run", "testdata/suites/sale.yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "suite sale")
	assert.Contains(t, stdout, "✓ deposit")
	assert.Contains(t, stdout, "✓ untouched")
	assert.Contains(t, stdout, "Summary: 2 passed, 0 failed, 0 skipped")
	assert.Contains(t, stdout, "✓ All tests passed")
}

func TestRun_DirectoryWithFailure(t *testing.T) {
	stdout, _, err := execute(t, "run", "testdata/suites")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "suite regression")
	assert.Contains(t, stdout, "✗ wrong balance")
	assert.Contains(t, stdout, "balance of @treasury: expected 7000000000000000000, got 5000000000000000000")
	assert.Contains(t, stdout, "Summary: 2 passed, 1 failed, 0 skipped")
	assert.NotContains(t, stdout, "All tests passed")
}

func TestRun_Filter(t *testing.T) {
	stdout, _, err := execute(t, "run", "testdata/suites", "--filter", "sa*")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "regression")
}

func TestRun_JSON(t *testing.T) {
	stdout, _, err := execute(t, "run", "--format", "json", "testdata/suites/sale.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Passed)
	require.Len(t, resp.Data.Suites, 1)
	assert.Equal(t, "sale", resp.Data.Suites[0].Suite)
	require.Len(t, resp.Data.Suites[0].Results[0].Trace, 1)
	assert.Equal(t, "transfer", resp.Data.Suites[0].Results[0].Trace[0].Op)
}

func TestRun_VerbosePrintsTrace(t *testing.T) {
	stdout, _, err := execute(t, "run", "-v", "testdata/suites/sale.yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "#1 transfer $multisig -> @treasury 1000000000000000000: ok")
}

func TestRun_AbortedSuite(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "testdata/invalid/unresolved.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "- a (skipped)")
	assert.Contains(t, stdout, "- b (skipped)")
	assert.Contains(t, stdout, `aborted: `)
	assert.Contains(t, stdout, `unresolved contract name "Vault"`)
	assert.Contains(t, stderr, "suite aborted")
}

func TestRun_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing path", []string{"run", "testdata/nope.yaml"}},
		{"invalid file", []string{"run", "testdata/invalid/typo.yaml"}},
		{"empty directory", []string{"run", t.TempDir()}},
		{"rpc without url", []string{"run", "--backend", "rpc", "testdata/suites/sale.yaml"}},
		{"bad filter", []string{"run", "testdata/suites", "--filter", "["}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestFindSuiteFiles(t *testing.T) {
	files, err := findSuiteFiles([]string{"testdata/suites"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "suites", "regression.yml"),
		filepath.Join("testdata", "suites", "sale.yaml"),
	}, files)

	files, err = findSuiteFiles([]string{"testdata/invalid/typo.yaml"}, "nomatch")
	require.NoError(t, err)
	assert.Len(t, files, 1, "explicit files are not filtered")
}

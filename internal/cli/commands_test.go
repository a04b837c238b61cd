package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliRun is the outcome of one Execute call.
type cliRun struct {
	stdout string
	stderr string
	code   int
}

// runCLI executes the CLI against the store at storePath.
func runCLI(t *testing.T, storePath string, args ...string) cliRun {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--store", storePath}, args...)
	code := Execute(full, &out, &errOut)
	return cliRun{stdout: out.String(), stderr: errOut.String(), code: code}
}

// decodeData unmarshals the data field of a JSON CLI response into v.
func decodeData(t *testing.T, stdout string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, stdout)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func testStorePath(t *testing.T) string {
	t.Helper()
	for _, env := range []string{"PARTNUM_STORE", "PARTNUM_BACKEND", "PARTNUM_STORE_TIMEOUT"} {
		t.Setenv(env, "")
	}
	return filepath.Join(t.TempDir(), "partnum.db")
}

func TestResolveAndStatus(t *testing.T) {
	db := testStorePath(t)

	run := runCLI(t, db, "--format", "json", "resolve", "bracket.sldprt", "housing.sldasm")
	require.Equal(t, ExitSuccess, run.code, run.stdout)

	var batch BatchOutput
	decodeData(t, run.stdout, &batch)
	require.Len(t, batch.Results, 2)
	assert.NotEmpty(t, batch.BatchID)
	assert.Equal(t, "703958945001", batch.Results[0].FullPartNumber)
	assert.True(t, batch.Results[0].IsNew)
	assert.Equal(t, "575995594001", batch.Results[1].FullPartNumber)
	assert.Equal(t, 2, batch.Summary.New)

	run = runCLI(t, db, "status", "bracket.sldprt", "703958945001.sldprt", "gear.sldprt", "999999999001.sldprt")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "FILE")
	assert.Regexp(t, `bracket\.sldprt\s+703958945001\s+mapped`, run.stdout)
	assert.Regexp(t, `703958945001\.sldprt\s+703958945001\s+renamed from bracket\.sldprt`, run.stdout)
	assert.Regexp(t, `gear\.sldprt\s+-\s+unassigned`, run.stdout)
	assert.Regexp(t, `999999999001\.sldprt\s+-\s+warning:`, run.stdout)
	assert.Contains(t, run.stdout, "4 file(s): 2 new, 2 already mapped, 1 warning(s)")

	// Status assigned nothing.
	run = runCLI(t, db, "--format", "json", "list")
	require.Equal(t, ExitSuccess, run.code)
	var recs []RecordOutput
	decodeData(t, run.stdout, &recs)
	assert.Len(t, recs, 2)
}

func TestReviseAndLookup(t *testing.T) {
	db := testStorePath(t)
	require.Equal(t, ExitSuccess, runCLI(t, db, "resolve", "bracket.sldprt").code)

	run := runCLI(t, db, "revise", "bracket.sldprt")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "703958945002 (revision 2)")

	run = runCLI(t, db, "revise", "703958945002.sldprt", "--revision", "5")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "703958945005")

	run = runCLI(t, db, "--format", "json", "revise", "--identity", "bracket", "--revision", "999")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	var rec RecordOutput
	decodeData(t, run.stdout, &rec)
	assert.Equal(t, "703958945999", rec.FullPartNumber)
	assert.Equal(t, 999, rec.CurrentRevision)

	run = runCLI(t, db, "revise", "bracket.sldprt")
	assert.Equal(t, ExitFailure, run.code)
	assert.Contains(t, run.stdout, "REVISION_OVERFLOW")

	run = runCLI(t, db, "revise", "gear.sldprt")
	assert.Equal(t, ExitFailure, run.code)
	assert.Contains(t, run.stdout, "UNKNOWN_IDENTITY")

	run = runCLI(t, db, "revise", "bracket.sldprt", "--revision", "1000")
	assert.Equal(t, ExitCommandError, run.code)

	run = runCLI(t, db, "lookup", "703958945002")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "identity:  bracket")
	assert.Contains(t, run.stdout, "revisions: 001, 002, 005, 999")
	assert.Contains(t, run.stdout, "file:      bracket.sldprt")

	run = runCLI(t, db, "lookup", "703958945003")
	assert.Equal(t, ExitFailure, run.code)
	assert.Contains(t, run.stdout, "ORPHANED_PART_NUMBER")
}

func TestAdopt(t *testing.T) {
	db := testStorePath(t)

	run := runCLI(t, db, "adopt", "bolt.sldprt", "123456789003")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "123456789003\tnew")

	run = runCLI(t, db, "--format", "json", "adopt", "washer.sldprt", "123456789001")
	assert.Equal(t, ExitFailure, run.code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BASE_CONFLICT", resp.Error.Code)

	run = runCLI(t, db, "adopt", "bolt.sldprt", "123456789004")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "123456789004\tmapped")

	run = runCLI(t, db, "adopt", "bolt.sldprt", "12345")
	assert.Equal(t, ExitFailure, run.code)
	assert.Contains(t, run.stdout, "MALFORMED_PART_NUMBER")
}

func TestExport(t *testing.T) {
	db := testStorePath(t)
	require.Equal(t, ExitSuccess, runCLI(t, db, "resolve", "bracket.sldprt", "housing.sldasm", "parts/bracket.sldprt").code)

	run := runCLI(t, db, "export")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Equal(t, strings.Join([]string{
		"File Path,Base Part Number,Revision,Vendor Part Number",
		"bracket.sldprt,703958945,1,703958945001",
		"parts/bracket.sldprt,703958945,1,703958945001",
		"housing.sldasm,575995594,1,575995594001",
		"",
	}, "\n"), run.stdout)

	out := filepath.Join(t.TempDir(), "parts.csv")
	run = runCLI(t, db, "export", "--parts", "-o", out)
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ITEM NO.,PART NUMBER,QTY\n1,575995594001,\n2,703958945001,\n", string(data))

	run = runCLI(t, db, "export", "--parts", "housing.sldasm", "gear.sldprt")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Equal(t, "ITEM NO.,PART NUMBER,QTY\n1,575995594001,\n", run.stdout)

	run = runCLI(t, db, "export", "housing.sldasm")
	assert.Equal(t, ExitCommandError, run.code)
}

func TestImportLegacy(t *testing.T) {
	db := testStorePath(t)
	legacyFile := filepath.Join(t.TempDir(), "vendor_part_mappings.json")
	require.NoError(t, os.WriteFile(legacyFile, []byte(`{
  "/vault/gear.sldprt": {"base": "555555555", "revision": 2},
  "/vault/gear.step": "555555555003",
  "/vault/spacer.sldprt": {"base": "555555555"},
  "/vault/bad.sldprt": "12"
}`), 0644))

	run := runCLI(t, db, "--format", "json", "import-legacy", legacyFile)
	assert.Equal(t, ExitFailure, run.code, run.stdout)

	var out ImportOutput
	decodeData(t, run.stdout, &out)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 2, out.Entries)
	assert.Equal(t, []string{"spacer"}, out.Conflicts)
	assert.Len(t, out.Problems, 2)

	run = runCLI(t, db, "lookup", "555555555003")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "identity:  gear")
	assert.Contains(t, run.stdout, "revisions: 002, 003")

	run = runCLI(t, db, "import-legacy", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ExitCommandError, run.code)
}

func TestVerify(t *testing.T) {
	db := testStorePath(t)
	require.Equal(t, ExitSuccess, runCLI(t, db, "resolve", "bracket.sldprt").code)

	run := runCLI(t, db, "verify")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "store is consistent")
}

func TestMetricsTextfile(t *testing.T) {
	db := testStorePath(t)
	metrics := filepath.Join(t.TempDir(), "partnum.prom")

	run := runCLI(t, db, "--metrics-textfile", metrics, "resolve", "bracket.sldprt", "housing.sldasm", "bracket.step")
	require.Equal(t, ExitSuccess, run.code, run.stdout)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `partnum_assignments_total{outcome="new"} 2`)
	assert.Contains(t, string(data), `partnum_assignments_total{outcome="existing"} 1`)
	assert.Contains(t, string(data), "partnum_store_flush_duration_seconds_count 2", "normalizer bind and one batch")
}

func TestJSONFileBackend(t *testing.T) {
	testStorePath(t)
	path := filepath.Join(t.TempDir(), "mapping.json")

	run := runCLI(t, path, "--backend", "jsonfile", "resolve", "bracket.sldprt")
	require.Equal(t, ExitSuccess, run.code, run.stdout)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"703958945"`)

	run = runCLI(t, path, "--backend", "jsonfile", "status", "bracket.sldprt")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	assert.Contains(t, run.stdout, "mapped")
}

func TestConfigFile(t *testing.T) {
	db := testStorePath(t)
	cfg := filepath.Join(t.TempDir(), "partnum.cue")
	require.NoError(t, os.WriteFile(cfg, []byte("normalize: stripVersionSuffix: true\n"), 0644))

	run := runCLI(t, db, "--config", cfg, "--format", "json", "resolve", "Frame_v2.sldprt", "frame.step")
	require.Equal(t, ExitSuccess, run.code, run.stdout)
	var batch BatchOutput
	decodeData(t, run.stdout, &batch)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, batch.Results[0].FullPartNumber, batch.Results[1].FullPartNumber)

	// The store is frozen to the rules it was created with.
	run = runCLI(t, db, "list")
	assert.Equal(t, ExitCommandError, run.code)
	assert.Contains(t, run.stdout, "NORMALIZER_MISMATCH")

	run = runCLI(t, db, "--config", filepath.Join(t.TempDir(), "missing.cue"), "list")
	assert.Equal(t, ExitCommandError, run.code)
	assert.Contains(t, run.stdout, ErrCodeConfig)
}

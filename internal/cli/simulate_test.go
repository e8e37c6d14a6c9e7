package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const scenarioYAML = `name: three sellers, crossing mid curve
window: 1000
sellers:
  - name: s1
    reserve: 3
    quantity: 10
  - name: s2
    reserve: 5
    quantity: 10
  - name: s3
    reserve: 7
    quantity: 10
buyers:
  - name: b1
    price: 10
    quantity: 12
  - name: b2
    price: 6
    quantity: 10
  - name: b3
    price: 4
    quantity: 5
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYAML), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSimulateText(t *testing.T) {
	out, err := execute(t, "simulate", writeScenario(t))
	require.NoError(t, err)
	require.Contains(t, out, "window 1000 cleared at 6 for 20 units")
	require.Contains(t, out, "seller s1")
	require.Contains(t, out, "buyer  b1")
}

func TestSimulateJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "simulate", writeScenario(t))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(6), data["clearing_price"])
	require.Equal(t, float64(20), data["cleared_quantity"])
	require.Equal(t, float64(120), data["total_revenue"])
}

func TestSimulatePersistsForInspect(t *testing.T) {
	db := filepath.Join(t.TempDir(), "market.db")

	_, err := execute(t, "simulate", "--db", db, writeScenario(t))
	require.NoError(t, err)

	out, err := execute(t, "inspect", "--db", db, "1000")
	require.NoError(t, err)
	require.Contains(t, out, "window 1000: settled")
	require.Contains(t, out, "price=6")
}

func TestSimulateMissingScenario(t *testing.T) {
	_, err := execute(t, "simulate", "/does/not/exist.yaml")
	require.Error(t, err)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectUnknownWindow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	_, err := execute(t, "simulate", "--db", db, writeScenario(t))
	require.NoError(t, err)

	_, err = execute(t, "inspect", "--db", db, "9999")
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "--format", "xml", "params", "defaults")
	require.Error(t, err)
}

func TestParamsValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(
		"version: 1\nauthority: protocol\nfee_bps: 250\nslashing_penalty_bps: 1000\n"+
			"compensation_bps: 0\nmax_batch_size: 32\nmax_sellers_per_timeslot: 256\n"+
			"delivery_window: 24h\nauto_appeal_window: 72h\nmanual_appeal_window: 168h\n"+
			"shortfall_threshold_bps: 1000\npaused: false\n"), 0o644))
	out, err := execute(t, "params", "validate", good)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(
		"version: 1\nauthority: protocol\nfee_bps: 20000\nslashing_penalty_bps: 1000\n"+
			"compensation_bps: 0\nmax_batch_size: 32\nmax_sellers_per_timeslot: 256\n"+
			"delivery_window: 24h\nauto_appeal_window: 72h\nmanual_appeal_window: 168h\n"+
			"shortfall_threshold_bps: 1000\npaused: false\n"), 0o644))
	_, err = execute(t, "params", "validate", bad)
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
}

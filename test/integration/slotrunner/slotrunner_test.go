package slotrunner_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intslotrunner "github.com/slok/slotrunner/test/integration/slotrunner"
)

const accountsYAML = `accounts:
  - username: john@example.com
    password: secret
    consulate: tirana
    form:
      visa_type: business
      first_name: John
      last_name: Doe
      date_of_birth: "1990-01-01"
      passport_number: X1234567
      nationality: ES
  - username: jane@example.com
    password: secret
    consulate: tirana
    form:
      visa_type: tourism
      first_name: Jane
      last_name: Doe
      date_of_birth: "1991-02-02"
      passport_number: X7654321
      nationality: ES
`

const proxiesTXT = `proxy1.local:8080:user:pass
proxy2.local:9000:token:wifi;fr
`

// runOutput matches the JSON output of `slotrunner run --format json`.
type runOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Stats  struct {
		Total   int `json:"total"`
		Success int `json:"success"`
		Pending int `json:"pending"`
	} `json:"stats"`
	Outcomes []struct {
		Username string `json:"username"`
		Kind     string `json:"kind"`
	} `json:"outcomes"`
}

func TestIntegrationRunFakeEngine(t *testing.T) {
	config := intslotrunner.NewConfig(t)
	require := require.New(t)
	assert := assert.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dir := t.TempDir()
	accounts := intslotrunner.WriteFile(t, dir, "accounts.yaml", accountsYAML)

	// Run.
	stdout, stderr, err := intslotrunner.RunFake(ctx, config, dir, accounts, "")
	require.NoError(err, "stderr: %s", stderr)

	var run runOutput
	require.NoError(json.Unmarshal(stdout, &run))
	assert.Equal("finished", run.Status)
	assert.Equal(2, run.Stats.Total)
	assert.Equal(2, run.Stats.Success)
	assert.Equal(0, run.Stats.Pending)
	assert.Len(run.Outcomes, 2)

	// The run is in the history.
	stdout, stderr, err = intslotrunner.RunCmd(ctx, config, dir, "history show latest --format json")
	require.NoError(err, "stderr: %s", stderr)

	var shown runOutput
	require.NoError(json.Unmarshal(stdout, &shown))
	assert.Equal(run.ID, shown.ID)
	assert.Len(shown.Outcomes, 2)

	stdout, stderr, err = intslotrunner.RunCmd(ctx, config, dir, "history list --format json")
	require.NoError(err, "stderr: %s", stderr)

	var runs []runOutput
	require.NoError(json.Unmarshal(stdout, &runs))
	require.Len(runs, 1)
	assert.Equal(run.ID, runs[0].ID)
}

func TestIntegrationRunProgressKeepsJSONOutput(t *testing.T) {
	config := intslotrunner.NewConfig(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dir := t.TempDir()
	accounts := intslotrunner.WriteFile(t, dir, "accounts.yaml", accountsYAML)

	stdout, stderr, err := intslotrunner.RunFake(ctx, config, dir, accounts, "--progress")
	require.NoError(err, "stderr: %s", stderr)

	var run runOutput
	require.NoError(json.Unmarshal(stdout, &run), "stdout: %s", stdout)
	assert.Equal(t, 2, run.Stats.Success)
	assert.Contains(t, string(stderr), "Done (2 booked)")
}

func TestIntegrationRunInvalidAccounts(t *testing.T) {
	config := intslotrunner.NewConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir := t.TempDir()
	accounts := intslotrunner.WriteFile(t, dir, "accounts.yaml", "accounts: []\n")

	_, _, err := intslotrunner.RunFake(ctx, config, dir, accounts, "")
	assert.Error(t, err)
}

func TestIntegrationDoctorAndProxies(t *testing.T) {
	config := intslotrunner.NewConfig(t)
	require := require.New(t)
	assert := assert.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir := t.TempDir()
	accounts := intslotrunner.WriteFile(t, dir, "accounts.yaml", accountsYAML)
	proxies := intslotrunner.WriteFile(t, dir, "proxies.txt", proxiesTXT)

	stdout, stderr, err := intslotrunner.RunCmd(ctx, config, dir, "doctor --engine fake --format json --accounts "+accounts+" --proxies "+proxies)
	require.NoError(err, "stderr: %s", stderr)

	var checks []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(json.Unmarshal(stdout, &checks))
	statuses := map[string]string{}
	for _, c := range checks {
		statuses[c.ID] = c.Status
	}
	assert.Equal("ok", statuses["accounts_file"])
	assert.Equal("ok", statuses["proxies_file"])
	assert.Equal("ok", statuses["browser_engine"])

	stdout, stderr, err = intslotrunner.RunCmd(ctx, config, dir, "proxies --format json --proxies "+proxies)
	require.NoError(err, "stderr: %s", stderr)

	var listed []struct {
		Address string `json:"address"`
		Layout  string `json:"layout"`
		Region  string `json:"region"`
	}
	require.NoError(json.Unmarshal(stdout, &listed))
	require.Len(listed, 2)
	assert.Equal("proxy1.local:8080", listed[0].Address)
	assert.Equal("soax", listed[1].Layout)
}

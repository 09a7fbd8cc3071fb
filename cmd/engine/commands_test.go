package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"jobwatch-engine/internal/config"
	"jobwatch-engine/internal/secrets"
	"jobwatch-engine/internal/syncer"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"DATA_DIR", "SEEN_BACKEND", "STATE_IDS", "LOG_LEVEL", "PG_DSN"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	cfg := config.Defaults()
	cfg.App.DataDir = dataDir
	cfg.Logging.Level = "error"
	path = filepath.Join(dataDir, "config.yml")
	require.NoError(t, config.SaveAtomic(path, cfg))
	return path, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeenStatusBeforeFirstSync(t *testing.T) {
	isolateEnv(t)
	cfgPath, dataDir := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "seen", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: file")
	assert.Contains(t, out, "status:  absent")
	assert.Contains(t, out, "seed mode")
	assert.FileExists(t, filepath.Join(dataDir, dbFile))
}

func TestSeenStatusReadsExistingFile(t *testing.T) {
	isolateEnv(t)
	cfgPath, dataDir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "seen_job_ids.json"), []byte(`["a","b"]`), 0o644))

	out, err := execute(t, "--config", cfgPath, "seen", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  populated")
	assert.Contains(t, out, "ids:     2")
	assert.NotContains(t, out, "seed mode")
}

func TestSyncFailsWithoutSessionState(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login flow")
}

func TestSecretsSetWebhook(t *testing.T) {
	keyring.MockInit()

	out, err := execute(t, "secrets", "set-webhook", "--channel", "testing", "https://discord.example/api/webhooks/9/x")
	require.NoError(t, err)
	assert.Contains(t, out, "stored testing webhook")

	got, err := secrets.GetWebhookURL(secrets.ChannelTesting)
	require.NoError(t, err)
	assert.Equal(t, "https://discord.example/api/webhooks/9/x", got)

	_, err = execute(t, "secrets", "set-webhook", "--channel", "nope", "https://discord.example/x")
	assert.ErrorIs(t, err, secrets.ErrUnknownChannel)
}

func TestPrintSyncSummary(t *testing.T) {
	var buf bytes.Buffer
	printSyncSummary(&buf, syncer.Result{Cutoff: "2025-08-12", Notified: 3})
	assert.Equal(t, "[SINCE] 2025-08-12 | New jobs posted: 3\n", buf.String())

	buf.Reset()
	printSyncSummary(&buf, syncer.Result{Cutoff: "2025-08-12", SeedMode: true, Seeded: 40})
	assert.Contains(t, buf.String(), "recorded 40 existing listings")
}

func TestDataPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.App.DataDir = "/var/lib/jobwatch"

	assert.Equal(t, filepath.Join("/var/lib/jobwatch", "state.json"), dataPath(cfg, "state.json"))
	assert.Equal(t, "/etc/state.json", dataPath(cfg, "/etc/state.json"))
	assert.Empty(t, dataPath(cfg, ""))
}

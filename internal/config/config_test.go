package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dpdce.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesSection(t *testing.T) {
	path := writeConfig(t, `
[dpdce]
control_port = 9999
dpd_port = 50055
rc_port = 9400
samplerate = 8192000
samps = 81920
coef_file = /tmp/coef.txt
logs_directory = /tmp/logs
plot_directory = /tmp/plots
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.ControlPort)
	assert.Equal(t, "/tmp/coef.txt", cfg.CoefFile)
	assert.Equal(t, 81920, cfg.Samps)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestLoadRejectsMissingCoefFile(t *testing.T) {
	path := writeConfig(t, "[dpdce]\ncontrol_port = 9999\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingSection(t *testing.T) {
	path := writeConfig(t, "[other]\nfoo = bar\n")
	_, err := Load(path)
	assert.Error(t, err)
}

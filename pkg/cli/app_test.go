package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMain(m *testing.M) {
	initLogging(false)
	os.Exit(m.Run())
}

func TestNewApp(t *testing.T) {
	app := newApp()
	require.NotNil(t, app)
	assert.Equal(t, "rescore", app.Name)
	assert.Len(t, app.Commands, 2)
}

func TestApp_HistoryEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	app := newApp()
	err := app.Run([]string{"rescore", "--db", dbPath, "history"})
	require.NoError(t, err)

	_, statErr := os.Stat(dbPath)
	assert.NoError(t, statErr, "history run should create the db file")
}

func TestApp_HistoryWithNoStore(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"rescore", "--no-store", "history"})
	assert.Error(t, err)
}

func TestApp_SolveWithInvalidProxy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	app := newApp()
	err := app.Run([]string{"rescore", "--db", dbPath, "solve", "--proxy", "not a proxy", "https://example.com/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy")
}

func TestApp_FormatSwitch(t *testing.T) {
	t.Cleanup(func() { outputFormat = formatJSON })

	dbPath := filepath.Join(t.TempDir(), "test.db")
	app := newApp()
	err := app.Run([]string{"rescore", "--db", dbPath, "--format", "yaml", "history"})
	require.NoError(t, err)
	assert.Equal(t, formatYAML, outputFormat)
}

func TestEncode_YAML(t *testing.T) {
	t.Cleanup(func() { outputFormat = formatJSON })
	outputFormat = formatYAML

	// encode writes to stdout; just verify the value marshals cleanly
	var buf bytes.Buffer
	require.NoError(t, yaml.NewEncoder(&buf).Encode(map[string]string{"token": "abc"}))
	assert.Contains(t, buf.String(), "token: abc")
}

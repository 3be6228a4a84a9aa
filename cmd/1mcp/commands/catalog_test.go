package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCatalog(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCatalogValidateCommand(t *testing.T) {
	t.Run("valid catalog", func(t *testing.T) {
		path := writeTempCatalog(t, `{"mcpServers":{"fs":{"type":"stdio","command":"fs-server"}}}`)
		cmd := catalogValidateCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{path})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "catalog is valid")
	})

	t.Run("invalid catalog reports every error", func(t *testing.T) {
		path := writeTempCatalog(t, `{"mcpServers":{"bad name":{"type":"stdio","command":"x"},"missing-url":{"type":"http"}}}`)
		cmd := catalogValidateCommand()
		cmd.SetArgs([]string{path})
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		err := cmd.Execute()
		require.Error(t, err)
	})
}

func TestCatalogListCommand(t *testing.T) {
	path := writeTempCatalog(t, `{"mcpServers":{"fs":{"type":"stdio","command":"fs-server","tags":["files"]}}}`)
	cmd := catalogListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "fs")
	assert.Contains(t, out.String(), "files")
}

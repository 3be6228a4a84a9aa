package catalog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	doc := []byte(`{
		"mcpServers": {
			"echo": {"type": "stdio", "command": "echo", "args": ["hi"], "tags": ["demo"]},
			"web": {"type": "http", "url": "https://example.com/mcp"}
		}
	}`)
	snap, err := Parse(doc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "web"}, snap.Names)
	assert.Len(t, snap.Enabled(), 2)
}

func TestParseEnvExpansion(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "stdio", "command": "${BIN}", "env": {"K": "${V}"}}}}`)
	env := []string{"BIN=/usr/bin/foo", "V=bar"}
	snap, err := Parse(doc, env)
	require.NoError(t, err)
	e := snap.Entries["s"]
	assert.Equal(t, "/usr/bin/foo", e.Command)
	assert.Equal(t, "bar", e.Env["K"])
}

func TestParseMissingEnvVarYieldsEmpty(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "stdio", "command": "x", "cwd": "${UNSET}"}}}`)
	snap, err := Parse(doc, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Entries["s"].Cwd)
}

func TestParseShellStyleCommandSplit(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "stdio", "command": "node server.js --flag"}}}`)
	snap, err := Parse(doc, nil)
	require.NoError(t, err)
	e := snap.Entries["s"]
	assert.Equal(t, "node", e.Command)
	assert.Equal(t, []string{"server.js", "--flag"}, e.Args)
}

func TestParseRejectsUnknownType(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "bogus"}}}`)
	_, err := Parse(doc, nil)
	assert.Error(t, err)
}

func TestParseRejectsInvalidName(t *testing.T) {
	doc := []byte(`{"mcpServers": {"has a space": {"type": "stdio", "command": "x"}}}`)
	_, err := Parse(doc, nil)
	assert.Error(t, err)
}

func TestParseRejectsMissingRequiredField(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "http"}}}`)
	_, err := Parse(doc, nil)
	assert.Error(t, err)
}

func TestParseRejectsInvalidTag(t *testing.T) {
	doc := []byte(`{"mcpServers": {"s": {"type": "stdio", "command": "x", "tags": ["this-tag-is-way-too-long-to-be-valid-ok"]}}}`)
	_, err := Parse(doc, nil)
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	doc := []byte(`{"mcpServers": {"a": {"type": "bogus"}, "b": {"type": "http"}}}`)
	tmp := t.TempDir() + "/mcp.json"
	require.NoError(t, os.WriteFile(tmp, doc, 0o644))
	errs := Validate(tmp, nil)
	assert.Len(t, errs, 2)
}

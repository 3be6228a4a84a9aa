package filter

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuerySimpleTags(t *testing.T) {
	c, err := ParseQuery(url.Values{"tags": {"a,b"}})
	require.NoError(t, err)
	assert.Equal(t, ModeSimple, c.Mode)
	assert.True(t, c.Admits([]string{"b", "z"}))
	assert.False(t, c.Admits([]string{"z"}))
}

func TestParseQueryExpr(t *testing.T) {
	c, err := ParseQuery(url.Values{"tag-filter": {"a+!b"}})
	require.NoError(t, err)
	assert.True(t, c.Admits([]string{"a"}))
	assert.False(t, c.Admits([]string{"a", "b"}))
}

func TestParseQueryMutuallyExclusive(t *testing.T) {
	_, err := ParseQuery(url.Values{"tags": {"a"}, "tag-filter": {"a"}})
	assert.Error(t, err)
}

func TestParseQueryNone(t *testing.T) {
	c, err := ParseQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, ModeNone, c.Mode)
	assert.True(t, c.Admits(nil))
}

func TestIntersectGrantNarrowsSimple(t *testing.T) {
	c := Context{Mode: ModeSimple, Tags: []string{"a", "b", "c"}}
	narrowed := c.IntersectGrant([]string{"b"})
	assert.Equal(t, []string{"b"}, narrowed.Tags)
}

func TestRequestedTagsWithinGrant(t *testing.T) {
	c := Context{Mode: ModeSimple, Tags: []string{"a", "b"}}
	assert.True(t, c.RequestedTagsWithinGrant([]string{"a", "b", "c"}))
	assert.False(t, c.RequestedTagsWithinGrant([]string{"a"}))
}

func TestValidateTagsRejectsDuplicateAndInvalid(t *testing.T) {
	assert.Error(t, ValidateTags([]string{"a", "a"}))
	assert.Error(t, ValidateTags([]string{"this tag has spaces"}))
	assert.NoError(t, ValidateTags([]string{"a", "b-c"}))
}

func TestPresetDocEval(t *testing.T) {
	doc := &PresetDoc{And: []*PresetDoc{{Tag: "a"}, {Not: &PresetDoc{Tag: "b"}}}}
	assert.True(t, doc.Eval([]string{"a"}))
	assert.False(t, doc.Eval([]string{"a", "b"}))
}

func TestPresetStoreLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"readonly": {"tag": "read"}}`), 0o644))

	store, err := NewPresetStore(path)
	require.NoError(t, err)

	c, err := store.Get("readonly")
	require.NoError(t, err)
	assert.True(t, c.Admits([]string{"read"}))
	assert.False(t, c.Admits([]string{"write"}))

	_, err = store.Get("missing")
	assert.Error(t, err)
}

func TestPresetStoreMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewPresetStore(filepath.Join(dir, "does-not-exist.json"))
	assert.NoError(t, err)
}

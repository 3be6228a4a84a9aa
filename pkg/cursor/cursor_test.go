package cursor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	names := []string{"a", "server-1", strings.Repeat("x", MaxNameLen)}
	inners := []string{"", "n1", strings.Repeat("y", 900)}
	for _, name := range names {
		for _, inner := range inners {
			t.Run(fmt.Sprintf("%s/%s", name, inner), func(t *testing.T) {
				encoded := EncodeCursor(name, inner)
				gotName, gotInner, ok := DecodeCursor(encoded)
				require.True(t, ok)
				assert.Equal(t, name, gotName)
				assert.Equal(t, inner, gotInner)
			})
		}
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	cases := []string{"", "not-base64!!!", EncodeCursor("has a space", "x")}
	for _, c := range cases {
		_, _, ok := DecodeCursor(c)
		assert.False(t, ok, "expected malformed cursor %q to fail", c)
	}
}

func TestDecodeCursorOversize(t *testing.T) {
	huge := strings.Repeat("z", 2000)
	encoded := EncodeCursor("name", huge)
	_, _, ok := DecodeCursor(encoded)
	assert.False(t, ok)
}

func TestDecodeCursorNoInner(t *testing.T) {
	name, inner, ok := DecodeCursor(EncodeCursor("solo", ""))
	require.True(t, ok)
	assert.Equal(t, "solo", name)
	assert.Empty(t, inner)
}

func TestComposeParseURIRoundTrip(t *testing.T) {
	name, inner, ok := ParseURI(ComposeURI("serverA", "tool-1"))
	require.True(t, ok)
	assert.Equal(t, "serverA", name)
	assert.Equal(t, "tool-1", inner)
}

func TestParseURIRejectsWrongSeparatorCount(t *testing.T) {
	_, _, ok := ParseURI("no-separator-here")
	assert.False(t, ok)

	_, _, ok = ParseURI("a" + Sep + "b" + Sep + "c")
	assert.False(t, ok)
}

package outbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp/gateway/internal/catalog"
	"github.com/1mcp/gateway/internal/filter"
)

func newManagerWithRecords(t *testing.T, recs ...Record) *Manager {
	t.Helper()
	m := NewManager("self", nil, nil)
	m.current = make(map[string]*Record, len(recs))
	for _, r := range recs {
		r := r
		m.current[r.Name] = &r
	}
	return m
}

func TestFilteredRegistryGetOnlyReturnsConnected(t *testing.T) {
	m := newManagerWithRecords(t,
		Record{Name: "a", Entry: &catalog.Entry{Name: "a"}, Status: StatusConnected},
		Record{Name: "b", Entry: &catalog.Entry{Name: "b"}, Status: StatusError},
	)
	reg := NewFilteredRegistry(m, filter.Context{Mode: filter.ModeNone})

	ob, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", ob.Name())

	_, ok = reg.Get("b")
	assert.False(t, ok)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestFilteredNamesAppliesTagFilterAndSkipsDisconnected(t *testing.T) {
	m := newManagerWithRecords(t,
		Record{Name: "web", Entry: &catalog.Entry{Name: "web", Tags: []string{"prod"}}, Status: StatusConnected},
		Record{Name: "db", Entry: &catalog.Entry{Name: "db", Tags: []string{"dev"}}, Status: StatusConnected},
		Record{Name: "flaky", Entry: &catalog.Entry{Name: "flaky", Tags: []string{"prod"}}, Status: StatusDisconnected},
	)
	reg := NewFilteredRegistry(m, filter.Context{Mode: filter.ModeSimple, Tags: []string{"prod"}})

	names := reg.FilteredNames()
	assert.Equal(t, []string{"web"}, names)
}

func TestFilteredNamesModeNoneAdmitsAllConnected(t *testing.T) {
	m := newManagerWithRecords(t,
		Record{Name: "a", Entry: &catalog.Entry{Name: "a"}, Status: StatusConnected},
		Record{Name: "b", Entry: &catalog.Entry{Name: "b"}, Status: StatusConnected},
	)
	reg := NewFilteredRegistry(m, filter.Context{Mode: filter.ModeNone})
	assert.Equal(t, []string{"a", "b"}, reg.FilteredNames())
}

func TestStringifyArgsConvertsNonStringValues(t *testing.T) {
	out := stringifyArgs(map[string]any{"name": "bob", "count": 3.0})
	assert.Equal(t, "bob", out["name"])
	assert.Equal(t, "3", out["count"])
}

func TestStringifyArgsNil(t *testing.T) {
	assert.Nil(t, stringifyArgs(nil))
}

func TestClientAdapterRejectsUnconnectedRecord(t *testing.T) {
	rec := &Record{Name: "unplugged", Status: StatusConnected}
	a := &clientAdapter{rec: rec}
	_, err := a.CallTool(context.Background(), "whatever", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unplugged")
}

package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1mcp/gateway/internal/catalog"
)

func TestSameEntryDetectsChanges(t *testing.T) {
	a := &catalog.Entry{Type: catalog.KindStdio, Command: "foo", Args: []string{"a"}, Env: map[string]string{"K": "V"}}
	b := &catalog.Entry{Type: catalog.KindStdio, Command: "foo", Args: []string{"a"}, Env: map[string]string{"K": "V"}}
	assert.True(t, sameEntry(a, b))

	c := &catalog.Entry{Type: catalog.KindStdio, Command: "foo", Args: []string{"a", "b"}, Env: map[string]string{"K": "V"}}
	assert.False(t, sameEntry(a, c))

	d := &catalog.Entry{Type: catalog.KindStdio, Command: "foo", Args: []string{"a"}, Env: map[string]string{"K": "OTHER"}}
	assert.False(t, sameEntry(a, d))
}

func TestTransitionClearsLastErrorOnReconnect(t *testing.T) {
	m := NewManager("self", nil, nil)
	rec := &Record{Name: "x", Status: StatusError, LastError: "boom"}
	m.transition(rec, StatusConnecting)
	assert.Equal(t, StatusConnecting, rec.Status)
	assert.Empty(t, rec.LastError)
}

func TestTransitionPreservesLastErrorOnConnectedToDisconnected(t *testing.T) {
	m := NewManager("self", nil, nil)
	rec := &Record{Name: "x", Status: StatusConnected, LastError: "boom"}
	m.transition(rec, StatusDisconnected)
	assert.Equal(t, StatusDisconnected, rec.Status)
	assert.Equal(t, "boom", rec.LastError)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewManager("self", nil, nil)
	m.current["a"] = &Record{Name: "a", Status: StatusConnected}
	snap := m.Snapshot()
	rec := snap["a"]
	rec.Status = StatusError // mutating the copy must not affect the manager
	live, _ := m.Get("a")
	assert.Equal(t, StatusConnected, live.Status)
}

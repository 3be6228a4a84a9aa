package inbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp/gateway/internal/filter"
)

func tagsOfFixture(tags map[string][]string) func(string) ([]string, bool) {
	return func(name string) ([]string, bool) {
		t, ok := tags[name]
		return t, ok
	}
}

func TestManagerCreateGetRemove(t *testing.T) {
	m := NewManager(tagsOfFixture(nil))
	sess, ctx := m.Create(context.Background(), TransportStreamableHTTP, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)
	require.NotEmpty(t, sess.ID)

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	m.Remove(sess.ID)
	_, ok = m.Get(sess.ID)
	assert.False(t, ok)

	assert.Error(t, ctx.Err())
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager(tagsOfFixture(nil))
	_, ok := m.Get("does-not-exist")
	assert.False(t, ok)
}

func TestSessionDeliverNilIsNoop(t *testing.T) {
	s := &Session{ID: "x"}
	assert.NoError(t, s.Deliver(context.Background(), "anything"))
}

func TestSessionAdmitsDelegatesToFilter(t *testing.T) {
	fctx, err := filter.ParseQuery(map[string][]string{"tags": {"a,b"}})
	require.NoError(t, err)
	s := &Session{Filter: fctx}
	assert.True(t, s.Admits("srv", []string{"a"}))
	assert.False(t, s.Admits("srv", []string{"c"}))
}

func TestSessionSinkAdmitsUsesTagsOf(t *testing.T) {
	m := NewManager(tagsOfFixture(map[string][]string{"srv": {"a"}}))
	fctx, err := filter.ParseQuery(map[string][]string{"tags": {"a"}})
	require.NoError(t, err)
	sess, _ := m.Create(context.Background(), TransportSSE, fctx, AuthContext{}, nil)
	sink := m.Sink(sess)

	assert.Equal(t, sess.ID, sink.ID())
	assert.True(t, sink.Admits("srv"))
	assert.False(t, sink.Admits("unknown-server"))
}

func TestSessionSinkDeliverInvokesUnderlyingDeliver(t *testing.T) {
	var got any
	m := NewManager(tagsOfFixture(nil))
	sess, _ := m.Create(context.Background(), TransportStdio, filter.Context{Mode: filter.ModeNone}, AuthContext{}, func(ctx context.Context, n any) error {
		got = n
		return nil
	})
	sink := m.Sink(sess)
	require.NoError(t, sink.Deliver(context.Background(), "hello"))
	assert.Equal(t, "hello", got)
}

func TestManagerHooksFireOnCreateAndRemove(t *testing.T) {
	var created, removed []string
	m := NewManager(tagsOfFixture(nil))
	m.SetHooks(
		func(s *Session) { created = append(created, s.ID) },
		func(id string) { removed = append(removed, id) },
	)
	sess, _ := m.Create(context.Background(), TransportStdio, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)
	require.Equal(t, []string{sess.ID}, created)

	m.Remove(sess.ID)
	assert.Equal(t, []string{sess.ID}, removed)
}

func TestManagerAllReturnsLiveSessions(t *testing.T) {
	m := NewManager(tagsOfFixture(nil))
	s1, _ := m.Create(context.Background(), TransportStdio, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)
	s2, _ := m.Create(context.Background(), TransportStdio, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)
	all := m.All()
	assert.Len(t, all, 2)
	ids := map[string]bool{}
	for _, s := range all {
		ids[s.ID] = true
	}
	assert.True(t, ids[s1.ID])
	assert.True(t, ids[s2.ID])
}

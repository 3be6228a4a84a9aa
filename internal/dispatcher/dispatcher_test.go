package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp/gateway/pkg/cursor"
	"github.com/1mcp/gateway/pkg/mcperrors"
)

// fakeOutbound is a minimal, in-memory Outbound for testing the dispatcher
// without a real MCP server.
type fakeOutbound struct {
	name  string
	tools [][]string // pages of tool names
	err   error

	// unsupported, if non-nil, names the one category SupportsCategory
	// should report as absent; every other category reports present.
	unsupported *Category
}

func (f *fakeOutbound) Name() string { return f.name }

func (f *fakeOutbound) SupportsCategory(category Category) bool {
	return f.unsupported == nil || *f.unsupported != category
}

func (f *fakeOutbound) CallTool(ctx context.Context, innerName string, args map[string]any) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"server": f.name, "tool": innerName, "args": args}, nil
}
func (f *fakeOutbound) ReadResource(ctx context.Context, innerURI string) (any, error) { return nil, nil }
func (f *fakeOutbound) GetPrompt(ctx context.Context, innerName string, args map[string]any) (any, error) {
	return nil, nil
}
func (f *fakeOutbound) Subscribe(ctx context.Context, innerURI string) error   { return nil }
func (f *fakeOutbound) Unsubscribe(ctx context.Context, innerURI string) error { return nil }
func (f *fakeOutbound) SetLoggingLevel(ctx context.Context, level string) error { return nil }
func (f *fakeOutbound) Notify(ctx context.Context, method string, params any) error { return nil }

func (f *fakeOutbound) ListTools(ctx context.Context, nativeCursor string) (Page, error) {
	idx := 0
	if nativeCursor != "" {
		idx = atoi(nativeCursor)
	}
	if idx >= len(f.tools) {
		return Page{}, nil
	}
	page := f.tools[idx]
	items := make([]Item, len(page))
	for i, name := range page {
		name := name
		items[i] = Item{InnerID: name, Rewrite: func(id string) any { return map[string]string{"name": id} }}
	}
	next := ""
	if idx+1 < len(f.tools) {
		next = itoa(idx + 1)
	}
	return Page{Items: items, NextCursor: next}, nil
}
func (f *fakeOutbound) ListResources(ctx context.Context, nativeCursor string) (Page, error) {
	return Page{}, nil
}
func (f *fakeOutbound) ListPrompts(ctx context.Context, nativeCursor string) (Page, error) {
	return Page{}, nil
}
func (f *fakeOutbound) ListResourceTemplates(ctx context.Context, nativeCursor string) (Page, error) {
	return Page{}, nil
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type fakeRegistry struct {
	byName map[string]Outbound
	order  []string
}

func (r *fakeRegistry) Get(name string) (Outbound, bool) { ob, ok := r.byName[name]; return ob, ok }
func (r *fakeRegistry) FilteredNames() []string           { return r.order }

func newFixture() *fakeRegistry {
	a := &fakeOutbound{name: "A", tools: [][]string{{"x", "y"}}}
	b := &fakeOutbound{name: "B", tools: [][]string{{"z"}}}
	return &fakeRegistry{byName: map[string]Outbound{"A": a, "B": b}, order: []string{"A", "B"}}
}

func TestDispatchAddressedToolCall(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})
	result, err := d.DispatchAddressed(context.Background(), CategoryTools, "B"+cursor.Sep+"add", map[string]any{"x": 1.0, "y": 2.0})
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, "B", m["server"])
	assert.Equal(t, "add", m["tool"])
}

func TestDispatchAddressedUnknownServer(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})
	_, err := d.DispatchAddressed(context.Background(), CategoryTools, "C"+cursor.Sep+"add", nil)
	var me *mcperrors.MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "ClientNotFoundError", me.Kind)
}

func TestDispatchAddressedCapabilityNotSupported(t *testing.T) {
	unsupported := CategoryTools
	ob := &fakeOutbound{name: "A", unsupported: &unsupported}
	reg := &fakeRegistry{byName: map[string]Outbound{"A": ob}, order: []string{"A"}}
	d := New(reg, nil, RetryPolicy{})
	_, err := d.DispatchAddressed(context.Background(), CategoryTools, "A"+cursor.Sep+"add", nil)
	var me *mcperrors.MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "CapabilityNotSupported", me.Kind)
}

func TestDispatchAddressedMalformedID(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})
	_, err := d.DispatchAddressed(context.Background(), CategoryTools, "no-separator", nil)
	var me *mcperrors.MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "InvalidRequestError", me.Kind)
}

func TestListAllConcatenatesInNameOrder(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})
	res, err := d.List(context.Background(), CategoryTools, false, "")
	require.NoError(t, err)
	assert.Empty(t, res.NextCursor)
	assert.Len(t, res.Items, 3) // A:x, A:y, B:z
}

func TestListPaginatedSequence(t *testing.T) {
	reg := newFixture()
	reg.byName["A"].(*fakeOutbound).tools = [][]string{{"x"}, {"y"}}
	d := New(reg, nil, RetryPolicy{})

	page1, err := d.List(context.Background(), CategoryTools, true, "")
	require.NoError(t, err)
	require.Len(t, page1.Items, 1)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := d.List(context.Background(), CategoryTools, true, page1.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	require.NotEmpty(t, page2.NextCursor)

	page3, err := d.List(context.Background(), CategoryTools, true, page2.NextCursor)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	assert.Empty(t, page3.NextCursor)
}

func TestListPaginatedMalformedCursorStartsOver(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})
	res, err := d.List(context.Background(), CategoryTools, true, "not-valid-base64!!")
	require.NoError(t, err)
	require.Len(t, res.Items, 2) // same as starting fresh from server A
}

func TestPaginatedEquivalentToUnpaginated(t *testing.T) {
	reg := newFixture()
	d := New(reg, nil, RetryPolicy{})

	all, err := d.List(context.Background(), CategoryTools, false, "")
	require.NoError(t, err)

	var paginated []any
	next := ""
	for {
		res, err := d.List(context.Background(), CategoryTools, true, next)
		require.NoError(t, err)
		paginated = append(paginated, res.Items...)
		if res.NextCursor == "" {
			break
		}
		next = res.NextCursor
	}

	assert.Equal(t, len(all.Items), len(paginated))
}

func TestDispatchRetriesTransportErrorThenSucceeds(t *testing.T) {
	attempts := 0
	flaky := &flakyOutbound{fail: 2}
	reg := &fakeRegistry{byName: map[string]Outbound{"A": flaky}, order: []string{"A"}}
	d := New(reg, nil, RetryPolicy{Count: 2, Delay: 1})
	_, err := d.DispatchAddressed(context.Background(), CategoryTools, "A"+cursor.Sep+"t", nil)
	require.NoError(t, err)
	attempts = flaky.calls
	assert.Equal(t, 3, attempts)
}

type flakyOutbound struct {
	fakeOutbound
	fail  int
	calls int
}

func (f *flakyOutbound) CallTool(ctx context.Context, innerName string, args map[string]any) (any, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("transient transport error")
	}
	return "ok", nil
}

package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp/gateway/internal/catalog"
	"github.com/1mcp/gateway/pkg/log"
	"github.com/1mcp/gateway/pkg/mcperrors"
	"github.com/1mcp/gateway/pkg/retry"
	"github.com/1mcp/gateway/pkg/telemetry"
)

// Status is the outbound connection record's state machine (spec §4.3).
type Status string

const (
	StatusConnecting    Status = "Connecting"
	StatusConnected     Status = "Connected"
	StatusDisconnected  Status = "Disconnected"
	StatusError         Status = "Error"
	StatusAwaitingOAuth Status = "AwaitingOAuth"
)

// legalTransitions enumerates the only state transitions the manager may
// perform (spec §4.3).
var legalTransitions = map[Status]map[Status]bool{
	StatusConnecting:   {StatusConnected: true, StatusAwaitingOAuth: true, StatusError: true},
	StatusConnected:    {StatusDisconnected: true},
	StatusDisconnected: {StatusConnecting: true},
	StatusError:        {StatusConnecting: true},
}

// Record is one outbound connection record. Exclusively owned by the
// manager; other components hold read-only borrows keyed by name via
// Snapshot/Get.
type Record struct {
	Name            string
	Entry           *catalog.Entry
	Status          Status
	LastError       string
	LastConnectedAt time.Time

	transport mcp.Transport
	client    *mcp.Client
	session   *mcp.ClientSession
}

// Session returns the live MCP session for a Connected record, or nil.
func (r *Record) Session() *mcp.ClientSession { return r.session }

// connectRetryPolicy implements spec §4.3: up to 3 attempts, 1000ms initial
// delay, exponential backoff x2.
var connectRetryPolicy = retry.Policy{Count: 2, Delay: time.Second, Backoff: 2}

// Manager reconciles the set of outbound connection records against catalog
// snapshots (C3). Reconciliations are serialized: at most one runs at a
// time, and new changes enqueue (spec §5).
type Manager struct {
	selfName string
	tel      *telemetry.Telemetry

	mu      sync.Mutex // serializes reconcile
	current map[string]*Record
	genMu   sync.RWMutex // guards swapping the published generation

	onChange func()
}

// NewManager constructs a Manager. selfName is this proxy's own
// self-identification name, compared against each outbound server's
// advertised name to guard against self-loops. onChange, if non-nil, is
// invoked after every reconciliation.
func NewManager(selfName string, tel *telemetry.Telemetry, onChange func()) *Manager {
	return &Manager{selfName: selfName, tel: tel, current: map[string]*Record{}, onChange: onChange}
}

// Snapshot returns an immutable read copy of the current record set, keyed
// by name, for /healthz-style introspection (SPEC_FULL.md §5 C3 expansion).
func (m *Manager) Snapshot() map[string]Record {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	out := make(map[string]Record, len(m.current))
	for name, r := range m.current {
		out[name] = *r
	}
	return out
}

// Get returns a read-only borrow of the record for name, if present.
func (m *Manager) Get(name string) (*Record, bool) {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	r, ok := m.current[name]
	return r, ok
}

// Reconcile aligns the live record set with snap.Enabled(): added names are
// connected, removed names are closed and dropped, changed entries are
// closed and rebuilt. Per-client failures never abort reconciliation (spec
// §4.3 "Failure semantics").
func (m *Manager) Reconcile(ctx context.Context, snap *catalog.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]*catalog.Entry, len(snap.Names))
	for _, e := range snap.Enabled() {
		wanted[e.Name] = e
	}

	next := make(map[string]*Record, len(wanted))

	// Removed or changed: close what's no longer wanted, or wanted but
	// whose entry content changed.
	for name, rec := range m.current {
		e, stillWanted := wanted[name]
		if !stillWanted || !sameEntry(rec.Entry, e) {
			m.closeRecord(rec)
			continue
		}
		next[name] = rec // unchanged, carry forward
	}

	// Added (or changed, now rebuilt fresh).
	for _, name := range snap.Names {
		e, ok := wanted[name]
		if !ok {
			continue
		}
		if _, carried := next[name]; carried {
			continue
		}
		rec := &Record{Name: name, Entry: e, Status: StatusConnecting}
		m.connect(ctx, rec)
		next[name] = rec
	}

	m.genMu.Lock()
	m.current = next
	m.genMu.Unlock()

	if m.onChange != nil {
		m.onChange()
	}
}

func sameEntry(a, b *catalog.Entry) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.Command != b.Command || a.Cwd != b.Cwd || a.URL != b.URL || a.TimeoutMS != b.TimeoutMS {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return mapsEqual(a.Env, b.Env) && mapsEqual(a.Headers, b.Headers)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (m *Manager) closeRecord(rec *Record) {
	if rec.session != nil {
		_ = rec.session.Close()
	}
	if rec.Status == StatusConnected {
		m.transition(rec, StatusDisconnected)
	}
}

// connect builds the transport, connects with retry, and runs the self-loop
// guard. It only ever logs and marks the record on failure — reconciliation
// continues with the rest of the set regardless.
func (m *Manager) connect(ctx context.Context, rec *Record) {
	transport, err := BuildTransport(rec.Entry)
	if err != nil {
		rec.LastError = err.Error()
		m.transition(rec, StatusError)
		m.recordError()
		return
	}
	rec.transport = transport

	client := mcp.NewClient(&mcp.Implementation{Name: "1mcp", Version: "dev"}, nil)

	var session *mcp.ClientSession
	attempt := 0
	err = retry.Run(ctx, connectRetryPolicy, func(ctx context.Context) error {
		if attempt > 0 && m.tel != nil {
			m.tel.OutboundRetries.Add(ctx, 1)
		}
		attempt++
		s, connErr := client.Connect(ctx, rec.transport, nil)
		if connErr != nil {
			return connErr
		}
		session = s
		return nil
	})
	if err != nil {
		rec.LastError = err.Error()
		m.transition(rec, StatusError)
		m.recordError()
		log.Warnf("outbound %s: connect failed after retries: %v", rec.Name, err)
		return
	}

	if info := session.InitializeResult(); info != nil && info.ServerInfo != nil && info.ServerInfo.Name == m.selfName {
		_ = session.Close()
		rec.LastError = mcperrors.ClientConnectionError(rec.Name, "circular dependency").Error()
		m.transition(rec, StatusError)
		m.recordError()
		log.Warnf("outbound %s: refusing self-loop (circular dependency)", rec.Name)
		return
	}

	rec.client = client
	rec.session = session
	rec.LastConnectedAt = time.Now()
	m.transition(rec, StatusConnected)
	if m.tel != nil {
		m.tel.OutboundConnects.Add(ctx, 1)
	}
}

func (m *Manager) recordError() {
	if m.tel != nil {
		m.tel.OutboundErrors.Add(context.Background(), 1)
	}
}

// transition applies a status change, validating it against
// legalTransitions, and clears LastError only on the two transitions the
// spec names (Error/Disconnected -> Connecting).
func (m *Manager) transition(rec *Record, to Status) {
	from := rec.Status
	if from != to && legalTransitions[from] != nil && !legalTransitions[from][to] {
		// Initial construction (zero Status) and same-state no-ops aside,
		// an illegal transition is a programming error; log loudly rather
		// than silently corrupting the record.
		log.Errorf("outbound %s: illegal status transition %s -> %s", rec.Name, from, to)
	}
	if to == StatusConnecting && (from == StatusError || from == StatusDisconnected) {
		rec.LastError = ""
	}
	rec.Status = to
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.current {
		if rec.session != nil {
			_ = rec.session.Close()
		}
	}
}

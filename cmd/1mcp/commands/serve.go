package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1mcp/gateway/internal/aggregator"
	"github.com/1mcp/gateway/internal/appconfig"
	"github.com/1mcp/gateway/internal/catalog"
	"github.com/1mcp/gateway/internal/dispatcher"
	"github.com/1mcp/gateway/internal/filter"
	"github.com/1mcp/gateway/internal/inbound"
	"github.com/1mcp/gateway/internal/oauthserver"
	"github.com/1mcp/gateway/internal/outbound"
	"github.com/1mcp/gateway/internal/protocol"
	"github.com/1mcp/gateway/pkg/log"
	"github.com/1mcp/gateway/pkg/telemetry"
)

// serverName, together with version (root.go), is this proxy's own
// self-identification (spec §4.3 self-loop guard, §4.5(e) initialize
// response).
const serverName = "1mcp"

type serveOptions struct {
	addr         string
	stdio        bool
	oauthEnabled bool
	oauthIssuer  string
	retryCount   int
	retryDelay   time.Duration
}

// serveCommand implements `1mcp serve`, wiring every component (C1-C9) the
// way the teacher's Gateway.Run assembles pkg/gateway, generalized to this
// spec's catalog/outbound/dispatcher/inbound pipeline instead of the
// teacher's Docker-specific one.
func serveCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the federation gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":3000", "HTTP listen address for streamable-HTTP/SSE inbound transports and, if enabled, the OAuth authorization server")
	flags.BoolVar(&opts.stdio, "stdio", false, "Also serve one inbound session over process stdio (spec §4.7)")
	flags.BoolVar(&opts.oauthEnabled, "oauth", false, "Run the OAuth 2.1 authorization server (C8) and require bearer auth on inbound HTTP/SSE")
	flags.StringVar(&opts.oauthIssuer, "oauth-issuer", "", "Public base URL the OAuth server advertises as its issuer (defaults to http://localhost<addr>)")
	flags.IntVar(&opts.retryCount, "retry-count", 0, "Dispatcher per-request retry count (spec §4.5)")
	flags.DurationVar(&opts.retryDelay, "retry-delay", time.Second, "Dispatcher per-request retry delay")

	return cmd
}

func runServe(parentCtx context.Context, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := appconfig.LoadFromOS()
	if err != nil {
		return fmt.Errorf("resolving configuration: %w", err)
	}
	log.InitFromEnv(cfg.LogLevel)

	tel, err := telemetry.Init(serverName)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	watcher, err := catalog.NewWatcher(cfg.CatalogPath, os.Environ())
	if err != nil {
		return fmt.Errorf("loading catalog %s: %w", cfg.CatalogPath, err)
	}

	caps := aggregator.NewPublisher()
	hub := dispatcher.NewNotificationHub()

	var obMgr *outbound.Manager
	obMgr = outbound.NewManager(serverName, tel, func() {
		republishCapabilities(obMgr, watcher, caps)
	})

	inMgr := inbound.NewManager(func(name string) ([]string, bool) {
		e, ok := watcher.Current().Entries[name]
		if !ok {
			return nil, false
		}
		return e.Tags, true
	})
	inMgr.SetHooks(
		func(s *inbound.Session) { hub.Register(inMgr.Sink(s)) },
		func(id string) { hub.Remove(id) },
	)

	router := &protocol.Router{
		Outbound:      obMgr,
		Caps:          caps,
		Hub:           hub,
		Tel:           tel,
		Retry:         dispatcher.RetryPolicy{Count: opts.retryCount, Delay: opts.retryDelay},
		ServerName:    serverName,
		ServerVersion: version,
	}

	presets, err := filter.NewPresetStore(cfg.PresetsPath())
	if err != nil {
		return fmt.Errorf("loading presets %s: %w", cfg.PresetsPath(), err)
	}

	mux := &inbound.Multiplexer{
		Sessions: inMgr,
		Handler:  router.Handle,
		Health: func() (map[string]string, bool) {
			return healthSnapshot(obMgr)
		},
		Preset: presets.Get,
	}

	var oauthSrv *oauthserver.Server
	if opts.oauthEnabled {
		issuer := opts.oauthIssuer
		if issuer == "" {
			issuer = defaultIssuer(opts.addr)
		}
		store, err := oauthserver.NewStore(cfg.SessionsDir())
		if err != nil {
			return fmt.Errorf("initializing OAuth store: %w", err)
		}
		oauthSrv = oauthserver.NewServer(oauthserver.Config{
			Issuer: issuer,
			Store:  store,
			TagsOf: func() []string { return allTags(watcher) },
		})
		mux.Auth = func(r *http.Request) (inbound.AuthContext, error) {
			res, err := oauthSrv.Authenticate(r)
			if err != nil {
				return inbound.AuthContext{}, err
			}
			return inbound.AuthContext{Enabled: true, ClientID: res.ClientID, GrantedTags: res.GrantedTags}, nil
		}
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return watcher.Run(gctx)
	})
	group.Go(func() error {
		return presets.Run(gctx)
	})
	snapshots := watcher.Subscribe()
	group.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case snap, ok := <-snapshots:
				if !ok {
					return nil
				}
				obMgr.Reconcile(gctx, snap)
			}
		}
	})
	obMgr.Reconcile(gctx, watcher.Current())

	httpMux := http.NewServeMux()
	httpMux.Handle("/", mux.Mux())
	httpMux.Handle("/metrics", promhttp.Handler())
	if oauthSrv != nil {
		oauthMux := oauthSrv.Mux()
		httpMux.Handle("/.well-known/", oauthMux)
		httpMux.Handle("/register", oauthMux)
		httpMux.Handle("/authorize", oauthMux)
		httpMux.Handle("/token", oauthMux)
		httpMux.Handle("/revoke", oauthMux)
		group.Go(func() error {
			oauthSrv.RunSweeper(gctx, time.Minute)
			return nil
		})
	}

	srv := &http.Server{Addr: opts.addr, Handler: httpMux}
	group.Go(func() error {
		log.Log("1mcp: listening on", opts.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if opts.stdio {
		group.Go(func() error {
			return inbound.RunStdio(gctx, inMgr, router.Handle, filter.Context{}, os.Stdin, os.Stdout)
		})
	}

	err = group.Wait()
	obMgr.Shutdown()
	if err != nil && ctx.Err() != nil {
		// Shutdown triggered by SIGINT/SIGTERM, not a genuine component
		// failure: every goroutine observes ctx.Done() and unwinds, several
		// via a context.Canceled/DeadlineExceeded return that would
		// otherwise look like an error.
		return nil
	}
	return err
}

// republishCapabilities recomputes the aggregated capability set from every
// Connected outbound record, in catalog order, and publishes it (C4,
// triggered by C3's onChange hook after each reconciliation).
func republishCapabilities(obMgr *outbound.Manager, watcher *catalog.Watcher, caps *aggregator.Publisher) {
	snap := obMgr.Snapshot()
	names := watcher.Current().Names
	sources := make([]aggregator.SourceCapabilities, 0, len(names))
	for _, name := range names {
		rec, ok := snap[name]
		if !ok || rec.Status != outbound.StatusConnected {
			continue
		}
		sess := rec.Session()
		if sess == nil {
			continue
		}
		info := sess.InitializeResult()
		if info == nil {
			continue
		}
		sources = append(sources, aggregator.FromMCP(name, info.Capabilities))
	}
	caps.Publish(aggregator.Merge(sources))
}

func healthSnapshot(obMgr *outbound.Manager) (map[string]string, bool) {
	snap := obMgr.Snapshot()
	out := make(map[string]string, len(snap))
	healthy := false
	for name, rec := range snap {
		out[name] = string(rec.Status)
		if rec.Status == outbound.StatusConnected {
			healthy = true
		}
	}
	return out, healthy
}

func allTags(watcher *catalog.Watcher) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, name := range watcher.Current().Names {
		for _, t := range watcher.Current().Entries[name].Tags {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

func defaultIssuer(addr string) string {
	host := addr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "http://" + host
}

package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/1mcp/gateway/pkg/cursor"
)

// ListResult is the dispatcher's response to a list request: items in
// deterministic order with composite ids substituted, and an optional
// cross-server cursor.
type ListResult struct {
	Items      []any
	NextCursor string // "" means no more pages
}

func fetchPage(ctx context.Context, ob Outbound, category Category, nativeCursor string) (Page, error) {
	switch category {
	case CategoryTools:
		return ob.ListTools(ctx, nativeCursor)
	case CategoryResources:
		return ob.ListResources(ctx, nativeCursor)
	case CategoryPrompts:
		return ob.ListPrompts(ctx, nativeCursor)
	case CategoryResourceTemplates:
		return ob.ListResourceTemplates(ctx, nativeCursor)
	default:
		return Page{}, nil
	}
}

// List dispatches a list request (spec §4.5(b)). paginated selects between
// the two fan-out modes.
func (d *Dispatcher) List(ctx context.Context, category Category, paginated bool, inCursor string) (ListResult, error) {
	names := d.registry.FilteredNames()
	if paginated {
		return d.listPaginated(ctx, category, names, inCursor)
	}
	return d.listAll(ctx, category, names)
}

// listAll drains every server's full page sequence concurrently, then
// concatenates in deterministic name order (spec §4.5(b).1).
func (d *Dispatcher) listAll(ctx context.Context, category Category, names []string) (ListResult, error) {
	results := make([][]any, len(names))

	errs, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		errs.Go(func() error {
			ob, ok := d.registry.Get(name)
			if !ok {
				return nil // outbound vanished mid-request; contribute nothing
			}
			var items []any
			native := ""
			for {
				if d.tel != nil {
					d.tel.DispatchFanout.Add(gctx, 1)
				}
				var page Page
				err := d.runRetried(gctx, name, func(ctx context.Context) error {
					var fetchErr error
					page, fetchErr = fetchPage(ctx, ob, category, native)
					return fetchErr
				})
				if err != nil {
					return err
				}
				for _, it := range page.Items {
					items = append(items, it.Rewrite(cursor.ComposeURI(name, it.InnerID)))
				}
				if page.NextCursor == "" {
					break
				}
				native = page.NextCursor
			}
			results[i] = items
			return nil
		})
	}
	if err := errs.Wait(); err != nil {
		return ListResult{}, err
	}

	var all []any
	for _, items := range results {
		all = append(all, items...)
	}
	return ListResult{Items: all}, nil
}

// listPaginated implements the cross-server cursor protocol (spec
// §4.5(b).2).
func (d *Dispatcher) listPaginated(ctx context.Context, category Category, names []string, inCursor string) (ListResult, error) {
	if len(names) == 0 {
		return ListResult{}, nil
	}

	startName, nativeCursor, ok := cursor.DecodeCursor(inCursor)
	idx := 0
	if ok {
		found := false
		for i, n := range names {
			if n == startName {
				idx = i
				found = true
				break
			}
		}
		if !found {
			idx, nativeCursor = 0, ""
		}
	} else {
		nativeCursor = ""
	}

	name := names[idx]
	ob, found := d.registry.Get(name)
	if !found {
		// Server vanished between pages: treat as exhausted for this name,
		// advance to the next server with a fresh cursor.
		return d.advancePastMissingServer(names, idx)
	}

	var page Page
	err := d.runRetried(ctx, name, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = fetchPage(ctx, ob, category, nativeCursor)
		return fetchErr
	})
	if err != nil {
		return ListResult{}, err
	}
	if d.tel != nil {
		d.tel.DispatchFanout.Add(ctx, 1)
	}

	items := make([]any, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, it.Rewrite(cursor.ComposeURI(name, it.InnerID)))
	}

	if page.NextCursor != "" {
		return ListResult{Items: items, NextCursor: cursor.EncodeCursor(name, page.NextCursor)}, nil
	}
	if idx+1 < len(names) {
		return ListResult{Items: items, NextCursor: cursor.EncodeCursor(names[idx+1], "")}, nil
	}
	return ListResult{Items: items}, nil
}

func (d *Dispatcher) advancePastMissingServer(names []string, idx int) (ListResult, error) {
	if idx+1 >= len(names) {
		return ListResult{}, nil
	}
	return ListResult{NextCursor: cursor.EncodeCursor(names[idx+1], "")}, nil
}

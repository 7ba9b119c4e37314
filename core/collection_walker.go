package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

type WalkState string

const (
	WalkStart    WalkState = "start"
	WalkFetching WalkState = "fetching"
	WalkDone     WalkState = "done"
	WalkFailed   WalkState = "failed"
)

func (s WalkState) Terminal() bool {
	return s == WalkDone || s == WalkFailed
}

// WalkHook observes state transitions of a walk.
type WalkHook func(state WalkState, page int, cursor Cursor)

type CollectionWalker struct {
	defaultPageSize int
	maxPageSize     int
	maxPages        int
	logger          Logger
	hook            WalkHook
}

type WalkerOption func(*CollectionWalker)

func WithPageSizeLimits(defaultSize int, maxSize int) WalkerOption {
	return func(w *CollectionWalker) {
		if defaultSize > 0 {
			w.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			w.maxPageSize = maxSize
		}
	}
}

func WithMaxPages(limit int) WalkerOption {
	return func(w *CollectionWalker) {
		if limit >= 0 {
			w.maxPages = limit
		}
	}
}

func WithWalkerLogger(logger Logger) WalkerOption {
	return func(w *CollectionWalker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithWalkHook(hook WalkHook) WalkerOption {
	return func(w *CollectionWalker) {
		w.hook = hook
	}
}

func NewCollectionWalker(opts ...WalkerOption) *CollectionWalker {
	walker := &CollectionWalker{
		defaultPageSize: defaultPageSize,
		maxPageSize:     defaultMaxPageSize,
		logger:          glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(walker)
		}
	}
	return walker
}

// FetchAll walks every page and returns the concatenated items in fetch
// order. On failure no items are returned.
func (w *CollectionWalker) FetchAll(ctx context.Context, fetch PageFetchFunc, req PagedRequest) ([]Record, error) {
	items := []Record{}
	err := w.Walk(ctx, fetch, req, func(_ context.Context, _ int, result PageResult) error {
		items = append(items, result.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Walk fetches pages one after another and hands each to visit. The next page
// is requested only after the previous result, and its cursor, is known.
func (w *CollectionWalker) Walk(ctx context.Context, fetch PageFetchFunc, req PagedRequest, visit PageVisitor) error {
	if w == nil {
		return fmt.Errorf("core: collection walker is not configured")
	}
	if fetch == nil {
		return fmt.Errorf("core: page fetch function is required")
	}
	run := &walkRun{
		walker:  w,
		request: req.Normalized(w.defaultPageSize, w.maxPageSize),
		state:   WalkStart,
		seen:    map[Cursor]struct{}{},
	}
	run.cursor = run.request.Cursor
	if !run.cursor.IsZero() {
		run.seen[run.cursor] = struct{}{}
	}
	w.notify(run.state, 0, run.cursor)

	err := run.loop(ctx, fetch, visit)
	if err != nil {
		run.transition(WalkFailed)
		w.logger.Warn("collection walk failed",
			"resource", string(run.request.Resource),
			"page", run.page,
			"error", err,
		)
		return err
	}
	run.transition(WalkDone)
	w.logger.Debug("collection walk done",
		"resource", string(run.request.Resource),
		"pages", run.page,
	)
	return nil
}

func (w *CollectionWalker) notify(state WalkState, page int, cursor Cursor) {
	if w.hook != nil {
		w.hook(state, page, cursor)
	}
}

type walkRun struct {
	walker  *CollectionWalker
	request PagedRequest
	state   WalkState
	cursor  Cursor
	page    int
	seen    map[Cursor]struct{}
}

func (r *walkRun) transition(next WalkState) {
	if r.state.Terminal() {
		return
	}
	r.state = next
	r.walker.notify(next, r.page, r.cursor)
}

func (r *walkRun) loop(ctx context.Context, fetch PageFetchFunc, visit PageVisitor) error {
	resource := r.request.Resource
	for {
		if err := ctx.Err(); err != nil {
			return PageFailedError(resource, r.page+1, r.cursor, "walk cancelled", err)
		}
		if r.walker.maxPages > 0 && r.page >= r.walker.maxPages {
			return PageFailedError(resource, r.page+1, r.cursor, fmt.Sprintf("walk exceeded %d pages", r.walker.maxPages), nil)
		}

		r.page++
		r.transition(WalkFetching)
		result, err := fetch(ctx, r.request.WithCursor(r.cursor))
		if err != nil {
			return r.pageError(err)
		}
		if visit != nil {
			if err := visit(ctx, r.page, result); err != nil {
				return PageFailedError(resource, r.page, r.cursor, "page visitor failed", err)
			}
		}

		next := result.Next
		if next.IsZero() {
			return nil
		}
		if strings.TrimSpace(next.String()) == "" {
			return MalformedCursorError(resource, r.page, next, "blank continuation cursor")
		}
		if _, repeated := r.seen[next]; repeated {
			return MalformedCursorError(resource, r.page, next, "continuation cursor repeats an earlier page")
		}
		r.seen[next] = struct{}{}
		r.cursor = next
	}
}

func (r *walkRun) pageError(err error) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		copied := *fetchErr
		if copied.Resource == "" {
			copied.Resource = r.request.Resource
		}
		if copied.Page == 0 {
			copied.Page = r.page
		}
		if copied.Cursor.IsZero() {
			copied.Cursor = r.cursor
		}
		return &copied
	}
	return PageFailedError(r.request.Resource, r.page, r.cursor, "", err)
}

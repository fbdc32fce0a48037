// Package listview implements the status-filtered, paginated record lists
// behind the bids, asks and peers screens.
package listview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

var (
	ErrUnknownStatus  = errors.New("listview: unknown status")
	ErrNoToken        = errors.New("listview: authentication required")
	ErrNotSearched    = errors.New("listview: no search performed yet")
	ErrPageOutOfRange = errors.New("listview: page out of range")
	ErrSuperseded     = errors.New("listview: result superseded")
	ErrClosed         = errors.New("listview: view closed")
	ErrBusy           = errors.New("listview: record action in progress")
)

const msgAuthRequired = "Authentication required"

// Record is anything a list view can display.
type Record interface {
	RecordID() int64
	RecordStatus() domain.Status
}

// Fetcher loads one page of records with the given status.
type Fetcher[R Record] func(ctx context.Context, token string, status domain.Status, page int) (*models.Page[R], error)

type Config[R Record] struct {
	// Name is the plural noun used in summaries, e.g. "bids".
	Name     string
	Statuses []domain.Status
	Default  domain.Status
	Fetch    Fetcher[R]
	Token    string
	Notices  notice.Sink
	// FetchFailed is the notice shown when a fetch fails without a backend message.
	FetchFailed string
	// Describe turns an action error into notice text.
	Describe func(err error) string
}

// Pagination mirrors the paging fields of the last successful fetch.
type Pagination struct {
	Current int
	Last    int
	PerPage int
	Total   int
	NextURL string
	PrevURL string
}

// View is safe for concurrent use. Every fetch takes a generation number;
// results from an older generation or arriving after Close are dropped.
type View[R Record] struct {
	cfg Config[R]

	mu              sync.Mutex
	selected        domain.Status
	searched        domain.Status
	records         []R
	loading         bool
	searchInitiated bool
	page            Pagination
	gen             uint64
	closed          bool
	pending         map[int64]struct{}
}

func New[R Record](cfg Config[R]) (*View[R], error) {
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("listview: %s: fetcher required", cfg.Name)
	}
	if len(cfg.Statuses) == 0 {
		return nil, fmt.Errorf("listview: %s: statuses required", cfg.Name)
	}
	if cfg.Default == "" {
		cfg.Default = cfg.Statuses[0]
	}
	if !slices.Contains(cfg.Statuses, cfg.Default) {
		return nil, fmt.Errorf("listview: %s: default %q: %w", cfg.Name, cfg.Default, ErrUnknownStatus)
	}
	if cfg.Notices == nil {
		cfg.Notices = &notice.Queue{}
	}
	if cfg.FetchFailed == "" {
		cfg.FetchFailed = fmt.Sprintf("Failed to fetch %s. Please try again.", cfg.Name)
	}
	if cfg.Describe == nil {
		cfg.Describe = func(err error) string { return backend.Describe(err, "Action failed") }
	}
	return &View[R]{
		cfg:      cfg,
		selected: cfg.Default,
		searched: cfg.Default,
		pending:  make(map[int64]struct{}),
	}, nil
}

// Select changes the status filter without fetching. The current page is
// invalidated and any in-flight fetch is superseded.
func (v *View[R]) Select(status domain.Status) error {
	if !slices.Contains(v.cfg.Statuses, status) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = status
	v.records = nil
	v.page = Pagination{}
	v.searchInitiated = false
	v.loading = false
	v.gen++
	return nil
}

// Search fetches the first page of the selected status.
func (v *View[R]) Search(ctx context.Context) error {
	v.mu.Lock()
	status := v.selected
	v.mu.Unlock()
	return v.fetch(ctx, status, 1)
}

// ChangePage fetches page p of the last searched status.
func (v *View[R]) ChangePage(ctx context.Context, p int) error {
	v.mu.Lock()
	if !v.searchInitiated {
		v.mu.Unlock()
		return ErrNotSearched
	}
	if p < 1 || p > v.page.Last {
		v.mu.Unlock()
		return fmt.Errorf("%w: %d not in [1, %d]", ErrPageOutOfRange, p, v.page.Last)
	}
	status := v.searched
	v.mu.Unlock()
	return v.fetch(ctx, status, p)
}

// Refresh refetches the current filter and page. It is a no-op before the
// first search.
func (v *View[R]) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if !v.searchInitiated {
		v.mu.Unlock()
		return nil
	}
	status, p := v.searched, v.page.Current
	v.mu.Unlock()
	if p < 1 {
		p = 1
	}
	return v.fetch(ctx, status, p)
}

func (v *View[R]) fetch(ctx context.Context, status domain.Status, p int) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.cfg.Token == "" {
		v.mu.Unlock()
		v.cfg.Notices.Push(notice.Fail(msgAuthRequired))
		return ErrNoToken
	}
	v.gen++
	gen := v.gen
	v.loading = true
	v.searchInitiated = true
	v.searched = status
	v.mu.Unlock()

	page, err := v.cfg.Fetch(ctx, v.cfg.Token, status, p)

	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		return ErrSuperseded
	}
	defer v.mu.Unlock()
	defer func() { v.loading = false }()

	if err != nil {
		v.records = nil
		v.page = Pagination{}
		v.cfg.Notices.Push(notice.Fail(backend.Describe(err, v.cfg.FetchFailed)))
		return err
	}

	items := page.Items
	if page.PerPage > 0 && len(items) > page.PerPage {
		items = items[:page.PerPage]
	}
	records := make([]R, 0, len(items))
	for _, r := range items {
		if r.RecordStatus() == status {
			records = append(records, r)
		}
	}
	v.records = records
	v.page = Pagination{
		Current: max(page.CurrentPage, 1),
		Last:    max(page.LastPage, 1),
		PerPage: page.PerPage,
		Total:   page.Total,
		NextURL: page.NextPageURL,
		PrevURL: page.PrevPageURL,
	}
	return nil
}

// Act runs exec for the record id. The record is marked pending for the
// duration of the call. On success the current page is refetched; on
// failure the records are left alone.
func (v *View[R]) Act(ctx context.Context, id int64, exec func(ctx context.Context) (string, error)) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if _, busy := v.pending[id]; busy {
		v.mu.Unlock()
		return ErrBusy
	}
	v.pending[id] = struct{}{}
	v.mu.Unlock()

	msg, err := exec(ctx)

	v.mu.Lock()
	delete(v.pending, id)
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return err
	}

	if err != nil {
		v.cfg.Notices.Push(notice.Fail(v.cfg.Describe(err)))
		return err
	}
	if msg == "" {
		msg = "Action completed successfully!"
	}
	v.cfg.Notices.Push(notice.Ok(msg))
	// A failed refetch reports through its own notice.
	_ = v.Refresh(ctx)
	return nil
}

// Pending reports whether an action on id is in flight.
func (v *View[R]) Pending(id int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pending[id]
	return ok
}

// Find returns the displayed record with the given id.
func (v *View[R]) Find(id int64) (R, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.records {
		if r.RecordID() == id {
			return r, true
		}
	}
	var zero R
	return zero, false
}

// Close discards every result that arrives afterwards.
func (v *View[R]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.gen++
	v.loading = false
}

package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

var (
	ErrNoPrevPage = errors.New("broadcast: already on the first page")
	ErrNoNextPage = errors.New("broadcast: no next page")
	ErrSuperseded = errors.New("broadcast: a newer page request replaced this one")
)

// UsersFetcher loads one page of users.
type UsersFetcher func(ctx context.Context, token string, page int) (*models.Page[domain.User], error)

// Listing is the picker state for rendering.
type Listing struct {
	Page    int
	Users   []domain.User
	HasPrev bool
	HasNext bool
	Loaded  bool
}

// Picker pages through users forward and back. The total number of pages
// is never needed.
type Picker struct {
	fetch   UsersFetcher
	token   string
	notices notice.Sink

	mu      sync.Mutex
	gen     uint64
	page    int
	users   []domain.User
	hasNext bool
	loaded  bool
}

func NewPicker(fetch UsersFetcher, token string, notices notice.Sink) *Picker {
	if notices == nil {
		notices = &notice.Queue{}
	}
	return &Picker{fetch: fetch, token: token, notices: notices, page: 1}
}

// Load fetches the current page.
func (p *Picker) Load(ctx context.Context) error {
	p.mu.Lock()
	page := p.page
	p.mu.Unlock()
	return p.load(ctx, page)
}

func (p *Picker) Next(ctx context.Context) error {
	p.mu.Lock()
	if p.loaded && !p.hasNext {
		p.mu.Unlock()
		return ErrNoNextPage
	}
	page := p.page + 1
	p.mu.Unlock()
	return p.load(ctx, page)
}

func (p *Picker) Prev(ctx context.Context) error {
	p.mu.Lock()
	if p.page <= 1 {
		p.mu.Unlock()
		return ErrNoPrevPage
	}
	page := p.page - 1
	p.mu.Unlock()
	return p.load(ctx, page)
}

// Goto loads an explicit page, as carried by a link.
func (p *Picker) Goto(ctx context.Context, page int) error {
	if page < 1 {
		return ErrNoPrevPage
	}
	return p.load(ctx, page)
}

// load fetches page. Only the newest request may change the listing; a
// superseded one is dropped together with its failure notice.
func (p *Picker) load(ctx context.Context, page int) error {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	result, err := p.fetch(ctx, p.token, page)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return ErrSuperseded
	}
	if err != nil {
		// The previous page stays on screen.
		p.notices.Push(notice.Fail(backend.Describe(err, "Error fetching users")))
		return err
	}
	p.page = page
	p.users = result.Items
	p.hasNext = result.HasNext()
	p.loaded = true
	return nil
}

func (p *Picker) Listing() Listing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Listing{
		Page:    p.page,
		Users:   append([]domain.User(nil), p.users...),
		HasPrev: p.page > 1,
		HasNext: p.hasNext,
		Loaded:  p.loaded,
	}
}

package listview

import (
	"fmt"

	"github.com/punchamoorthee/p2pconsole/internal/domain"
)

// Phase is what the list area should show.
type Phase int

const (
	NotSearched Phase = iota
	Loading
	Empty
	Ready
)

func (p Phase) String() string {
	switch p {
	case NotSearched:
		return "not-searched"
	case Loading:
		return "loading"
	case Empty:
		return "empty"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PageLink is one entry of the numbered pagination window. Ellipsis
// entries carry no number.
type PageLink struct {
	Number   int
	Ellipsis bool
	Current  bool
}

// Controls describe the pagination bar.
type Controls struct {
	Visible bool
	HasPrev bool
	HasNext bool
	Prev    int
	Next    int
	Links   []PageLink
}

// Snapshot is an immutable copy of the view state for rendering.
type Snapshot[R Record] struct {
	Name       string
	Statuses   []domain.Status
	Selected   domain.Status
	Searched   domain.Status
	Phase      Phase
	Records    []R
	Pagination Pagination
	Controls   Controls
	Summary    string
	Pending    map[int64]bool
}

// Disabled reports whether the controls of record id must be disabled.
func (s Snapshot[R]) Disabled(id int64) bool { return s.Pending[id] }

func (v *View[R]) Snapshot() Snapshot[R] {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := Snapshot[R]{
		Name:       v.cfg.Name,
		Statuses:   append([]domain.Status(nil), v.cfg.Statuses...),
		Selected:   v.selected,
		Searched:   v.searched,
		Records:    append([]R(nil), v.records...),
		Pagination: v.page,
		Pending:    make(map[int64]bool, len(v.pending)),
	}
	for id := range v.pending {
		snap.Pending[id] = true
	}

	switch {
	case v.loading:
		snap.Phase = Loading
	case !v.searchInitiated:
		snap.Phase = NotSearched
	case len(v.records) == 0:
		snap.Phase = Empty
	default:
		snap.Phase = Ready
	}

	if snap.Phase == Ready {
		snap.Controls = controls(v.page)
		snap.Summary = summary(v.page, len(v.records), v.cfg.Name)
	}
	return snap
}

func controls(p Pagination) Controls {
	if p.Last <= 1 {
		return Controls{}
	}
	return Controls{
		Visible: true,
		HasPrev: p.Current > 1,
		HasNext: p.Current < p.Last,
		Prev:    p.Current - 1,
		Next:    p.Current + 1,
		Links:   Window(p.Current, p.Last),
	}
}

const maxVisiblePages = 5

// Window returns the numbered pages around current. Up to five pages are
// listed in full; longer ranges keep the first and last page and collapse
// the rest into ellipses.
func Window(current, last int) []PageLink {
	var nums []int
	switch {
	case last <= maxVisiblePages:
		for i := 1; i <= last; i++ {
			nums = append(nums, i)
		}
	case current <= 3:
		nums = []int{1, 2, 3, 4, 0, last}
	case current >= last-2:
		nums = []int{1, 0, last - 3, last - 2, last - 1, last}
	default:
		nums = []int{1, 0, current - 1, current, current + 1, 0, last}
	}

	links := make([]PageLink, 0, len(nums))
	for _, n := range nums {
		if n == 0 {
			links = append(links, PageLink{Ellipsis: true})
			continue
		}
		links = append(links, PageLink{Number: n, Current: n == current})
	}
	return links
}

func summary(p Pagination, shown int, name string) string {
	perPage := p.PerPage
	if perPage <= 0 {
		perPage = shown
	}
	from := (p.Current-1)*perPage + 1
	to := from + shown - 1
	total := p.Total
	if total < to {
		total = to
	}
	return fmt.Sprintf("Showing %d to %d of %d %s", from, to, total, name)
}

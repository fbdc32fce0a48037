package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

// pagedUsers serves three pages; only the backend knows there is no fourth.
func pagedUsers(requested *[]int, fail *error) UsersFetcher {
	return func(ctx context.Context, token string, page int) (*models.Page[domain.User], error) {
		*requested = append(*requested, page)
		if *fail != nil {
			return nil, *fail
		}
		p := &models.Page[domain.User]{
			Items:       []domain.User{{ID: int64(page*10 + 1)}, {ID: int64(page*10 + 2)}},
			CurrentPage: page,
			LastPage:    1,
			PerPage:     2,
		}
		if page < 3 {
			p.NextPageURL = "https://api.example.com/api/users?page=next"
		}
		return p, nil
	}
}

func TestPickerForwardAndBack(t *testing.T) {
	var requested []int
	var fail error
	p := NewPicker(pagedUsers(&requested, &fail), "tok", nil)
	ctx := context.Background()

	require.NoError(t, p.Load(ctx))
	l := p.Listing()
	assert.Equal(t, 1, l.Page)
	assert.False(t, l.HasPrev)
	assert.True(t, l.HasNext)
	assert.ErrorIs(t, p.Prev(ctx), ErrNoPrevPage)

	require.NoError(t, p.Next(ctx))
	require.NoError(t, p.Next(ctx))
	l = p.Listing()
	assert.Equal(t, 3, l.Page)
	assert.True(t, l.HasPrev)
	assert.False(t, l.HasNext)
	assert.EqualValues(t, 31, l.Users[0].ID)
	assert.ErrorIs(t, p.Next(ctx), ErrNoNextPage)

	require.NoError(t, p.Prev(ctx))
	assert.Equal(t, 2, p.Listing().Page)
	assert.Equal(t, []int{1, 2, 3, 2}, requested)
}

func TestPickerFailureKeepsPage(t *testing.T) {
	var requested []int
	var fail error
	q := &notice.Queue{}
	p := NewPicker(pagedUsers(&requested, &fail), "tok", q)
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	fail = errors.New("offline")
	require.Error(t, p.Next(ctx))
	assert.Equal(t, 1, p.Listing().Page)
	assert.Len(t, p.Listing().Users, 2)
	assert.Equal(t, []notice.Notice{notice.Fail("Error fetching users")}, q.Drain())
}

func TestPickerGoto(t *testing.T) {
	var requested []int
	var fail error
	p := NewPicker(pagedUsers(&requested, &fail), "tok", nil)
	assert.ErrorIs(t, p.Goto(context.Background(), 0), ErrNoPrevPage)
	require.NoError(t, p.Goto(context.Background(), 2))
	assert.True(t, p.Listing().HasPrev)
}

func TestPickerDropsSupersededPage(t *testing.T) {
	for name, slowErr := range map[string]error{"success": nil, "failure": errors.New("timeout")} {
		t.Run(name, func(t *testing.T) {
			slow := make(chan struct{})
			started := make(chan struct{})
			fetch := func(ctx context.Context, token string, page int) (*models.Page[domain.User], error) {
				if page == 3 {
					close(started)
					<-slow
					if slowErr != nil {
						return nil, slowErr
					}
				}
				return &models.Page[domain.User]{
					Items:       []domain.User{{ID: int64(page)}},
					CurrentPage: page,
					LastPage:    5,
				}, nil
			}
			q := &notice.Queue{}
			p := NewPicker(fetch, "tok", q)
			ctx := context.Background()

			done := make(chan error, 1)
			go func() { done <- p.Goto(ctx, 3) }()
			<-started

			require.NoError(t, p.Goto(ctx, 2))
			close(slow)
			assert.ErrorIs(t, <-done, ErrSuperseded)

			l := p.Listing()
			assert.Equal(t, 2, l.Page)
			require.Len(t, l.Users, 1)
			assert.EqualValues(t, 2, l.Users[0].ID)
			assert.Empty(t, q.Drain())
		})
	}
}

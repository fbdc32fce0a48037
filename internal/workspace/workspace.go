// Package workspace keeps the per-session screen state of signed-in admins:
// list views, pending confirmations, the broadcast composer and queued
// notices. A workspace is created on the first protected page load for a
// credential and closed on logout, session rejection or idle eviction.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/punchamoorthee/p2pconsole/internal/action"
	"github.com/punchamoorthee/p2pconsole/internal/broadcast"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/listview"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

// Backend is the subset of the API client the screens read from.
type Backend interface {
	Bids(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Bid], error)
	Asks(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Ask], error)
	Peers(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Peer], error)
	Users(ctx context.Context, token string, page int) (*models.Page[domain.User], error)
	Broadcast(ctx context.Context, token, to, message string) (string, error)
}

type Workspace struct {
	Key     string
	Token   string
	Notices *notice.Queue

	Bids  *listview.View[domain.Bid]
	Asks  *listview.View[domain.Ask]
	Peers *listview.View[domain.Peer]

	Tracker  *action.Tracker
	Composer *broadcast.Composer
	Picker   *broadcast.Picker

	send broadcast.Sender

	mu       sync.Mutex
	flows    map[string]*action.Flow
	direct   map[int64]*broadcast.Composer
	lastSeen time.Time
	closed   bool
}

func flowKey(kind action.Kind, target int64) string {
	return string(kind) + ":" + strconv.FormatInt(target, 10)
}

// Flow returns the confirmation flow for kind on target, creating it if
// needed.
func (w *Workspace) Flow(kind action.Kind, target int64) *action.Flow {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := flowKey(kind, target)
	f, ok := w.flows[k]
	if !ok {
		f = action.NewFlow(kind, target)
		w.flows[k] = f
	}
	return f
}

// ForgetFlow removes a finished flow.
func (w *Workspace) ForgetFlow(kind action.Kind, target int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.flows, flowKey(kind, target))
}

// DirectComposer returns the composer locked to userID.
func (w *Workspace) DirectComposer(userID int64) *broadcast.Composer {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.direct[userID]
	if !ok {
		c = broadcast.NewDirectComposer(w.send, w.Token, w.Notices, userID)
		w.direct[userID] = c
	}
	return c
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Closed reports whether the workspace has been dropped.
func (w *Workspace) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Workspace) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.Bids.Close()
	w.Asks.Close()
	w.Peers.Close()
}

type Registry struct {
	backend  Backend
	ttl      time.Duration
	describe func(error) string
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*Workspace
}

type Option func(*Registry)

// WithDescribe sets how action errors become notice text.
func WithDescribe(fn func(error) string) Option {
	return func(r *Registry) { r.describe = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry evicts workspaces that have been idle for ttl. A zero ttl
// disables eviction.
func NewRegistry(b Backend, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		backend: b,
		ttl:     ttl,
		logger:  slog.Default(),
		now:     time.Now,
		items:   make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the workspace for token, creating it on first use.
func (r *Registry) Get(token string) (*Workspace, error) {
	key := credential.Credential{Token: token}.Key()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.items[key]; ok {
		ws.touch(now)
		return ws, nil
	}
	ws, err := r.build(key, token)
	if err != nil {
		return nil, err
	}
	ws.lastSeen = now
	r.items[key] = ws
	r.logger.Debug("workspace mounted", "workspace", key[:12])
	return ws, nil
}

// Drop closes and forgets the workspace for token. Results of requests
// still in flight are discarded.
func (r *Registry) Drop(token string) {
	key := credential.Credential{Token: token}.Key()
	r.mu.Lock()
	ws, ok := r.items[key]
	delete(r.items, key)
	r.mu.Unlock()
	if ok {
		ws.close()
		r.logger.Debug("workspace dropped", "workspace", key[:12])
	}
}

// Sweep evicts idle workspaces and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*Workspace
	for key, ws := range r.items {
		if ws.idleSince().Before(cutoff) {
			idle = append(idle, ws)
			delete(r.items, key)
		}
	}
	r.mu.Unlock()

	for _, ws := range idle {
		ws.close()
	}
	if len(idle) > 0 {
		r.logger.Info("evicted idle workspaces", "count", len(idle))
	}
	return len(idle)
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if r.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) build(key, token string) (*Workspace, error) {
	q := &notice.Queue{}
	ws := &Workspace{
		Key:     key,
		Token:   token,
		Notices: q,
		Tracker: action.NewTracker(),
		send:    r.backend.Broadcast,
		flows:   make(map[string]*action.Flow),
		direct:  make(map[int64]*broadcast.Composer),
	}

	var err error
	ws.Bids, err = listview.New(listview.Config[domain.Bid]{
		Name:     "bids",
		Statuses: domain.BidStatuses,
		Default:  domain.StatusPending,
		Fetch:    r.backend.Bids,
		Token:    token,
		Notices:  q,
		Describe: r.describe,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: bids view: %w", err)
	}
	ws.Asks, err = listview.New(listview.Config[domain.Ask]{
		Name:     "asks",
		Statuses: domain.AskStatuses,
		Default:  domain.StatusPending,
		Fetch:    r.backend.Asks,
		Token:    token,
		Notices:  q,
		Describe: r.describe,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: asks view: %w", err)
	}
	ws.Peers, err = listview.New(listview.Config[domain.Peer]{
		Name:        "peers",
		Statuses:    domain.PeerStatuses,
		Default:     domain.PeerAwaitingPayment,
		Fetch:       r.backend.Peers,
		Token:       token,
		Notices:     q,
		FetchFailed: "Failed to fetch peer data",
		Describe:    r.describe,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: peers view: %w", err)
	}

	ws.Composer = broadcast.NewComposer(r.backend.Broadcast, token, q)
	ws.Picker = broadcast.NewPicker(r.backend.Users, token, q)
	return ws, nil
}

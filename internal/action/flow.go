// Package action drives the confirm-then-send lifecycle of admin actions.
package action

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrReasonRequired = errors.New("action: reason required")
	ErrNotConfirming  = errors.New("action: no confirmation pending")
	ErrStaleRequest   = errors.New("action: confirmation does not match the pending request")
	ErrInFlight       = errors.New("action: request already in flight")
)

// Kind names what an action does to its target.
type Kind string

const (
	CancelBid Kind = "cancel-bid"
	CancelAsk Kind = "cancel-ask"
	Approve   Kind = "approve"
	Reject    Kind = "reject"
	Unpair    Kind = "unpair"
	Block     Kind = "block"
)

// Scope is the record family the action targets.
func (k Kind) Scope() string {
	switch k {
	case CancelBid:
		return "bid"
	case CancelAsk:
		return "ask"
	case Block:
		return "user"
	}
	return "peer"
}

// NeedsReason reports whether confirming requires a written reason.
func (k Kind) NeedsReason() bool { return k == Reject }

// Prompt is the confirmation question shown before the action is sent.
func (k Kind) Prompt() string {
	switch k {
	case CancelBid:
		return "Are you sure you want to cancel this bid?"
	case CancelAsk:
		return "Are you sure you want to cancel this ask?"
	case Approve:
		return "Are you sure you want to APPROVE this payment?"
	case Reject:
		return "Provide a reason for rejecting this payment."
	case Unpair:
		return "Are you sure you want to Unpair?"
	case Block:
		return "Are you sure you want to block this user?"
	}
	return "Are you sure?"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case CancelBid, CancelAsk, Approve, Reject, Unpair, Block:
		return true
	}
	return false
}

// Request is one confirmed intent. ID is unique per Begin.
type Request struct {
	ID       string
	Kind     Kind
	TargetID int64
	Reason   string
}

// RecordKey identifies the record a request targets.
func RecordKey(kind Kind, target int64) string {
	return kind.Scope() + ":" + strconv.FormatInt(target, 10)
}

type State int

const (
	Idle State = iota
	Confirming
	InFlight
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Confirming:
		return "confirming"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "idle"
}

// Flow is the state machine for one action on one record.
// Idle -> Confirming -> InFlight -> Succeeded | Failed. A failed flow is
// back to Idle and must be confirmed again.
type Flow struct {
	mu      sync.Mutex
	kind    Kind
	target  int64
	state   State
	pending Request
	lastErr error
}

func NewFlow(kind Kind, target int64) *Flow {
	return &Flow{kind: kind, target: target}
}

func (f *Flow) Kind() Kind        { return f.kind }
func (f *Flow) TargetID() int64   { return f.target }
func (f *Flow) RecordKey() string { return RecordKey(f.kind, f.target) }

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastErr is the error of the most recent failed attempt. It survives the
// next Begin and is cleared once an attempt succeeds.
func (f *Flow) LastErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Begin opens a confirmation. While one is already open the pending
// request is returned unchanged.
func (f *Flow) Begin() (Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case InFlight:
		return Request{}, ErrInFlight
	case Confirming:
		return f.pending, nil
	}
	f.state = Confirming
	f.pending = Request{ID: uuid.NewString(), Kind: f.kind, TargetID: f.target}
	return f.pending, nil
}

// Pending returns the request awaiting confirmation.
func (f *Flow) Pending() (Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.state == Confirming
}

// Decline closes the confirmation without sending anything.
func (f *Flow) Decline() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Confirming {
		return ErrNotConfirming
	}
	f.state = Idle
	f.pending = Request{}
	return nil
}

// Confirm moves the flow in flight. On a validation error the flow stays
// in Confirming.
func (f *Flow) Confirm(id, reason string) (Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case InFlight:
		return Request{}, ErrInFlight
	case Confirming:
	default:
		return Request{}, ErrNotConfirming
	}
	if id != f.pending.ID {
		return Request{}, ErrStaleRequest
	}
	reason = strings.TrimSpace(reason)
	if f.kind.NeedsReason() && reason == "" {
		return Request{}, ErrReasonRequired
	}
	f.pending.Reason = reason
	f.state = InFlight
	return f.pending, nil
}

// Resolve records the outcome of the in-flight request and returns the
// resulting terminal state.
func (f *Flow) Resolve(err error) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != InFlight {
		return f.state
	}
	f.pending = Request{}
	if err != nil {
		f.lastErr = err
		f.state = Idle
		return Failed
	}
	f.lastErr = nil
	f.state = Succeeded
	return Succeeded
}

// Tracker allows at most one in-flight request per record key.
type Tracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{inflight: make(map[string]struct{})}
}

// Acquire reserves key. The returned release must be called once the
// request has resolved.
func (t *Tracker) Acquire(key string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[key]; busy {
		return nil, ErrInFlight
	}
	t.inflight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.inflight, key)
			t.mu.Unlock()
		})
	}, nil
}

func (t *Tracker) Busy(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.inflight[key]
	return busy
}

// Exec performs a confirmed request and returns the backend message.
type Exec func(ctx context.Context, req Request) (string, error)

// Run confirms the pending request identified by id, sends it through exec
// while holding the record key, and resolves the flow with the outcome.
func Run(ctx context.Context, f *Flow, t *Tracker, id, reason string, exec Exec) (string, error) {
	release, err := t.Acquire(f.RecordKey())
	if err != nil {
		return "", err
	}
	defer release()

	req, err := f.Confirm(id, reason)
	if err != nil {
		return "", err
	}
	msg, err := exec(ctx, req)
	f.Resolve(err)
	return msg, err
}

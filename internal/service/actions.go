package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/p2pconsole/internal/action"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/store"
)

var ErrUnknownKind = errors.New("unknown action kind")

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "console_actions_total",
	Help: "Admin actions sent to the backend, labeled by kind and outcome",
}, []string{"kind", "outcome"})

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Backend is the subset of the API client that changes records.
type Backend interface {
	CancelBid(ctx context.Context, token string, id int64) (string, error)
	CancelAsk(ctx context.Context, token string, id int64) (string, error)
	DecidePayment(ctx context.Context, token string, peerID int64, decision models.PaymentDecision) (string, error)
	Unpair(ctx context.Context, token string, peerID int64) (string, error)
	BlockUser(ctx context.Context, token string, userID int64) (string, error)
}

// Actions sends confirmed requests to the backend and records the outcome.
type Actions struct {
	backend Backend
	audit   store.Recorder
	logger  *slog.Logger
}

func NewActions(b Backend, audit store.Recorder, logger *slog.Logger) *Actions {
	if audit == nil {
		audit = store.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{backend: b, audit: audit, logger: logger}
}

// Execute performs req on behalf of admin and returns the backend message.
func (a *Actions) Execute(ctx context.Context, token string, admin domain.Admin, req action.Request) (string, error) {
	start := time.Now()
	msg, err := a.dispatch(ctx, token, req)

	outcome := OutcomeSucceeded
	if err != nil {
		outcome = OutcomeFailed
	}
	actionsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
	a.logger.Info("admin action",
		"request_id", req.ID,
		"kind", req.Kind,
		"target_id", req.TargetID,
		"admin_id", admin.ID,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if errors.Is(err, ErrUnknownKind) {
		return "", err
	}

	entry := domain.AuditEntry{
		RequestID: req.ID,
		AdminID:   admin.ID,
		Kind:      string(req.Kind),
		TargetID:  req.TargetID,
		Reason:    req.Reason,
		Outcome:   outcome,
		Message:   msg,
	}
	if err != nil {
		entry.Message = err.Error()
	}
	// The action already happened upstream; a failed audit write must not
	// turn it into a failure.
	if auditErr := a.audit.Record(context.WithoutCancel(ctx), entry); auditErr != nil {
		a.logger.Error("audit write failed", "request_id", req.ID, "error", auditErr)
	}
	return msg, err
}

func (a *Actions) dispatch(ctx context.Context, token string, req action.Request) (string, error) {
	switch req.Kind {
	case action.CancelBid:
		return a.backend.CancelBid(ctx, token, req.TargetID)
	case action.CancelAsk:
		return a.backend.CancelAsk(ctx, token, req.TargetID)
	case action.Approve:
		return a.backend.DecidePayment(ctx, token, req.TargetID, models.PaymentDecision{Status: models.PaymentApproved})
	case action.Reject:
		return a.backend.DecidePayment(ctx, token, req.TargetID, models.PaymentDecision{Status: models.PaymentDeclined, Reason: req.Reason})
	case action.Unpair:
		return a.backend.Unpair(ctx, token, req.TargetID)
	case action.Block:
		return a.backend.BlockUser(ctx, token, req.TargetID)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
}

// Recent lists the latest audit entries.
func (a *Actions) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return a.audit.Recent(ctx, limit)
}

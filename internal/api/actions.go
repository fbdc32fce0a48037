package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/p2pconsole/internal/action"
	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/guard"
	"github.com/punchamoorthee/p2pconsole/internal/listview"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
	"github.com/punchamoorthee/p2pconsole/internal/workspace"
)

// Describe turns an action error into the text shown to the operator.
func Describe(err error) string {
	switch {
	case errors.Is(err, action.ErrReasonRequired):
		return "Please provide a reason for rejection."
	case errors.Is(err, action.ErrInFlight), errors.Is(err, listview.ErrBusy):
		return "This action is already in progress."
	case errors.Is(err, action.ErrNotConfirming), errors.Is(err, action.ErrStaleRequest):
		return "This confirmation has expired. Please try again."
	}
	return backend.Describe(err, "Action failed")
}

// successText is shown when the backend confirms without a message.
func successText(k action.Kind) string {
	switch k {
	case action.CancelBid:
		return "Bid cancelled successfully"
	case action.CancelAsk:
		return "Ask cancelled successfully"
	}
	return "Action completed successfully!"
}

type confirmData struct {
	Request     action.Request
	Prompt      string
	NeedsReason bool
	Action      string
	Back        string
	Retry       string
}

// perform runs exec against the screen that owns the record.
type perform func(ctx context.Context, exec func(context.Context) (string, error)) error

// act drives one action endpoint through its confirmation:
//
//	no confirm field   show the confirmation page
//	confirm=no         decline and go back
//	confirm=yes        send the request identified by the request field
//
// The browser returns to back, or to done once the action succeeded.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, s guard.Session, ws *workspace.Workspace, kind action.Kind, target int64, back, done string, run perform) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	flow := ws.Flow(kind, target)

	switch r.PostForm.Get("confirm") {
	case "":
		req, err := flow.Begin()
		if err != nil {
			ws.Notices.Push(notice.Fail(Describe(err)))
			redirect(w, r, back)
			return
		}
		h.confirm(w, r, ws, http.StatusOK, flow, req, back)
		return
	case "no":
		if err := flow.Decline(); err == nil {
			ws.ForgetFlow(kind, target)
		}
		redirect(w, r, back)
		return
	}

	id, reason := r.PostForm.Get("request"), r.PostForm.Get("reason")
	err := run(r.Context(), func(ctx context.Context) (string, error) {
		msg, err := action.Run(ctx, flow, ws.Tracker, id, reason, func(ctx context.Context, req action.Request) (string, error) {
			return h.actions.Execute(ctx, s.Credential.Token, s.Principal.Admin, req)
		})
		if err == nil && msg == "" {
			msg = successText(kind)
		}
		return msg, err
	})

	switch {
	case err == nil:
		ws.ForgetFlow(kind, target)
		redirect(w, r, done)
		return
	case h.expired(w, r, s, err):
		return
	case errors.Is(err, action.ErrReasonRequired):
		// Still confirming; ask again with the notice.
		if req, ok := flow.Pending(); ok {
			h.confirm(w, r, ws, http.StatusUnprocessableEntity, flow, req, back)
			return
		}
	}
	redirect(w, r, back)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, status int, flow *action.Flow, req action.Request, back string) {
	d := confirmData{
		Request:     req,
		Prompt:      req.Kind.Prompt(),
		NeedsReason: req.Kind.NeedsReason(),
		Action:      r.URL.Path,
		Back:        back,
	}
	if err := flow.LastErr(); err != nil {
		d.Retry = Describe(err)
	}
	h.render(w, r, status, "confirm", ws, page{Title: "Confirm", Data: d})
}

// direct is used for records that are not part of a list screen.
func direct(ws *workspace.Workspace) perform {
	return func(ctx context.Context, exec func(context.Context) (string, error)) error {
		msg, err := exec(ctx)
		if err != nil {
			ws.Notices.Push(notice.Fail(Describe(err)))
			return err
		}
		ws.Notices.Push(notice.Ok(msg))
		return nil
	}
}

func (h *Handler) cancelBid(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	h.act(w, r, s, ws, action.CancelBid, id, "/check-bids", "/check-bids", func(ctx context.Context, exec func(context.Context) (string, error)) error {
		return ws.Bids.Act(ctx, id, exec)
	})
}

func (h *Handler) cancelAsk(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	h.act(w, r, s, ws, action.CancelAsk, id, "/check-asks", "/check-asks", func(ctx context.Context, exec func(context.Context) (string, error)) error {
		return ws.Asks.Act(ctx, id, exec)
	})
}

var peerDecisions = map[string]action.Kind{
	"approve": action.Approve,
	"reject":  action.Reject,
	"unpair":  action.Unpair,
}

// decidePeer approves, rejects or unpairs a peer. The detail panel stays
// open until the action succeeds.
func (h *Handler) decidePeer(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	kind := peerDecisions[mux.Vars(r)["decision"]]
	h.act(w, r, s, ws, kind, id, peerPanel(id), "/check-peers", func(ctx context.Context, exec func(context.Context) (string, error)) error {
		return ws.Peers.Act(ctx, id, exec)
	})
}

// blockPeerUser blocks the bidder or the asker of a displayed peer.
func (h *Handler) blockPeerUser(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	p, found := ws.Peers.Find(id)
	if !found {
		ws.Notices.Push(notice.Fail("Peer not found. Search again and retry."))
		redirect(w, r, "/check-peers")
		return
	}
	user := p.BidUser.ID
	if mux.Vars(r)["role"] == "asker" {
		user = p.AskUser.ID
	}
	h.act(w, r, s, ws, action.Block, user, peerPanel(id), "/check-peers", func(ctx context.Context, exec func(context.Context) (string, error)) error {
		return ws.Peers.Act(ctx, id, exec)
	})
}

func peerPanel(id int64) string {
	return "/check-peers?peer=" + strconv.FormatInt(id, 10)
}

func (h *Handler) blockUser(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	back := "/user-details/" + strconv.FormatInt(id, 10)
	h.act(w, r, s, ws, action.Block, id, back, back, direct(ws))
}

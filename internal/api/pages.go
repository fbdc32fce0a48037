package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/broadcast"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/guard"
	"github.com/punchamoorthee/p2pconsole/internal/listview"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
	"github.com/punchamoorthee/p2pconsole/internal/workspace"
)

const auditPageSize = 50

type listData[R listview.Record] struct {
	Path string
	Kind string
	listview.Snapshot[R]
}

type peersData struct {
	listData[domain.Peer]
	// Panel is the record shown in the detail panel.
	Panel *domain.Peer
}

type orderData struct {
	Kind  string
	Order domain.Order
	Extra [][2]string
}

type usersData struct {
	Users   []domain.User
	Current int
	HasPrev bool
	HasNext bool
	Prev    int
	Next    int
	Links   []listview.PageLink
	Total   int64
}

type userData struct {
	Details *domain.UserDetails
	Form    broadcast.Form
	Blocked bool
}

type botcastData struct {
	Form    broadcast.Form
	Picking bool
	Picker  broadcast.Listing
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "dashboard", ws, page{Title: "Dashboard", Nav: "dashboard", Data: s.Principal.Stats})
}

// applyQuery maps the list screen query onto view operations: status
// selects, search fetches page one and page moves within the last search.
func applyQuery[R listview.Record](ctx context.Context, v *listview.View[R], q url.Values) error {
	if raw := q.Get("status"); raw != "" {
		if err := v.Select(domain.Status(raw)); err != nil {
			return err
		}
	}
	switch {
	case q.Get("search") != "":
		return v.Search(ctx)
	case q.Get("page") != "":
		n, err := strconv.Atoi(q.Get("page"))
		if err != nil {
			return listview.ErrPageOutOfRange
		}
		return v.ChangePage(ctx, n)
	}
	return nil
}

// listStatus turns the outcome of applyQuery into the response status. It
// reports false when the session was ended instead.
func (h *Handler) listStatus(w http.ResponseWriter, r *http.Request, s guard.Session, ws *workspace.Workspace, err error) (int, bool) {
	switch {
	case err == nil:
		return http.StatusOK, true
	case h.expired(w, r, s, err):
		return 0, false
	case errors.Is(err, listview.ErrUnknownStatus):
		ws.Notices.Push(notice.Fail("Unknown status filter."))
		return http.StatusBadRequest, true
	}
	// Fetch failures have queued their own notice. Paging out of range or
	// before a search leaves the screen unchanged.
	return http.StatusOK, true
}

func (h *Handler) bids(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	status, ok := h.listStatus(w, r, s, ws, applyQuery(r.Context(), ws.Bids, r.URL.Query()))
	if !ok {
		return
	}
	h.render(w, r, status, "orders", ws, page{
		Title: "Bid Status",
		Nav:   "bids",
		Data:  listData[domain.Bid]{Path: "/check-bids", Kind: "bid", Snapshot: ws.Bids.Snapshot()},
	})
}

func (h *Handler) asks(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	status, ok := h.listStatus(w, r, s, ws, applyQuery(r.Context(), ws.Asks, r.URL.Query()))
	if !ok {
		return
	}
	h.render(w, r, status, "orders", ws, page{
		Title: "Ask Status",
		Nav:   "asks",
		Data:  listData[domain.Ask]{Path: "/check-asks", Kind: "ask", Snapshot: ws.Asks.Snapshot()},
	})
}

// peers renders the peers list. ?peer=<id> opens the detail panel of a
// displayed record.
func (h *Handler) peers(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	status, ok := h.listStatus(w, r, s, ws, applyQuery(r.Context(), ws.Peers, q))
	if !ok {
		return
	}
	data := peersData{listData: listData[domain.Peer]{Path: "/check-peers", Kind: "peer", Snapshot: ws.Peers.Snapshot()}}
	if id, err := strconv.ParseInt(q.Get("peer"), 10, 64); err == nil {
		if p, found := ws.Peers.Find(id); found {
			data.Panel = &p
		}
	}
	h.render(w, r, status, "peers", ws, page{Title: "Peer Status", Nav: "peers", Data: data})
}

func (h *Handler) bidDetail(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	bid, err := h.backend.Bid(r.Context(), s.Credential.Token, id)
	if err != nil {
		h.detailFailed(w, r, s, ws, err, "Failed to fetch bid details")
		return
	}
	data := orderData{Kind: "bid", Order: bid.Order}
	if bid.PlanID != 0 {
		data.Extra = append(data.Extra, [2]string{"Plan ID", strconv.FormatInt(bid.PlanID, 10)})
	}
	if bid.InvestID != 0 {
		data.Extra = append(data.Extra, [2]string{"Invest ID", strconv.FormatInt(bid.InvestID, 10)})
	}
	h.render(w, r, http.StatusOK, "order", ws, page{Title: "Bid #" + strconv.FormatInt(id, 10), Nav: "bids", Data: data})
}

func (h *Handler) askDetail(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	ask, err := h.backend.Ask(r.Context(), s.Credential.Token, id)
	if err != nil {
		h.detailFailed(w, r, s, ws, err, "Failed to fetch ask details")
		return
	}
	data := orderData{Kind: "ask", Order: ask.Order}
	if ask.BepAddress != "" {
		data.Extra = append(data.Extra, [2]string{"BEP Address", ask.BepAddress})
	}
	h.render(w, r, http.StatusOK, "order", ws, page{Title: "Ask #" + strconv.FormatInt(id, 10), Nav: "asks", Data: data})
}

// detailFailed handles a failed single record fetch: an expired session
// ends, a missing record is a 404 and anything else shows the error page.
func (h *Handler) detailFailed(w http.ResponseWriter, r *http.Request, s guard.Session, ws *workspace.Workspace, err error, fallback string) {
	if h.expired(w, r, s, err) {
		return
	}
	var rej *backend.RejectionError
	if errors.As(err, &rej) && rej.Status == http.StatusNotFound {
		h.notFound(w, r)
		return
	}
	h.logger.Warn("detail fetch failed", "path", r.URL.Path, "error", err)
	ws.Notices.Push(notice.Fail(backend.Describe(err, fallback)))
	h.render(w, r, http.StatusBadGateway, "error", ws, page{Title: "Error"})
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		n = 1
	}
	res, err := h.backend.Users(r.Context(), s.Credential.Token, n)
	if err != nil {
		if h.expired(w, r, s, err) {
			return
		}
		ws.Notices.Push(notice.Fail(backend.Describe(err, "Failed to fetch users")))
		h.render(w, r, http.StatusOK, "users", ws, page{Title: "Users", Nav: "users", Data: usersData{Current: n}})
		return
	}
	current, last := max(res.CurrentPage, 1), max(res.LastPage, 1)
	hasNext := res.HasNext()
	if hasNext && last <= current {
		last = current + 1
	}
	h.render(w, r, http.StatusOK, "users", ws, page{Title: "Users", Nav: "users", Data: usersData{
		Users:   res.Items,
		Current: current,
		HasPrev: current > 1,
		HasNext: hasNext,
		Prev:    current - 1,
		Next:    current + 1,
		Links:   listview.Window(current, last),
		Total:   int64(res.Total),
	}})
}

func (h *Handler) userDetails(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	details, err := h.backend.UserDetails(r.Context(), s.Credential.Token, id)
	if err != nil {
		h.detailFailed(w, r, s, ws, err, "Failed to fetch user details")
		return
	}
	h.render(w, r, http.StatusOK, "user", ws, page{
		Title: "User Details",
		Nav:   "users",
		Data: userData{
			Details: details,
			Form:    ws.DirectComposer(id).Form(),
			Blocked: details.Profile.Status != "" && details.Profile.Status != "active",
		},
	})
}

// messageUser sends a bot message to one user. The user must have linked
// a telegram account.
func (h *Handler) messageUser(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r)
	back := "/user-details/" + strconv.FormatInt(id, 10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	details, err := h.backend.UserDetails(r.Context(), s.Credential.Token, id)
	if err != nil {
		h.detailFailed(w, r, s, ws, err, "Failed to fetch user details")
		return
	}
	if !details.Profile.Reachable() {
		ws.Notices.Push(notice.Fail("This user has not linked a Telegram account."))
		redirect(w, r, back)
		return
	}

	c := ws.DirectComposer(id)
	c.SetMessage(r.PostForm.Get("message"))
	if err := c.Submit(r.Context()); err != nil && h.submitFailed(w, r, s, ws, err) {
		return
	}
	redirect(w, r, back)
}

func (h *Handler) botcastPage(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if to := q.Get("to"); to != "" {
		if err := ws.Composer.SetTarget(to); err != nil {
			ws.Notices.Push(notice.Fail("Select a valid user."))
		}
	}

	var err error
	picking := q.Get("pick") != ""
	switch q.Get("pick") {
	case "next":
		err = ws.Picker.Next(r.Context())
	case "prev":
		err = ws.Picker.Prev(r.Context())
	case "":
	default:
		if n, convErr := strconv.Atoi(q.Get("pick")); convErr == nil && n > 0 {
			err = ws.Picker.Goto(r.Context(), n)
		} else if !ws.Picker.Listing().Loaded {
			err = ws.Picker.Load(r.Context())
		}
	}
	if err != nil && h.expired(w, r, s, err) {
		return
	}

	h.render(w, r, http.StatusOK, "botcast", ws, page{
		Title: "Bot Cast",
		Nav:   "botcast",
		Data:  botcastData{Form: ws.Composer.Form(), Picking: picking, Picker: ws.Picker.Listing()},
	})
}

func (h *Handler) botcast(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	to := r.PostForm.Get("to")
	if to == "" {
		to = ws.Composer.Form().To
	}
	if err := ws.Composer.SetTarget(to); err != nil {
		ws.Notices.Push(notice.Fail("Select a valid user."))
		redirect(w, r, "/botcast")
		return
	}
	ws.Composer.SetMessage(r.PostForm.Get("message"))
	if err := ws.Composer.Submit(r.Context()); err != nil && h.submitFailed(w, r, s, ws, err) {
		return
	}
	redirect(w, r, "/botcast")
}

// submitFailed handles composer errors that are not shown inline. It
// reports true when the response has been written.
func (h *Handler) submitFailed(w http.ResponseWriter, r *http.Request, s guard.Session, ws *workspace.Workspace, err error) bool {
	if errors.Is(err, broadcast.ErrSending) {
		ws.Notices.Push(notice.Note(msgStillSending))
		return false
	}
	return h.expired(w, r, s, err)
}

func (h *Handler) staticPage(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ws, ok := h.session(w, r)
		if !ok {
			return
		}
		h.render(w, r, http.StatusOK, name, ws, page{Title: title, Nav: name})
	}
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.session(w, r)
	if !ok {
		return
	}
	entries, err := h.actions.Recent(r.Context(), auditPageSize)
	if err != nil {
		h.logger.Error("audit read failed", "error", err)
		ws.Notices.Push(notice.Fail("Failed to load the audit log"))
	}
	h.render(w, r, http.StatusOK, "audit", ws, page{Title: "Audit log", Nav: "audit", Data: entries})
}

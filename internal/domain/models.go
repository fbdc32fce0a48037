package domain

import (
	"time"
)

// Status is a record status as reported by the backend. Each record type
// accepts a closed set of statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaired    Status = "paired"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusReversed only applies to asks.
	StatusReversed Status = "reversed"

	PeerAwaitingPayment  Status = "awaiting_payment"
	PeerPaymentSubmitted Status = "payment_submitted"
	PeerPaymentConfirmed Status = "payment_confirmed"
	PeerPaymentDeclined  Status = "payment_declined"
)

var (
	BidStatuses  = []Status{StatusPending, StatusPaired, StatusCompleted, StatusFailed, StatusCancelled}
	AskStatuses  = []Status{StatusPending, StatusPaired, StatusCompleted, StatusFailed, StatusCancelled, StatusReversed}
	PeerStatuses = []Status{PeerAwaitingPayment, PeerPaymentSubmitted, PeerPaymentConfirmed, PeerPaymentDeclined}
)

var statusLabels = map[Status]string{
	StatusPending:        "Pending",
	StatusPaired:         "Paired",
	StatusCompleted:      "Completed",
	StatusFailed:         "Failed",
	StatusCancelled:      "Cancelled",
	StatusReversed:       "Reversed",
	PeerAwaitingPayment:  "Awaiting Payment",
	PeerPaymentSubmitted: "Payment Submitted",
	PeerPaymentConfirmed: "Payment Confirmed",
	PeerPaymentDeclined:  "Payment Declined",
}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Order is the shared shape of bids and asks.
type Order struct {
	ID        int64     `json:"id"`
	Amount    float64   `json:"amount"`
	Trx       string    `json:"trx"`
	Status    Status    `json:"status"`
	CreatedAt Timestamp `json:"created_at"`
}

func (o Order) RecordID() int64      { return o.ID }
func (o Order) RecordStatus() Status { return o.Status }

// Cancellable reports whether the backend accepts a cancel request for the order.
func (o Order) Cancellable() bool { return o.Status == StatusPending }

// Bid is a buy-side order.
type Bid struct {
	Order
	PlanID   int64 `json:"plan_id,omitempty"`
	InvestID int64 `json:"invest_id,omitempty"`
}

// Ask is a sell-side order.
type Ask struct {
	Order
	BepAddress string `json:"bep_address,omitempty"`
}

// UserRef is the compact user embedded in peer records.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PeerAsk is the ask side of a matched pair.
type PeerAsk struct {
	Amount       float64 `json:"amount"`
	PairedAmount float64 `json:"paired_amount"`
	BepAddress   string  `json:"bep_address"`
	BalSource    string  `json:"bal_source"`
	BalBefore    float64 `json:"bal_before"`
	BalAfter     float64 `json:"bal_after"`
	Trx          string  `json:"trx"`
}

// PeerBid is the bid side of a matched pair.
type PeerBid struct {
	Amount       float64 `json:"amount"`
	PairedAmount float64 `json:"paired_amount"`
	PlanID       int64   `json:"plan_id"`
	InvestID     int64   `json:"invest_id"`
	Trx          string  `json:"trx"`
}

// Peer is a matched bid/ask pair awaiting or undergoing payment settlement.
type Peer struct {
	ID            int64     `json:"id"`
	Reference     string    `json:"reference"`
	Status        Status    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PairAmount    float64   `json:"pair_amount"`
	DueAt         Timestamp `json:"due_at"`
	PaidAt        Timestamp `json:"paid_at"`
	ConfirmedAt   Timestamp `json:"confirmed_at"`
	HashTag       string    `json:"hash_tag"`
	BidUser       UserRef   `json:"bid_user"`
	AskUser       UserRef   `json:"ask_user"`
	Ask           PeerAsk   `json:"ask"`
	Bid           PeerBid   `json:"bid"`
}

func (p Peer) RecordID() int64      { return p.ID }
func (p Peer) RecordStatus() Status { return p.Status }

// User is a platform user as listed by the backend.
type User struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Firstname        string    `json:"firstname,omitempty"`
	Lastname         string    `json:"lastname,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Balance          string    `json:"balance,omitempty"`
	Earning          string    `json:"earning,omitempty"`
	TelegramID       string    `json:"telegram_id,omitempty"`
	BepAddress       string    `json:"bep_address,omitempty"`
	Country          string    `json:"country,omitempty"`
	EmailVerified    int       `json:"email_verified,omitempty"`
	TelegramVerified int       `json:"telegram_verified,omitempty"`
	RefCode          string    `json:"ref_code,omitempty"`
	Referral         string    `json:"referral,omitempty"`
	Status           string    `json:"status,omitempty"`
	CreatedAt        Timestamp `json:"created_at"`
}

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	switch {
	case u.Firstname != "" && u.Lastname != "":
		return u.Firstname + " " + u.Lastname
	case u.Firstname != "":
		return u.Firstname
	}
	return u.Username
}

// Reachable reports whether a broadcast can be delivered to the user.
func (u User) Reachable() bool { return u.TelegramID != "" }

// UserDetails is the per-user summary shown on the user details screen.
type UserDetails struct {
	Profile     User    `json:"profile"`
	Bids        int64   `json:"bids"`
	Asks        int64   `json:"asks"`
	SuccessBids int64   `json:"success_bids"`
	SuccessAsks int64   `json:"success_asks"`
	SumBids     float64 `json:"sum_bids"`
	SumAsks     float64 `json:"sum_asks"`
}

// Admin is the signed-in operator.
type Admin struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Stats are the platform totals returned alongside the admin on session validation.
type Stats struct {
	Users       int64   `json:"users"`
	ActiveUsers int64   `json:"active_users"`
	Bids        int64   `json:"bids"`
	Asks        int64   `json:"asks"`
	SumBids     float64 `json:"sum_bids"`
	SumAsks     float64 `json:"sum_asks"`
	SuccessBids int64   `json:"success_bids"`
	SuccessAsks int64   `json:"success_asks"`
}

// BidSuccessRate is the percentage of bids that completed.
func (s Stats) BidSuccessRate() float64 { return rate(s.SuccessBids, s.Bids) }

// AskSuccessRate is the percentage of asks that completed.
func (s Stats) AskSuccessRate() float64 { return rate(s.SuccessAsks, s.Asks) }

// Volume is the combined bid and ask volume.
func (s Stats) Volume() float64 { return s.SumBids + s.SumAsks }

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Principal is the authenticated context produced by a successful session validation.
type Principal struct {
	Admin Admin
	Stats Stats
}

// AuditEntry records the outcome of one admin action.
type AuditEntry struct {
	RequestID string    `json:"request_id"`
	AdminID   int64     `json:"admin_id"`
	Kind      string    `json:"kind"`
	TargetID  int64     `json:"target_id"`
	Reason    string    `json:"reason,omitempty"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

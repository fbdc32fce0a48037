package models

import "encoding/json"

// Envelope is the response wrapper every backend endpoint returns.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Token is only populated by the login endpoint.
	Token string `json:"token,omitempty"`
}

// Page is one page of a paginated collection.
type Page[T any] struct {
	Items       []T    `json:"data"`
	CurrentPage int    `json:"current_page"`
	LastPage    int    `json:"last_page"`
	PerPage     int    `json:"per_page"`
	Total       int    `json:"total"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	NextPageURL string `json:"next_page_url"`
	PrevPageURL string `json:"prev_page_url"`
}

// HasNext reports whether another page follows. Either a next link or a
// last page beyond the current one is enough.
func (p *Page[T]) HasNext() bool {
	return p.NextPageURL != "" || p.CurrentPage < p.LastPage
}

// LoginRequest is the payload posted to the login endpoint.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// RegisterRequest is the payload posted to the register endpoint.
type RegisterRequest struct {
	Firstname            string `json:"firstname"`
	Lastname             string `json:"lastname"`
	Username             string `json:"username"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// OTPRequest submits a one-time code for the current token.
type OTPRequest struct {
	Code string `json:"otp"`
}

// PaymentDecision approves or declines a peer payment.
type PaymentDecision struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	PaymentApproved = "approved"
	PaymentDeclined = "declined"
)

// BroadcastRequest sends a bot message to one user or to everyone.
type BroadcastRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// BroadcastAll is the target value that addresses every user.
const BroadcastAll = "all"

// DashboardData is the payload of the session validation endpoint.
type DashboardData struct {
	Admin json.RawMessage `json:"admin"`
	Stats json.RawMessage `json:"stats"`
}

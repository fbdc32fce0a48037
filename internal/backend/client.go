package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
)

// VerificationRequiredMessage is the dashboard message that signals the
// admin still has to link a telegram account.
const VerificationRequiredMessage = "Telegram Id Verification Required."

const maxBodyBytes = 4 << 20

// Client talks to the platform backend API.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New builds a client for baseURL. Each call is bounded by timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend: base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Validation is the outcome of a dashboard call.
type Validation struct {
	Principal            domain.Principal
	VerificationRequired bool
}

func (c *Client) Login(ctx context.Context, email, password, device string) (*models.LoginResponse, error) {
	env, err := c.do(ctx, "login", http.MethodPost, "login", "", models.LoginRequest{
		Email:      email,
		Password:   password,
		DeviceName: device,
	})
	if err != nil {
		return nil, err
	}
	if env.Token == "" {
		return nil, &RejectionError{Status: http.StatusOK, Message: "Login failed"}
	}
	return &models.LoginResponse{Token: env.Token, Message: env.Message}, nil
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (string, error) {
	env, err := c.do(ctx, "register", http.MethodPost, "register", "", req)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) VerifyOTP(ctx context.Context, token, code string) (string, error) {
	env, err := c.do(ctx, "verify-otp", http.MethodPost, "verify-otp", token, models.OTPRequest{Code: code})
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// Logout revokes the token upstream.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, "logout", http.MethodPost, "logout", token, nil)
	return err
}

// Dashboard validates the token and returns the signed-in admin with the
// platform totals.
func (c *Client) Dashboard(ctx context.Context, token string) (*Validation, error) {
	start := time.Now()
	status, env, err := c.roundTrip(ctx, http.MethodGet, "dashboard", token, nil)
	if err == nil && status >= 200 && status < 300 && env.Message == VerificationRequiredMessage {
		c.observe("dashboard", start, nil)
		return &Validation{VerificationRequired: true}, nil
	}
	if err == nil {
		err = check(status, env)
	}
	var v *Validation
	if err == nil {
		v, err = decodeValidation(env.Data)
	}
	c.observe("dashboard", start, err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValidation(data json.RawMessage) (*Validation, error) {
	var payload models.DashboardData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backend: decode dashboard: %w: %w", ErrTransport, err)
	}
	v := &Validation{}
	if len(payload.Admin) > 0 {
		if err := json.Unmarshal(payload.Admin, &v.Principal.Admin); err != nil {
			return nil, fmt.Errorf("backend: decode admin: %w: %w", ErrTransport, err)
		}
	}
	// Totals sit beside the admin object in the payload.
	if err := json.Unmarshal(data, &v.Principal.Stats); err != nil {
		return nil, fmt.Errorf("backend: decode stats: %w: %w", ErrTransport, err)
	}
	return v, nil
}

func (c *Client) Bids(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Bid], error) {
	return fetchPage[domain.Bid](ctx, c, "bids", pagePath("bids/"+url.PathEscape(string(status)), page), token)
}

func (c *Client) Asks(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Ask], error) {
	return fetchPage[domain.Ask](ctx, c, "asks", pagePath("asks/"+url.PathEscape(string(status)), page), token)
}

func (c *Client) Peers(ctx context.Context, token string, status domain.Status, page int) (*models.Page[domain.Peer], error) {
	return fetchPage[domain.Peer](ctx, c, "peers", pagePath("peers/"+url.PathEscape(string(status)), page), token)
}

func (c *Client) Users(ctx context.Context, token string, page int) (*models.Page[domain.User], error) {
	return fetchPage[domain.User](ctx, c, "users", pagePath("users", page), token)
}

func (c *Client) Bid(ctx context.Context, token string, id int64) (*domain.Bid, error) {
	return fetchOne[domain.Bid](ctx, c, "bid-details", "bid-details/"+itoa(id), token)
}

func (c *Client) Ask(ctx context.Context, token string, id int64) (*domain.Ask, error) {
	return fetchOne[domain.Ask](ctx, c, "ask-details", "ask-details/"+itoa(id), token)
}

func (c *Client) UserDetails(ctx context.Context, token string, id int64) (*domain.UserDetails, error) {
	return fetchOne[domain.UserDetails](ctx, c, "user-details", "user-details/"+itoa(id), token)
}

func (c *Client) CancelBid(ctx context.Context, token string, id int64) (string, error) {
	return c.command(ctx, "cancel-bid", http.MethodGet, "cancel-bid/"+itoa(id), token, nil)
}

func (c *Client) CancelAsk(ctx context.Context, token string, id int64) (string, error) {
	return c.command(ctx, "cancel-ask", http.MethodGet, "cancel-ask/"+itoa(id), token, nil)
}

func (c *Client) DecidePayment(ctx context.Context, token string, peerID int64, decision models.PaymentDecision) (string, error) {
	return c.command(ctx, "approve-payment", http.MethodPost, "approve-payment/"+itoa(peerID), token, decision)
}

func (c *Client) Unpair(ctx context.Context, token string, peerID int64) (string, error) {
	return c.command(ctx, "unpair-peering", http.MethodGet, "unpair-peering/"+itoa(peerID), token, nil)
}

func (c *Client) BlockUser(ctx context.Context, token string, userID int64) (string, error) {
	return c.command(ctx, "user-status-update", http.MethodGet, "user-status-update/"+itoa(userID)+"/blocked", token, nil)
}

// Broadcast sends a bot message. to is models.BroadcastAll or a user id.
func (c *Client) Broadcast(ctx context.Context, token, to, message string) (string, error) {
	return c.command(ctx, "bot-cast", http.MethodPost, "bot-cast", token, models.BroadcastRequest{To: to, Message: message})
}

func (c *Client) command(ctx context.Context, endpoint, method, path, token string, body any) (string, error) {
	env, err := c.do(ctx, endpoint, method, path, token, body)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func fetchPage[T any](ctx context.Context, c *Client, endpoint, path, token string) (*models.Page[T], error) {
	env, err := c.do(ctx, endpoint, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	var page models.Page[T]
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return nil, fmt.Errorf("backend: decode %s: %w: %w", endpoint, ErrTransport, err)
		}
	}
	if page.CurrentPage < 1 {
		page.CurrentPage = 1
	}
	if page.LastPage < 1 {
		page.LastPage = 1
	}
	return &page, nil
}

func fetchOne[T any](ctx context.Context, c *Client, endpoint, path, token string) (*T, error) {
	env, err := c.do(ctx, endpoint, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("backend: decode %s: %w: %w", endpoint, ErrTransport, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path, token string, body any) (*models.Envelope, error) {
	start := time.Now()
	status, env, err := c.roundTrip(ctx, method, path, token, body)
	if err == nil {
		err = check(status, env)
	}
	c.observe(endpoint, start, err)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	outcome := outcomeOf(err)
	upstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("backend call failed", "endpoint", endpoint, "outcome", outcome, "error", err)
		return
	}
	c.logger.Debug("backend call", "endpoint", endpoint, "duration_ms", time.Since(start).Milliseconds())
}

// check maps a decoded response onto the error taxonomy.
func check(status int, env *models.Envelope) error {
	if status < 200 || status >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &RejectionError{Status: status, Message: msg}
	}
	if !env.Success {
		return &RejectionError{Status: status, Message: env.Message}
	}
	return nil
}

// roundTrip sends one request and decodes the envelope. Only transport and
// decoding problems are reported as errors.
func (c *Client) roundTrip(ctx context.Context, method, path, token string, body any) (int, *models.Envelope, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: parse path %q: %w", path, err)
	}
	target := c.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("backend: encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: %s %s: %w: %w", method, path, ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("backend: read %s: %w: %w", path, ErrTransport, err)
	}

	env := &models.Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		// Auth failures are recognised by status even without a JSON body.
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.StatusCode, &models.Envelope{}, nil
		}
		return 0, nil, fmt.Errorf("backend: decode %s (status %d): %w: %w", path, resp.StatusCode, ErrTransport, err)
	}
	return resp.StatusCode, env, nil
}

func pagePath(path string, page int) string {
	if page < 1 {
		page = 1
	}
	return path + "?page=" + strconv.Itoa(page)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }


package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", 2*time.Second, nil)
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": success, "message": message}
	if data != nil {
		body["data"] = data
	}
	json.NewEncoder(w).Encode(body)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api/", time.Second, nil)
	assert.Error(t, err)
}

func TestRequestHeaders(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		writeEnvelope(w, http.StatusOK, true, "done", nil)
	})

	msg, err := c.CancelBid(context.Background(), "tok-1", 41)
	require.NoError(t, err)
	assert.Equal(t, "done", msg)

	require.NotNil(t, got)
	assert.Equal(t, "/api/cancel-bid/41", got.URL.Path)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "Bearer tok-1", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	_, err = uuid.Parse(got.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var req models.LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "good" {
			writeEnvelope(w, http.StatusUnauthorized, false, "Invalid credentials", nil)
			return
		}
		assert.Equal(t, "ops@example.com", req.Email)
		assert.Equal(t, "Linux - Firefox", req.DeviceName)
		w.Write([]byte(`{"success":true,"message":"Login successful","token":"abc"}`))
	})

	resp, err := c.Login(context.Background(), "ops@example.com", "good", "Linux - Firefox")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Token)
	assert.Equal(t, "Login successful", resp.Message)

	_, err = c.Login(context.Background(), "ops@example.com", "bad", "Linux - Firefox")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid credentials", Describe(err, "Login failed"))
}

func TestLoginWithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "ok", nil)
	})
	_, err := c.Login(context.Background(), "a", "b", "c")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Login failed", rej.Message)
}

func TestDashboard(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"admin":        map[string]any{"id": 1, "username": "root", "email": "root@example.com"},
			"users":        10,
			"active_users": 7,
			"bids":         4,
			"success_bids": 2,
			"sum_bids":     120.5,
		})
	})

	v, err := c.Dashboard(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, v.VerificationRequired)
	assert.Equal(t, "root", v.Principal.Admin.Username)
	assert.EqualValues(t, 10, v.Principal.Stats.Users)
	assert.EqualValues(t, 7, v.Principal.Stats.ActiveUsers)
	assert.InDelta(t, 50.0, v.Principal.Stats.BidSuccessRate(), 0.001)
}

func TestDashboardVerificationRequired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, false, VerificationRequiredMessage, nil)
	})
	v, err := c.Dashboard(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, v.VerificationRequired)
}

func TestDashboardFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "unauthorized html body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("<html>nope</html>"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Equal(t, "Unauthorized", Describe(err, "x"))
			},
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusOK, false, "Token revoked", nil)
			},
			check: func(t *testing.T, err error) {
				var rej *RejectionError
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, "Token revoked", rej.Message)
				assert.NotErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("gateway says hi"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrTransport)
				assert.Equal(t, "fallback", Describe(err, "fallback"))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			_, err := c.Dashboard(context.Background(), "tok")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestPeersPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/peers/awaiting_payment", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"data": []map[string]any{
				{"id": 9, "status": "awaiting_payment", "pair_amount": 50, "due_at": "2025-06-01 10:00:00", "paid_at": nil},
			},
			"current_page":  2,
			"last_page":     3,
			"per_page":      15,
			"total":         31,
			"next_page_url": "https://api.example.com/api/peers/awaiting_payment?page=3",
		})
	})

	page, err := c.Peers(context.Background(), "tok", domain.PeerAwaitingPayment, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 9, page.Items[0].ID)
	assert.False(t, page.Items[0].DueAt.IsZero())
	assert.True(t, page.Items[0].PaidAt.IsZero())
	assert.Equal(t, 3, page.LastPage)
	assert.Equal(t, 31, page.Total)
	assert.NotEmpty(t, page.NextPageURL)
}

func TestPageDefaultsWhenDataMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", nil)
	})
	page, err := c.Bids(context.Background(), "tok", domain.StatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, 1, page.LastPage)
}

func TestDecidePaymentBody(t *testing.T) {
	var body models.PaymentDecision
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/approve-payment/7", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		writeEnvelope(w, http.StatusOK, true, "Payment declined", nil)
	})

	msg, err := c.DecidePayment(context.Background(), "tok", 7, models.PaymentDecision{Status: models.PaymentDeclined, Reason: "no funds"})
	require.NoError(t, err)
	assert.Equal(t, "Payment declined", msg)
	assert.Equal(t, models.PaymentDeclined, body.Status)
	assert.Equal(t, "no funds", body.Reason)
}

func TestBroadcastAndBlockPaths(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		writeEnvelope(w, http.StatusOK, true, "ok", nil)
	})
	ctx := context.Background()

	_, err := c.Broadcast(ctx, "tok", models.BroadcastAll, "hello")
	require.NoError(t, err)
	_, err = c.BlockUser(ctx, "tok", 12)
	require.NoError(t, err)
	_, err = c.Unpair(ctx, "tok", 3)
	require.NoError(t, err)
	_, err = c.CancelAsk(ctx, "tok", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /api/bot-cast",
		"GET /api/user-status-update/12/blocked",
		"GET /api/unpair-peering/3",
		"GET /api/cancel-ask/5",
	}, paths)
}

func TestUserDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"profile":  map[string]any{"id": 4, "username": "sam", "telegram_id": "777"},
			"bids":     3,
			"sum_asks": 12.5,
		})
	})
	d, err := c.UserDetails(context.Background(), "tok", 4)
	require.NoError(t, err)
	assert.Equal(t, "sam", d.Profile.Username)
	assert.True(t, d.Profile.Reachable())
	assert.EqualValues(t, 3, d.Bids)
}

func TestTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(srv.URL, 50*time.Millisecond, nil)
	require.NoError(t, err)

	_, err = c.Users(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestCanceledContextIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", nil)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Users(ctx, "tok", 1)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil, "x"))
	assert.Equal(t, msgSessionExpired, Describe(ErrUnauthorized, "x"))
	assert.Equal(t, "Bid already paired", Describe(&RejectionError{Status: 422, Message: "Bid already paired"}, "x"))
	assert.Equal(t, "x", Describe(&RejectionError{Status: 500}, "x"))
	assert.Equal(t, msgTimeout, Describe(context.DeadlineExceeded, "x"))
	assert.Equal(t, "x", Describe(errors.New("boom"), "x"))
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/guard"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

type loginForm struct {
	Email      string
	RememberMe bool
}

type registerForm struct {
	Firstname string
	Lastname  string
	Username  string
	Email     string
}

// loginPage shows the login form. A remembered credential skips it.
func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	if cred, ok := h.creds.Token(r); ok && cred.Lifetime == credential.Persistent {
		redirect(w, r, "/dashboard")
		return
	}
	h.render(w, r, http.StatusOK, "login", nil, page{Title: "Login", Data: loginForm{}})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:      strings.TrimSpace(r.PostForm.Get("email")),
		RememberMe: r.PostForm.Get("remember_me") != "",
	}
	password := r.PostForm.Get("password")
	if form.Email == "" || password == "" {
		h.render(w, r, http.StatusUnprocessableEntity, "login", nil, page{
			Title:   "Login",
			Notices: []notice.Notice{notice.Fail("Email and password are required.")},
			Data:    form,
		})
		return
	}

	res, err := h.backend.Login(r.Context(), form.Email, password, deviceName(r.UserAgent()))
	if err != nil {
		h.logger.Info("login failed", "email", form.Email, "error", err)
		fallback := "Login failed. Please try again."
		var rej *backend.RejectionError
		if errors.As(err, &rej) {
			fallback = "Login failed"
		}
		h.render(w, r, http.StatusUnauthorized, "login", nil, page{
			Title:   "Login",
			Notices: []notice.Notice{notice.Fail(backend.Describe(err, fallback))},
			Data:    form,
		})
		return
	}

	lifetime := credential.Session
	if form.RememberMe {
		lifetime = credential.Persistent
	}
	// A previous session in this browser must not leak into the new one.
	if prev, ok := h.creds.Token(r); ok {
		h.forget(prev)
	}
	if err := h.creds.Save(w, res.Token, lifetime); err != nil {
		h.logger.Error("save credential", "error", err)
		h.serverError(w, r)
		return
	}
	msg := res.Message
	if msg == "" {
		msg = "Login successful"
	}
	h.setFlash(w, notice.Ok(msg))
	redirect(w, r, "/dashboard")
}

func (h *Handler) registerPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", nil, page{Title: "Register", Data: registerForm{}})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	req := models.RegisterRequest{
		Firstname:            strings.TrimSpace(r.PostForm.Get("firstname")),
		Lastname:             strings.TrimSpace(r.PostForm.Get("lastname")),
		Username:             strings.TrimSpace(r.PostForm.Get("username")),
		Email:                strings.TrimSpace(r.PostForm.Get("email")),
		Password:             r.PostForm.Get("password"),
		PasswordConfirmation: r.PostForm.Get("password_confirmation"),
	}
	form := registerForm{Firstname: req.Firstname, Lastname: req.Lastname, Username: req.Username, Email: req.Email}

	fail := func(status int, msg string) {
		h.render(w, r, status, "register", nil, page{
			Title:   "Register",
			Notices: []notice.Notice{notice.Fail(msg)},
			Data:    form,
		})
	}
	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		fail(http.StatusUnprocessableEntity, "Username, email and password are required.")
		return
	case req.Password != req.PasswordConfirmation:
		fail(http.StatusUnprocessableEntity, "Passwords do not match.")
		return
	}

	msg, err := h.backend.Register(r.Context(), req)
	if err != nil {
		fail(http.StatusBadRequest, backend.Describe(err, "Registration failed. Please try again."))
		return
	}
	if msg == "" {
		msg = "Registration successful. Please login."
	}
	h.setFlash(w, notice.Ok(msg))
	redirect(w, r, guard.LoginPath)
}

// verifyTelegram explains why the session cannot continue yet.
func (h *Handler) verifyTelegram(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.creds.Token(r); !ok {
		redirect(w, r, guard.LoginPath)
		return
	}
	h.render(w, r, http.StatusOK, "verify_telegram", nil, page{Title: "Verify Telegram"})
}

func (h *Handler) verifyOTPPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.creds.Token(r); !ok {
		redirect(w, r, guard.LoginPath)
		return
	}
	h.render(w, r, http.StatusOK, "verify_otp", nil, page{Title: "Verify code"})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.creds.Token(r)
	if !ok {
		redirect(w, r, guard.LoginPath)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	code := strings.TrimSpace(r.PostForm.Get("otp"))
	if code == "" {
		h.render(w, r, http.StatusUnprocessableEntity, "verify_otp", nil, page{
			Title:   "Verify code",
			Notices: []notice.Notice{notice.Fail("Please enter the code sent to your Telegram.")},
		})
		return
	}

	msg, err := h.backend.VerifyOTP(r.Context(), cred.Token, code)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		h.guard.Reject(w, r, cred, backend.Describe(err, msgSessionExpired))
		return
	case err != nil:
		h.render(w, r, http.StatusBadRequest, "verify_otp", nil, page{
			Title:   "Verify code",
			Notices: []notice.Notice{notice.Fail(backend.Describe(err, "Verification failed. Please try again."))},
		})
		return
	}
	// The cached verdict still says verification is required.
	h.guard.Forget(cred)
	if msg == "" {
		msg = "Verification successful"
	}
	h.setFlash(w, notice.Ok(msg))
	redirect(w, r, "/dashboard")
}

// logout revokes the token upstream on a best effort basis; the local
// session ends regardless.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if cred, ok := h.creds.Token(r); ok {
		if err := h.backend.Logout(r.Context(), cred.Token); err != nil {
			h.logger.Warn("upstream logout failed", "error", err)
		}
		h.forget(cred)
	}
	h.creds.Clear(w)
	h.setFlash(w, notice.Ok("Logged out"))
	redirect(w, r, guard.LoginPath)
}

func (h *Handler) forget(cred credential.Credential) {
	h.guard.Forget(cred)
	h.workspaces.Drop(cred.Token)
}

// Package broadcast composes bot messages to one user or to everyone.
package broadcast

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

var (
	ErrEmptyMessage  = errors.New("broadcast: message is required")
	ErrInvalidTarget = errors.New("broadcast: target must be all or a user id")
	ErrFixedTarget   = errors.New("broadcast: target is fixed")
	ErrSending       = errors.New("broadcast: send already in progress")
)

const (
	msgSent       = "Message sent successfully!"
	msgSendFailed = "Failed to send"
	msgRequired   = "Please enter a message."
)

// Sender delivers a message. to is models.BroadcastAll or a user id.
type Sender func(ctx context.Context, token, to, message string) (string, error)

// Form is the composer state for rendering.
type Form struct {
	To      string
	Message string
	Failure string
	Sending bool
	Fixed   bool
}

// All reports whether the form addresses every user.
func (f Form) All() bool { return f.To == models.BroadcastAll }

type Composer struct {
	send    Sender
	token   string
	notices notice.Sink

	mu      sync.Mutex
	fixed   bool
	to      string
	message string
	failure string
	sending bool
}

// NewComposer returns a composer whose target starts at all users.
func NewComposer(send Sender, token string, notices notice.Sink) *Composer {
	if notices == nil {
		notices = &notice.Queue{}
	}
	return &Composer{send: send, token: token, notices: notices, to: models.BroadcastAll}
}

// NewDirectComposer returns a composer locked to one user.
func NewDirectComposer(send Sender, token string, notices notice.Sink, userID int64) *Composer {
	c := NewComposer(send, token, notices)
	c.to = strconv.FormatInt(userID, 10)
	c.fixed = true
	return c
}

// SetTarget picks the recipients: models.BroadcastAll or a user id.
func (c *Composer) SetTarget(to string) error {
	to = strings.TrimSpace(to)
	if to != models.BroadcastAll {
		id, err := strconv.ParseInt(to, 10, 64)
		if err != nil || id <= 0 {
			return ErrInvalidTarget
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fixed {
		if to != c.to {
			return ErrFixedTarget
		}
		return nil
	}
	c.to = to
	return nil
}

func (c *Composer) SetMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = message
}

// Submit sends the message. On success the form is reset; on failure it is
// kept and the reason is shown inline.
func (c *Composer) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSending
	}
	if strings.TrimSpace(c.message) == "" {
		c.failure = msgRequired
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	to, message := c.to, c.message
	c.sending = true
	c.failure = ""
	c.mu.Unlock()

	msg, err := c.send(ctx, c.token, to, message)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		c.failure = backend.Describe(err, msgSendFailed)
		return err
	}
	c.message = ""
	if !c.fixed {
		c.to = models.BroadcastAll
	}
	if msg == "" {
		msg = msgSent
	}
	c.notices.Push(notice.Ok(msg))
	return nil
}

func (c *Composer) Form() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Form{To: c.to, Message: c.message, Failure: c.failure, Sending: c.sending, Fixed: c.fixed}
}

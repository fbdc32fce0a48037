package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

type sent struct{ token, to, message string }

type stubSender struct {
	calls []sent
	reply string
	err   error
}

func (s *stubSender) send(ctx context.Context, token, to, message string) (string, error) {
	s.calls = append(s.calls, sent{token, to, message})
	return s.reply, s.err
}

func TestComposerEmptyMessageSendsNothing(t *testing.T) {
	s := &stubSender{}
	c := NewComposer(s.send, "tok", nil)
	c.SetMessage("   ")
	assert.ErrorIs(t, c.Submit(context.Background()), ErrEmptyMessage)
	assert.Empty(t, s.calls)
	assert.NotEmpty(t, c.Form().Failure)
}

func TestComposerSuccessResetsForm(t *testing.T) {
	s := &stubSender{reply: "Broadcast queued"}
	q := &notice.Queue{}
	c := NewComposer(s.send, "tok", q)

	require.NoError(t, c.SetTarget("42"))
	c.SetMessage("maintenance at noon")
	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, []sent{{"tok", "42", "maintenance at noon"}}, s.calls)
	form := c.Form()
	assert.True(t, form.All(), "target back to all")
	assert.Empty(t, form.Message)
	assert.Empty(t, form.Failure)
	assert.Equal(t, []notice.Notice{notice.Ok("Broadcast queued")}, q.Drain())
}

func TestComposerFailureKeepsForm(t *testing.T) {
	s := &stubSender{err: &backend.RejectionError{Status: 422, Message: "User has no telegram id"}}
	q := &notice.Queue{}
	c := NewComposer(s.send, "tok", q)

	require.NoError(t, c.SetTarget("7"))
	c.SetMessage("hello")
	require.Error(t, c.Submit(context.Background()))

	form := c.Form()
	assert.Equal(t, "7", form.To)
	assert.Equal(t, "hello", form.Message)
	assert.Equal(t, "User has no telegram id", form.Failure)
	assert.False(t, form.Sending)
	assert.Zero(t, q.Len())
}

func TestComposerTransportFailureUsesFallback(t *testing.T) {
	s := &stubSender{err: backend.ErrTransport}
	c := NewComposer(s.send, "tok", nil)
	c.SetMessage("hello")
	require.Error(t, c.Submit(context.Background()))
	assert.Equal(t, msgSendFailed, c.Form().Failure)
}

func TestComposerTargets(t *testing.T) {
	c := NewComposer((&stubSender{}).send, "tok", nil)
	assert.NoError(t, c.SetTarget(models.BroadcastAll))
	assert.ErrorIs(t, c.SetTarget(""), ErrInvalidTarget)
	assert.ErrorIs(t, c.SetTarget("bob"), ErrInvalidTarget)
	assert.ErrorIs(t, c.SetTarget("-3"), ErrInvalidTarget)
}

func TestDirectComposer(t *testing.T) {
	s := &stubSender{}
	c := NewDirectComposer(s.send, "tok", nil, 9)
	assert.ErrorIs(t, c.SetTarget(models.BroadcastAll), ErrFixedTarget)
	assert.NoError(t, c.SetTarget("9"))

	c.SetMessage("ping")
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, "9", s.calls[0].to)
	assert.Equal(t, "9", c.Form().To, "fixed target survives reset")
	assert.True(t, c.Form().Fixed)
}

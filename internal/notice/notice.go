// Package notice holds transient operator notifications until the next
// page render picks them up.
package notice

import "sync"

type Level string

const (
	Success Level = "success"
	Error   Level = "error"
	Info    Level = "info"
)

type Notice struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Sink accepts notices.
type Sink interface {
	Push(n Notice)
}

const maxQueued = 20

// Queue is a bounded FIFO of notices. The oldest entries are dropped once
// it is full.
type Queue struct {
	mu    sync.Mutex
	items []Notice
}

func (q *Queue) Push(n Notice) {
	if n.Text == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if len(q.items) > maxQueued {
		q.items = q.items[len(q.items)-maxQueued:]
	}
}

// Drain returns the queued notices and empties the queue.
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func Ok(text string) Notice   { return Notice{Level: Success, Text: text} }
func Fail(text string) Notice { return Notice{Level: Error, Text: text} }
func Note(text string) Notice { return Notice{Level: Info, Text: text} }

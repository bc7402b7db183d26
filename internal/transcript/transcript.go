// Package transcript holds the ordered, append-only list of chat messages a
// widget shows. Messages are only ever appended at the end; the loading
// placeholder is the one kind of message that gets removed.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Kind distinguishes bot messages that are not answers.
type Kind string

const (
	KindNormal   Kind = "normal"
	KindGreeting Kind = "greeting"
	KindLoading  Kind = "loading"
	KindError    Kind = "error"
)

// Message is one chat bubble.
type Message struct {
	ID   string
	Role Role
	Kind Kind
	Text string
	Time time.Time
}

// Preformatted reports whether the text spans multiple lines and must be
// displayed with its line breaks and whitespace preserved.
func (m Message) Preformatted() bool {
	return strings.Contains(m.Text, "\n")
}

// Event is a transcript mutation delivered to subscribers.
type Event int

const (
	EventAppended Event = iota
	EventRemoved
	EventCleared
)

func (e Event) String() string {
	switch e {
	case EventAppended:
		return "appended"
	case EventRemoved:
		return "removed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Listener observes transcript mutations. It runs synchronously on the
// mutating goroutine and must not call back into the transcript.
type Listener func(Message, Event)

// Transcript is safe for concurrent use.
type Transcript struct {
	mu        sync.RWMutex
	messages  []Message
	listeners []Listener
	now       func() time.Time
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{now: time.Now}
}

// Append adds a message at the end and returns it.
func (t *Transcript) Append(role Role, kind Kind, text string) Message {
	t.mu.Lock()
	msg := Message{
		ID:   uuid.NewString(),
		Role: role,
		Kind: kind,
		Text: text,
		Time: t.now(),
	}
	t.messages = append(t.messages, msg)
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, msg, EventAppended)
	return msg
}

// Remove deletes the message with the given ID. It reports false when the
// message is not present.
func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	idx := -1
	for i := range t.messages {
		if t.messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	msg := t.messages[idx]
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, msg, EventRemoved)
	return true
}

// Messages returns a snapshot copy in display order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Clear drops every message.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.messages = nil
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, Message{}, EventCleared)
}

// Subscribe registers a listener for subsequent mutations. Listeners run on
// the mutating goroutine, possibly under the caller's own locks.
func (t *Transcript) Subscribe(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners[:len(t.listeners):len(t.listeners)], l)
}

func notify(listeners []Listener, msg Message, ev Event) {
	for _, l := range listeners {
		l(msg, ev)
	}
}

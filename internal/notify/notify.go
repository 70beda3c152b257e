// Package notify carries user-facing toasts from adapters to whatever renders
// them. A session's Inbox is drained into each JSON response.
package notify

import "sync"

type Variant string

const (
	Success     Variant = "success"
	Destructive Variant = "destructive"
	Info        Variant = "default"
)

// Action is an optional button on a toast, e.g. "Undo" or "View cart".
type Action struct {
	Label string `json:"label"`
	Href  string `json:"href,omitempty"`
}

type Toast struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant"`
	Action      *Action `json:"action,omitempty"`
}

type Notifier interface {
	Notify(t Toast)
}

type NotifierFunc func(Toast)

func (f NotifierFunc) Notify(t Toast) { f(t) }

// Discard drops every toast.
var Discard Notifier = NotifierFunc(func(Toast) {})

const defaultInboxSize = 20

// Inbox queues toasts until drained. A toast with the ID of a queued one
// replaces it; when full the oldest is dropped.
type Inbox struct {
	mu    sync.Mutex
	max   int
	items []Toast
	subs  []chan<- Toast
}

func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = defaultInboxSize
	}
	return &Inbox{max: max}
}

func (in *Inbox) Notify(t Toast) {
	in.mu.Lock()
	replaced := false
	for i := range in.items {
		if t.ID != "" && in.items[i].ID == t.ID {
			in.items[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		in.items = append(in.items, t)
		if len(in.items) > in.max {
			in.items = in.items[len(in.items)-in.max:]
		}
	}
	subs := append([]chan<- Toast(nil), in.subs...)
	in.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Drain returns the queued toasts and empties the inbox.
func (in *Inbox) Drain() []Toast {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.items
	in.items = nil
	return out
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Watch also delivers every new toast to ch without blocking. The returned
// func stops delivery.
func (in *Inbox) Watch(ch chan<- Toast) func() {
	in.mu.Lock()
	in.subs = append(in.subs, ch)
	in.mu.Unlock()
	return func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		for i, c := range in.subs {
			if c == ch {
				in.subs = append(in.subs[:i], in.subs[i+1:]...)
				return
			}
		}
	}
}

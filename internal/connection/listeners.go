package connection

import (
	"sync"
)

type entry struct {
	id   Listener
	fn   Handler
	once bool
}

// listeners maps event names to handlers in registration order.
type listeners struct {
	mu      sync.RWMutex
	next    Listener
	byEvent map[string][]entry
}

func newListeners() *listeners {
	return &listeners{byEvent: make(map[string][]entry)}
}

func (l *listeners) add(event string, fn Handler, once bool) Listener {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	l.byEvent[event] = append(l.byEvent[event], entry{id: l.next, fn: fn, once: once})
	return l.next
}

// remove drops the given listeners of event, or all of them when ids is empty.
// Returns how many were removed.
func (l *listeners) remove(event string, ids ...Listener) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.byEvent[event]
	if len(ids) == 0 {
		delete(l.byEvent, event)
		return len(current)
	}

	drop := make(map[Listener]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := current[:0:0]
	for _, e := range current {
		if _, ok := drop[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	removed := len(current) - len(kept)
	if len(kept) == 0 {
		delete(l.byEvent, event)
	} else {
		l.byEvent[event] = kept
	}
	return removed
}

// take returns the handlers to run for event and unregisters one-shot entries.
// The returned slice is a copy, so handlers may add or remove listeners.
func (l *listeners) take(event string) []Handler {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.byEvent[event]
	if len(current) == 0 {
		return nil
	}

	fns := make([]Handler, 0, len(current))
	kept := current[:0:0]
	for _, e := range current {
		fns = append(fns, e.fn)
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(current) {
		if len(kept) == 0 {
			delete(l.byEvent, event)
		} else {
			l.byEvent[event] = kept
		}
	}
	return fns
}

func (l *listeners) count(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byEvent[event])
}

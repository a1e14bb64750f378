package session

import (
	"context"
	"sync"
)

// Observer receives every status the session commits.
type Observer func(Status)

// ObserverID identifies a registered observer.
type ObserverID uint64

type observerEntry struct {
	id ObserverID
	fn Observer
}

// observerList keeps observers in registration order. Notification passes run
// over a snapshot, so adding or removing during a pass does not affect it.
type observerList struct {
	mu      sync.RWMutex
	nextID  ObserverID
	entries []observerEntry
}

func (l *observerList) add(fn Observer) ObserverID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, observerEntry{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *observerList) remove(id ObserverID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id == id {
			// Copy so an in-flight snapshot keeps its backing array intact.
			entries := make([]observerEntry, 0, len(l.entries)-1)
			entries = append(entries, l.entries[:i]...)
			l.entries = append(entries, l.entries[i+1:]...)
			return
		}
	}
}

func (l *observerList) snapshot() []observerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[:len(l.entries):len(l.entries)]
}

func (l *observerList) notify(st Status) {
	for _, e := range l.snapshot() {
		e.fn(st)
	}
}

// AddObserver registers fn. Observers may run on a transport goroutine;
// anything needing a particular goroutine must hand off by itself.
func (s *Session) AddObserver(fn Observer) ObserverID {
	return s.observers.add(fn)
}

// RemoveObserver unregisters an observer. Unknown ids are ignored.
func (s *Session) RemoveObserver(id ObserverID) {
	s.observers.remove(id)
}

// Watch returns a channel receiving status changes until ctx is done. The
// channel starts with the current status. A slow reader misses intermediate
// values but always sees the most recent one eventually.
func (s *Session) Watch(ctx context.Context) <-chan Status {
	ch := make(chan Status, 16)
	var mu sync.Mutex
	closed := false

	send := func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- st:
				return
			default:
			}
			// Full: drop the oldest value so the latest one gets through.
			select {
			case <-ch:
			default:
			}
		}
	}

	// Seed under s.mu so no status committed after the read can be
	// delivered ahead of it.
	s.mu.Lock()
	id := s.observers.add(send)
	send(s.status)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.RemoveObserver(id)
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}

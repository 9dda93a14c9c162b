package protocol

import "sync"

// subscribers is an ordered list of callbacks notified synchronously.
// Callbacks run outside the list's lock, so they may subscribe or unsubscribe.
type subscribers[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// add registers fn and returns a func that removes it
func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.entries {
		if entry.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) notify(value T) {
	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()

	for _, entry := range entries {
		entry.fn(value)
	}
}

func (s *subscribers[T]) clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *subscribers[T]) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

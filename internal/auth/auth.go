// Package auth exposes the authentication boundary as a reactive
// signal. The sync components subscribe to transitions; they never poll
// the provider themselves.
package auth

import "sync"

// State is the identity snapshot published by the authentication
// provider.
type State struct {
	IsAuthenticated bool
	UserID          string
}

// Signal publishes authentication state transitions to subscribers.
// Subscribers receive the current state immediately on subscription and
// every later transition in order.
type Signal struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

// NewSignal creates a signal in the signed-out state.
func NewSignal() *Signal {
	return &Signal{subs: make(map[int]func(State))}
}

// Current returns the latest published state.
func (s *Signal) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set publishes a new state. Subscribers are notified only when the
// state actually changed.
func (s *Signal) Set(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Subscribe registers fn, replays the current state to it, and returns
// an unsubscribe function.
func (s *Signal) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	state := s.state
	s.mu.Unlock()

	fn(state)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

package session

import (
	"sync"

	"cinereel/internal/carousel"
	"cinereel/internal/mute"
)

// Frame stands in for the embedded player frame of a session. A browser
// tab running the player holds an event stream open on it; while none is
// connected ContentWindow is nil and mute commands go nowhere.
type Frame struct {
	mu     sync.Mutex
	subs   map[int]chan []byte
	next   int
	closed bool
}

func NewFrame() *Frame {
	return &Frame{subs: make(map[int]chan []byte)}
}

func (f *Frame) ContentWindow() mute.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.subs) == 0 {
		return nil
	}
	return f
}

// PostMessage fans the command out to every connected player. It never
// blocks: a player that is not keeping up loses the command.
func (f *Frame) PostMessage(message []byte, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- message:
		default:
		}
	}
}

// Connect registers a player. The channel is closed when the session ends
// or the returned func is called.
func (f *Frame) Connect() (<-chan []byte, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 8)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	return ch, func() { f.drop(id) }
}

func (f *Frame) Connected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Frame) drop(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *Frame) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// states fans carousel snapshots out to watchers. Snapshots can arrive out
// of order from different goroutines; anything not newer than the last one
// forwarded is dropped. Each watcher only ever holds the latest snapshot.
type states struct {
	mu     sync.Mutex
	latest carousel.State
	seen   bool
	subs   map[int]chan carousel.State
	next   int
	closed bool
}

func newStates() *states {
	return &states{subs: make(map[int]chan carousel.State)}
}

func (s *states) publish(st carousel.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.seen && st.Version <= s.latest.Version) {
		return
	}
	s.latest = st
	s.seen = true
	for _, ch := range s.subs {
		offerLatest(ch, st)
	}
}

func (s *states) watch() (<-chan carousel.State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan carousel.State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.seen {
		ch <- s.latest
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *states) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// offerLatest replaces whatever is buffered in ch with st. Callers hold
// the states lock, so nobody else sends on ch in between.
func offerLatest(ch chan carousel.State, st carousel.State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- st
}

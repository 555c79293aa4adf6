package proctor

import "sync"

// Feed is a goroutine-safe Source fed by a transport. The transport calls
// Emit for every signal it decodes; Feed tracks the fullscreen state and fans
// signals out to subscribers.
type Feed struct {
	mu         sync.Mutex
	fullscreen bool
	subs       map[int]func(Signal)
	nextID     int
	request    func() error
}

// NewFeed creates a Feed. request is invoked by RequestFullscreen; nil is allowed.
func NewFeed(request func() error) *Feed {
	return &Feed{
		subs:    make(map[int]func(Signal)),
		request: request,
	}
}

// Emit records sig and delivers it to every subscriber.
func (f *Feed) Emit(sig Signal) {
	f.mu.Lock()
	if sig.Kind == SignalFullscreenChange {
		f.fullscreen = sig.Fullscreen
	}
	subs := make([]func(Signal), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(sig)
	}
}

// Subscribe implements Source.
func (f *Feed) Subscribe(fn func(Signal)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// IsFullscreen implements Source.
func (f *Feed) IsFullscreen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullscreen
}

// RequestFullscreen implements Source.
func (f *Feed) RequestFullscreen() error {
	if f.request == nil {
		return nil
	}
	return f.request()
}

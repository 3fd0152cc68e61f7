// ABOUTME: Thread-safe attempt counter with a fixed window per key
// ABOUTME: Used to lock password changes after repeated wrong current passwords

package throttle

import (
	"container/list"
	"sync"
	"time"
)

// window tracks unreset attempts for one key since the first of them.
type window struct {
	started  time.Time
	attempts int
	element  *list.Element
}

// Limiter counts attempts per key. A key is refused once it has used
// maxFailures attempts within the window that began at its first attempt.
// Reset clears the count after a successful attempt.
// Uses a doubly-linked list ordered by window start for O(1) eviction.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	order       *list.List // keys by window start (oldest at front)
	period      time.Duration
	maxFailures int
	maxKeys     int
	now         func() time.Time
	done        chan struct{}
	closed      bool
}

// New creates a Limiter. A maxFailures of zero disables blocking.
// A background goroutine periodically removes expired windows.
func New(period time.Duration, maxFailures, maxKeys int) *Limiter {
	l := &Limiter{
		windows:     make(map[string]*window),
		order:       list.New(),
		period:      period,
		maxFailures: maxFailures,
		maxKeys:     maxKeys,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// liveLocked returns the key's window if it has not expired. Must be called with mu held.
func (l *Limiter) liveLocked(key string) *window {
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	if l.now().Sub(w.started) >= l.period {
		l.order.Remove(w.element)
		delete(l.windows, key)
		return nil
	}
	return w
}

// Attempt reserves one attempt for key and reports whether it is allowed.
// The reservation counts as a failure until Reset, so concurrent callers
// cannot all slip past the limit before any of them records a result.
func (l *Limiter) Attempt(key string) bool {
	if l.maxFailures <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.liveLocked(key)
	if w == nil {
		if len(l.windows) >= l.maxKeys {
			l.evictOldest()
		}
		w = &window{started: l.now()}
		w.element = l.order.PushBack(key)
		l.windows[key] = w
	}

	if w.attempts >= l.maxFailures {
		return false
	}
	w.attempts++
	return true
}

// Reset forgets all attempts for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok {
		l.order.Remove(w.element)
		delete(l.windows, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// evictOldest removes the key with the oldest window.
// Must be called with mu held.
func (l *Limiter) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.windows, key)
}

// cleanup runs in a background goroutine, periodically removing expired windows.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup removes all expired windows. Windows are ordered by start,
// so it stops at the first live one.
func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for e := l.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		w := l.windows[key]
		if now.Sub(w.started) < l.period {
			return
		}
		next := e.Next()
		l.order.Remove(e)
		delete(l.windows, key)
		e = next
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

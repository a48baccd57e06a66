package vfskit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// signal holds the fired flag and callbacks shared by the token types.
type signal struct {
	mu        sync.Mutex
	changed   atomic.Bool
	callbacks map[int]func()
	next      int
}

func (s *signal) HasChanged() bool {
	return s.changed.Load()
}

func (s *signal) register(callback func()) func() {
	s.mu.Lock()
	if s.changed.Load() {
		s.mu.Unlock()
		callback()
		return func() {}
	}
	if s.callbacks == nil {
		s.callbacks = make(map[int]func())
	}
	id := s.next
	s.next++
	s.callbacks[id] = callback
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

// fire marks the token changed and runs the callbacks once.
func (s *signal) fire() {
	s.mu.Lock()
	if s.changed.Swap(true) {
		s.mu.Unlock()
		return
	}
	callbacks := make([]func(), 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.callbacks = nil
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// CallbackChangeToken is signalled by a provider with native change events.
type CallbackChangeToken struct {
	signal
	stop func()
}

// NewCallbackChangeToken creates a token. stop, if not nil, runs once when
// the token fires or is stopped, so the provider can release its watcher.
func NewCallbackChangeToken(stop func()) *CallbackChangeToken {
	return &CallbackChangeToken{stop: stop}
}

func (t *CallbackChangeToken) ActiveChangeCallbacks() bool { return true }

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	return t.register(callback)
}

// SignalChange marks the token changed and invokes all callbacks.
func (t *CallbackChangeToken) SignalChange() {
	t.fire()
	t.Stop()
}

// Stop releases the provider watcher without signalling.
func (t *CallbackChangeToken) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// PollingChangeToken polls a check function for backends without native
// events. Cancel the context or call Stop to end the polling goroutine.
type PollingChangeToken struct {
	signal
	cancel context.CancelFunc
}

// NewPollingChangeToken starts polling check every interval (5s when
// zero). The token fires the first time check returns true.
func NewPollingChangeToken(ctx context.Context, interval time.Duration, check func() bool) *PollingChangeToken {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &PollingChangeToken{cancel: cancel}
	go t.poll(ctx, interval, check)
	return t
}

func (t *PollingChangeToken) poll(ctx context.Context, interval time.Duration, check func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if check() {
				t.fire()
				t.cancel()
				return
			}
		}
	}
}

func (t *PollingChangeToken) ActiveChangeCallbacks() bool { return true }

func (t *PollingChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	return t.register(callback)
}

// Stop ends polling. It is safe to call Stop multiple times.
func (t *PollingChangeToken) Stop() {
	t.cancel()
}

// RecordPoller returns a check function for NewPollingChangeToken that
// reports a change when the materialized size, modification time or
// existence of h differ from the first observation.
func RecordPoller(ctx context.Context, h *Handle) (func() bool, error) {
	first, err := h.Record(ctx)
	if err != nil {
		return nil, err
	}
	return func() bool {
		if err := h.Refresh(ctx); err != nil {
			return false
		}
		cur, err := h.Record(ctx)
		if err != nil {
			return false
		}
		return cur.Exists != first.Exists || cur.Size != first.Size || !cur.Modified.Equal(first.Modified)
	}, nil
}

// CompositeChangeToken fires when any of its tokens fires.
type CompositeChangeToken struct {
	tokens []ChangeToken
}

// NewCompositeChangeToken creates a token that combines multiple tokens.
func NewCompositeChangeToken(tokens ...ChangeToken) *CompositeChangeToken {
	return &CompositeChangeToken{tokens: tokens}
}

func (c *CompositeChangeToken) HasChanged() bool {
	for _, t := range c.tokens {
		if t.HasChanged() {
			return true
		}
	}
	return false
}

// ActiveChangeCallbacks is true only if every token raises callbacks.
func (c *CompositeChangeToken) ActiveChangeCallbacks() bool {
	for _, t := range c.tokens {
		if !t.ActiveChangeCallbacks() {
			return false
		}
	}
	return len(c.tokens) > 0
}

func (c *CompositeChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	var once sync.Once
	cb := func() { once.Do(callback) }
	unregisters := make([]func(), 0, len(c.tokens))
	for _, t := range c.tokens {
		unregisters = append(unregisters, t.RegisterChangeCallback(cb))
	}
	return func() {
		for _, u := range unregisters {
			u()
		}
	}
}

// NeverChangeToken never fires. Used for content that cannot change, such
// as archive entries.
type NeverChangeToken struct{}

func (NeverChangeToken) HasChanged() bool                     { return false }
func (NeverChangeToken) ActiveChangeCallbacks() bool          { return false }
func (NeverChangeToken) RegisterChangeCallback(func()) func() { return func() {} }

// OnChange calls action after every change of h until cancel is called.
// A new token is requested from h after each change.
func OnChange(ctx context.Context, h *Handle, action func()) (func(), error) {
	token, err := h.Watch(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancelFunc := context.WithCancel(ctx)

	go func() {
		for {
			done := make(chan struct{})
			unregister := token.RegisterChangeCallback(func() { close(done) })
			select {
			case <-ctx.Done():
				unregister()
				stopToken(token)
				return
			case <-done:
				unregister()
				action()
			}
			next, err := h.Watch(ctx)
			if err != nil {
				return
			}
			token = next
		}
	}()
	return cancelFunc, nil
}

func stopToken(t ChangeToken) {
	if s, ok := t.(interface{ Stop() }); ok {
		s.Stop()
	}
}

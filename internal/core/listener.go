package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ListenerHandle identifies a subscription for later removal.
type ListenerHandle uint64

// ListenerError aggregates the failures of every listener invoked by one
// operation. The operation's in-memory effect has already been applied.
type ListenerError struct {
	Op  string
	Err error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s listeners failed: %v", e.Op, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

type subscription[T any] struct {
	handle ListenerHandle
	fn     T
}

// subscriptions is an ordered, handle-addressed listener table.
type subscriptions[T any] struct {
	mu   sync.Mutex
	next ListenerHandle
	subs []subscription[T]
}

func (s *subscriptions[T]) add(fn T) ListenerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.subs = append(s.subs, subscription[T]{handle: s.next, fn: fn})
	return s.next
}

func (s *subscriptions[T]) remove(h ListenerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = slices.DeleteFunc(s.subs, func(e subscription[T]) bool { return e.handle == h })
}

func (s *subscriptions[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notify calls every listener in registration order. A failing or panicking
// listener does not stop the others.
func (s *subscriptions[T]) notify(op string, call func(T) error) error {
	s.mu.Lock()
	snapshot := slices.Clone(s.subs)
	s.mu.Unlock()

	var errs []error
	for _, e := range snapshot {
		if err := safeCall(func() error { return call(e.fn) }); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ListenerError{Op: op, Err: errors.Join(errs...)}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn()
}

// joinListenerErrors merges listener failures raised by several steps of a
// single operation into one ListenerError.
func joinListenerErrors(op string, errs ...error) error {
	var inner []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var le *ListenerError
		if errors.As(err, &le) {
			inner = append(inner, le.Err)
		} else {
			inner = append(inner, err)
		}
	}
	if len(inner) == 0 {
		return nil
	}
	return &ListenerError{Op: op, Err: errors.Join(inner...)}
}

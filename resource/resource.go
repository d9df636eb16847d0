// Package resource implements a lazily opened, explicitly closed and
// reference-counted lifecycle shared by listeners and dial agents.
//
// A Resource is embedded as a field by its owner, which supplies the open and
// close functions. Concurrent Open calls share one in-flight attempt, a Close
// that arrives while an Open is in flight waits for it to settle, and Close
// only releases the underlying resources once every Active call has been
// matched by Inactive.
package resource

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a resource is used after Close completed.
var ErrClosed = errors.New("resource closed")

// State is the lifecycle state of a Resource.
type State uint8

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// transition is one in-flight open or close; waiters block on done.
type transition struct {
	done chan struct{}
	err  error
}

func newTransition() *transition {
	return &transition{done: make(chan struct{})}
}

// Resource tracks the lifecycle of an owner's sockets and handles.
type Resource struct {
	doOpen  func() error
	doClose func() error

	mu        sync.Mutex
	state     State
	active    int
	releasing bool
	opening   *transition
	closing   *transition
	drained   chan struct{}
}

// New creates an unopened Resource. open and close run without the internal
// lock held and are never invoked concurrently with each other.
func New(open, close func() error) *Resource {
	return &Resource{
		doOpen:  open,
		doClose: close,
	}
}

// Open opens the resource. It returns immediately if the resource is already
// open, joins an in-flight open, and otherwise runs the open function. A
// failed open resets the resource to unopened so a later Open may retry.
//
// A resource that is closing but still waiting for active users counts as
// open; a resource whose close already completed is reopened.
func (r *Resource) Open() error {
	r.mu.Lock()
	for {
		switch r.state {
		case StateOpen:
			r.mu.Unlock()
			return nil
		case StateOpening:
			t := r.opening
			r.mu.Unlock()
			<-t.done
			return t.err
		case StateClosing:
			if !r.releasing {
				r.mu.Unlock()
				return nil
			}
			t := r.closing
			r.mu.Unlock()
			<-t.done
			r.mu.Lock()
		default:
			t := newTransition()
			r.state = StateOpening
			r.opening = t
			r.mu.Unlock()

			err := r.doOpen()

			r.mu.Lock()
			if err != nil {
				r.state = StateUnopened
			} else {
				r.state = StateOpen
			}
			r.opening = nil
			t.err = err
			r.mu.Unlock()
			close(t.done)
			return err
		}
	}
}

// Close waits for any in-flight open, then waits until every active user has
// called Inactive, then runs the close function. Closing an unopened or
// closed resource succeeds without side effects.
func (r *Resource) Close() error {
	r.mu.Lock()
	for {
		switch r.state {
		case StateUnopened, StateClosed:
			r.mu.Unlock()
			return nil
		case StateOpening:
			t := r.opening
			r.mu.Unlock()
			<-t.done
			r.mu.Lock()
		case StateClosing:
			t := r.closing
			r.mu.Unlock()
			<-t.done
			return t.err
		default:
			t := newTransition()
			r.state = StateClosing
			r.closing = t
			for r.active > 0 {
				drained := make(chan struct{})
				r.drained = drained
				r.mu.Unlock()
				<-drained
				r.mu.Lock()
			}
			r.releasing = true
			r.mu.Unlock()

			err := r.doClose()

			r.mu.Lock()
			r.state = StateClosed
			r.releasing = false
			r.closing = nil
			t.err = err
			r.mu.Unlock()
			close(t.done)
			return err
		}
	}
}

// Active records one more user of the resource. It fails with ErrClosed once
// the resource has started releasing or has closed.
func (r *Resource) Active() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed || r.releasing {
		return ErrClosed
	}
	r.active++
	return nil
}

// Inactive releases one user recorded by Active. Calling it without a
// matching Active panics.
func (r *Resource) Inactive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == 0 {
		panic("resource: Inactive called without matching Active")
	}
	r.active--
	if r.active == 0 && r.drained != nil {
		close(r.drained)
		r.drained = nil
	}
}

// State returns the current lifecycle state.
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ActiveCount returns the number of outstanding Active calls.
func (r *Resource) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Closing reports whether Close has been called and has not yet completed.
func (r *Resource) Closing() bool {
	return r.State() == StateClosing
}

// Closed reports whether the last Close completed and no Open followed it.
func (r *Resource) Closed() bool {
	return r.State() == StateClosed
}

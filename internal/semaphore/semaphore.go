// Package semaphore contains a small counting semaphore, used to bound the
// number of slave worker slots the Listener keeps occupied.
package semaphore

import (
	"fmt"
)

// Semaphore is a counting semaphore. It must be initialized with
// NewSemaphore before use.
type Semaphore struct {
	c      chan struct{}
	closed chan struct{}
}

// NewSemaphore creates a new semaphore with the given capacity.
func NewSemaphore(size int) *Semaphore {
	return &Semaphore{
		c:      make(chan struct{}, size),
		closed: make(chan struct{}),
	}
}

// Close shuts down the semaphore and unblocks any pending P or V calls.
func (obj *Semaphore) Close() {
	close(obj.closed)
}

// P acquires one resource, blocking until one is available or the semaphore
// is closed.
func (obj *Semaphore) P() error {
	select {
	case obj.c <- struct{}{}:
		return nil
	case <-obj.closed:
		return fmt.Errorf("semaphore closed")
	}
}

// V releases one resource previously acquired with P.
func (obj *Semaphore) V() {
	select {
	case <-obj.c:
	default:
		panic("semaphore: V without matching P")
	}
}

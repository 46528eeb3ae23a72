// Package blocking runs filesystem and hashing work on a shared, bounded pool of goroutines,
// so that callers doing many of these at once cannot fan out without limit.
package blocking

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// DefaultSize is the capacity of the process-wide pool.
const DefaultSize = 128

// PanicError is the error produced when a function run on a Pool panics.
// It is not an ordinary failure of the work
// and callers should not try to recover from it.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in blocking work: %v", e.Value)
}

// Pool runs functions on a bounded set of goroutines.
type Pool struct {
	p *ants.Pool
}

// NewPool produces a Pool running at most size functions at once.
// Submitting to a full pool waits for a free goroutine.
func NewPool(size int) (*Pool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating worker pool")
	}
	return &Pool{p: p}, nil
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default is the process-wide Pool.
// It is created on first use.
func Default() *Pool {
	defaultOnce.Do(func() {
		size := DefaultSize
		if n := 4 * runtime.NumCPU(); n > size {
			size = n
		}
		p, err := NewPool(size)
		if err != nil {
			// Only possible with a non-positive size.
			panic(err)
		}
		defaultPool = p
	})
	return defaultPool
}

// Do runs f on the pool and waits for it to finish,
// returning f's error.
// If f panics, Do returns a *PanicError.
// If ctx is canceled first, Do returns ctx.Err() without waiting
// (f, once started, runs to completion regardless).
func (p *Pool) Do(ctx context.Context, f func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	err := p.p.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		done <- f()
	})
	if err != nil {
		return errors.Wrap(err, "submitting to worker pool")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Release shuts the pool down.
// Later calls to Do fail.
func (p *Pool) Release() {
	p.p.Release()
}

// Do runs f on the process-wide pool.
func Do(ctx context.Context, f func() error) error {
	return Default().Do(ctx, f)
}

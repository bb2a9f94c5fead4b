// Package worker provides the cooperative-shutdown goroutine helper that
// the updates Persister embeds for its save loop. The network driver's
// goroutines run under an errgroup instead.
package worker

import "sync"

// Worker is an embeddable helper for a struct that owns one or more
// goroutines which must all observe a single shutdown signal. The zero
// value is ready to use.
type Worker struct {
	wg       sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once
	haltedCh chan struct{}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltedCh = make(chan struct{})
	})
}

// Go runs fn in a new goroutine tracked by Wait.
func (w *Worker) Go(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltedCh
}

// Halt signals shutdown. Idempotent.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltedCh)
	})
}

// Wait blocks until every goroutine started via Go has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

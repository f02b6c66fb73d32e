package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter tracks how many bytes a long-running scan has touched and
// keeps it under a configured rate. Every so often the pool is incremented.
// As data is processed, credits are removed from the pool. If the pool goes
// negative, callers wait until it goes positive again.
//
// Archive verification uses one of these so that recomputing checksums over
// every archive at the destination does not monopolize the backend.
type RateCounter struct {
	c       chan struct{} // channel we use to signal credits is positive
	stop    chan struct{} // close to signal adder goroutine to exit
	m       sync.Mutex    // protects below
	credits int64         // current credit balance
}

// Interval between adding credits to the pool. The shorter it is, the more
// waking and churning we do. The longer it is, the longer a caller may wait
// for credits to appear.
const rateInterval = 1 * time.Minute

// NewRateCounter returns a counter where credits accumulate at the given
// rate per second. The credits are not added continuously; the entire
// interval's amount is deposited at once.
func NewRateCounter(rate float64) *RateCounter {
	amount := int64(rate * rateInterval.Seconds())
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// OK returns a channel to wait on. It will receive an empty struct when it
// is okay to resume work. The channel is closed if the RateCounter is
// stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop the background goroutine refilling the RateCounter. Will panic if
// called twice.
func (r *RateCounter) Stop() {
	close(r.stop)
}

// adder refills the pool and signals waiters while the balance is positive.
func (r *RateCounter) adder(amount int64) {
	tick := time.NewTicker(rateInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-amount) // add amount to credits
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// ErrStopped means a read failed because the governing rate counter was
// stopped.
var ErrStopped = errors.New("RateCounter stopped")

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. Reads block until the counter says the current usage is
// ok. It is fine for more than one goroutine to share the same RateCounter.
// If the RateCounter was stopped, the returned reader fails with ErrStopped.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	_, ok := <-r.rate.OK()
	if !ok {
		return 0, ErrStopped
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}

package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned once a source has failed too many times in a row.
var ErrBreakerOpen = eris.New("resilience: too many consecutive failures")

// Breaker counts consecutive failures of one source. Once Threshold failures
// happen back to back it opens and stays open until Reset; a success in
// between clears the count.
type Breaker struct {
	threshold int
	mu        sync.Mutex
	failures  int
	open      bool
	onOpen    func(failures int)
}

// NewBreaker returns a breaker that opens after threshold consecutive
// failures. A threshold <= 0 never opens.
func NewBreaker(threshold int, onOpen func(failures int)) *Breaker {
	return &Breaker{threshold: threshold, onOpen: onOpen}
}

// Allow returns ErrBreakerOpen when the breaker has tripped.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return ErrBreakerOpen
	}
	return nil
}

// Record feeds one outcome. Only errors for which count returns true are
// counted; others leave the streak unchanged. A nil count counts every error.
func (b *Breaker) Record(err error, count func(error) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	if count != nil && !count(err) {
		return
	}
	b.failures++
	if b.threshold > 0 && !b.open && b.failures >= b.threshold {
		b.open = true
		if b.onOpen != nil {
			b.onOpen(b.failures)
		}
	}
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Reset closes the breaker and clears the streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.failures = 0
}

package transfer

import "sync"

// limiter bounds the number of concurrently running jobs.
type limiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
	max    int
}

func newLimiter(max int) *limiter {
	if max < 1 {
		max = 1
	}
	l := &limiter{max: max}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *limiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.active >= l.max {
		l.cond.Wait()
	}
	l.active++
}

func (l *limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *limiter) SetMax(max int) {
	if max < 1 {
		max = 1
	}
	l.mu.Lock()
	l.max = max
	l.mu.Unlock()
	l.cond.Broadcast()
}

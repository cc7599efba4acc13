// internal/common/clock/fake.go
package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance moves time forward
// and fires any timers or tickers whose deadline has passed.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake positioned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

type fakeTicker struct {
	clk     *Fake
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		t.ch <- f.now
		t.fired = true
	}
	f.timers = append(f.timers, t)
	return t.ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	tk := &fakeTicker{
		clk:    f,
		period: d,
		next:   f.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, tk)
	return tk
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

// Stop takes the clock's lock; Advance reads the stopped flag under it.
func (t *fakeTicker) Stop() {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	t.stopped = true
}

// Advance moves the fake clock forward by d and delivers every timer and
// ticker tick that became due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	for _, t := range f.timers {
		if !t.fired && !t.deadline.After(f.now) {
			t.fired = true
			select {
			case t.ch <- f.now:
			default:
			}
		}
	}

	for _, tk := range f.tickers {
		for !tk.stopped && !tk.next.After(f.now) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.period)
		}
	}
}

// BlockUntilWaiters spins until at least n un-fired timers are registered.
// Lets tests synchronize with goroutines about to wait on After.
func (f *Fake) BlockUntilWaiters(n int) {
	for {
		f.mu.Lock()
		pending := 0
		for _, t := range f.timers {
			if !t.fired {
				pending++
			}
		}
		f.mu.Unlock()
		if pending >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

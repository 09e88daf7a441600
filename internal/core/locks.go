package core

import (
	"context"
	"fmt"
	"sync"
)

type addrLock struct {
	ch   chan struct{}
	refs int
}

// addressLocks serialises device sessions per printer address. Waiting is
// bounded by the caller's context.
type addressLocks struct {
	mu    sync.Mutex
	locks map[string]*addrLock
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[string]*addrLock)}
}

func (a *addressLocks) acquire(ctx context.Context, addr string) (func(), error) {
	a.mu.Lock()
	l, ok := a.locks[addr]
	if !ok {
		l = &addrLock{ch: make(chan struct{}, 1)}
		a.locks[addr] = l
	}
	l.refs++
	a.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		a.unref(addr, l)
		return nil, fmt.Errorf("%w: %v", ErrPrinterBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			a.unref(addr, l)
		})
	}, nil
}

func (a *addressLocks) unref(addr string, l *addrLock) {
	a.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, addr)
	}
	a.mu.Unlock()
}

func (a *addressLocks) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}

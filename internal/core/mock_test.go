package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// mockPrinter records everything a bridge sends to one address.
type mockPrinter struct {
	mu       sync.Mutex
	connects int
	writes   [][]byte
	replies  []byte

	failWrite int // 1-based index of the write that fails, 0 never
	failErr   error
	shortAt   int
	delay     time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (p *mockPrinter) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *mockPrinter) Stream() []byte {
	return bytes.Join(p.Writes(), nil)
}

func (p *mockPrinter) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

type mockDialer struct {
	mu       sync.Mutex
	printers map[string]*mockPrinter
	dialErr  error
	dials    int
}

func newMockDialer() *mockDialer {
	return &mockDialer{printers: make(map[string]*mockPrinter)}
}

func (d *mockDialer) printer(addr string) *mockPrinter {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.printers[addr]
	if !ok {
		p = &mockPrinter{}
		d.printers[addr] = p
	}
	return p
}

func (d *mockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p := d.printer(address)
	p.mu.Lock()
	p.connects++
	p.mu.Unlock()

	n := p.active.Add(1)
	for {
		m := p.maxActive.Load()
		if n <= m || p.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return &mockConn{printer: p, address: address}, nil
}

type mockConn struct {
	printer *mockPrinter
	address string
	count   int
	closed  bool
}

func (c *mockConn) Read(b []byte) (int, error) {
	p := c.printer
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.replies)
	p.replies = p.replies[n:]
	return n, nil
}

func (c *mockConn) Write(b []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	p := c.printer
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c.count++
	if p.failWrite == c.count {
		err := p.failErr
		if err == nil {
			err = errors.New("connection reset by peer")
		}
		return 0, err
	}
	if p.shortAt == c.count {
		p.writes = append(p.writes, append([]byte(nil), b[:len(b)/2]...))
		return len(b) / 2, nil
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *mockConn) Close() error {
	if !c.closed {
		c.closed = true
		c.printer.active.Add(-1)
	}
	return nil
}

func (c *mockConn) LocalAddr() net.Addr                { return dryRunAddr("test") }
func (c *mockConn) RemoteAddr() net.Addr               { return dryRunAddr(c.address) }
func (c *mockConn) SetDeadline(t time.Time) error      { return nil }
func (c *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetWriteDeadline(t time.Time) error { return nil }

type recordingObserver struct {
	mu     sync.Mutex
	events []JobEvent
}

func (o *recordingObserver) JobFinished(ev JobEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) Events() []JobEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]JobEvent(nil), o.events...)
}

package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Dialer opens the byte stream to a printer. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPDialer returns the production dialer with a bounded connect timeout.
func TCPDialer(connectTimeout time.Duration) Dialer {
	return &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
}

// DryRunDialer never contacts a device. Each job's byte stream is kept in
// memory and, when dir is non-empty, written to a .bin file on close.
type DryRunDialer struct {
	Dir string

	mu   sync.Mutex
	seq  int
	last []byte
}

func NewDryRunDialer(dir string) (*DryRunDialer, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create dry-run directory: %w", err)
		}
	}
	return &DryRunDialer{Dir: dir}, nil
}

func (d *DryRunDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	return &captureConn{dialer: d, address: address, seq: seq}, nil
}

// Last returns the bytes of the most recently closed dry-run connection.
func (d *DryRunDialer) Last() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.last...)
}

func (d *DryRunDialer) finish(c *captureConn) error {
	data := c.buf.Bytes()

	d.mu.Lock()
	d.last = append(d.last[:0], data...)
	d.mu.Unlock()

	if d.Dir == "" {
		return nil
	}
	name := fmt.Sprintf("%s-%s-%04d.bin",
		strings.NewReplacer(":", "_", "[", "", "]", "").Replace(c.address),
		time.Now().Format("20060102T150405"), c.seq)
	return os.WriteFile(filepath.Join(d.Dir, name), data, 0o644)
}

type captureConn struct {
	dialer  *DryRunDialer
	address string
	seq     int
	buf     bytes.Buffer
	closed  bool
}

func (c *captureConn) Read(p []byte) (int, error) { return 0, io.EOF }

func (c *captureConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.buf.Write(p)
}

func (c *captureConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.dialer.finish(c)
}

func (c *captureConn) LocalAddr() net.Addr                { return dryRunAddr("bridge") }
func (c *captureConn) RemoteAddr() net.Addr               { return dryRunAddr(c.address) }
func (c *captureConn) SetDeadline(t time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(t time.Time) error { return nil }

type dryRunAddr string

func (a dryRunAddr) Network() string { return "dry-run" }
func (a dryRunAddr) String() string  { return string(a) }

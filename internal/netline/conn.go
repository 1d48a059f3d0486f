// Copyright (C) 2025 Jeff Rose
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package netline speaks line oriented text protocols over a single
// plaintext or TLS socket.
package netline

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxLineLength caps a single line; anything past it is discarded.
	MaxLineLength = 10000

	DefaultConnectTimeout = 10 * time.Second
	DefaultIOTimeout      = 30 * time.Second

	initialLineCapacity = 128
)

var (
	ErrResolve        = errors.New("name resolution failed")
	ErrConnectTimeout = errors.New("connect timed out")
	ErrConnect        = errors.New("connect failed")
	ErrTLS            = errors.New("tls handshake failed")
	ErrNetIO          = errors.New("network i/o error")
	// ErrClosed means the peer closed the stream before a line started.
	ErrClosed = errors.New("connection closed by peer")
)

type Mode int

const (
	Plain Mode = iota
	TLS
)

func (m Mode) String() string {
	if m == TLS {
		return "tls"
	}
	return "plain"
}

// Resolver is the subset of *net.Resolver used to look up hosts.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Options struct {
	Mode Mode
	// ConnectTimeout bounds resolution, connect and TLS handshake together.
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	// TLSConfig is cloned per connection; ServerName defaults to the host.
	TLSConfig *tls.Config
	// Trace mirrors every line to Logger at debug level.
	Trace  bool
	Logger *zap.SugaredLogger
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
	// Redact hides the argument of matching commands in the trace.
	Redact func(line string) string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Conn is one live socket. It is not safe for concurrent use.
type Conn struct {
	raw      net.Conn
	reader   *bufio.Reader
	opts     Options
	endpoint string

	closeOnce sync.Once
	closed    bool
}

// Dial resolves host, connects and, in TLS mode, completes the handshake
// before returning. All three steps share a single ConnectTimeout deadline,
// so a host with several unreachable addresses still fails on time.
func Dial(ctx context.Context, host string, port int, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	addrs, err := resolve(dialCtx, opts.Resolver, host)
	if err != nil {
		if timedOut(dialCtx, err) {
			return nil, fmt.Errorf("%w: %s: resolving after %s", ErrConnectTimeout, endpoint, opts.ConnectTimeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, host, err)
	}

	var dialer net.Dialer
	var raw net.Conn
	for _, addr := range addrs {
		raw, err = dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if err == nil || dialCtx.Err() != nil {
			break
		}
	}
	if err != nil {
		if timedOut(dialCtx, err) {
			return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, endpoint, opts.ConnectTimeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, endpoint, err)
	}

	if opts.Mode == TLS {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if opts.TLSConfig != nil {
			cfg = opts.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrTLS, endpoint, err)
		}
		raw = tlsConn
	}

	return newConn(raw, endpoint, opts), nil
}

// timedOut reports whether err came from the connect deadline rather than
// from the caller cancelling ctx or the peer refusing.
func timedOut(dialCtx context.Context, err error) bool {
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newConn(raw net.Conn, endpoint string, opts Options) *Conn {
	return &Conn{
		raw:      raw,
		reader:   bufio.NewReader(raw),
		opts:     opts,
		endpoint: endpoint,
	}
}

func resolve(ctx context.Context, resolver Resolver, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.New("no addresses found for host")
	}
	return addrs, nil
}

func (c *Conn) Endpoint() string {
	return c.endpoint
}

// ReadLine returns the next line without its terminator. A line longer than
// MaxLineLength is truncated; the remainder up to the terminator is dropped.
func (c *Conn) ReadLine() (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if err := c.raw.SetReadDeadline(time.Now().Add(c.opts.IOTimeout)); err != nil {
		c.Close()
		return "", fmt.Errorf("%w: %s: %v", ErrNetIO, c.endpoint, err)
	}

	line := make([]byte, 0, initialLineCapacity)
	seen := 0
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if seen == 0 {
					return "", ErrClosed
				}
				break
			}
			c.Close()
			return "", fmt.Errorf("%w: %s: %v", ErrNetIO, c.endpoint, err)
		}
		seen++
		if b == '\n' {
			break
		}
		if len(line) < MaxLineLength {
			line = append(line, b)
		}
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	text := string(line)
	c.trace("<<", text)
	return text, nil
}

// WriteLine sends text followed by CRLF. Any failure closes the connection.
func (c *Conn) WriteLine(text string) error {
	if c.closed {
		return fmt.Errorf("%w: %s: write on closed connection", ErrNetIO, c.endpoint)
	}
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.opts.IOTimeout)); err != nil {
		c.Close()
		return fmt.Errorf("%w: %s: %v", ErrNetIO, c.endpoint, err)
	}

	payload := text + "\r\n"
	n, err := io.WriteString(c.raw, payload)
	if err == nil && n != len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: %s: %v", ErrNetIO, c.endpoint, err)
	}
	c.trace(">>", text)
	return nil
}

// Close is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed = true
		if tlsConn, ok := c.raw.(*tls.Conn); ok {
			_ = tlsConn.SetDeadline(time.Now().Add(time.Second))
		}
		err = c.raw.Close()
	})
	return err
}

func (c *Conn) trace(dir, line string) {
	if !c.opts.Trace {
		return
	}
	if c.opts.Redact != nil {
		line = c.opts.Redact(line)
	}
	c.opts.Logger.Debugw("protocol trace", "endpoint", c.endpoint, "dir", dir, "line", line)
}

package mailtest

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"
)

// Unresponsive returns a port on ip whose accept queue is already full, so
// further connection attempts hang until the client gives up. A port of 0
// picks a free one.
func Unresponsive(t testing.TB, ip string, port int) int {
	t.Helper()
	addr := net.ParseIP(ip).To4()
	if addr == nil {
		t.Fatalf("not an IPv4 address: %s", ip)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	t.Cleanup(func() { syscall.Close(fd) })

	sa := &syscall.SockaddrInet4{Port: port}
	copy(sa.Addr[:], addr)
	if err := syscall.Bind(fd, sa); err != nil {
		t.Skipf("bind %s:%d: %v", ip, port, err)
	}
	// Nothing ever accepts, so a backlog of 0 fills after one connection.
	if err := syscall.Listen(fd, 0); err != nil {
		t.Fatalf("listen: %v", err)
	}
	bound, err := syscall.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	port = bound.(*syscall.SockaddrInet4).Port

	endpoint := net.JoinHostPort(ip, strconv.Itoa(port))
	for i := 0; i < 16; i++ {
		c, err := net.DialTimeout("tcp", endpoint, 200*time.Millisecond)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return port
			}
			t.Fatalf("filling accept queue of %s: %v", endpoint, err)
		}
		t.Cleanup(func() { c.Close() })
	}
	t.Skipf("accept queue of %s never filled", endpoint)
	return 0
}

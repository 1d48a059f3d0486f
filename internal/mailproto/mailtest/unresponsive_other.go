//go:build !linux

package mailtest

import "testing"

// Unresponsive needs control over the listen backlog, which only the linux
// build does.
func Unresponsive(t testing.TB, ip string, port int) int {
	t.Helper()
	t.Skip("unresponsive listener requires linux")
	return 0
}

package checkers

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

func tcpServer(t *testing.T, serve func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				serve(c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newTCP(t *testing.T, ts TCPSettings) *TCPChecker {
	t.Helper()
	c, err := NewTCPChecker(Settings{
		Logger:         zap.NewNop().Sugar(),
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
		TCP:            &ts,
	})
	require.NoError(t, err)
	return c
}

func TestTCPChecker(t *testing.T) {
	banner := tcpServer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("220 mx.example.com ESMTP ready\r\n"))
	})
	echo := tcpServer(t, func(c net.Conn) {
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("echo " + line))
	})

	tests := []struct {
		name       string
		host       string
		settings   TCPSettings
		wantStatus Status
		wantErr    error
	}{
		{
			name:       "connect only",
			host:       "127.0.0.1",
			settings:   TCPSettings{Port: banner},
			wantStatus: Ok,
		},
		{
			name:       "banner matches",
			host:       "127.0.0.1",
			settings:   TCPSettings{Port: banner, Banner: "ESMTP"},
			wantStatus: Ok,
		},
		{
			name:       "banner mismatch",
			host:       "127.0.0.1",
			settings:   TCPSettings{Port: banner, Banner: "IMAP"},
			wantStatus: Fail,
			wantErr:    ErrBannerMismatch,
		},
		{
			name:       "send then read",
			host:       "127.0.0.1",
			settings:   TCPSettings{Port: echo, Send: "PING", Banner: "echo PING"},
			wantStatus: Ok,
		},
		{
			name:       "refused",
			host:       "127.0.0.1",
			settings:   TCPSettings{Port: closedPort(t)},
			wantStatus: Fail,
			wantErr:    netline.ErrConnect,
		},
		{
			name:       "unresolvable",
			host:       "watchman-test.invalid",
			settings:   TCPSettings{Port: 80},
			wantStatus: Unknown,
			wantErr:    netline.ErrResolve,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTCP(t, tt.settings)
			res := c.Check(context.Background(), Target{Name: tt.name, Host: tt.host})

			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Error, tt.wantErr)
			} else {
				assert.NoError(t, res.Error)
			}
		})
	}
}

func TestNewTCPChecker_InvalidPort(t *testing.T) {
	_, err := NewTCPChecker(Settings{Logger: zap.NewNop().Sugar(), TCP: &TCPSettings{Port: 70000}})
	assert.Error(t, err)
}

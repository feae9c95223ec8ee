// Package testutil provides shared helpers for package tests: loopback ZeroMQ
// endpoints, a discard logger and the receive-with-timeout safety valve.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// T is the subset of testing.TB the helpers need
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Endpoint returns a tcp:// endpoint on a loopback port that was free when probed
func Endpoint(t T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probing free port: %v", err)
	}
	addr := listener.Addr().String()
	if err = listener.Close(); err != nil {
		t.Fatalf("releasing probed port: %v", err)
	}

	return "tcp://" + addr
}

// Logger returns a logger that discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RequireReceive reads one value from ch within timeout, or fails the test
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, msg string) V {
	t.Helper()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", msg)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %s: %s", timeout, msg)
	}

	panic(fmt.Sprintf("unreachable: %s", msg))
}

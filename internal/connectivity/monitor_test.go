package connectivity

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressFor(t *testing.T) {
	cases := map[string]string{
		"libsql://db-org.turso.io":     "db-org.turso.io:443",
		"https://db-org.turso.io/":     "db-org.turso.io:443",
		"http://127.0.0.1:8080":        "127.0.0.1:8080",
		"http://localhost":             "localhost:80",
		" https://example.com:8443/x ": "example.com:8443",
	}
	for in, want := range cases {
		got, err := AddressFor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := AddressFor("not a url")
	assert.Error(t, err)
}

func TestMonitorTransitions(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = errors.New("down")
		next error
	)
	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return next
	}
	m := New(probe, time.Hour)

	var seen []bool
	unsubscribe := m.Subscribe(func(online bool) { seen = append(seen, online) })

	ctx := context.Background()
	assert.False(t, m.Online(), "starts offline")

	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx), "no transition, no notification")

	mu.Lock()
	next = fail
	mu.Unlock()
	assert.False(t, m.Check(ctx))

	unsubscribe()
	mu.Lock()
	next = nil
	mu.Unlock()
	assert.True(t, m.Check(ctx))

	assert.Equal(t, []bool{true, false}, seen)
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	addr := ln.Addr().String()
	require.NoError(t, TCPProbe(addr, time.Second)(context.Background()))

	ln.Close()
	assert.Error(t, TCPProbe(addr, 200*time.Millisecond)(context.Background()))
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(func(context.Context) error { return nil }, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(false)
	var seen []bool
	s.Subscribe(func(online bool) { seen = append(seen, online) })

	s.Set(false)
	s.Set(true)
	s.Set(true)
	s.Set(false)

	assert.False(t, s.Online())
	assert.Equal(t, []bool{true, false}, seen)
}

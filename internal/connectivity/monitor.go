// Package connectivity tracks whether the remote database host is reachable
// and tells subscribers when that changes.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval     = 15 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Probe returns nil when the network path to the remote is usable.
type Probe func(ctx context.Context) error

// TCPProbe dials addr and closes the connection immediately.
func TCPProbe(addr string, timeout time.Duration) Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// AddressFor derives host:port from a database URL. libsql and https URLs
// default to port 443, http to 80.
func AddressFor(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("parse remote url: missing host in %q", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Subscribable is the part of a monitor the sync coordinator depends on.
type Subscribable interface {
	Online() bool
	// Subscribe registers fn for state transitions and returns a function
	// that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Monitor polls a Probe. It starts offline; the first successful probe is a
// transition to online.
type Monitor struct {
	probe    Probe
	interval time.Duration
	subs     subscribers

	mu     sync.RWMutex
	online bool
}

func New(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{probe: probe, interval: interval}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Subscribe(fn func(online bool)) func() {
	return m.subs.add(fn)
}

// Check probes once, records the result and notifies subscribers if the
// state changed.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.probe(ctx)
	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		if online {
			slog.InfoContext(ctx, "Remote reachable")
		} else {
			slog.WarnContext(ctx, "Remote unreachable", "error", err)
		}
		m.subs.notify(online)
	}
	return online
}

// Run checks immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Static is a monitor whose state is set by hand. It serves local-only mode
// and tests.
type Static struct {
	subs subscribers

	mu     sync.RWMutex
	online bool
}

func NewStatic(online bool) *Static {
	return &Static{online: online}
}

func (s *Static) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *Static) Subscribe(fn func(online bool)) func() {
	return s.subs.add(fn)
}

// Set changes the state, notifying subscribers on a transition.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

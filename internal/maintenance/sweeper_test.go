package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/persona"
)

// --- Mock refresher ---

type mockRefresher struct {
	ids     []string
	listErr error
	failing map[string]bool

	mu        sync.Mutex
	refreshed []string

	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (m *mockRefresher) ProfileIDs(ctx context.Context) ([]string, error) {
	return m.ids, m.listErr
}

func (m *mockRefresher) Refresh(ctx context.Context, id string) (persona.Profile, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failing[id] {
		return persona.Profile{}, errors.New("refresh failed")
	}
	m.mu.Lock()
	m.refreshed = append(m.refreshed, id)
	m.mu.Unlock()
	return persona.Profile{ID: id}, nil
}

func TestRunOnce_RefreshesAll(t *testing.T) {
	r := &mockRefresher{ids: []string{"a", "b", "c"}}
	s := NewSweeper(r, time.Hour, 2)

	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 || len(r.refreshed) != 3 {
		t.Errorf("refreshed %d (%v), want 3", n, r.refreshed)
	}
}

func TestRunOnce_FailureDoesNotStopOthers(t *testing.T) {
	r := &mockRefresher{ids: []string{"a", "b", "c"}, failing: map[string]bool{"b": true}}
	s := NewSweeper(r, time.Hour, 1)

	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("refreshed = %d, want 2", n)
	}
}

func TestRunOnce_ListError(t *testing.T) {
	r := &mockRefresher{listErr: errors.New("db closed")}
	s := NewSweeper(r, time.Hour, 1)
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnce_BoundsConcurrency(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	r := &mockRefresher{ids: ids, delay: 5 * time.Millisecond}
	s := NewSweeper(r, time.Hour, 3)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if peak := r.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(&mockRefresher{}, 0, 0)
	if s.interval != time.Hour || s.concurrency != 4 {
		t.Errorf("interval=%v concurrency=%d", s.interval, s.concurrency)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := &mockRefresher{ids: []string{"a"}}
	s := NewSweeper(r, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.refreshed)
		r.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/docchat/internal/api"
)

// scriptedChecker returns results in order, repeating the last one.
type scriptedChecker struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
}

func (s *scriptedChecker) Health(ctx context.Context) (*api.HealthStatus, error) {
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	if err := s.results[n]; err != nil {
		return nil, err
	}
	return &api.HealthStatus{OK: true}, nil
}

type change struct {
	up  bool
	err error
}

func TestPoller_ReportsTransitions(t *testing.T) {
	down := errors.New("connection refused")
	checker := &scriptedChecker{results: []error{nil, nil, down, down, nil}}

	changes := make(chan change, 10)
	p := New(Config{Interval: 10 * time.Millisecond, Timeout: time.Second}, checker, func(up bool, err error) {
		changes <- change{up, err}
	}, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []bool{true, false, true}
	for i, w := range want {
		select {
		case c := <-changes:
			if c.up != w {
				t.Errorf("change %d: up = %v, want %v", i, c.up, w)
			}
			if !c.up && !errors.Is(c.err, down) {
				t.Errorf("change %d: err = %v, want %v", i, c.err, down)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for change %d", i)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	up, known := p.Up()
	if !known || !up {
		t.Errorf("Up() = %v, %v; want true, true", up, known)
	}
}

func TestPoller_NotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false}`))
	}))
	defer server.Close()

	client := api.NewClient(server.URL, api.WithRetries(0, 0))

	changes := make(chan change, 1)
	p := New(Config{Interval: time.Hour}, client, func(up bool, err error) {
		changes <- change{up, err}
	}, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	select {
	case c := <-changes:
		if c.up {
			t.Error("expected backend reported down")
		}
		if !errors.Is(c.err, errNotOK) {
			t.Errorf("err = %v, want errNotOK", c.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first check")
	}
}

func TestPoller_UpUnknownBeforeFirstCheck(t *testing.T) {
	p := New(Config{}, &scriptedChecker{results: []error{nil}}, nil, nil)

	if _, known := p.Up(); known {
		t.Error("Up() known = true before any check")
	}
	if p.cfg.Interval != DefaultConfig().Interval {
		t.Errorf("Interval = %v, want default %v", p.cfg.Interval, DefaultConfig().Interval)
	}
}

func TestPoller_StopWithoutStart(t *testing.T) {
	p := New(DefaultConfig(), &scriptedChecker{results: []error{nil}}, nil, nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop without Start returned %v", err)
	}
}

package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (s *stubPinger) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubPinger) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestReady_falseBeforeFirstCheck(t *testing.T) {
	c := New([]Probe{PingProbe("store", true, &stubPinger{})}, Config{}, zap.NewNop())
	if c.Ready() {
		t.Error("expected not ready before the first check")
	}
	c.CheckAll(context.Background())
	if !c.Ready() {
		t.Error("expected ready after a passing check")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	db := &stubPinger{err: errors.New("connection refused")}
	c := New([]Probe{PingProbe("postgres", true, db)}, Config{FailThreshold: 3}, zap.NewNop())

	var transitions []bool
	c.SetReadinessListener(func(ready bool) { transitions = append(transitions, ready) })

	// Run 3 times to hit the threshold.
	for i := 0; i < 3; i++ {
		c.CheckAll(context.Background())
		if i < 2 && !c.Ready() {
			t.Fatalf("not ready after %d failures, want ready until threshold", i+1)
		}
	}
	if c.Ready() {
		t.Error("expected not ready after reaching the threshold")
	}
	snap := c.Snapshot()
	if snap[0].State != StateDegraded || snap[0].FailCount != 3 || snap[0].LastError == "" {
		t.Errorf("snapshot = %+v", snap[0])
	}

	db.set(nil)
	c.CheckAll(context.Background())
	if !c.Ready() {
		t.Error("expected recovery after a passing check")
	}

	want := []bool{true, false, true}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestCheckAll_nonCriticalOnlyDegrades(t *testing.T) {
	c := New([]Probe{
		PingProbe("store", true, &stubPinger{}),
		PingProbe("kafka", false, &stubPinger{err: errors.New("down")}),
	}, Config{FailThreshold: 1}, zap.NewNop())

	c.CheckAll(context.Background())
	if !c.Ready() {
		t.Error("non-critical failure should not affect readiness")
	}
	snap := c.Snapshot()
	if snap[0].Name != "kafka" || snap[0].State != StateDegraded {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap[1].Name != "store" || snap[1].State != StateHealthy {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCheckAll_recordsMetrics(t *testing.T) {
	var mu sync.Mutex
	results := map[string]bool{}
	c := New([]Probe{
		PingProbe("a", true, &stubPinger{}),
		PingProbe("b", true, &stubPinger{err: errors.New("x")}),
	}, Config{}, zap.NewNop())
	c.SetMetricsRecord(func(name string, ok bool) {
		mu.Lock()
		results[name] = ok
		mu.Unlock()
	})

	c.CheckAll(context.Background())
	if !results["a"] || results["b"] {
		t.Errorf("results = %v", results)
	}
}

func TestGRPCServer_followsReadiness(t *testing.T) {
	srv, listener := NewGRPCServer()
	check := func(want grpc_health_v1.HealthCheckResponse_ServingStatus) {
		t.Helper()
		resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if resp.GetStatus() != want {
			t.Errorf("status = %v, want %v", resp.GetStatus(), want)
		}
	}

	check(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	listener(true)
	check(grpc_health_v1.HealthCheckResponse_SERVING)
	listener(false)
	check(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestCheckAll_healthy(t *testing.T) {
	checker := New(Config{}, zap.NewNop())
	checker.Register("db", func(context.Context) error { return nil })

	checker.CheckAll(context.Background())

	snap, ok := checker.Snapshot()
	if !ok {
		t.Fatalf("expected healthy, got %+v", snap)
	}
	if snap["db"].Status != StatusHealthy {
		t.Errorf("db status = %q", snap["db"].Status)
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	checker := New(Config{FailThreshold: 3}, zap.NewNop())
	checker.Register("redis", func(context.Context) error { return errors.New("connection refused") })

	for i := 1; i <= 3; i++ {
		checker.CheckAll(context.Background())
		snap, _ := checker.Snapshot()
		want := StatusHealthy
		if i == 3 {
			want = StatusDegraded
		}
		if snap["redis"].Status != want {
			t.Errorf("after %d failures: status = %q, want %q", i, snap["redis"].Status, want)
		}
		if snap["redis"].Error == "" {
			t.Error("expected error message to be kept")
		}
	}
}

func TestCheckAll_recovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	checker := New(Config{}, zap.NewNop())
	checker.Register("db", func(context.Context) error {
		if failing.Load() {
			return errors.New("down")
		}
		return nil
	})

	checker.CheckAll(context.Background())
	if _, ok := checker.Snapshot(); ok {
		t.Fatal("expected degraded")
	}
	failing.Store(false)
	checker.CheckAll(context.Background())
	if _, ok := checker.Snapshot(); !ok {
		t.Fatal("expected recovery")
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	checker := New(Config{ProbeTimeout: 20 * time.Millisecond}, zap.NewNop())
	checker.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	checker.CheckAll(context.Background())
	snap, ok := checker.Snapshot()
	if ok || snap["slow"].Status != StatusDegraded {
		t.Errorf("expected slow probe to be degraded, got %+v", snap["slow"])
	}
}

func TestCheckAll_metricsCallback(t *testing.T) {
	var successes, failures atomic.Int32
	checker := New(Config{}, zap.NewNop())
	checker.SetMetricsRecord(func(_ string, ok bool) {
		if ok {
			successes.Add(1)
		} else {
			failures.Add(1)
		}
	})
	checker.Register("a", func(context.Context) error { return nil })
	checker.Register("b", func(context.Context) error { return errors.New("x") })

	checker.CheckAll(context.Background())
	if successes.Load() != 1 || failures.Load() != 1 {
		t.Errorf("successes=%d failures=%d", successes.Load(), failures.Load())
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	checker := New(Config{}, zap.NewNop())
	checker.Register("db", func(context.Context) error { return nil })
	checker.CheckAll(context.Background())

	r := gin.New()
	r.GET("/healthz", checker.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}

	checker.Register("redis", func(context.Context) error { return errors.New("down") })
	checker.CheckAll(context.Background())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stayward/stayward/internal/apperr"
	"go.uber.org/zap"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", apperr.ErrNotFound), http.StatusNotFound},
		{&apperr.LockedError{RecordID: "s1"}, http.StatusForbidden},
		{apperr.ErrNotLocked, http.StatusBadRequest},
		{apperr.ErrDuplicatePending, http.StatusConflict},
		{apperr.ErrAlreadyReviewed, http.StatusConflict},
		{fmt.Errorf("save: %w", apperr.ErrConflict), http.StatusConflict},
		{apperr.Persistence("insert", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRespondError_HidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, zap.NewNop(), "op", apperr.Persistence("insert", errors.New("password=hunter2")))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if want := `{"error":"internal error"}`; w.Body.String() != want {
		t.Errorf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestRespondError_DomainErrorKeepsMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, zap.NewNop(), "op", fmt.Errorf("save stay: %w", apperr.ErrConflict))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if want := `{"error":"save stay: record was modified concurrently"}`; w.Body.String() != want {
		t.Errorf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestRespondError_LockedDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	respondError(c, zap.NewNop(), "op", &apperr.LockedError{Entity: "Stay", RecordID: "s1", LockedAt: &at, Privileged: true})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	want := `{"error":"Stay s1 is locked since 2025-03-01T12:00:00Z; an approved petition is required to modify it","locked_at":"2025-03-01T12:00:00Z","record_id":"s1"}`
	if w.Body.String() != want {
		t.Errorf("body = %s\nwant   %s", w.Body.String(), want)
	}
}

func limitedRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := limitedRouter(RateLimiter(ctx, 1, 2))

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	r := limitedRouter(NewRedisLimiter(client, 1, 1, zap.NewNop()).Middleware())
	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while redis is down", w.Code)
		}
	}
}

func TestRedisLimiter_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available")
	}

	l := NewRedisLimiter(client, 1, 1, zap.NewNop())
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	ok, err := l.Allow(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first Allow = %v, %v", ok, err)
	}
	ok, err = l.Allow(ctx, key)
	if err != nil || ok {
		t.Fatalf("second Allow = %v, %v; want denied", ok, err)
	}
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShutdown_ClosersRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.True(t, sm.IsShuttingDown())

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel should be closed")
	}

	// Idempotent
	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestShutdown_CloserErrorReported(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	sm.RegisterCloser(CloserFunc(func() error { return errors.New("disk on fire") }))
	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	require.True(t, sm.TrackRequest())

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background()) }()

	// New requests are rejected once shutdown begins.
	<-sm.ShutdownCh()
	assert.False(t, sm.TrackRequest())
	assert.Equal(t, int64(1), sm.InFlightCount())

	select {
	case <-done:
		t.Fatal("shutdown returned before in-flight request finished")
	case <-time.After(50 * time.Millisecond):
	}

	sm.UntrackRequest()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after drain")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 30 * time.Millisecond})
	require.True(t, sm.TrackRequest())
	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var seen int64
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sm.InFlightCount()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), seen)
	assert.Equal(t, int64(0), sm.InFlightCount())

	require.NoError(t, sm.Shutdown(context.Background()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnaryServerInterceptor(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	icpt := UnaryServerInterceptor(sm)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	resp, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	require.NoError(t, sm.Shutdown(context.Background()))
	_, err = icpt(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingService starts, blocks until stopped, and records its stop order.
type blockingService struct {
	name    string
	stopped chan struct{}
	order   *stopOrder
}

type stopOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *stopOrder) record(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func newBlockingService(name string, order *stopOrder) *blockingService {
	return &blockingService{name: name, stopped: make(chan struct{}), order: order}
}

func (s *blockingService) Start() error {
	<-s.stopped
	return nil
}

func (s *blockingService) Stop() {
	s.order.record(s.name)
	close(s.stopped)
}

func TestLifecycle_ContextCancelStopsServices(t *testing.T) {
	order := &stopOrder{}
	l := NewLifecycle(zaptest.NewLogger(t))
	l.Add("gateway", newBlockingService("gateway", order))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, []string{"gateway"}, order.names)
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	order := &stopOrder{}
	l := NewLifecycle(zaptest.NewLogger(t))
	l.Add("first", newBlockingService("first", order))
	l.Add("second", newBlockingService("second", order))
	l.Add("third", newBlockingService("third", order))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"third", "second", "first"}, order.names)
}

func TestLifecycle_ServiceFailureTriggersShutdown(t *testing.T) {
	order := &stopOrder{}
	l := NewLifecycle(zaptest.NewLogger(t))
	l.Add("healthy", newBlockingService("healthy", order))

	failing := &FuncService{
		StartFn: func() error { return errors.New("bind: address in use") },
		StopFn:  func() { order.record("failing") },
	}
	l.Add("failing", failing)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after service failure")
	}
	order.mu.Lock()
	defer order.mu.Unlock()
	assert.Contains(t, order.names, "healthy")
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false
	svc := &FuncService{
		StartFn: func() error { started = true; return nil },
		StopFn:  func() { stopped = true },
	}
	require.NoError(t, svc.Start())
	svc.Stop()
	assert.True(t, started)
	assert.True(t, stopped)
}

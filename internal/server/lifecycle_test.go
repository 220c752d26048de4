package server

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingService runs until Stop and records the stop order.
type blockingService struct {
	name    string
	started chan struct{}
	stop    chan struct{}
	once    sync.Once
	order   *stopOrder
}

type stopOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *stopOrder) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func (o *stopOrder) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.names...)
}

func newBlockingService(name string, order *stopOrder) *blockingService {
	return &blockingService{name: name, started: make(chan struct{}), stop: make(chan struct{}), order: order}
}

func (b *blockingService) Start() error {
	close(b.started)
	<-b.stop
	return nil
}

func (b *blockingService) Stop() {
	b.once.Do(func() {
		b.order.add(b.name)
		close(b.stop)
	})
}

func waitStarted(t *testing.T, svcs ...*blockingService) {
	t.Helper()
	for _, s := range svcs {
		select {
		case <-s.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("service %s did not start", s.name)
		}
	}
}

func TestLifecycle_StopsInReverseOrderOnCancel(t *testing.T) {
	order := &stopOrder{}
	lc := NewLifecycle(zaptest.NewLogger(t))
	game, admin := newBlockingService("game", order), newBlockingService("admin", order)
	lc.Add("game", game)
	lc.Add("admin", admin)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()
	waitStarted(t, game, admin)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.Equal(t, []string{"admin", "game"}, order.get())
}

func TestLifecycle_ServiceFailureStopsOthers(t *testing.T) {
	order := &stopOrder{}
	lc := NewLifecycle(zaptest.NewLogger(t))
	game := newBlockingService("game", order)
	boom := errors.New("bind: address in use")
	lc.Add("game", game)
	lc.Add("health", &FuncService{
		StartFn: func() error {
			<-game.started
			return boom
		},
		StopFn:  func() { order.add("health") },
	})

	err := lc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "service health")
	assert.Equal(t, []string{"health", "game"}, order.get())
}

func TestLifecycle_Signal(t *testing.T) {
	order := &stopOrder{}
	lc := NewLifecycle(zaptest.NewLogger(t))
	lc.signals = []os.Signal{syscall.SIGUSR1}
	game := newBlockingService("game", order)
	lc.Add("game", game)

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()
	waitStarted(t, game)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle ignored signal")
	}
	assert.Equal(t, []string{"game"}, order.get())
}

func TestFuncService(t *testing.T) {
	started, stopped := false, false
	svc := &FuncService{
		StartFn: func() error {
			started = true
			return nil
		},
		StopFn: func() { stopped = true },
	}

	assert.NoError(t, svc.Start())
	assert.True(t, started)
	svc.Stop()
	assert.True(t, stopped)
}

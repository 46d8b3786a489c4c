package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_RunsAllHandlersOnce(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	for _, name := range []string{"store", "relay", "metrics"} {
		m.OnShutdown(name, func(ctx context.Context) { calls.Add(1) })
	}

	assert.True(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(3), calls.Load())

	// 第二次调用不再执行
	assert.True(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestShutdown_Timeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, m.Shutdown(ctx))
}

func TestShutdown_NoHandlers(t *testing.T) {
	assert.True(t, NewManager().Shutdown(context.Background()))
}

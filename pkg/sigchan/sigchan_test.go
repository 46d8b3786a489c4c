package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChan_EmitCoalesces(t *testing.T) {
	c := New(1)
	c.Emit()
	c.Emit()

	select {
	case <-c.C():
	default:
		t.Fatalf("expected a pending signal")
	}
	select {
	case <-c.C():
		t.Fatalf("signals should coalesce")
	default:
	}
}

func TestBroadcaster_FanOutAndCancel(t *testing.T) {
	b := NewBroadcaster()
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Emit()
	assert.Len(t, a, 1)
	assert.Len(t, c, 1)
	<-a
	<-c

	cancelA()
	b.Emit()
	assert.Len(t, a, 0)
	assert.Len(t, c, 1)
}

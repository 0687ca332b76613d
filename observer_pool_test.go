package xevent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPoolDropsWhenFull(t *testing.T) {
	op := NewObserverPool(1, 1, nil)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var seen atomic.Int32
	blocking := ObserverFunc(func(Event) {
		seen.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	op.Notify(Event{Type: Posted, Serial: 1}, []Observer{blocking})
	<-started
	op.Notify(Event{Type: Posted, Serial: 2}, []Observer{blocking})
	op.Notify(Event{Type: Posted, Serial: 3}, []Observer{blocking})

	stats := op.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.ActiveEvents)
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, 1, stats.BufferSize)

	close(release)
	require.NoError(t, op.Close(context.Background()))
	assert.Equal(t, int32(2), seen.Load())
	assert.Equal(t, uint64(2), op.Stats().Processed)
}

func TestObserverPoolRecoversPanics(t *testing.T) {
	op := NewObserverPool(1, 8, nil)
	got := make(chan Event, 1)
	exploding := ObserverFunc(func(Event) { panic("observer exploded") })
	recording := ObserverFunc(func(e Event) { got <- e })

	op.Notify(Event{Type: Completed, Serial: 7}, []Observer{exploding, recording})
	select {
	case e := <-got:
		assert.Equal(t, uint64(7), e.Serial)
	case <-time.After(2 * time.Second):
		t.Fatal("observer after a panicking one was not called")
	}
	require.NoError(t, op.Close(context.Background()))
	assert.Equal(t, uint64(1), op.Stats().Panicked)
}

func TestObserverPoolCloseDrainsAndTimesOut(t *testing.T) {
	op := NewObserverPool(2, 16, nil)
	var seen atomic.Int32
	counting := ObserverFunc(func(Event) { seen.Add(1) })
	for i := range 10 {
		op.Notify(Event{Type: Posted, Serial: uint64(i)}, []Observer{counting})
	}
	require.NoError(t, op.Close(context.Background()))
	assert.Equal(t, int32(10), seen.Load())
	assert.NoError(t, op.Close(context.Background()), "close is idempotent")

	op.Notify(Event{Type: Posted}, []Observer{counting})
	assert.Equal(t, int32(10), seen.Load(), "closed pools ignore events")

	stuck := NewObserverPool(1, 1, nil)
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	stuck.Notify(Event{Type: Posted}, []Observer{ObserverFunc(func(Event) {
		close(entered)
		<-release
	})})
	<-entered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := stuck.Close(ctx)
	assert.ErrorIs(t, err, ErrObserverPoolShutdownTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package xevent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
	closed  bool
}

func (s *recordingSink) Write(ctx context.Context, records ...*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

func TestSinkReceivesDeadAndFailureRecords(t *testing.T) {
	sink := &recordingSink{}
	b := newTestBus(t, func(bb *BusBuilder) { bb.WithSinkInstance(sink) })
	require.NoError(t, b.Subscribe(&failing{}))

	dead := post(t, b, orderShipped{ID: "s-1"})
	failed := post(t, b, orderPlaced{ID: "o-1", Total: 7})
	post(t, b, &orderShipped{ID: "ignored"}) // dead too

	recs := sink.snapshot()
	require.Len(t, recs, 3)

	assert.Equal(t, DeadEventRecord, recs[0].Kind)
	assert.Equal(t, dead.Serial(), recs[0].Serial)
	assert.Equal(t, "xevent.orderShipped", recs[0].EventName)
	assert.Equal(t, "json", recs[0].Codec)
	assert.NotEmpty(t, recs[0].ID)

	assert.Equal(t, FailureRecord, recs[1].Kind)
	assert.Equal(t, failed.Serial(), recs[1].Serial)
	assert.Equal(t, "*xevent.failing", recs[1].Subscriber)
	assert.Equal(t, "OnOrderPlaced", recs[1].Method)
	assert.Contains(t, recs[1].Error, "declined")
	assert.NotEqual(t, recs[0].ID, recs[1].ID)

	got, err := Decode[orderPlaced](recs[1])
	require.NoError(t, err)
	assert.Equal(t, orderPlaced{ID: "o-1", Total: 7}, got)

	fields := recs[1].Fields()
	assert.Equal(t, "failure", fields["kind"])
	assert.Equal(t, "OnOrderPlaced", fields["method"])

	require.NoError(t, b.Close(context.Background()))
	assert.True(t, sink.closed)
}

func TestSinkErrorsDegradeHealth(t *testing.T) {
	sinkErrs := make(chan Event, 4)
	sink := &recordingSink{err: errors.New("disk full")}
	b := newTestBus(t, func(bb *BusBuilder) {
		bb.WithSinkInstance(sink).WithObserver(ObserverFunc(func(e Event) {
			if e.Type == SinkError {
				sinkErrs <- e
			}
		}))
	})

	post(t, b, paymentFailed{ID: "p-1"})
	assert.Equal(t, uint64(1), b.GetMetrics().SinkErrors)

	h := b.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "sink writes failing", h.Message)

	e := <-sinkErrs
	assert.ErrorContains(t, e.Err, "disk full")
}

func TestSinkRegistry(t *testing.T) {
	assert.Error(t, RegisterSink("", func(map[string]any) (Sink, error) { return nil, nil }))
	assert.Error(t, RegisterSink("nil-factory", nil))

	_, err := NewSink("does-not-exist", nil)
	var unknown ErrUnknownSink
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, err.Error(), "does-not-exist")

	var seen map[string]any
	require.NoError(t, RegisterSink("test-recording", func(cfg map[string]any) (Sink, error) {
		seen = cfg
		return &recordingSink{}, nil
	}))
	assert.Contains(t, Sinks(), "test-recording")

	b, err := NewBusBuilder().
		WithSink("test-recording", map[string]any{"k": "v"}).
		WithObserverPool(1, 16).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "v", seen["k"])
	require.NoError(t, b.Close(context.Background()))
}

func TestBuildClosesSinksOnFailure(t *testing.T) {
	built := &recordingSink{}
	_, err := NewBusBuilder().
		WithSinkInstance(built).
		WithSink("does-not-exist", nil).
		Build()
	require.Error(t, err)
	assert.True(t, built.closed)
}

type upperCodec struct{ JSONCodec }

func (upperCodec) Name() string { return "upper-json" }

func TestCodecRegistry(t *testing.T) {
	assert.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	assert.Error(t, RegisterCodec("x", nil))

	_, err := NewCodec("missing")
	assert.Error(t, err)
	_, err = NewBusBuilder().WithCodec("missing").Build()
	assert.Error(t, err)

	require.NoError(t, RegisterCodec("upper-json", func() Codec { return upperCodec{} }))
	sink := &recordingSink{}
	b := newTestBus(t, func(bb *BusBuilder) { bb.WithCodec("upper-json").WithSinkInstance(sink) })
	post(t, b, paymentFailed{ID: "p-2"})

	recs := sink.snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, "upper-json", recs[0].Codec)
	got, err := Decode[paymentFailed](recs[0])
	require.NoError(t, err)
	assert.Equal(t, "p-2", got.ID)
}

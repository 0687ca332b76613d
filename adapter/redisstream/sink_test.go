package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xevent"
)

// OrderPlaced is a sample domain event for testing.
type OrderPlaced struct {
	ID    string
	Total int64
}

type rejecter struct{ reason string }

func (r *rejecter) OnOrderPlaced(o OrderPlaced) error {
	return &rejection{reason: r.reason}
}

type rejection struct{ reason string }

func (e *rejection) Error() string { return "rejected: " + e.reason }

// newSink returns a sink backed by an in-process Redis.
func newSink(t *testing.T, cfg Config) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	s, err := NewSink(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestConfigFromMap(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"addr":           "redis:6380",
		"stream":         "orders:dead",
		"max_len_approx": 500,
		"timeout":        "250ms",
	})
	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, "orders:dead", c.Stream)
	assert.Equal(t, int64(500), c.MaxLenApprox)
	assert.Equal(t, 250*time.Millisecond, c.Timeout)
	require.NoError(t, c.Validate())

	d := ConfigFromMap(nil)
	assert.Equal(t, Defaults(), d)
}

func TestConfigValidate(t *testing.T) {
	c := Defaults()
	c.Stream = ""
	assert.Error(t, c.Validate())

	c = Defaults()
	c.Addr = ""
	assert.Error(t, c.Validate())

	c = Defaults()
	c.MaxLenApprox = -1
	assert.Error(t, c.Validate())
}

func TestNewSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := Defaults()
	cfg.Addr = addr
	_, err := NewSink(cfg)
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	s, _ := newSink(t, Defaults())
	ctx := context.Background()

	posted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []*xevent.Record{
		{ID: "a", Kind: xevent.DeadEventRecord, Serial: 7, EventName: "redisstream.OrderPlaced", Payload: []byte(`{"ID":"o-1"}`), Codec: "json", PostedAt: posted, RecordedAt: posted.Add(time.Millisecond)},
		{ID: "b", Kind: xevent.FailureRecord, Serial: 8, Subscriber: "*redisstream.rejecter", Method: "OnOrderPlaced", Error: "boom", PostedAt: posted},
	}
	require.NoError(t, s.Write(ctx, in...))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	out, err := s.Read(ctx, "-", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, *in[0], *out[0])
	assert.Equal(t, "OnOrderPlaced", out[1].Method)
	assert.Equal(t, uint64(8), out[1].Serial)
	assert.Equal(t, Stats{Written: 2}, s.Stats())
}

func TestWrite_MaxLenApprox(t *testing.T) {
	cfg := Defaults()
	cfg.MaxLenApprox = 3
	s, _ := newSink(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(ctx, &xevent.Record{Serial: uint64(i)}))
	}
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(10))
	assert.GreaterOrEqual(t, n, int64(3))
}

func TestWrite_Closed(t *testing.T) {
	s, _ := newSink(t, Defaults())
	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Write(context.Background(), &xevent.Record{}), ErrClosed)
	// idempotent
	require.NoError(t, s.Close(context.Background()))
}

func TestWrite_ServerError(t *testing.T) {
	s, mr := newSink(t, Defaults())
	mr.SetError("READONLY")

	err := s.Write(context.Background(), &xevent.Record{ID: "x"})
	require.Error(t, err)
	assert.Equal(t, uint64(1), s.Stats().WriteErrors)
}

func TestNewSinkWithClient_LeavesClientOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewSinkWithClient(client, Config{Stream: "custom"})
	assert.Equal(t, "custom", s.Stream())
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestBus_WritesDeadEventsAndFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Defaults()
	cfg.Addr = mr.Addr()
	cfg.Stream = "orders:dead"

	bus := Use(cfg, WithSinkTimeout(time.Second))
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	ctx := context.Background()

	c, err := bus.Post(ctx, OrderPlaced{ID: "o-1", Total: 10})
	require.NoError(t, err)
	require.NoError(t, c.AwaitTimeout(2*time.Second))
	assert.True(t, c.IsDead())

	require.NoError(t, bus.Subscribe(&rejecter{reason: "limit"}))
	c, err = bus.Post(ctx, OrderPlaced{ID: "o-2", Total: 99})
	require.NoError(t, err)
	require.NoError(t, c.AwaitTimeout(2*time.Second))
	var rej *rejection
	require.ErrorAs(t, c.Err(), &rej)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	reader := NewSinkWithClient(client, cfg)
	recs, err := reader.Read(ctx, "-", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, xevent.DeadEventRecord, recs[0].Kind)
	assert.Equal(t, xevent.FailureRecord, recs[1].Kind)
	assert.Equal(t, "OnOrderPlaced", recs[1].Method)

	got, err := xevent.Decode[OrderPlaced](recs[1])
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced{ID: "o-2", Total: 99}, got)
}

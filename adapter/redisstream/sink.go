package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xevent"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("redis-streams sink is closed")

// Sink appends xevent records to a Redis stream with XADD.
type Sink struct {
	cfg    Config
	client *redis.Client
	owned  bool

	closeOnce sync.Once
	closed    atomic.Bool

	// metrics for observability
	metrics *sinkMetrics
}

// sinkMetrics tracks performance telemetry
type sinkMetrics struct {
	written     atomic.Uint64
	writeErrors atomic.Uint64
}

var _ xevent.Sink = (*Sink)(nil)

// NewSink connects to Redis and returns a sink owning the client.
func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	s := NewSinkWithClient(client, cfg)
	s.owned = true
	return s, nil
}

// NewSinkWithClient wraps an existing client. Close leaves the client open.
func NewSinkWithClient(client *redis.Client, cfg Config) *Sink {
	if cfg.Stream == "" {
		cfg.Stream = Defaults().Stream
	}
	return &Sink{
		cfg:     cfg,
		client:  client,
		metrics: &sinkMetrics{},
	}
}

// Stream returns the stream records are written to.
func (s *Sink) Stream() string { return s.cfg.Stream }

// Write appends records using Redis XADD (pipelined for batch efficiency).
func (s *Sink) Write(ctx context.Context, records ...*xevent.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	pipe := s.client.Pipeline()
	n := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		args := &redis.XAddArgs{
			Stream: s.cfg.Stream,
			ID:     "*", // Let Redis generate ID
			Values: r.Fields(),
		}

		// Approximate trimming to keep stream bounded
		if s.cfg.MaxLenApprox > 0 {
			args.MaxLen = s.cfg.MaxLenApprox
			args.Approx = true
		}

		pipe.XAdd(ctx, args)
		n++
	}
	if n == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.metrics.writeErrors.Add(uint64(n))
		return fmt.Errorf("redis-streams: xadd %s: %w", s.cfg.Stream, err)
	}

	s.metrics.written.Add(uint64(n))
	return nil
}

// Read returns up to count records with stream IDs at or after start ("-" for
// the beginning), oldest first.
func (s *Sink) Read(ctx context.Context, start string, count int64) ([]*xevent.Record, error) {
	if start == "" {
		start = "-"
	}
	msgs, err := s.client.XRangeN(ctx, s.cfg.Stream, start, "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*xevent.Record, 0, len(msgs))
	for _, m := range msgs {
		r, err := parseRecord(m.Values)
		if err != nil {
			return out, fmt.Errorf("redis-streams: entry %s: %w", m.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Len returns the stream length.
func (s *Sink) Len(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.cfg.Stream).Result()
}

// Close stops accepting writes and closes the client when the sink created it.
func (s *Sink) Close(_ context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.owned {
			err = s.client.Close()
		}
	})
	return err
}

// Stats returns sink telemetry.
type Stats struct {
	Written     uint64
	WriteErrors uint64
}

// Stats returns current sink metrics.
func (s *Sink) Stats() Stats {
	return Stats{
		Written:     s.metrics.written.Load(),
		WriteErrors: s.metrics.writeErrors.Load(),
	}
}

func parseRecord(vals map[string]any) (*xevent.Record, error) {
	str := func(k string) string {
		v, _ := vals[k].(string)
		return v
	}
	r := &xevent.Record{
		ID:         str(fieldID),
		Kind:       xevent.RecordKind(str(fieldKind)),
		EventName:  str(fieldEvent),
		Payload:    []byte(str(fieldPayload)),
		Codec:      str(fieldCodec),
		Subscriber: str(fieldSubscriber),
		Method:     str(fieldMethod),
		Error:      str(fieldError),
	}
	var err error
	if v := str(fieldSerial); v != "" {
		if r.Serial, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("serial: %w", err)
		}
	}
	if r.PostedAt, err = parseTime(str(fieldPostedAt)); err != nil {
		return nil, fmt.Errorf("postedAt: %w", err)
	}
	if r.RecordedAt, err = parseTime(str(fieldRecordedAt)); err != nil {
		return nil, fmt.Errorf("recordedAt: %w", err)
	}
	return r, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}

package xevent

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// RecordKind distinguishes the records a bus hands to sinks.
type RecordKind string

const (
	// DeadEventRecord is written for an event no handler was scheduled for.
	DeadEventRecord RecordKind = "dead"
	// FailureRecord is written once per failed handler invocation.
	FailureRecord RecordKind = "failure"
)

// Record is a dead event or handler failure, encoded for durable storage.
type Record struct {
	ID         string
	Kind       RecordKind
	Serial     uint64
	EventName  string
	Payload    []byte
	Codec      string
	Subscriber string
	Method     string
	Error      string
	PostedAt   time.Time
	RecordedAt time.Time
}

// Fields flattens r into string fields for stream-like backends.
func (r *Record) Fields() map[string]any {
	return map[string]any{
		"id":         r.ID,
		"kind":       string(r.Kind),
		"serial":     strconv.FormatUint(r.Serial, 10),
		"event":      r.EventName,
		"payload":    r.Payload,
		"codec":      r.Codec,
		"subscriber": r.Subscriber,
		"method":     r.Method,
		"error":      r.Error,
		"postedAt":   r.PostedAt.UTC().Format(time.RFC3339Nano),
		"recordedAt": r.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Sink is the Strategy interface for dead-letter and failure storage.
type Sink interface {
	// Write stores records. Implementations should honor ctx deadlines.
	Write(ctx context.Context, records ...*Record) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// records builds the sink records for a finished completion.
func (b *Bus) records(c *Completion) []*Record {
	dead := !c.scheduled.Load()
	errs := c.Errors()
	if !dead && len(errs) == 0 {
		return nil
	}
	payload, err := b.codec.Marshal(c.event)
	if err != nil {
		b.logger.Warn().Err(err).Str("event", eventName(reflect.TypeOf(c.event))).Msg("xevent: encode sink payload failed")
	}
	now := b.clock.Now()
	base := Record{
		Kind:       DeadEventRecord,
		Serial:     c.serial,
		EventName:  eventName(reflect.TypeOf(c.event)),
		Payload:    payload,
		Codec:      b.codec.Name(),
		PostedAt:   c.posted,
		RecordedAt: now,
	}
	if dead {
		r := base
		r.ID = uuid.NewString()
		return []*Record{&r}
	}
	out := make([]*Record, 0, len(errs))
	for _, e := range errs {
		r := base
		r.ID = uuid.NewString()
		r.Kind = FailureRecord
		r.Error = e.Error()
		var he *HandlerError
		if errors.As(e, &he) {
			r.Subscriber = he.Subscriber.String()
			r.Method = he.Method
		}
		out = append(out, &r)
	}
	return out
}

// writeSinks hands records to every sink under the configured timeout.
func (b *Bus) writeSinks(recs []*Record) error {
	ctx := context.Background()
	if b.sinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.sinkTimeout)
		defer cancel()
	}
	var errs error
	for _, s := range b.sinks {
		errs = multierr.Append(errs, s.Write(ctx, recs...))
	}
	return errs
}

// Package notify fans bridge events out to downstream sinks. Publishing is
// best effort and happens after the change it describes is committed; a
// failed publish is logged and counted, never surfaced to the caller.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/observability"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// SubjectPrefix is the root of every event subject.
const SubjectPrefix = "bridge.events"

// Sink delivers one encoded event to a downstream system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evt core.Event, payload []byte) error
}

// Subject returns bridge.events.{kind}[.{chain}].
func Subject(evt core.Event) string {
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, evt.Kind)
	if evt.Chain != "" {
		subject = fmt.Sprintf("%s.%s", subject, evt.Chain)
	}
	return subject
}

// Dispatcher implements core.Notifier on a bounded worker pool, one task per
// sink per event.
type Dispatcher struct {
	sinks   []Sink
	pool    pond.Pool
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		pool:    pond.NewPool(opts.Workers, pond.WithQueueSize(opts.QueueSize)),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Notify encodes evt once and queues it for every sink.
func (d *Dispatcher) Notify(ctx context.Context, evt core.Event) {
	if len(d.sinks) == 0 {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", string(evt.Kind)).Msg("encode event")
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		task := d.pool.Submit(func() {
			pctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := s.Publish(pctx, evt, payload)
			d.metrics.RecordNotification(s.Name(), err)
			if err != nil {
				d.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str("kind", string(evt.Kind)).
					Str("event_id", evt.ID.String()).
					Msg("publish event")
			}
		})
		// A task the pool refused is already resolved.
		select {
		case <-task.Done():
			if err := task.Wait(); errors.Is(err, pond.ErrPoolStopped) || errors.Is(err, pond.ErrQueueFull) {
				d.metrics.RecordNotification(s.Name(), err)
				d.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str("kind", string(evt.Kind)).
					Str("event_id", evt.ID.String()).
					Msg("event dropped")
			}
		default:
		}
	}
}

// Close waits for queued publishes to finish. Events notified afterwards are
// dropped and counted as failed.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}

// LogSink writes events to a logger. Used when no broker is configured.
type LogSink struct {
	Logger zerolog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Publish(_ context.Context, evt core.Event, _ []byte) error {
	s.Logger.Info().
		Str("subject", Subject(evt)).
		Str("event_id", evt.ID.String()).
		Str("tx", evt.TxID).
		Str("owner", string(evt.Owner)).
		Msg("event")
	return nil
}

// Package jobs runs the bridge's periodic background work on a cron
// scheduler: retrying own-address resolution and refreshing gauges.
package jobs

import (
	"context"
	"fmt"
	"time"

	"LiquidityBridge/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a seconds-resolution cron with panic recovery.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger zerolog.Logger
}

func NewScheduler(ctx context.Context, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger}))),
		ctx:    ctx,
		logger: logger,
	}
}

// Add schedules fn under spec. Each run is bounded by timeout.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		if err := fn(rctx); err != nil {
			s.logger.Warn().Err(err).Str("job", name).Msg("job run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("cron started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// AddressSource is implemented by *core.Bridge.
type AddressSource interface {
	OwnAddress() (common.Address, error)
	ResolveAddress(ctx context.Context) (common.Address, error)
}

// ResolveAddressJob resolves the own address until it succeeds once, then
// marks the readiness condition. Later runs are no-ops.
func ResolveAddressJob(src AddressSource, health *observability.HealthChecker) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := src.OwnAddress(); err == nil {
			health.Set(observability.CondAddressReady, true)
			return nil
		}
		if _, err := src.ResolveAddress(ctx); err != nil {
			return err
		}
		health.Set(observability.CondAddressReady, true)
		return nil
	}
}

// GaugeSource is implemented by *core.Bridge.
type GaugeSource interface {
	RefreshGauges()
}

func RefreshGaugesJob(src GaugeSource) func(ctx context.Context) error {
	return func(context.Context) error {
		src.RefreshGauges()
		return nil
	}
}

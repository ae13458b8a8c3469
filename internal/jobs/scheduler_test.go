package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySource struct {
	failures int
	calls    int
	addr     *common.Address
}

func (s *flakySource) OwnAddress() (common.Address, error) {
	if s.addr == nil {
		return common.Address{}, core.ErrNotInitialized
	}
	return *s.addr, nil
}

func (s *flakySource) ResolveAddress(context.Context) (common.Address, error) {
	s.calls++
	if s.calls <= s.failures {
		return common.Address{}, errors.New("signer unavailable")
	}
	a := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	s.addr = &a
	return a, nil
}

func TestResolveAddressJob_RetriesUntilResolved(t *testing.T) {
	src := &flakySource{failures: 2}
	health := observability.NewHealthChecker(observability.CondAddressReady)
	job := ResolveAddressJob(src, health)
	ctx := context.Background()

	assert.Error(t, job(ctx))
	assert.Error(t, job(ctx))
	assert.False(t, health.IsReady())

	require.NoError(t, job(ctx))
	assert.True(t, health.IsReady())

	require.NoError(t, job(ctx))
	assert.Equal(t, 3, src.calls, "no resolution once cached")
}

type countingGauges struct{ n atomic.Int32 }

func (c *countingGauges) RefreshGauges() { c.n.Add(1) }

func TestScheduler_RunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx, zerolog.Nop())
	g := &countingGauges{}
	require.NoError(t, s.Add("gauges", "@every 1s", time.Second, RefreshGaugesJob(g)))
	require.NoError(t, s.Add("panics", "@every 1s", time.Second, func(context.Context) error { panic("boom") }))

	s.Start()
	assert.Eventually(t, func() bool { return g.n.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	assert.Error(t, s.Add("bad", "every now and then", time.Second, RefreshGaugesJob(&countingGauges{})))
}

package core_test

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genOffers(t *rapid.T) []ledger.LiquidityOffer {
	n := rapid.IntRange(0, 12).Draw(t, "n")
	offers := make([]ledger.LiquidityOffer, n)
	for i := range offers {
		offers[i] = ledger.LiquidityOffer{
			ID:            uuid.New(),
			Owner:         ledger.Principal(fmt.Sprintf("p%d", i)),
			Chain:         rapid.SampledFrom([]string{"polygon", "bsc"}).Draw(t, "chain"),
			Amount:        rapid.Uint64Range(0, 1_000_000).Draw(t, "amount"),
			AskPrice:      rapid.SampledFrom([]uint64{9000, 9500, 10000, 10500, 12000}).Draw(t, "ask"),
			Withdrawn:     rapid.Float64Range(0, 1).Draw(t, "withdrawn_roll") < 0.2,
			PayoutAddress: "0x0000000000000000000000000000000000000001",
		}
	}
	return offers
}

// ============================================================================
// SelectFills
// ============================================================================

func TestSelectFills_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		offers := genOffers(t)
		requested := rapid.Uint64Range(1, 5_000_000).Draw(t, "requested")

		fills, remainder, err := core.SelectFills(offers, "polygon", requested)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var filled, available uint64
		for _, o := range offers {
			if o.Fillable("polygon") {
				available += o.Amount
			}
		}
		for i, f := range fills {
			o := offers[f.Index]
			if !o.Fillable("polygon") {
				t.Fatalf("fill %d uses unfillable offer %d", i, f.Index)
			}
			if f.Amount == 0 || f.Amount > o.Amount {
				t.Fatalf("fill %d amount %d out of range (offer has %d)", i, f.Amount, o.Amount)
			}
			if want := f.Amount * f.AskPrice / 10000; f.Payout != want {
				t.Fatalf("fill %d payout %d, want %d", i, f.Payout, want)
			}
			if i > 0 {
				prev := fills[i-1]
				if prev.AskPrice > f.AskPrice {
					t.Fatalf("ask prices not ascending at %d", i)
				}
				if prev.AskPrice == f.AskPrice && prev.Index > f.Index {
					t.Fatalf("equal prices out of book order at %d", i)
				}
				if prev.Amount != offers[prev.Index].Amount {
					t.Fatalf("fill %d is partial but not last", i-1)
				}
			}
			filled += f.Amount
		}

		if filled+remainder != requested {
			t.Fatalf("filled %d + remainder %d != requested %d", filled, remainder, requested)
		}
		if remainder > 0 && filled != available {
			t.Fatalf("remainder %d left while %d of %d available was filled", remainder, filled, available)
		}
	})
}

func TestSelectFills_DoesNotMutateInput(t *testing.T) {
	offers := []ledger.LiquidityOffer{
		{ID: uuid.New(), Chain: "polygon", Amount: 100, AskPrice: 10500},
		{ID: uuid.New(), Chain: "polygon", Amount: 100, AskPrice: 9000},
	}
	before := append([]ledger.LiquidityOffer(nil), offers...)

	fills, remainder, err := core.SelectFills(offers, "polygon", 150)
	require.NoError(t, err)
	assert.Zero(t, remainder)
	require.Len(t, fills, 2)
	assert.Equal(t, 1, fills[0].Index)
	assert.Equal(t, uint64(50), fills[1].Amount)
	assert.Equal(t, before, offers)
}

func TestSelectFills_OverflowIsReported(t *testing.T) {
	offers := []ledger.LiquidityOffer{{ID: uuid.New(), Chain: "polygon", Amount: math.MaxUint64, AskPrice: 20000}}
	_, _, err := core.SelectFills(offers, "polygon", math.MaxUint64)
	assert.ErrorIs(t, err, core.ErrArithmeticOverflow)
}

func TestSelectFills_EmptyBook(t *testing.T) {
	fills, remainder, err := core.SelectFills(nil, "polygon", 10)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, uint64(10), remainder)
}

// ============================================================================
// ExclusivityGuard
// ============================================================================

func TestExclusivityGuard_AtMostOneHolder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		workers := rapid.IntRange(2, 16).Draw(t, "workers")
		rounds := rapid.IntRange(1, 50).Draw(t, "rounds")

		var g core.ExclusivityGuard
		var inside, maxInside, acquired atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for r := 0; r < rounds; r++ {
					h, err := g.Acquire()
					if err != nil {
						continue
					}
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					acquired.Add(1)
					inside.Add(-1)
					h.Release()
				}
			}()
		}
		wg.Wait()

		if maxInside.Load() > 1 {
			t.Fatalf("%d holders at once", maxInside.Load())
		}
		if acquired.Load() == 0 {
			t.Fatalf("nobody acquired the guard")
		}
		if g.Held() {
			t.Fatalf("guard still held after all workers released")
		}
	})
}

func TestExclusivityGuard_BusyAndRelease(t *testing.T) {
	var g core.ExclusivityGuard

	h, err := g.Acquire()
	require.NoError(t, err)
	assert.True(t, g.Held())

	_, err = g.Acquire()
	assert.ErrorIs(t, err, core.ErrBusy)

	h.Release()
	h.Release()
	assert.False(t, g.Held())

	h2, err := g.Acquire()
	require.NoError(t, err)

	// a stale handle must not free someone else's hold
	h.Release()
	assert.True(t, g.Held())
	h2.Release()

	var nilHandle *core.Handle
	assert.NotPanics(t, nilHandle.Release)
}

// ============================================================================
// ReplayGuard
// ============================================================================

func TestReplayGuard(t *testing.T) {
	r := core.NewReplayGuard()
	assert.False(t, r.IsUsed("0xAB"))

	r.MarkUsed(" 0xAB ")
	assert.True(t, r.IsUsed("0xab"))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.IsUsed("ab"), "bare hex is the same id")
	assert.True(t, r.IsUsed("0XAB"))

	r.Load([]string{"0xab", "cd"})
	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsUsed("0xCD"))
}

func TestNormalizeTxID(t *testing.T) {
	tests := map[string]string{
		"0xabc":     "0xabc",
		"abc":       "0xabc",
		"0XABC":     "0xabc",
		" 0xAbC \n": "0xabc",
		"":          "",
		"  ":        "",
		"0x":        "",
		"0X":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, core.NormalizeTxID(in), "input %q", in)
	}
}

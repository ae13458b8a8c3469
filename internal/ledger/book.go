package ledger

import (
	"errors"
	"fmt"
	"sync"

	fpmath "LiquidityBridge/internal/math"

	"github.com/google/uuid"
)

var (
	ErrNothingToWithdraw = errors.New("no liquidity found to withdraw")
	ErrUnknownOffer      = errors.New("unknown offer index")
	ErrOverfill          = errors.New("fill exceeds remaining amount")
)

// Book is the ordered sequence of liquidity offers.
//
// Mutations are serialized by the caller's exclusivity guard; the RWMutex only
// keeps unguarded readers from observing a half-applied write.
type Book struct {
	mu     sync.RWMutex
	offers []LiquidityOffer
}

func NewBook() *Book {
	return &Book{}
}

// Restore replaces the book contents, used when loading persisted state at start-up.
func (b *Book) Restore(offers []LiquidityOffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers = append(make([]LiquidityOffer, 0, len(offers)), offers...)
}

// RecordOffer appends a new offer. Validation is the deposit flow's job.
func (b *Book) RecordOffer(offer LiquidityOffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers = append(b.offers, offer)
}

// ListFor returns the owner's non-withdrawn offers.
func (b *Book) ListFor(owner Principal) []LiquidityOffer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []LiquidityOffer
	for _, o := range b.offers {
		if o.Owner == owner && !o.Withdrawn {
			out = append(out, o)
		}
	}
	return out
}

// WithdrawTargets returns the IDs Withdraw(owner, chain) would mark, without
// changing anything. Used to persist the change before applying it.
func (b *Book) WithdrawTargets(owner Principal, chain string) []uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []uuid.UUID
	for _, o := range b.offers {
		if o.Owner == owner && o.Chain == chain && !o.Withdrawn {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Withdraw marks every non-withdrawn offer of owner on chain as withdrawn.
// This forfeits matching only; no funds move here.
func (b *Book) Withdraw(owner Principal, chain string) ([]LiquidityOffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changed []LiquidityOffer
	for i := range b.offers {
		o := &b.offers[i]
		if o.Owner == owner && o.Chain == chain && !o.Withdrawn {
			o.Withdrawn = true
			changed = append(changed, *o)
		}
	}
	if len(changed) == 0 {
		return nil, ErrNothingToWithdraw
	}
	return changed, nil
}

// PreviewFills computes the offers that ApplyFills would produce without mutating the book.
func (b *Book) PreviewFills(fills []Fill) ([]LiquidityOffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applied(fills)
}

// ApplyFills decrements each filled offer, marking it withdrawn when nothing remains.
// Either every fill applies or none does.
func (b *Book) ApplyFills(fills []Fill) ([]LiquidityOffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	updated, err := b.applied(fills)
	if err != nil {
		return nil, err
	}
	for i, f := range fills {
		b.offers[f.Index] = updated[i]
	}
	return updated, nil
}

func (b *Book) applied(fills []Fill) ([]LiquidityOffer, error) {
	updated := make([]LiquidityOffer, 0, len(fills))
	pending := make(map[int]uint64, len(fills))

	for _, f := range fills {
		if f.Index < 0 || f.Index >= len(b.offers) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownOffer, f.Index)
		}
		o := b.offers[f.Index]
		if f.OfferID != uuid.Nil && o.ID != f.OfferID {
			return nil, fmt.Errorf("%w: index %d holds offer %s, fill names %s", ErrUnknownOffer, f.Index, o.ID, f.OfferID)
		}

		remaining := o.Amount
		if prev, ok := pending[f.Index]; ok {
			remaining = prev
		}
		if f.Amount > remaining {
			return nil, fmt.Errorf("%w: offer %s has %d, fill %d", ErrOverfill, o.ID, remaining, f.Amount)
		}

		remaining, err := fpmath.Sub(remaining, f.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: offer %s: %v", ErrOverfill, o.ID, err)
		}
		pending[f.Index] = remaining
		o.Amount = remaining
		if remaining == 0 {
			o.Withdrawn = true
		}
		updated = append(updated, o)
	}
	return updated, nil
}

// Snapshot returns a copy of every offer in insertion order.
func (b *Book) Snapshot() []LiquidityOffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(make([]LiquidityOffer, 0, len(b.offers)), b.offers...)
}

// Available sums the fillable amount per chain. A per-chain total beyond
// uint64 is reported as fpmath.ErrOverflow.
func (b *Book) Available() (map[string]uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]uint64)
	for _, o := range b.offers {
		if o.Withdrawn {
			continue
		}
		sum, err := fpmath.Add(out[o.Chain], o.Amount)
		if err != nil {
			return nil, fmt.Errorf("available on %s: %w", o.Chain, err)
		}
		out[o.Chain] = sum
	}
	return out, nil
}

// Len returns the number of offers ever recorded.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.offers)
}

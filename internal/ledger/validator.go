package ledger

import (
	"fmt"

	fpmath "LiquidityBridge/internal/math"

	"github.com/google/uuid"
)

// InvariantValidator checks book invariants. Run after restoring persisted
// state and, in tests, after every mutation.
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{book: book}
}

// ValidateOffer checks a single offer's fields.
func ValidateOffer(o LiquidityOffer) error {
	if o.ID == uuid.Nil {
		return fmt.Errorf("offer has nil id")
	}
	if o.Owner == "" {
		return fmt.Errorf("offer %s has no owner", o.ID)
	}
	if o.AskPrice == 0 {
		return fmt.Errorf("offer %s has zero ask price", o.ID)
	}
	if !o.Withdrawn && o.Amount == 0 {
		return fmt.Errorf("offer %s is open with zero amount", o.ID)
	}
	return nil
}

// ValidateBook checks every offer and that IDs are unique.
func (v *InvariantValidator) ValidateBook() error {
	seen := make(map[uuid.UUID]struct{})
	for i, o := range v.book.Snapshot() {
		if err := ValidateOffer(o); err != nil {
			return fmt.Errorf("offer %d: %w", i, err)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("offer %d: duplicate id %s", i, o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// ValidateFills checks that a fill set does not take more than was requested
// and that no offer is filled above its remaining amount.
func (v *InvariantValidator) ValidateFills(fills []Fill, requested uint64) error {
	offers := v.book.Snapshot()
	taken := make(map[int]uint64, len(fills))
	var total uint64

	for _, f := range fills {
		if f.Index < 0 || f.Index >= len(offers) {
			return fmt.Errorf("%w: %d", ErrUnknownOffer, f.Index)
		}
		sum, err := fpmath.Add(taken[f.Index], f.Amount)
		if err != nil || sum > offers[f.Index].Amount {
			return fmt.Errorf("%w: offer %d", ErrOverfill, f.Index)
		}
		taken[f.Index] = sum
		if total, err = fpmath.Add(total, f.Amount); err != nil {
			return fmt.Errorf("fills total: %w", err)
		}
		if total > requested {
			return fmt.Errorf("fills total %d exceeds requested %d", total, requested)
		}
	}
	return nil
}

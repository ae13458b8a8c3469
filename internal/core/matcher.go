package core

import (
	"cmp"
	"fmt"
	"slices"

	"LiquidityBridge/internal/ledger"
	fpmath "LiquidityBridge/internal/math"
)

// SelectFills picks offers on chain by ascending ask price until requested is
// covered. Equal prices keep book order. The returned remainder is the unmet
// part of requested; a non-zero remainder is not an error here.
func SelectFills(offers []ledger.LiquidityOffer, chain string, requested uint64) ([]ledger.Fill, uint64, error) {
	candidates := make([]int, 0, len(offers))
	for i, o := range offers {
		if o.Fillable(chain) {
			candidates = append(candidates, i)
		}
	}
	slices.SortStableFunc(candidates, func(a, b int) int {
		return cmp.Compare(offers[a].AskPrice, offers[b].AskPrice)
	})

	var fills []ledger.Fill
	remaining := requested
	for _, idx := range candidates {
		if remaining == 0 {
			break
		}
		o := offers[idx]
		fill := fpmath.Min(o.Amount, remaining)
		payout, err := fpmath.Payout(fill, o.AskPrice)
		if err != nil {
			return nil, requested, fmt.Errorf("%w: payout for offer %s: %v", ErrArithmeticOverflow, o.ID, err)
		}

		fills = append(fills, ledger.Fill{
			Index:         idx,
			OfferID:       o.ID,
			Owner:         o.Owner,
			PayoutAddress: o.PayoutAddress,
			AskPrice:      o.AskPrice,
			Amount:        fill,
			Payout:        payout,
		})
		if remaining, err = fpmath.Sub(remaining, fill); err != nil {
			return nil, requested, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
		}
	}
	return fills, remaining, nil
}

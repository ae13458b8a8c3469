package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Principal identifies the account that owns an offer. It is opaque to the ledger.
type Principal string

// LiquidityOffer is a provider's standing sell order for a fixed amount,
// redeemable at a fixed price on one chain.
type LiquidityOffer struct {
	ID            uuid.UUID `json:"id"`
	Owner         Principal `json:"owner"`
	Chain         string    `json:"chain"`
	Amount        uint64    `json:"amount"`    // remaining, smallest token unit
	AskPrice      uint64    `json:"ask_price"` // basis points, 10_000 = 1.0x
	Withdrawn     bool      `json:"withdrawn"`
	PayoutAddress string    `json:"payout_address"`
	SourceTxID    string    `json:"source_tx_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Fillable reports whether the offer can take part in matching on chain.
func (o LiquidityOffer) Fillable(chain string) bool {
	return o.Chain == chain && !o.Withdrawn && o.Amount > 0
}

// Fill is one offer's share of a buy request.
type Fill struct {
	Index         int // position of the offer in the book
	OfferID       uuid.UUID
	Owner         Principal
	PayoutAddress string
	AskPrice      uint64
	Amount        uint64 // taken from the offer
	Payout        uint64 // owed to the offer's owner
}

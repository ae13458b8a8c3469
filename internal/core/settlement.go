package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LiquidityBridge/internal/chain"
	"LiquidityBridge/internal/evm"
	"LiquidityBridge/internal/ledger"
	fpmath "LiquidityBridge/internal/math"
	"LiquidityBridge/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// SettlementRequest is a verified-on-entry buy: the buyer paid Amount on
// FromChain to Bridge and is owed Amount on ToChain.
type SettlementRequest struct {
	FromChain string
	ToChain   string
	Amount    uint64
	TxID      string
	Buyer     common.Address
	Bridge    common.Address
}

// BroadcastRecord is one outbound transfer accepted by the network.
type BroadcastRecord struct {
	Role      string         `json:"role"`
	OfferID   uuid.UUID      `json:"offer_id,omitempty"`
	Recipient common.Address `json:"recipient"`
	Amount    uint64         `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	TxHash    common.Hash    `json:"tx_hash"`
}

// SettlementReceipt describes a completed or partially completed settlement.
type SettlementReceipt struct {
	TxID       string            `json:"tx_id"`
	FromChain  string            `json:"from_chain"`
	ToChain    string            `json:"to_chain"`
	Amount     uint64            `json:"amount"`
	Fills      []ledger.Fill     `json:"fills"`
	Broadcasts []BroadcastRecord `json:"broadcasts"`
	SettledAt  time.Time         `json:"settled_at"`
}

// Settler runs the buy flow: verify payment, match, pay buyer, pay sellers,
// then commit fills. The caller holds the ExclusivityGuard throughout.
//
// Transfers already accepted are never reverted when a later one fails.
type Settler struct {
	registry       *chain.Registry
	verifier       TransferVerifier
	params         TxParamsFetcher
	signer         Signer
	broadcaster    Broadcaster
	book           *ledger.Book
	store          Store
	derivationPath [][]byte
	metrics        *observability.Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

func (s *Settler) Settle(ctx context.Context, req SettlementRequest) (*SettlementReceipt, error) {
	target, ok := s.registry.Lookup(req.ToChain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, req.ToChain)
	}

	// 1. buyer's inbound payment
	verified, err := s.verifier.VerifyTransfer(ctx, req.FromChain, req.TxID, req.Buyer, req.Bridge, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: verify %s on %s: %v", ErrExternalCall, req.TxID, req.FromChain, err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: tx %s on %s", ErrVerificationFailed, req.TxID, req.FromChain)
	}

	// 2. match against a snapshot; nothing mutated yet
	fills, remainder, err := SelectFills(s.book.Snapshot(), req.ToChain, req.Amount)
	if err != nil {
		return nil, err
	}
	if remainder > 0 {
		return nil, fmt.Errorf("%w: %d of %d unfilled on %s", ErrInsufficientLiquidity, remainder, req.Amount, req.ToChain)
	}
	if err := ledger.NewInvariantValidator(s.book).ValidateFills(fills, req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlement, err)
	}

	receipt := &SettlementReceipt{
		TxID:      req.TxID,
		FromChain: req.FromChain,
		ToChain:   req.ToChain,
		Amount:    req.Amount,
		Fills:     fills,
	}
	fail := func(step string, cause error) error {
		if len(receipt.Broadcasts) > 0 {
			s.metrics.RecordPartialSettlement(req.ToChain)
		}
		s.logger.Error().
			Err(cause).
			Str("step", step).
			Str("tx", req.TxID).
			Int("accepted", len(receipt.Broadcasts)).
			Msg("settlement aborted")
		return &SettlementError{Step: step, Cause: cause, Accepted: receipt.Broadcasts}
	}

	// 3. one parameter fetch; nonces N..N+len(fills) are reserved for this batch
	params, err := s.params.FetchTxParams(ctx, req.ToChain, req.Bridge)
	if err != nil {
		return nil, fail("fetch_params", fmt.Errorf("%w: %v", ErrExternalCall, err))
	}

	// 4. pay the buyer the full amount
	rec, err := s.transfer(ctx, target, req.Bridge, req.Buyer, req.Amount, params.WithNonce(params.Nonce), RoleBuyer)
	if err != nil {
		return nil, fail("pay_buyer", err)
	}
	receipt.Broadcasts = append(receipt.Broadcasts, rec)

	// 5. pay each seller
	for i, f := range fills {
		nonce, err := fpmath.Add(params.Nonce, uint64(1+i))
		if err != nil {
			return nil, fail("pay_seller", fmt.Errorf("%w: nonce: %v", ErrArithmeticOverflow, err))
		}
		recipient, err := evm.ParseAddress(f.PayoutAddress)
		if err != nil {
			return nil, fail("pay_seller", fmt.Errorf("%w: offer %s payout address: %v", ErrInvalidArgument, f.OfferID, err))
		}
		rec, err := s.transfer(ctx, target, req.Bridge, recipient, f.Payout, params.WithNonce(nonce), RoleSeller)
		if err != nil {
			return nil, fail("pay_seller", err)
		}
		rec.OfferID = f.OfferID
		receipt.Broadcasts = append(receipt.Broadcasts, rec)
	}

	// 6. every transfer accepted: commit
	if err := s.commit(ctx, fills, req.TxID); err != nil {
		return nil, fail("commit", err)
	}
	for _, f := range fills {
		s.metrics.RecordFill(req.ToChain, f.Amount, f.Payout)
	}
	receipt.SettledAt = s.now().UTC()
	return receipt, nil
}

func (s *Settler) transfer(ctx context.Context, c chain.Chain, from, to common.Address, amount uint64, params evm.TxParams, role string) (BroadcastRecord, error) {
	unsigned, err := evm.BuildTransfer(c.Token, to, fpmath.ToBig(amount), params)
	if err != nil {
		return BroadcastRecord{}, err
	}

	sig, err := s.signer.Sign(ctx, unsigned.Digest, s.derivationPath)
	if err != nil {
		return BroadcastRecord{}, fmt.Errorf("%w: sign: %v", ErrExternalCall, err)
	}
	raw, hash, err := unsigned.AttachSignature(sig, from)
	if err != nil {
		return BroadcastRecord{}, err
	}

	res, err := s.broadcaster.Broadcast(ctx, c.Name, raw)
	if err != nil {
		s.metrics.RecordBroadcast(c.Name, role, false)
		return BroadcastRecord{}, fmt.Errorf("%w: broadcast %s: %v", ErrExternalCall, hash.Hex(), err)
	}
	s.metrics.RecordBroadcast(c.Name, role, res.Accepted)
	if !res.Accepted {
		return BroadcastRecord{}, fmt.Errorf("transfer to %s %s rejected: %s", role, to.Hex(), res.Reason)
	}
	if res.TxHash != (common.Hash{}) {
		hash = res.TxHash
	}

	s.logger.Info().
		Str("chain", c.Name).
		Str("role", role).
		Str("to", to.Hex()).
		Str("amount", c.FormatAmount(amount)).
		Uint64("nonce", params.Nonce).
		Str("tx_hash", hash.Hex()).
		Msg("transfer broadcast")

	return BroadcastRecord{
		Role:      role,
		Recipient: to,
		Amount:    amount,
		Nonce:     params.Nonce,
		TxHash:    hash,
	}, nil
}

// commit persists the filled offers and the consumed buy tx id, then applies
// the fills in memory. The durable write is not cancelled with the caller's
// context: the transfers are already out.
func (s *Settler) commit(ctx context.Context, fills []ledger.Fill, txID string) error {
	updated, err := s.book.PreviewFills(fills)
	if err != nil {
		return err
	}

	start := time.Now()
	storeErr := s.store.CommitFills(context.WithoutCancel(ctx), updated, NormalizeTxID(txID))
	s.metrics.ObserveStore("commit_fills", time.Since(start), storeErr)

	// Apply in memory even if the durable write failed, so this process
	// cannot sell the same liquidity twice.
	if _, err := s.book.ApplyFills(fills); err != nil {
		return errors.Join(err, storeErr)
	}
	if storeErr != nil {
		return fmt.Errorf("%w: %v", ErrStorage, storeErr)
	}
	return nil
}

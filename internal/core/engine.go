package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LiquidityBridge/internal/chain"
	"LiquidityBridge/internal/evm"
	"LiquidityBridge/internal/ledger"
	"LiquidityBridge/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps wires a Bridge to its collaborators. Notifier and Metrics may be nil.
type Deps struct {
	Registry       *chain.Registry
	Store          Store
	Verifier       TransferVerifier
	Params         TxParamsFetcher
	Signer         Signer
	Broadcaster    Broadcaster
	Resolver       AddressResolver
	Notifier       Notifier
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	DerivationPath [][]byte
	Now            func() time.Time
}

// Bridge owns all settlement state and exposes the public operations.
// Deposit, Withdraw and Buy are serialized by one ExclusivityGuard; ListOffers
// and OwnAddress are unguarded reads.
type Bridge struct {
	registry *chain.Registry
	store    Store
	verifier TransferVerifier
	notifier Notifier
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	guard   ExclusivityGuard
	book    *ledger.Book
	replay  *ReplayGuard
	address *AddressCache
	settler *Settler
}

// DepositRequest registers liquidity paid to the bridge in TxID.
type DepositRequest struct {
	Chain         string `json:"chain"`
	Amount        uint64 `json:"amount"`
	AskPrice      uint64 `json:"ask_price"`
	TxID          string `json:"tx_id"`
	PayoutAddress string `json:"payout_address"`
}

// BuyRequest buys Amount on ToChain with a payment of Amount on FromChain.
type BuyRequest struct {
	FromChain string `json:"from_chain"`
	ToChain   string `json:"to_chain"`
	Amount    uint64 `json:"amount"`
	TxID      string `json:"tx_id"`
	Buyer     string `json:"buyer"`
}

func NewBridge(d Deps) (*Bridge, error) {
	switch {
	case d.Registry == nil:
		return nil, fmt.Errorf("bridge: registry is required")
	case d.Store == nil:
		return nil, fmt.Errorf("bridge: store is required")
	case d.Verifier == nil, d.Params == nil, d.Signer == nil, d.Broadcaster == nil, d.Resolver == nil:
		return nil, fmt.Errorf("bridge: verifier, params, signer, broadcaster and resolver are required")
	case len(d.DerivationPath) == 0:
		return nil, fmt.Errorf("bridge: derivation path is required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	book := ledger.NewBook()
	return &Bridge{
		registry: d.Registry,
		store:    d.Store,
		verifier: d.Verifier,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
		book:     book,
		replay:   NewReplayGuard(),
		address:  NewAddressCache(d.Resolver),
		settler: &Settler{
			registry:       d.Registry,
			verifier:       d.Verifier,
			params:         d.Params,
			signer:         d.Signer,
			broadcaster:    d.Broadcaster,
			book:           book,
			store:          d.Store,
			derivationPath: d.DerivationPath,
			metrics:        d.Metrics,
			logger:         d.Logger.With().Str("component", "settlement").Logger(),
			now:            d.Now,
		},
	}, nil
}

// Restore loads persisted offers, consumed ids and the cached address.
// Call once before serving.
func (b *Bridge) Restore(ctx context.Context) error {
	st, err := b.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	b.book.Restore(st.Offers)
	if err := ledger.NewInvariantValidator(b.book).ValidateBook(); err != nil {
		return fmt.Errorf("restored book: %w", err)
	}
	b.replay.Load(st.ConsumedTxIDs)
	if st.OwnAddress != nil {
		b.address.Seed(*st.OwnAddress)
		b.metrics.SetAddressReady(true)
	}

	b.RefreshGauges()
	b.logger.Info().
		Int("offers", len(st.Offers)).
		Int("consumed_tx_ids", len(st.ConsumedTxIDs)).
		Bool("address_cached", st.OwnAddress != nil).
		Msg("state restored")
	return nil
}

// ResolveAddress resolves and persists the own address if not yet cached.
func (b *Bridge) ResolveAddress(ctx context.Context) (common.Address, error) {
	addr, fresh, err := b.address.Resolve(ctx)
	if err != nil {
		return common.Address{}, err
	}
	b.metrics.SetAddressReady(true)
	if fresh {
		if err := b.store.SaveOwnAddress(ctx, addr); err != nil {
			b.logger.Warn().Err(err).Msg("persist own address")
		}
		b.logger.Info().Str("address", addr.Hex()).Msg("own address resolved")
	}
	return addr, nil
}

// OwnAddress returns the cached own address or ErrNotInitialized.
func (b *Bridge) OwnAddress() (common.Address, error) {
	return b.address.Address()
}

// ListOffers returns owner's open offers.
func (b *Bridge) ListOffers(owner ledger.Principal) []ledger.LiquidityOffer {
	return b.book.ListFor(owner)
}

// Deposit verifies that req.PayoutAddress paid req.Amount to the bridge in
// req.TxID and records a new offer owned by caller.
func (b *Bridge) Deposit(ctx context.Context, caller ledger.Principal, req DepositRequest) (offer ledger.LiquidityOffer, err error) {
	const op = "deposit"
	start := time.Now()
	defer func() { b.observe(op, start, err) }()

	h, err := b.acquire(op)
	if err != nil {
		return ledger.LiquidityOffer{}, err
	}
	defer h.Release()

	payout, err := b.validateDeposit(caller, req)
	if err != nil {
		return ledger.LiquidityOffer{}, err
	}
	txID := NormalizeTxID(req.TxID)
	if b.replay.IsUsed(txID) {
		b.metrics.RecordReplay(op)
		return ledger.LiquidityOffer{}, fmt.Errorf("%w: %s", ErrReplayDetected, txID)
	}
	own, err := b.address.Address()
	if err != nil {
		return ledger.LiquidityOffer{}, err
	}

	verified, err := b.verifier.VerifyTransfer(ctx, req.Chain, txID, payout, own, req.Amount)
	if err != nil {
		return ledger.LiquidityOffer{}, fmt.Errorf("%w: verify %s on %s: %v", ErrExternalCall, txID, req.Chain, err)
	}
	if !verified {
		return ledger.LiquidityOffer{}, fmt.Errorf("%w: tx %s on %s", ErrVerificationFailed, txID, req.Chain)
	}

	offer = ledger.LiquidityOffer{
		ID:            uuid.New(),
		Owner:         caller,
		Chain:         req.Chain,
		Amount:        req.Amount,
		AskPrice:      req.AskPrice,
		PayoutAddress: payout.Hex(),
		SourceTxID:    txID,
		CreatedAt:     b.now().UTC(),
	}

	storeStart := time.Now()
	err = b.store.CommitDeposit(ctx, b.book.Len(), offer, txID)
	b.metrics.ObserveStore("commit_deposit", time.Since(storeStart), err)
	if err != nil {
		return ledger.LiquidityOffer{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	b.book.RecordOffer(offer)
	b.replay.MarkUsed(txID)

	b.logger.Info().
		Str("owner", string(caller)).
		Str("chain", req.Chain).
		Uint64("amount", req.Amount).
		Uint64("ask_price", req.AskPrice).
		Str("tx", txID).
		Msg("liquidity recorded")
	b.emit(ctx, Event{Kind: EventDepositRecorded, Owner: caller, Chain: req.Chain, TxID: txID, Offers: []ledger.LiquidityOffer{offer}})
	return offer, nil
}

func (b *Bridge) validateDeposit(caller ledger.Principal, req DepositRequest) (common.Address, error) {
	if caller == "" {
		return common.Address{}, fmt.Errorf("%w: anonymous caller", ErrInvalidArgument)
	}
	if _, ok := b.registry.Lookup(req.Chain); !ok {
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, req.Chain)
	}
	if req.Amount == 0 {
		return common.Address{}, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if req.AskPrice == 0 {
		return common.Address{}, fmt.Errorf("%w: ask price must be positive", ErrInvalidArgument)
	}
	if NormalizeTxID(req.TxID) == "" {
		return common.Address{}, fmt.Errorf("%w: tx id is required", ErrInvalidArgument)
	}
	addr, err := evm.ParseAddress(req.PayoutAddress)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: payout address: %v", ErrInvalidArgument, err)
	}
	return addr, nil
}

// Withdraw marks every open offer of caller on chain as withdrawn. No funds
// move here; the payout for withdrawn liquidity is handled outside the bridge
// core, driven by the offers.withdrawn event.
func (b *Bridge) Withdraw(ctx context.Context, caller ledger.Principal, chainName string) (changed []ledger.LiquidityOffer, err error) {
	const op = "withdraw"
	start := time.Now()
	defer func() { b.observe(op, start, err) }()

	h, err := b.acquire(op)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if _, ok := b.registry.Lookup(chainName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, chainName)
	}

	ids := b.book.WithdrawTargets(caller, chainName)
	if len(ids) == 0 {
		return nil, ErrNothingToWithdraw
	}

	storeStart := time.Now()
	err = b.store.CommitWithdraw(ctx, ids)
	b.metrics.ObserveStore("commit_withdraw", time.Since(storeStart), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	changed, err = b.book.Withdraw(caller, chainName)
	if errors.Is(err, ledger.ErrNothingToWithdraw) {
		return nil, ErrNothingToWithdraw
	}
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("owner", string(caller)).
		Str("chain", chainName).
		Int("offers", len(changed)).
		Msg("liquidity withdrawn")
	b.emit(ctx, Event{Kind: EventOffersWithdrawn, Owner: caller, Chain: chainName, Offers: changed})
	return changed, nil
}

// Buy verifies the buyer's payment, pays the buyer on req.ToChain, pays every
// matched provider, and only then commits the fills.
func (b *Bridge) Buy(ctx context.Context, req BuyRequest) (receipt *SettlementReceipt, err error) {
	const op = "buy"
	start := time.Now()
	defer func() { b.observe(op, start, err) }()

	h, err := b.acquire(op)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	buyer, err := b.validateBuy(req)
	if err != nil {
		return nil, err
	}
	txID := NormalizeTxID(req.TxID)
	if b.replay.IsUsed(txID) {
		b.metrics.RecordReplay(op)
		return nil, fmt.Errorf("%w: %s", ErrReplayDetected, txID)
	}
	own, err := b.address.Address()
	if err != nil {
		return nil, err
	}

	receipt, err = b.settler.Settle(ctx, SettlementRequest{
		FromChain: req.FromChain,
		ToChain:   req.ToChain,
		Amount:    req.Amount,
		TxID:      txID,
		Buyer:     buyer,
		Bridge:    own,
	})
	if err != nil {
		b.afterFailedSettlement(ctx, req, txID, err)
		return nil, err
	}

	b.replay.MarkUsed(txID)
	b.logger.Info().
		Str("from_chain", req.FromChain).
		Str("to_chain", req.ToChain).
		Uint64("amount", req.Amount).
		Int("fills", len(receipt.Fills)).
		Str("tx", txID).
		Msg("buy settled")
	b.emit(ctx, Event{Kind: EventSettlementCompleted, Chain: req.ToChain, TxID: txID, Receipt: receipt})
	return receipt, nil
}

// afterFailedSettlement consumes the buy tx id once the buyer has been paid,
// so the same payment cannot be redeemed twice, and reports the failure.
func (b *Bridge) afterFailedSettlement(ctx context.Context, req BuyRequest, txID string, err error) {
	var se *SettlementError
	if !errors.As(err, &se) {
		return
	}

	buyerPaid := false
	for _, r := range se.Accepted {
		if r.Role == RoleBuyer {
			buyerPaid = true
		}
	}
	if buyerPaid {
		b.replay.MarkUsed(txID)
		if se.Step != "commit" {
			if serr := b.store.CommitFills(context.WithoutCancel(ctx), nil, txID); serr != nil {
				b.logger.Error().Err(serr).Str("tx", txID).Msg("persist consumed buy tx id")
			}
		}
	}

	b.emit(ctx, Event{
		Kind:    EventSettlementFailed,
		Chain:   req.ToChain,
		TxID:    txID,
		Receipt: &SettlementReceipt{TxID: txID, FromChain: req.FromChain, ToChain: req.ToChain, Amount: req.Amount, Broadcasts: se.Accepted},
		Error:   err.Error(),
	})
}

func (b *Bridge) validateBuy(req BuyRequest) (common.Address, error) {
	if _, ok := b.registry.Lookup(req.FromChain); !ok {
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, req.FromChain)
	}
	if _, ok := b.registry.Lookup(req.ToChain); !ok {
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, req.ToChain)
	}
	if req.Amount == 0 {
		return common.Address{}, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if NormalizeTxID(req.TxID) == "" {
		return common.Address{}, fmt.Errorf("%w: tx id is required", ErrInvalidArgument)
	}
	addr, err := evm.ParseAddress(req.Buyer)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: buyer address: %v", ErrInvalidArgument, err)
	}
	return addr, nil
}

// RefreshGauges publishes liquidity and replay-set sizes.
func (b *Bridge) RefreshGauges() {
	b.metrics.SetConsumed(b.replay.Len())

	available, err := b.book.Available()
	if err != nil {
		b.logger.Error().Err(err).Msg("liquidity gauges not refreshed")
		return
	}
	open := 0
	for _, o := range b.book.Snapshot() {
		if !o.Withdrawn {
			open++
		}
	}
	b.metrics.SetLiquidity(b.registry.Names(), available, open)
}

// Available returns open liquidity per chain.
func (b *Bridge) Available() (map[string]uint64, error) {
	return b.book.Available()
}

func (b *Bridge) acquire(op string) (*Handle, error) {
	h, err := b.guard.Acquire()
	if err != nil {
		b.metrics.RecordBusy(op)
		return nil, err
	}
	return h, nil
}

func (b *Bridge) observe(op string, start time.Time, err error) {
	b.metrics.ObserveOperation(op, Outcome(err), time.Since(start))
	if err != nil && !errors.Is(err, ErrBusy) {
		b.logger.Debug().Err(err).Str("op", op).Msg("operation failed")
	}
}

func (b *Bridge) emit(ctx context.Context, evt Event) {
	if b.notifier == nil {
		return
	}
	evt.ID = uuid.New()
	evt.At = b.now().UTC()
	b.notifier.Notify(context.WithoutCancel(ctx), evt)
}

package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"
	"LiquidityBridge/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// End-to-end scenarios
// ============================================================================

func TestScenarios_DepositBuyExhaustReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A: deposit 1000 at 10500 on polygon
	depositTx := h.deposit(t, "alice", providerAddr, "polygon", 1000, 10500)

	offers := h.bridge.ListOffers("alice")
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(1000), offers[0].Amount)
	assert.Equal(t, uint64(10500), offers[0].AskPrice)
	assert.False(t, offers[0].Withdrawn)
	assert.Equal(t, providerAddr.Hex(), offers[0].PayoutAddress)

	// B: buy 600 on polygon, paid on bsc
	receipt, err := h.bridge.Buy(ctx, h.buyRequest("bsc", "polygon", 600))
	require.NoError(t, err)
	require.Len(t, receipt.Fills, 1)
	assert.Equal(t, uint64(600), receipt.Fills[0].Amount)
	assert.Equal(t, uint64(630), receipt.Fills[0].Payout)

	offers = h.bridge.ListOffers("alice")
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(400), offers[0].Amount)
	assert.False(t, offers[0].Withdrawn)

	polygon, _ := h.registry.Lookup("polygon")
	sent := h.chain.transfers(t)
	require.Len(t, sent, 2)
	assert.Equal(t, sentTransfer{token: polygon.Token, to: buyerAddr, amount: 600, nonce: baseNonce}, sent[0])
	assert.Equal(t, sentTransfer{token: polygon.Token, to: providerAddr, amount: 630, nonce: baseNonce + 1}, sent[1])
	assert.Equal(t, []string{"polygon", "polygon"}, h.chain.sentOn)

	// C: buy 1000 with only 400 left
	_, err = h.bridge.Buy(ctx, h.buyRequest("bsc", "polygon", 1000))
	assert.ErrorIs(t, err, core.ErrInsufficientLiquidity)
	offers = h.bridge.ListOffers("alice")
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(400), offers[0].Amount)
	assert.Len(t, h.chain.transfers(t), 2, "no transfer for an unfillable buy")

	// D: reuse the scenario A tx id
	h.chain.pay("polygon", depositTx, providerAddr, h.own, 1000)
	_, err = h.bridge.Deposit(ctx, "alice", core.DepositRequest{
		Chain: "polygon", Amount: 1000, AskPrice: 10500, TxID: depositTx, PayoutAddress: providerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrReplayDetected)
	assert.Len(t, h.bridge.ListOffers("alice"), 1)

	assert.Equal(t, []core.EventKind{core.EventDepositRecorded, core.EventSettlementCompleted}, h.notifier.kinds())
}

// ============================================================================
// Deposit
// ============================================================================

func TestDeposit_VerificationFailureDoesNotConsumeTxID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.nextTx()
	req := core.DepositRequest{Chain: "polygon", Amount: 500, AskPrice: 10000, TxID: tx, PayoutAddress: providerAddr.Hex()}

	_, err := h.bridge.Deposit(ctx, "alice", req)
	require.ErrorIs(t, err, core.ErrVerificationFailed)
	assert.Empty(t, h.bridge.ListOffers("alice"))

	h.chain.pay("polygon", tx, providerAddr, h.own, 500)
	offer, err := h.bridge.Deposit(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, ledger.Principal("alice"), offer.Owner)
}

func TestDeposit_AmountMismatchFailsVerification(t *testing.T) {
	h := newHarness(t)
	tx := h.nextTx()
	h.chain.pay("polygon", tx, providerAddr, h.own, 499)

	_, err := h.bridge.Deposit(context.Background(), "alice", core.DepositRequest{
		Chain: "polygon", Amount: 500, AskPrice: 10000, TxID: tx, PayoutAddress: providerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrVerificationFailed)
}

func TestDeposit_VerifierErrorIsExternalCall(t *testing.T) {
	h := newHarness(t)
	h.chain.verifyErr = errors.New("rpc down")

	_, err := h.bridge.Deposit(context.Background(), "alice", core.DepositRequest{
		Chain: "polygon", Amount: 1, AskPrice: 10000, TxID: h.nextTx(), PayoutAddress: providerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrExternalCall)
}

func TestDeposit_TxIDIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	tx := h.deposit(t, "alice", providerAddr, "polygon", 10, 10000)

	_, err := h.bridge.Deposit(context.Background(), "alice", core.DepositRequest{
		Chain: "polygon", Amount: 10, AskPrice: 10000, TxID: "  0X" + tx[2:] + " ", PayoutAddress: providerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrReplayDetected)
}

func TestDeposit_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	valid := core.DepositRequest{Chain: "polygon", Amount: 1, AskPrice: 10000, TxID: "0x01", PayoutAddress: providerAddr.Hex()}

	tests := []struct {
		name   string
		caller ledger.Principal
		mutate func(*core.DepositRequest)
		want   error
	}{
		{"anonymous", "", func(*core.DepositRequest) {}, core.ErrInvalidArgument},
		{"unknown chain", "alice", func(r *core.DepositRequest) { r.Chain = "solana" }, core.ErrUnsupportedChain},
		{"zero amount", "alice", func(r *core.DepositRequest) { r.Amount = 0 }, core.ErrInvalidArgument},
		{"zero ask", "alice", func(r *core.DepositRequest) { r.AskPrice = 0 }, core.ErrInvalidArgument},
		{"blank tx", "alice", func(r *core.DepositRequest) { r.TxID = "  " }, core.ErrInvalidArgument},
		{"bad address", "alice", func(r *core.DepositRequest) { r.PayoutAddress = "0x1234" }, core.ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := h.bridge.Deposit(ctx, tc.caller, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDeposit_StoreFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.nextTx()
	h.chain.pay("polygon", tx, providerAddr, h.own, 100)
	req := core.DepositRequest{Chain: "polygon", Amount: 100, AskPrice: 10000, TxID: tx, PayoutAddress: providerAddr.Hex()}

	h.store.FailWith(errors.New("disk full"))
	_, err := h.bridge.Deposit(ctx, "alice", req)
	require.ErrorIs(t, err, core.ErrStorage)
	assert.Empty(t, h.bridge.ListOffers("alice"))

	h.store.FailWith(nil)
	_, err = h.bridge.Deposit(ctx, "alice", req)
	require.NoError(t, err, "tx id must not be consumed by a failed commit")
}

// ============================================================================
// Withdraw
// ============================================================================

func TestWithdraw_MarksOpenOffersOnChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 100, 10000)
	h.deposit(t, "alice", providerAddr, "polygon", 200, 10100)
	h.deposit(t, "alice", providerAddr, "bsc", 300, 10000)
	h.deposit(t, "bob", provider2, "polygon", 400, 10000)

	changed, err := h.bridge.Withdraw(ctx, "alice", "polygon")
	require.NoError(t, err)
	require.Len(t, changed, 2)
	for _, o := range changed {
		assert.True(t, o.Withdrawn)
		assert.Equal(t, "polygon", o.Chain)
	}

	left := h.bridge.ListOffers("alice")
	require.Len(t, left, 1)
	assert.Equal(t, "bsc", left[0].Chain)
	assert.Len(t, h.bridge.ListOffers("bob"), 1)

	_, err = h.bridge.Withdraw(ctx, "alice", "polygon")
	assert.ErrorIs(t, err, core.ErrNothingToWithdraw)

	_, err = h.bridge.Withdraw(ctx, "alice", "solana")
	assert.ErrorIs(t, err, core.ErrUnsupportedChain)

	assert.Contains(t, h.notifier.kinds(), core.EventOffersWithdrawn)
}

func TestWithdraw_WithdrawnOffersAreNotMatched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 100, 9000)
	h.deposit(t, "bob", provider2, "polygon", 100, 12000)

	_, err := h.bridge.Withdraw(ctx, "alice", "polygon")
	require.NoError(t, err)

	receipt, err := h.bridge.Buy(ctx, h.buyRequest("bsc", "polygon", 50))
	require.NoError(t, err)
	require.Len(t, receipt.Fills, 1)
	assert.Equal(t, ledger.Principal("bob"), receipt.Fills[0].Owner)
	assert.Equal(t, uint64(60), receipt.Fills[0].Payout)
}

// ============================================================================
// Buy
// ============================================================================

func TestBuy_PricePriorityAndNonceOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 100, 11000)
	h.deposit(t, "bob", provider2, "polygon", 100, 9500)
	h.deposit(t, "alice", providerAddr, "polygon", 100, 9500)

	receipt, err := h.bridge.Buy(ctx, h.buyRequest("bsc", "polygon", 250))
	require.NoError(t, err)

	require.Len(t, receipt.Fills, 3)
	assert.Equal(t, ledger.Principal("bob"), receipt.Fills[0].Owner, "equal prices keep deposit order")
	assert.Equal(t, uint64(95), receipt.Fills[0].Payout)
	assert.Equal(t, ledger.Principal("alice"), receipt.Fills[1].Owner)
	assert.Equal(t, uint64(9500), receipt.Fills[1].AskPrice)
	assert.Equal(t, uint64(50), receipt.Fills[2].Amount)
	assert.Equal(t, uint64(55), receipt.Fills[2].Payout)

	sent := h.chain.transfers(t)
	require.Len(t, sent, 4)
	want := []struct {
		to     common.Address
		amount uint64
	}{
		{buyerAddr, 250},
		{provider2, 95},
		{providerAddr, 95},
		{providerAddr, 55},
	}
	for i, w := range want {
		assert.Equal(t, w.to, sent[i].to, "transfer %d", i)
		assert.Equal(t, w.amount, sent[i].amount, "transfer %d", i)
		assert.Equal(t, baseNonce+uint64(i), sent[i].nonce, "transfer %d", i)
	}

	require.Len(t, receipt.Broadcasts, 4)
	assert.Equal(t, core.RoleBuyer, receipt.Broadcasts[0].Role)
	assert.Equal(t, receipt.Fills[0].OfferID, receipt.Broadcasts[1].OfferID)

	alice := h.bridge.ListOffers("alice")
	require.Len(t, alice, 1, "fully filled offer is closed")
	assert.Equal(t, uint64(50), alice[0].Amount)
	assert.Empty(t, h.bridge.ListOffers("bob"))
	avail, err := h.bridge.Available()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), avail["polygon"])
}

func TestBuy_SignaturesRecoverToOwnAddress(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "alice", providerAddr, "polygon", 100, 10000)

	_, err := h.bridge.Buy(context.Background(), h.buyRequest("bsc", "polygon", 100))
	require.NoError(t, err)

	for _, tx := range h.chain.sent {
		from, err := senderOf(tx)
		require.NoError(t, err)
		assert.Equal(t, h.own, from)
	}
}

func TestBuy_ReplayAfterSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 1000, 10000)

	req := h.buyRequest("bsc", "polygon", 100)
	_, err := h.bridge.Buy(ctx, req)
	require.NoError(t, err)

	_, err = h.bridge.Buy(ctx, req)
	assert.ErrorIs(t, err, core.ErrReplayDetected)
	assert.Len(t, h.chain.transfers(t), 2)
}

func TestBuy_DepositTxCannotBeRedeemedAsBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 1000, 10000)
	depositTx := h.deposit(t, "bob", buyerAddr, "bsc", 100, 10000)

	_, err := h.bridge.Buy(ctx, core.BuyRequest{
		FromChain: "bsc", ToChain: "polygon", Amount: 100, TxID: depositTx, Buyer: buyerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrReplayDetected)
}

func TestBuy_UnverifiedPaymentMovesNothing(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "alice", providerAddr, "polygon", 1000, 10000)

	_, err := h.bridge.Buy(context.Background(), core.BuyRequest{
		FromChain: "bsc", ToChain: "polygon", Amount: 100, TxID: h.nextTx(), Buyer: buyerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrVerificationFailed)
	assert.Empty(t, h.chain.transfers(t))
}

func TestBuy_BuyerTransferRejectedLeavesTxReusable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 1000, 10000)
	h.chain.rejectAt[0] = "nonce too low"

	req := h.buyRequest("bsc", "polygon", 100)
	_, err := h.bridge.Buy(ctx, req)
	require.ErrorIs(t, err, core.ErrSettlement)

	var se *core.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "pay_buyer", se.Step)
	assert.False(t, se.Partial())

	// nothing went out, so the buyer can retry with the same payment
	receipt, err := h.bridge.Buy(ctx, req)
	require.NoError(t, err)
	assert.Len(t, receipt.Fills, 1)
}

func TestBuy_MidBatchRejectionIsPartial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 500, 9000)
	h.deposit(t, "bob", provider2, "polygon", 500, 10000)
	h.chain.rejectAt[2] = "insufficient funds for gas"

	req := h.buyRequest("bsc", "polygon", 800)
	_, err := h.bridge.Buy(ctx, req)
	require.ErrorIs(t, err, core.ErrSettlement)

	var se *core.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "pay_seller", se.Step)
	assert.True(t, se.Partial())
	require.Len(t, se.Accepted, 2)
	assert.Equal(t, core.RoleBuyer, se.Accepted[0].Role)
	assert.Equal(t, providerAddr, se.Accepted[1].Recipient)

	// no fill is committed
	assert.Equal(t, uint64(500), h.bridge.ListOffers("alice")[0].Amount)
	assert.Equal(t, uint64(500), h.bridge.ListOffers("bob")[0].Amount)

	// the buyer was paid, so the payment is spent
	_, err = h.bridge.Buy(ctx, req)
	assert.ErrorIs(t, err, core.ErrReplayDetected)

	st, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.ConsumedTxIDs, core.NormalizeTxID(req.TxID))

	kinds := h.notifier.kinds()
	assert.Equal(t, core.EventSettlementFailed, kinds[len(kinds)-1])
}

func TestBuy_BroadcastTransportErrorIsExternalCall(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "alice", providerAddr, "polygon", 500, 10000)
	h.chain.failAt[1] = errors.New("connection reset")

	_, err := h.bridge.Buy(context.Background(), h.buyRequest("bsc", "polygon", 100))
	assert.ErrorIs(t, err, core.ErrSettlement)
	assert.ErrorIs(t, err, core.ErrExternalCall)
}

func TestBuy_ParamsFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "alice", providerAddr, "polygon", 500, 10000)
	h.chain.paramsErr = errors.New("gas oracle down")

	req := h.buyRequest("bsc", "polygon", 100)
	_, err := h.bridge.Buy(context.Background(), req)
	require.ErrorIs(t, err, core.ErrExternalCall)
	assert.Empty(t, h.chain.transfers(t))

	h.chain.paramsErr = nil
	_, err = h.bridge.Buy(context.Background(), req)
	assert.NoError(t, err)
}

func TestBuy_CommitFailureStillAppliesFillsInMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 500, 10000)

	h.store.FailWith(errors.New("disk full"))
	req := h.buyRequest("bsc", "polygon", 200)
	_, err := h.bridge.Buy(ctx, req)
	require.ErrorIs(t, err, core.ErrStorage)

	var se *core.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "commit", se.Step)
	assert.Len(t, se.Accepted, 2)

	assert.Equal(t, uint64(300), h.bridge.ListOffers("alice")[0].Amount)

	h.store.FailWith(nil)
	_, err = h.bridge.Buy(ctx, req)
	assert.ErrorIs(t, err, core.ErrReplayDetected)
}

func TestBuy_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.bridge.Buy(ctx, core.BuyRequest{FromChain: "solana", ToChain: "polygon", Amount: 1, TxID: "0x1", Buyer: buyerAddr.Hex()})
	assert.ErrorIs(t, err, core.ErrUnsupportedChain)
	_, err = h.bridge.Buy(ctx, core.BuyRequest{FromChain: "bsc", ToChain: "tron", Amount: 1, TxID: "0x1", Buyer: buyerAddr.Hex()})
	assert.ErrorIs(t, err, core.ErrUnsupportedChain)
	_, err = h.bridge.Buy(ctx, core.BuyRequest{FromChain: "bsc", ToChain: "polygon", Amount: 0, TxID: "0x1", Buyer: buyerAddr.Hex()})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = h.bridge.Buy(ctx, core.BuyRequest{FromChain: "bsc", ToChain: "polygon", Amount: 1, TxID: "0x1", Buyer: "not-an-address"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

// ============================================================================
// Exclusivity
// ============================================================================

func TestBridge_ConcurrentMutationIsBusy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "alice", providerAddr, "polygon", 500, 10000)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.chain.verifyHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	tx := h.nextTx()
	h.chain.pay("polygon", tx, providerAddr, h.own, 10)
	done := make(chan error, 1)
	go func() {
		_, err := h.bridge.Deposit(ctx, "alice", core.DepositRequest{
			Chain: "polygon", Amount: 10, AskPrice: 10000, TxID: tx, PayoutAddress: providerAddr.Hex(),
		})
		done <- err
	}()
	<-entered

	_, err := h.bridge.Deposit(ctx, "bob", core.DepositRequest{
		Chain: "polygon", Amount: 10, AskPrice: 10000, TxID: "0xother", PayoutAddress: provider2.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrBusy)
	_, err = h.bridge.Withdraw(ctx, "alice", "polygon")
	assert.ErrorIs(t, err, core.ErrBusy)
	_, err = h.bridge.Buy(ctx, core.BuyRequest{FromChain: "bsc", ToChain: "polygon", Amount: 1, TxID: "0xb", Buyer: buyerAddr.Hex()})
	assert.ErrorIs(t, err, core.ErrBusy)

	// reads are not guarded
	assert.Len(t, h.bridge.ListOffers("alice"), 1)
	_, err = h.bridge.OwnAddress()
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, h.bridge.ListOffers("alice"), 2)

	_, err = h.bridge.Withdraw(ctx, "alice", "polygon")
	assert.NoError(t, err, "guard released after the first operation")
}

// ============================================================================
// Address and restore
// ============================================================================

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveOwnAddress(ctx context.Context) (common.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).(common.Address), args.Error(1)
}

func TestBridge_NotInitializedUntilAddressResolves(t *testing.T) {
	h := newHarness(t)
	resolver := &mockResolver{}
	resolver.On("ResolveOwnAddress", mock.Anything).Return(common.Address{}, errors.New("signer offline")).Once()
	resolver.On("ResolveOwnAddress", mock.Anything).Return(h.own, nil).Once()

	fresh := &harness{chain: h.chain, store: persistence.NewMemoryStore(), signer: h.signer, notifier: h.notifier, registry: h.registry}
	b := fresh.build(t, func(d *core.Deps) { d.Resolver = resolver })
	ctx := context.Background()
	require.NoError(t, b.Restore(ctx))

	_, err := b.OwnAddress()
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	tx := h.nextTx()
	h.chain.pay("polygon", tx, providerAddr, h.own, 10)
	req := core.DepositRequest{Chain: "polygon", Amount: 10, AskPrice: 10000, TxID: tx, PayoutAddress: providerAddr.Hex()}
	_, err = b.Deposit(ctx, "alice", req)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = b.Buy(ctx, h.buyRequest("bsc", "polygon", 1))
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	_, err = b.ResolveAddress(ctx)
	assert.ErrorIs(t, err, core.ErrExternalCall)

	addr, err := b.ResolveAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.own, addr)

	// cached: no further resolver calls
	again, err := b.ResolveAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	resolver.AssertNumberOfCalls(t, "ResolveOwnAddress", 2)

	_, err = b.Deposit(ctx, "alice", req)
	assert.NoError(t, err)
}

func TestBridge_RestoreFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	depositTx := h.deposit(t, "alice", providerAddr, "polygon", 1000, 10500)
	buy := h.buyRequest("bsc", "polygon", 600)
	_, err := h.bridge.Buy(ctx, buy)
	require.NoError(t, err)

	resolver := &mockResolver{}
	restarted := h.build(t, func(d *core.Deps) { d.Resolver = resolver })
	require.NoError(t, restarted.Restore(ctx))

	addr, err := restarted.OwnAddress()
	require.NoError(t, err, "address comes from the store")
	assert.Equal(t, h.own, addr)
	resolver.AssertNotCalled(t, "ResolveOwnAddress", mock.Anything)

	offers := restarted.ListOffers("alice")
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(400), offers[0].Amount)

	h.chain.pay("polygon", depositTx, providerAddr, h.own, 1000)
	_, err = restarted.Deposit(ctx, "alice", core.DepositRequest{
		Chain: "polygon", Amount: 1000, AskPrice: 10500, TxID: depositTx, PayoutAddress: providerAddr.Hex(),
	})
	assert.ErrorIs(t, err, core.ErrReplayDetected)
	_, err = restarted.Buy(ctx, buy)
	assert.ErrorIs(t, err, core.ErrReplayDetected)
}

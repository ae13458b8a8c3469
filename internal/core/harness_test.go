package core_test

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"LiquidityBridge/internal/chain"
	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/evm"
	"LiquidityBridge/internal/ledger"
	"LiquidityBridge/internal/observability"
	"LiquidityBridge/internal/persistence"
	"LiquidityBridge/internal/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	providerAddr = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	provider2    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	buyerAddr    = common.HexToAddress("0x00000000000000000000000000000000000b0e2")

	derivationPath = [][]byte{[]byte("bridge-test")}
)

const baseNonce uint64 = 100

// payment is a transfer the fake chain knows about.
type payment struct {
	chain  string
	from   common.Address
	to     common.Address
	amount uint64
}

// fakeChain verifies known payments and records broadcasts.
type fakeChain struct {
	mu       sync.Mutex
	payments map[string]payment
	sent     []*types.Transaction
	sentOn   []string
	// rejectAt rejects the n-th broadcast (0-based) with the given reason.
	rejectAt map[int]string
	// failAt fails the n-th broadcast with a transport error.
	failAt     map[int]error
	verifyErr  error
	paramsErr  error
	verifyHook func()
	calls      int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		payments: make(map[string]payment),
		rejectAt: make(map[int]string),
		failAt:   make(map[int]error),
	}
}

func (f *fakeChain) pay(chainName, txID string, from, to common.Address, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[strings.ToLower(txID)] = payment{chain: chainName, from: from, to: to, amount: amount}
}

func (f *fakeChain) VerifyTransfer(_ context.Context, chainName, txID string, from, to common.Address, amount uint64) (bool, error) {
	if f.verifyHook != nil {
		f.verifyHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	p, ok := f.payments[strings.ToLower(txID)]
	return ok && p == payment{chain: chainName, from: from, to: to, amount: amount}, nil
}

func (f *fakeChain) FetchTxParams(_ context.Context, chainName string, _ common.Address) (evm.TxParams, error) {
	if f.paramsErr != nil {
		return evm.TxParams{}, f.paramsErr
	}
	id := int64(137)
	if chainName == "bsc" {
		id = 56
	}
	return evm.TxParams{Nonce: baseNonce, GasLimit: chain.DefaultGasLimit, GasPrice: big.NewInt(1), ChainID: big.NewInt(id)}, nil
}

func (f *fakeChain) Broadcast(_ context.Context, chainName string, raw []byte) (evm.BroadcastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls
	f.calls++
	if err, ok := f.failAt[n]; ok {
		return evm.BroadcastResult{}, err
	}
	tx, err := evm.DecodeRaw(raw)
	if err != nil {
		return evm.BroadcastResult{}, err
	}
	if reason, ok := f.rejectAt[n]; ok {
		return evm.BroadcastResult{TxHash: tx.Hash(), Reason: reason}, nil
	}
	f.sent = append(f.sent, tx)
	f.sentOn = append(f.sentOn, chainName)
	return evm.BroadcastResult{Accepted: true, TxHash: tx.Hash()}, nil
}

// sentTransfer decodes the i-th accepted broadcast.
type sentTransfer struct {
	token  common.Address
	to     common.Address
	amount uint64
	nonce  uint64
}

func (f *fakeChain) transfers(t *testing.T) []sentTransfer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentTransfer, 0, len(f.sent))
	for _, tx := range f.sent {
		data := tx.Data()
		require.Len(t, data, 68)
		out = append(out, sentTransfer{
			token:  *tx.To(),
			to:     common.BytesToAddress(data[4:36]),
			amount: new(big.Int).SetBytes(data[36:68]).Uint64(),
			nonce:  tx.Nonce(),
		})
	}
	return out
}

func senderOf(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.NewEIP155Signer(tx.ChainId()), tx)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt core.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) kinds() []core.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.EventKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

type harness struct {
	bridge   *core.Bridge
	chain    *fakeChain
	store    *persistence.MemoryStore
	signer   *signer.LocalSigner
	notifier *recordingNotifier
	own      common.Address
	registry *chain.Registry
	txSeq    int
}

type harnessOpt func(*core.Deps)

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()

	reg, err := chain.NewRegistry(chain.DefaultChains()...)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{
		chain:    newFakeChain(),
		store:    persistence.NewMemoryStore(),
		signer:   signer.NewLocalSigner(key, derivationPath),
		notifier: &recordingNotifier{},
		registry: reg,
	}
	h.bridge = h.build(t, opts...)

	ctx := context.Background()
	require.NoError(t, h.bridge.Restore(ctx))
	h.own, err = h.bridge.ResolveAddress(ctx)
	require.NoError(t, err)
	return h
}

func (h *harness) build(t *testing.T, opts ...harnessOpt) *core.Bridge {
	t.Helper()
	deps := core.Deps{
		Registry:       h.registry,
		Store:          h.store,
		Verifier:       h.chain,
		Params:         h.chain,
		Signer:         h.signer,
		Broadcaster:    h.chain,
		Resolver:       h.signer,
		Notifier:       h.notifier,
		Metrics:        observability.NewMetricsWith(prometheus.NewRegistry()),
		Logger:         zerolog.Nop(),
		DerivationPath: derivationPath,
		Now:            func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
	for _, o := range opts {
		o(&deps)
	}
	b, err := core.NewBridge(deps)
	require.NoError(t, err)
	return b
}

func (h *harness) nextTx() string {
	h.txSeq++
	return fmtTx(h.txSeq)
}

func fmtTx(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

// deposit pays the bridge on chainName and records the offer.
func (h *harness) deposit(t *testing.T, owner string, from common.Address, chainName string, amount, ask uint64) string {
	t.Helper()
	tx := h.nextTx()
	h.chain.pay(chainName, tx, from, h.own, amount)
	_, err := h.bridge.Deposit(context.Background(), ledger.Principal(owner), core.DepositRequest{
		Chain:         chainName,
		Amount:        amount,
		AskPrice:      ask,
		TxID:          tx,
		PayoutAddress: from.Hex(),
	})
	require.NoError(t, err)
	return tx
}

// buyRequest pays the bridge on fromChain and returns the matching request.
func (h *harness) buyRequest(fromChain, toChain string, amount uint64) core.BuyRequest {
	tx := h.nextTx()
	h.chain.pay(fromChain, tx, buyerAddr, h.own, amount)
	return core.BuyRequest{FromChain: fromChain, ToChain: toChain, Amount: amount, TxID: tx, Buyer: buyerAddr.Hex()}
}

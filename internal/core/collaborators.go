package core

import (
	"context"
	"time"

	"LiquidityBridge/internal/evm"
	"LiquidityBridge/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TransferVerifier confirms that a token transfer happened on chain.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, chain, txID string, from, to common.Address, amount uint64) (bool, error)
}

// TxParamsFetcher supplies nonce, gas and chain id for a sender.
type TxParamsFetcher interface {
	FetchTxParams(ctx context.Context, chain string, address common.Address) (evm.TxParams, error)
}

// Signer signs a transaction digest with the key selected by derivationPath.
// The result is 64 (r||s) or 65 (r||s||v) bytes.
type Signer interface {
	Sign(ctx context.Context, digest [32]byte, derivationPath [][]byte) ([]byte, error)
}

// Broadcaster submits a signed transaction.
type Broadcaster interface {
	Broadcast(ctx context.Context, chain string, signedTx []byte) (evm.BroadcastResult, error)
}

// AddressResolver derives the bridge's own outbound address.
type AddressResolver interface {
	ResolveOwnAddress(ctx context.Context) (common.Address, error)
}

// State is everything that must survive a restart.
type State struct {
	Offers        []ledger.LiquidityOffer
	ConsumedTxIDs []string
	OwnAddress    *common.Address
}

// Store persists bridge state. Each Commit call is atomic.
type Store interface {
	Load(ctx context.Context) (State, error)
	// CommitDeposit appends offer at position pos and consumes txID.
	CommitDeposit(ctx context.Context, pos int, offer ledger.LiquidityOffer, txID string) error
	CommitWithdraw(ctx context.Context, ids []uuid.UUID) error
	// CommitFills overwrites amount and withdrawn for each offer and consumes buyTxID.
	CommitFills(ctx context.Context, updated []ledger.LiquidityOffer, buyTxID string) error
	SaveOwnAddress(ctx context.Context, addr common.Address) error
	Close() error
}

type EventKind string

const (
	EventDepositRecorded     EventKind = "deposit.recorded"
	EventOffersWithdrawn     EventKind = "offers.withdrawn"
	EventSettlementCompleted EventKind = "settlement.completed"
	EventSettlementFailed    EventKind = "settlement.failed"
)

// Event describes a committed change or a settlement failure that needs
// operator attention.
type Event struct {
	ID      uuid.UUID               `json:"id"`
	Kind    EventKind               `json:"kind"`
	Owner   ledger.Principal        `json:"owner,omitempty"`
	Chain   string                  `json:"chain,omitempty"`
	TxID    string                  `json:"tx_id,omitempty"`
	Offers  []ledger.LiquidityOffer `json:"offers,omitempty"`
	Receipt *SettlementReceipt      `json:"receipt,omitempty"`
	Error   string                  `json:"error,omitempty"`
	At      time.Time               `json:"at"`
}

// Notifier delivers events. Delivery is best effort and never affects the
// outcome of the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

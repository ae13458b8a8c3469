package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"LiquidityBridge/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Backend is the subset of ethclient.Client the bridge calls.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client talks to one JSON-RPC endpoint per supported chain. It verifies
// inbound transfers, supplies transaction parameters and broadcasts.
type Client struct {
	registry *chain.Registry
	backends map[string]Backend
	timeout  time.Duration
	logger   zerolog.Logger
}

// Dial connects to every chain in the registry that has an RPC URL.
func Dial(ctx context.Context, registry *chain.Registry, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	backends := make(map[string]Backend)
	for _, name := range registry.Names() {
		c, _ := registry.Lookup(name)
		if c.RPCURL == "" {
			logger.Warn().Str("chain", name).Msg("no rpc url configured; chain calls will fail")
			continue
		}
		ec, err := ethclient.DialContext(ctx, c.RPCURL)
		if err != nil {
			for _, b := range backends {
				if closer, ok := b.(interface{ Close() }); ok {
					closer.Close()
				}
			}
			return nil, fmt.Errorf("dial %s rpc: %w", name, err)
		}
		backends[name] = ec
	}
	return NewClient(registry, backends, timeout, logger), nil
}

// NewClient wraps already-constructed backends, keyed by chain name.
func NewClient(registry *chain.Registry, backends map[string]Backend, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		registry: registry,
		backends: backends,
		timeout:  timeout,
		logger:   logger,
	}
}

// Close releases RPC connections.
func (c *Client) Close() {
	for _, b := range c.backends {
		if closer, ok := b.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

func (c *Client) backend(name string) (chain.Chain, Backend, error) {
	ch, ok := c.registry.Lookup(name)
	if !ok {
		return chain.Chain{}, nil, fmt.Errorf("unsupported chain %q", name)
	}
	b, ok := c.backends[name]
	if !ok {
		return chain.Chain{}, nil, fmt.Errorf("no rpc backend for chain %q", name)
	}
	return ch, b, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// VerifyTransfer fetches the receipt for txID on chainName and checks it
// carries a token Transfer from -> to of exactly amount. A missing receipt is
// reported as (false, nil).
func (c *Client) VerifyTransfer(ctx context.Context, chainName, txID string, from, to common.Address, amount uint64) (bool, error) {
	ch, b, err := c.backend(chainName)
	if err != nil {
		return false, err
	}
	hash, err := parseTxHash(txID)
	if err != nil {
		return false, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	receipt, err := b.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get receipt %s on %s: %w", txID, chainName, err)
	}

	ok := MatchTransfer(receipt, ch.Token, from, to, new(big.Int).SetUint64(amount))
	c.logger.Debug().
		Str("chain", chainName).
		Str("tx", txID).
		Bool("matched", ok).
		Msg("verified transfer")
	return ok, nil
}

// FetchTxParams returns the pending nonce, gas price and chain id for address,
// with the chain's configured gas limit.
func (c *Client) FetchTxParams(ctx context.Context, chainName string, address common.Address) (TxParams, error) {
	ch, b, err := c.backend(chainName)
	if err != nil {
		return TxParams{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := b.PendingNonceAt(ctx, address)
	if err != nil {
		return TxParams{}, fmt.Errorf("pending nonce on %s: %w", chainName, err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return TxParams{}, fmt.Errorf("gas price on %s: %w", chainName, err)
	}
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return TxParams{}, fmt.Errorf("chain id on %s: %w", chainName, err)
	}

	return TxParams{
		Nonce:    nonce,
		GasLimit: ch.GasLimit,
		GasPrice: gasPrice,
		ChainID:  chainID,
	}, nil
}

// Broadcast submits a raw signed transaction. A JSON-RPC error from the node
// is a rejection; anything else (dial, timeout) is returned as an error.
func (c *Client) Broadcast(ctx context.Context, chainName string, raw []byte) (BroadcastResult, error) {
	_, b, err := c.backend(chainName)
	if err != nil {
		return BroadcastResult{}, err
	}
	tx, err := DecodeRaw(raw)
	if err != nil {
		return BroadcastResult{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err = b.SendTransaction(ctx, tx)
	if err == nil {
		return BroadcastResult{Accepted: true, TxHash: tx.Hash()}, nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return BroadcastResult{TxHash: tx.Hash(), Reason: rpcErr.Error()}, nil
	}
	return BroadcastResult{}, fmt.Errorf("send transaction on %s: %w", chainName, err)
}

func parseTxHash(s string) (common.Hash, error) {
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(h) != 64 {
		return common.Hash{}, fmt.Errorf("invalid tx hash %q", s)
	}
	for _, r := range h {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return common.Hash{}, fmt.Errorf("invalid tx hash %q", s)
		}
	}
	return common.HexToHash(h), nil
}

// Package evm builds, signs and inspects ERC20 stablecoin transfers on
// EVM-compatible chains.
package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

	// TransferEventTopic is topic[0] of the ERC20 Transfer event.
	TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	ErrBadSignature = errors.New("signature does not recover to sender")
)

// TxParams are the per-sender values needed to build a transaction.
type TxParams struct {
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	ChainID  *big.Int
}

// WithNonce returns a copy with the nonce replaced.
func (p TxParams) WithNonce(nonce uint64) TxParams {
	p.Nonce = nonce
	return p
}

// BroadcastResult reports whether the network accepted a signed transaction.
type BroadcastResult struct {
	Accepted bool
	TxHash   common.Hash
	Reason   string // set when rejected
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// UnsignedTransfer is an ERC20 transfer awaiting a signature over Digest.
type UnsignedTransfer struct {
	Tx     *types.Transaction
	Digest [32]byte

	signer types.Signer
}

// BuildTransfer creates a legacy EIP-155 transaction calling token.transfer(to, amount).
func BuildTransfer(token, to common.Address, amount *big.Int, p TxParams) (*UnsignedTransfer, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid transfer amount")
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("transfer amount exceeds 256 bits")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("missing chain id")
	}
	gasPrice := p.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: gasPrice,
		Gas:      p.GasLimit,
		To:       &token,
		Value:    new(big.Int),
		Data:     TransferCalldata(to, amount),
	})
	signer := types.NewEIP155Signer(p.ChainID)

	return &UnsignedTransfer{
		Tx:     tx,
		Digest: signer.Hash(tx),
		signer: signer,
	}, nil
}

// AttachSignature applies sig and returns the raw RLP transaction and its hash.
//
// sig is either 65 bytes (r || s || v, v in {0,1,27,28}) or 64 bytes (r || s)
// as returned by threshold signers; for the latter the recovery id is found by
// matching the recovered address against from.
func (u *UnsignedTransfer) AttachSignature(sig []byte, from common.Address) ([]byte, common.Hash, error) {
	full, err := u.normalize(sig, from)
	if err != nil {
		return nil, common.Hash{}, err
	}

	signed, err := u.Tx.WithSignature(u.signer, full)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("attach signature: %w", err)
	}
	sender, err := types.Sender(u.signer, signed)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("recover sender: %w", err)
	}
	if sender != from {
		return nil, common.Hash{}, fmt.Errorf("%w: got %s, want %s", ErrBadSignature, sender.Hex(), from.Hex())
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, signed.Hash(), nil
}

func (u *UnsignedTransfer) normalize(sig []byte, from common.Address) ([]byte, error) {
	switch len(sig) {
	case crypto.SignatureLength:
		out := append([]byte(nil), sig...)
		if out[64] >= 27 {
			out[64] -= 27
		}
		if out[64] > 1 {
			return nil, fmt.Errorf("invalid recovery id %d", sig[64])
		}
		return out, nil
	case crypto.SignatureLength - 1:
		for v := byte(0); v < 2; v++ {
			candidate := append(append([]byte(nil), sig...), v)
			pub, err := crypto.SigToPub(u.Digest[:], candidate)
			if err != nil {
				continue
			}
			if crypto.PubkeyToAddress(*pub) == from {
				return candidate, nil
			}
		}
		return nil, ErrBadSignature
	default:
		return nil, fmt.Errorf("signature length %d, want 64 or 65", len(sig))
	}
}

// DecodeRaw parses a raw signed transaction.
func DecodeRaw(raw []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// ParseAddress accepts a 0x-prefixed or bare 20-byte hex address in any case.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

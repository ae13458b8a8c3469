package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner derives per-path keys from one master key held in process.
// For development and tests only; production uses Client.
type LocalSigner struct {
	master *ecdsa.PrivateKey
	path   [][]byte
}

func NewLocalSigner(master *ecdsa.PrivateKey, path [][]byte) *LocalSigner {
	return &LocalSigner{master: master, path: path}
}

// LocalSignerFromHex parses a hex-encoded secp256k1 private key.
func LocalSignerFromHex(hexKey string, path [][]byte) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return NewLocalSigner(key, path), nil
}

// derive hashes the master key with the length-prefixed path segments. The
// counter covers the negligible chance of a hash outside the curve order.
func (s *LocalSigner) derive(path [][]byte) (*ecdsa.PrivateKey, error) {
	seed := crypto.FromECDSA(s.master)
	for counter := uint32(0); counter < 16; counter++ {
		buf := append([]byte(nil), seed...)
		for _, p := range path {
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
			buf = append(buf, p...)
		}
		buf = binary.BigEndian.AppendUint32(buf, counter)

		key, err := crypto.ToECDSA(crypto.Keccak256(buf))
		if err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("could not derive key for path")
}

// Sign returns a 65-byte [R || S || V] signature with V in {0, 1}.
func (s *LocalSigner) Sign(_ context.Context, digest [32]byte, derivationPath [][]byte) ([]byte, error) {
	key, err := s.derive(derivationPath)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest[:], key)
}

func (s *LocalSigner) PublicKey(_ context.Context, derivationPath [][]byte) ([]byte, error) {
	key, err := s.derive(derivationPath)
	if err != nil {
		return nil, err
	}
	return crypto.FromECDSAPub(&key.PublicKey), nil
}

func (s *LocalSigner) ResolveOwnAddress(_ context.Context) (common.Address, error) {
	key, err := s.derive(s.path)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

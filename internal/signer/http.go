// Package signer provides the bridge's signing collaborators: an HTTP client
// for a remote threshold-signing service and a local key for development.
package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrClient is returned for any failure talking to the signing service.
	ErrClient = errors.New("signer client")
	// ErrUnauthorized is returned when the service rejects the API key.
	ErrUnauthorized = errors.New("signer client unauthorized")
)

// Client calls a remote threshold-signing service.
//
//	POST {endpoint}/v1/sign        {"digest": hex, "derivation_path": [hex]} -> {"signature": hex}
//	POST {endpoint}/v1/public-key  {"derivation_path": [hex]}                -> {"public_key": hex}
type Client struct {
	endpoint string
	apiKey   string
	path     [][]byte
	http     http.Client
}

// NewClient creates a signing client. path is the derivation path of the
// bridge's own key, used by ResolveOwnAddress.
func NewClient(endpoint, apiKey string, path [][]byte, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		path:     path,
		http:     http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	Digest         string   `json:"digest"`
	DerivationPath []string `json:"derivation_path"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type publicKeyRequest struct {
	DerivationPath []string `json:"derivation_path"`
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// Sign returns the signature over digest for the key at derivationPath.
func (c *Client) Sign(ctx context.Context, digest [32]byte, derivationPath [][]byte) ([]byte, error) {
	var out signResponse
	err := c.post(ctx, "/v1/sign", signRequest{
		Digest:         hex.EncodeToString(digest[:]),
		DerivationPath: encodePath(derivationPath),
	}, &out)
	if err != nil {
		return nil, err
	}

	sig, err := decodeHex(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrClient, err)
	}
	if len(sig) != 64 && len(sig) != 65 {
		return nil, fmt.Errorf("%w: signature length %d", ErrClient, len(sig))
	}
	return sig, nil
}

// PublicKey returns the secp256k1 public key for derivationPath.
func (c *Client) PublicKey(ctx context.Context, derivationPath [][]byte) ([]byte, error) {
	var out publicKeyResponse
	err := c.post(ctx, "/v1/public-key", publicKeyRequest{DerivationPath: encodePath(derivationPath)}, &out)
	if err != nil {
		return nil, err
	}
	pub, err := decodeHex(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrClient, err)
	}
	return pub, nil
}

// ResolveOwnAddress derives the bridge address from the service's public key.
func (c *Client) ResolveOwnAddress(ctx context.Context) (common.Address, error) {
	pub, err := c.PublicKey(ctx, c.path)
	if err != nil {
		return common.Address{}, err
	}
	return AddressFromPublicKey(pub)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) (err error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClient, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrClient, cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var data struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&data)

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, data.Error)
		default:
			return fmt.Errorf("%w: status %d: %s", ErrClient, resp.StatusCode, data.Error)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrClient, err)
	}
	return nil
}

// AddressFromPublicKey accepts a 33-byte compressed or 65-byte uncompressed key.
func AddressFromPublicKey(pub []byte) (common.Address, error) {
	switch len(pub) {
	case 33:
		key, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return common.Address{}, fmt.Errorf("decompress public key: %w", err)
		}
		return crypto.PubkeyToAddress(*key), nil
	case 65:
		key, err := crypto.UnmarshalPubkey(pub)
		if err != nil {
			return common.Address{}, fmt.Errorf("unmarshal public key: %w", err)
		}
		return crypto.PubkeyToAddress(*key), nil
	default:
		return common.Address{}, fmt.Errorf("public key length %d", len(pub))
	}
}

func encodePath(path [][]byte) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = hex.EncodeToString(p)
	}
	return out
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

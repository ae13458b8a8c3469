package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DefaultGasLimit covers a plain ERC20 transfer.
const DefaultGasLimit uint64 = 120_000

// Chain describes one supported EVM network and the stablecoin contract
// the bridge settles in on that network.
type Chain struct {
	Name     string
	Token    common.Address
	Decimals int32
	GasLimit uint64
	RPCURL   string
}

// FormatAmount renders a smallest-unit amount as a token-denominated decimal string.
func (c Chain) FormatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -c.Decimals).String()
}

// Registry is the set of chains the bridge accepts. Not mutated after start-up.
type Registry struct {
	chains map[string]Chain
}

// DefaultChains returns polygon and bsc with their USDC contracts.
func DefaultChains() []Chain {
	return []Chain{
		{
			Name:     "polygon",
			Token:    common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
			Decimals: 6,
			GasLimit: DefaultGasLimit,
		},
		{
			Name:     "bsc",
			Token:    common.HexToAddress("0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d"),
			Decimals: 18,
			GasLimit: DefaultGasLimit,
		},
	}
}

func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{chains: make(map[string]Chain, len(chains))}
	for _, c := range chains {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			return nil, fmt.Errorf("chain with empty name")
		}
		if _, dup := r.chains[name]; dup {
			return nil, fmt.Errorf("chain %s registered twice", name)
		}
		if c.GasLimit == 0 {
			c.GasLimit = DefaultGasLimit
		}
		c.Name = name
		r.chains[name] = c
	}
	return r, nil
}

// Lookup returns the chain registered under name.
func (r *Registry) Lookup(name string) (Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

// Names returns registered chain names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithRPCURLs returns a copy of the registry with RPC endpoints set from urls
// (chain name -> url). Unknown names are reported as an error.
func (r *Registry) WithRPCURLs(urls map[string]string) (*Registry, error) {
	out := &Registry{chains: make(map[string]Chain, len(r.chains))}
	for name, c := range r.chains {
		out.chains[name] = c
	}
	for name, url := range urls {
		c, ok := out.chains[name]
		if !ok {
			return nil, fmt.Errorf("rpc url for unknown chain %q", name)
		}
		c.RPCURL = url
		out.chains[name] = c
	}
	return out, nil
}

package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// AddressCache memoizes the bridge's own outbound address. Readers never
// trigger resolution; they get ErrNotInitialized until Resolve or Seed has
// succeeded. Once set, the address is never replaced.
type AddressCache struct {
	resolver AddressResolver

	resolving sync.Mutex
	addr      atomic.Pointer[common.Address]
}

func NewAddressCache(resolver AddressResolver) *AddressCache {
	return &AddressCache{resolver: resolver}
}

// Address returns the cached address.
func (c *AddressCache) Address() (common.Address, error) {
	p := c.addr.Load()
	if p == nil {
		return common.Address{}, ErrNotInitialized
	}
	return *p, nil
}

// Seed sets the address from persisted state. It reports false if an
// address was already cached.
func (c *AddressCache) Seed(addr common.Address) bool {
	return c.addr.CompareAndSwap(nil, &addr)
}

// Resolve calls the resolver unless an address is already cached. The bool
// result is true when this call populated the cache.
func (c *AddressCache) Resolve(ctx context.Context) (common.Address, bool, error) {
	if addr, err := c.Address(); err == nil {
		return addr, false, nil
	}

	c.resolving.Lock()
	defer c.resolving.Unlock()

	if addr, err := c.Address(); err == nil {
		return addr, false, nil
	}

	addr, err := c.resolver.ResolveOwnAddress(ctx)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("%w: resolve own address: %v", ErrExternalCall, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, false, fmt.Errorf("%w: resolver returned zero address", ErrExternalCall)
	}
	if !c.addr.CompareAndSwap(nil, &addr) {
		cached, _ := c.Address()
		return cached, false, nil
	}
	return addr, true, nil
}

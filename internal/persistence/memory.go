package persistence

import (
	"context"
	"fmt"
	"sync"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MemoryStore keeps state in process. Used in tests and the dev backend.
type MemoryStore struct {
	mu       sync.Mutex
	offers   []ledger.LiquidityOffer
	byID     map[uuid.UUID]int
	consumed []string
	seen     map[string]struct{}
	own      *common.Address
	failWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[uuid.UUID]int),
		seen: make(map[string]struct{}),
	}
}

// FailWith makes every subsequent commit return err until cleared with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) Load(context.Context) (core.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := core.State{
		Offers:        append([]ledger.LiquidityOffer(nil), s.offers...),
		ConsumedTxIDs: append([]string(nil), s.consumed...),
	}
	if s.own != nil {
		addr := *s.own
		st.OwnAddress = &addr
	}
	return st, nil
}

func (s *MemoryStore) CommitDeposit(_ context.Context, pos int, offer ledger.LiquidityOffer, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	if pos != len(s.offers) {
		return fmt.Errorf("%w: offer position %d, next is %d", ErrConflict, pos, len(s.offers))
	}
	if _, dup := s.seen[txID]; dup {
		return fmt.Errorf("%w: tx id %s already consumed", ErrConflict, txID)
	}
	if _, dup := s.byID[offer.ID]; dup {
		return fmt.Errorf("%w: offer %s exists", ErrConflict, offer.ID)
	}

	s.byID[offer.ID] = len(s.offers)
	s.offers = append(s.offers, offer)
	s.consume(txID)
	return nil
}

func (s *MemoryStore) CommitWithdraw(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return fmt.Errorf("%w: offer %s", ErrNotFound, id)
		}
	}
	for _, id := range ids {
		s.offers[s.byID[id]].Withdrawn = true
	}
	return nil
}

func (s *MemoryStore) CommitFills(_ context.Context, updated []ledger.LiquidityOffer, buyTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	for _, o := range updated {
		if _, ok := s.byID[o.ID]; !ok {
			return fmt.Errorf("%w: offer %s", ErrNotFound, o.ID)
		}
	}
	for _, o := range updated {
		i := s.byID[o.ID]
		s.offers[i].Amount = o.Amount
		s.offers[i].Withdrawn = o.Withdrawn
	}
	s.consume(buyTxID)
	return nil
}

func (s *MemoryStore) SaveOwnAddress(_ context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	if s.own == nil {
		s.own = &addr
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) consume(txID string) {
	if txID == "" {
		return
	}
	if _, dup := s.seen[txID]; dup {
		return
	}
	s.seen[txID] = struct{}{}
	s.consumed = append(s.consumed, txID)
}

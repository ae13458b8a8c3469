package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Key layout:
//
//	offer/<pos:8 BE>      -> JSON offer
//	offerid/<uuid:16>     -> <pos:8 BE>
//	tx/<tx id>            -> kind
//	meta/own_address      -> 20-byte address
var (
	prefixOffer   = []byte("offer/")
	prefixOfferID = []byte("offerid/")
	prefixTx      = []byte("tx/")
	keyOwnAddress = []byte("meta/own_address")
)

// PebbleStore persists bridge state in an embedded pebble database. Every
// commit is a single synced batch.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) Load(_ context.Context) (core.State, error) {
	var st core.State

	err := s.scan(prefixOffer, func(_, val []byte) error {
		var o ledger.LiquidityOffer
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		st.Offers = append(st.Offers, o)
		return nil
	})
	if err != nil {
		return st, err
	}

	err = s.scan(prefixTx, func(key, _ []byte) error {
		st.ConsumedTxIDs = append(st.ConsumedTxIDs, string(bytes.TrimPrefix(key, prefixTx)))
		return nil
	})
	if err != nil {
		return st, err
	}

	val, closer, err := s.db.Get(keyOwnAddress)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return st, fmt.Errorf("get own address: %w", err)
	default:
		addr := common.BytesToAddress(val)
		closer.Close()
		st.OwnAddress = &addr
	}
	return st, nil
}

func (s *PebbleStore) CommitDeposit(_ context.Context, pos int, offer ledger.LiquidityOffer, txID string) error {
	if ok, err := s.has(txKey(txID)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: tx id %s already consumed", ErrConflict, txID)
	}
	if ok, err := s.has(offerKey(pos)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: offer position %d taken", ErrConflict, pos)
	}

	val, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(offerKey(pos), val, nil); err != nil {
		return err
	}
	if err := b.Set(offerIDKey(offer.ID), encodePos(pos), nil); err != nil {
		return err
	}
	if err := b.Set(txKey(txID), []byte("deposit"), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) CommitWithdraw(_ context.Context, ids []uuid.UUID) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, id := range ids {
		pos, o, err := s.offerByID(id)
		if err != nil {
			return err
		}
		o.Withdrawn = true
		if err := s.putOffer(b, pos, o); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) CommitFills(_ context.Context, updated []ledger.LiquidityOffer, buyTxID string) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, u := range updated {
		pos, o, err := s.offerByID(u.ID)
		if err != nil {
			return err
		}
		o.Amount = u.Amount
		o.Withdrawn = u.Withdrawn
		if err := s.putOffer(b, pos, o); err != nil {
			return err
		}
	}
	if buyTxID != "" {
		if err := b.Set(txKey(buyTxID), []byte("buy"), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) SaveOwnAddress(_ context.Context, addr common.Address) error {
	ok, err := s.has(keyOwnAddress)
	if err != nil || ok {
		return err
	}
	return s.db.Set(keyOwnAddress, addr.Bytes(), pebble.Sync)
}

func (s *PebbleStore) putOffer(b *pebble.Batch, pos int, o ledger.LiquidityOffer) error {
	val, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	return b.Set(offerKey(pos), val, nil)
}

func (s *PebbleStore) offerByID(id uuid.UUID) (int, ledger.LiquidityOffer, error) {
	raw, closer, err := s.db.Get(offerIDKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ledger.LiquidityOffer{}, fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, ledger.LiquidityOffer{}, err
	}
	pos := int(binary.BigEndian.Uint64(raw))
	closer.Close()

	val, closer, err := s.db.Get(offerKey(pos))
	if err != nil {
		return 0, ledger.LiquidityOffer{}, fmt.Errorf("get offer %s at %d: %w", id, pos, err)
	}
	defer closer.Close()

	var o ledger.LiquidityOffer
	if err := json.Unmarshal(val, &o); err != nil {
		return 0, ledger.LiquidityOffer{}, fmt.Errorf("decode offer: %w", err)
	}
	return pos, o, nil
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func encodePos(pos int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(pos))
}

func offerKey(pos int) []byte {
	return append(append([]byte(nil), prefixOffer...), encodePos(pos)...)
}

func offerIDKey(id uuid.UUID) []byte {
	return append(append([]byte(nil), prefixOfferID...), id[:]...)
}

func txKey(txID string) []byte {
	return append(append([]byte(nil), prefixTx...), txID...)
}

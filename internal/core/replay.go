package core

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// ReplayGuard is the set of consumed external transaction ids. Membership is
// permanent. Deposits and buys share one set, so a payment credited as a
// deposit cannot be presented again as a buy and vice versa.
//
// The set is the in-memory view; durability comes from the Store, which
// records an id in the same commit as the mutation it paid for.
type ReplayGuard struct {
	used *xsync.Map[string, struct{}]
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{used: xsync.NewMap[string, struct{}]()}
}

// NormalizeTxID returns the one spelling of an EVM tx id used for replay
// keys, storage and verification: trimmed, lower-case, with a single 0x
// prefix. "0xAB..", "ab.." and " 0Xab.. " are the same transaction.
// An id with no digits normalises to "".
func NormalizeTxID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0x")
	if id == "" {
		return ""
	}
	return "0x" + id
}

func (r *ReplayGuard) IsUsed(id string) bool {
	_, ok := r.used.Load(NormalizeTxID(id))
	return ok
}

func (r *ReplayGuard) MarkUsed(id string) {
	r.used.Store(NormalizeTxID(id), struct{}{})
}

// Load adds ids restored from durable storage.
func (r *ReplayGuard) Load(ids []string) {
	for _, id := range ids {
		r.MarkUsed(id)
	}
}

func (r *ReplayGuard) Len() int {
	return r.used.Size()
}

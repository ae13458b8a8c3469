package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transfer is a decoded ERC20 Transfer event.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfer returns the Transfer carried by log, if it is one.
func DecodeTransfer(log *types.Log) (Transfer, bool) {
	if log == nil || len(log.Topics) != 3 || log.Topics[0] != TransferEventTopic {
		return Transfer{}, false
	}
	if len(log.Data) != 32 {
		return Transfer{}, false
	}
	return Transfer{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data),
	}, true
}

// MatchTransfer reports whether a successful receipt contains a Transfer of
// exactly amount from -> to emitted by the token contract.
func MatchTransfer(receipt *types.Receipt, token, from, to common.Address, amount *big.Int) bool {
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return false
	}
	for _, log := range receipt.Logs {
		t, ok := DecodeTransfer(log)
		if !ok {
			continue
		}
		if t.Token == token && t.From == from && t.To == to && t.Value.Cmp(amount) == 0 {
			return true
		}
	}
	return false
}

package rpc

import (
	"errors"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var ErrTxNotInBlock = errors.New("tx not in block")

// MerkleBranch returns the position of txHash among txs and the sibling
// hashes needed to climb from it to the merkle root.
//
// The tree store of btcd keeps every level left to right, leaves first.
// A nil right node means the left one was paired with itself.
func MerkleBranch(txs []*wire.MsgTx, txHash chainhash.Hash) (uint64, []chainhash.Hash, error) {
	wrapped := make([]*btcutil.Tx, len(txs))
	pos := -1
	for i, tx := range txs {
		wrapped[i] = btcutil.NewTx(tx)
		if pos < 0 && *wrapped[i].Hash() == txHash {
			pos = i
		}
	}
	if pos < 0 {
		return 0, nil, ErrTxNotInBlock
	}

	store := blockchain.BuildMerkleTreeStore(wrapped, false)

	var branch []chainhash.Hash
	idx := pos
	offset := 0
	for width := (len(store) + 1) / 2; width > 1; width /= 2 {
		sibling := store[offset+(idx^1)]
		if sibling == nil {
			sibling = store[offset+idx]
		}
		branch = append(branch, *sibling)
		idx /= 2
		offset += width
	}
	return uint64(pos), branch, nil
}

package rpc

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// fakeNode is an in-memory chain behind the nodeClient interface.
type fakeNode struct {
	mu          sync.Mutex
	blocks      []*wire.MsgBlock
	byHash      map[chainhash.Hash]int
	txHeight    map[chainhash.Hash]int
	unspent     []btcjson.ListUnspentResult
	headerCalls int
	sent        []*wire.MsgTx
}

func testTx(height, idx int) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tag := make([]byte, 8)
	binary.BigEndian.PutUint32(tag[:4], uint32(height))
	binary.BigEndian.PutUint32(tag[4:], uint32(idx))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0xffffffff), tag, nil))
	tx.AddTxOut(wire.NewTxOut(int64(1000*(idx+1)), []byte{0x51}))
	return tx
}

// newFakeNode mines len(txCounts) blocks, block h holding txCounts[h] txs.
func newFakeNode(t *testing.T, txCounts []int) *fakeNode {
	n := &fakeNode{byHash: map[chainhash.Hash]int{}, txHeight: map[chainhash.Hash]int{}}
	prev := chainhash.Hash{}
	for h, count := range txCounts {
		block := &wire.MsgBlock{}
		for i := 0; i < count; i++ {
			tx := testTx(h, i)
			block.Transactions = append(block.Transactions, tx)
			n.txHeight[tx.TxHash()] = h
		}
		wrapped := make([]*btcutil.Tx, count)
		for i, tx := range block.Transactions {
			wrapped[i] = btcutil.NewTx(tx)
		}
		store := blockchain.BuildMerkleTreeStore(wrapped, false)
		block.Header = wire.BlockHeader{
			Version:    4,
			PrevBlock:  prev,
			MerkleRoot: *store[len(store)-1],
			Timestamp:  time.Unix(1700000000+int64(h)*600, 0),
			Bits:       0x207fffff,
			Nonce:      uint32(h),
		}
		prev = block.BlockHash()
		n.byHash[prev] = h
		n.blocks = append(n.blocks, block)
	}
	return n
}

func (n *fakeNode) GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	h, ok := n.txHeight[*txHash]
	if !ok {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCInvalidAddressOrKey, Message: "No such mempool or blockchain transaction"}
	}
	for _, tx := range n.blocks[h].Transactions {
		if tx.TxHash() == *txHash {
			return btcutil.NewTx(tx), nil
		}
	}
	panic("unreachable")
}

func (n *fakeNode) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	h, ok := n.txHeight[*txHash]
	if !ok {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCInvalidAddressOrKey, Message: "No such mempool or blockchain transaction"}
	}
	return &btcjson.TxRawResult{
		Txid:          txHash.String(),
		BlockHash:     n.blocks[h].BlockHash().String(),
		Confirmations: uint64(len(n.blocks) - h),
	}, nil
}

func (n *fakeNode) GetBlockCount() (int64, error) {
	return int64(len(n.blocks) - 1), nil
}

func (n *fakeNode) GetBlockHash(blockHeight int64) (*chainhash.Hash, error) {
	if blockHeight < 0 || blockHeight >= int64(len(n.blocks)) {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCInvalidParameter, Message: "Block height out of range"}
	}
	h := n.blocks[blockHeight].BlockHash()
	return &h, nil
}

func (n *fakeNode) GetBlockHeader(blockHash *chainhash.Hash) (*wire.BlockHeader, error) {
	n.mu.Lock()
	n.headerCalls++
	n.mu.Unlock()
	h, ok := n.byHash[*blockHash]
	if !ok {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCInvalidAddressOrKey, Message: "Block not found"}
	}
	header := n.blocks[h].Header
	return &header, nil
}

func (n *fakeNode) GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error) {
	h, ok := n.byHash[*blockHash]
	if !ok {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCInvalidAddressOrKey, Message: "Block not found"}
	}
	return n.blocks[h], nil
}

func (n *fakeNode) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	n.sent = append(n.sent, tx)
	h := tx.TxHash()
	return &h, nil
}

func (n *fakeNode) ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	return n.unspent, nil
}

func (n *fakeNode) Shutdown() {}

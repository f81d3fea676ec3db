package rpc

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// climb recomputes the merkle root from a leaf and its branch.
func climb(leaf chainhash.Hash, pos uint64, branch []chainhash.Hash) chainhash.Hash {
	h := leaf
	for _, sibling := range branch {
		if pos&1 == 0 {
			h = chainhash.DoubleHashH(append(h[:], sibling[:]...))
		} else {
			h = chainhash.DoubleHashH(append(sibling[:], h[:]...))
		}
		pos >>= 1
	}
	return h
}

func TestMerkleBranch(t *testing.T) {
	node := newFakeNode(t, []int{1, 2, 3, 5, 8, 11})
	for height, block := range node.blocks {
		for i, tx := range block.Transactions {
			pos, branch, err := MerkleBranch(block.Transactions, tx.TxHash())
			require.NoError(t, err)
			assert.Equal(t, uint64(i), pos)
			assert.Equal(t, block.Header.MerkleRoot, climb(tx.TxHash(), pos, branch), "block %d tx %d", height, i)
		}
	}

	_, _, err := MerkleBranch(node.blocks[3].Transactions, chainhash.Hash{1})
	assert.ErrorIs(t, err, ErrTxNotInBlock)
}

func TestMerkleBranchSingleTx(t *testing.T) {
	node := newFakeNode(t, []int{1})
	tx := node.blocks[0].Transactions[0]
	pos, branch, err := MerkleBranch(node.blocks[0].Transactions, tx.TxHash())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos)
	assert.Empty(t, branch)
	assert.Equal(t, tx.TxHash(), node.blocks[0].Header.MerkleRoot)
}

func TestConfirmationsAndHeight(t *testing.T) {
	node := newFakeNode(t, []int{1, 1, 3, 1, 1, 1, 1})
	r := newRpcClient(node)
	defer r.Close()
	ctx := context.Background()

	tip, err := r.GetLatestBlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), tip)

	target := utxo.TxHashFromChainHash(node.blocks[2].Transactions[1].TxHash())
	conf, err := r.GetTransactionConfirmations(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), conf)

	_, err = r.GetTransactionConfirmations(ctx, utxo.TxHash{9})
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}

func TestGetTransactionMerkle(t *testing.T) {
	node := newFakeNode(t, []int{1, 4, 1})
	r := newRpcClient(node)
	defer r.Close()

	tx := node.blocks[1].Transactions[3]
	m, err := r.GetTransactionMerkle(context.Background(), utxo.TxHashFromChainHash(tx.TxHash()), 1)
	require.NoError(t, err)
	assert.Equal(t, node.blocks[1].BlockHash(), m.BlockHash)
	assert.Equal(t, uint64(3), m.Position)
	assert.Len(t, m.Branch, 2)

	// wrong block: the caller retries later
	_, err = r.GetTransactionMerkle(context.Background(), utxo.TxHashFromChainHash(tx.TxHash()), 2)
	assert.ErrorIs(t, err, agreement.ErrTransient)

	_, err = r.GetTransactionMerkle(context.Background(), utxo.TxHashFromChainHash(tx.TxHash()), 10)
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}

func TestGetHeadersChain(t *testing.T) {
	node := newFakeNode(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	r := newRpcClient(node)
	defer r.Close()
	ctx := context.Background()

	raw, err := r.GetHeadersChain(ctx, 2, 6)
	require.NoError(t, err)
	require.Len(t, raw, 6*80)

	for i := 0; i < 6; i++ {
		var h wire.BlockHeader
		require.NoError(t, h.Deserialize(bytes.NewReader(raw[i*80:(i+1)*80])))
		assert.Equal(t, node.blocks[2+i].BlockHash(), h.BlockHash())
	}
	assert.Equal(t, 6, node.headerCalls)

	// headers come from the cache the second time
	_, err = r.GetHeadersChain(ctx, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, node.headerCalls)

	// past the tip
	_, err = r.GetHeadersChain(ctx, 8, 6)
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}

func TestGetUtxoAndBalance(t *testing.T) {
	node := newFakeNode(t, []int{2})
	r := newRpcClient(node)
	defer r.Close()
	ctx := context.Background()

	tx := node.blocks[0].Transactions[1]
	h := utxo.TxHashFromChainHash(tx.TxHash())

	u, err := r.GetUtxo(ctx, h, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), u.Value)
	assert.Equal(t, []byte{0x51}, u.PkScript)
	assert.Equal(t, utxo.PubKeyScriptType(utxo.ANY_SCRIPT_T), u.PkScriptT)

	_, err = r.GetUtxo(ctx, h, 1)
	assert.ErrorIs(t, err, agreement.ErrNotFound)

	node.unspent = []btcjson.ListUnspentResult{
		{TxID: node.blocks[0].Transactions[0].TxHash().String(), Vout: 0},
		{TxID: h.String(), Vout: 0},
	}
	balance, err := r.GetBalance(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), balance)
}

func TestBroadcast(t *testing.T) {
	node := newFakeNode(t, []int{1})
	r := newRpcClient(node)
	defer r.Close()

	tx := testTx(100, 0)
	require.NoError(t, r.Broadcast(context.Background(), tx))
	require.Len(t, node.sent, 1)
	assert.Equal(t, tx.TxHash(), node.sent[0].TxHash())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Broadcast(ctx, tx), context.Canceled)
	assert.Len(t, node.sent, 1)
}

// Runs against a real node when SERVER, PORT, USER, PASS are exported.
func TestLiveNodeHeight(t *testing.T) {
	server, port := os.Getenv("SERVER"), os.Getenv("PORT")
	user, pass := os.Getenv("USER"), os.Getenv("PASS")
	if server == "" || port == "" || user == "" || pass == "" {
		t.Skip("export env variables first: SERVER, PORT, USER, PASS")
	}
	r, err := NewRpcClient(&RpcClientConfig{ServerAddr: server, Port: port, Username: user, Pwd: pass})
	if err != nil {
		t.Fatal("cannot create RpcClient with given credentials")
	}
	defer r.Close()

	height, err := r.GetLatestBlockHeight(context.Background())
	assert.NoError(t, err)
	t.Logf("latest height: %d", height)
}

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/jellydator/ttlcache/v3"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

const (
	MAX_CONFIRM = 9999999

	headerCacheTTL   = 6 * time.Hour
	headerFetchLimit = 8
)

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
}

// nodeClient is the part of *rpcclient.Client we use.
type nodeClient interface {
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)
	GetBlockCount() (int64, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlockHeader(blockHash *chainhash.Hash) (*wire.BlockHeader, error)
	GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
	Shutdown()
}

// TxMerkle locates a transaction inside its block.
type TxMerkle struct {
	BlockHash chainhash.Hash
	Position  uint64           // index of the tx in the block
	Branch    []chainhash.Hash // siblings from leaf to root, internal byte order
}

// Wrapper of btc rpc client.
// Block headers are cached by block hash, they never change.
type RpcClient struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	client     nodeClient
	headers    *ttlcache.Cache[chainhash.Hash, wire.BlockHeader]
}

// Create a new RPC client which
// contains several useful functions
// to interact with bitcoin node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	// Connect to local Bitcoin mining node using HTTP
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)

	if err != nil {
		return nil, err
	}

	r := newRpcClient(client)
	r.ServerAddr = rcc.ServerAddr
	r.Port = rcc.Port
	return r, nil
}

func newRpcClient(client nodeClient) *RpcClient {
	r := &RpcClient{
		client: client,
		headers: ttlcache.New[chainhash.Hash, wire.BlockHeader](
			ttlcache.WithTTL[chainhash.Hash, wire.BlockHeader](headerCacheTTL),
			ttlcache.WithDisableTouchOnHit[chainhash.Hash, wire.BlockHeader](),
		),
	}
	go r.headers.Start()
	return r
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.headers.Stop()
	r.client.Shutdown()
}

// Fetch a raw tx with a given hash.
// Enable -txindex on your bitcoin node before using this function.
func (r *RpcClient) GetRawTransaction(ctx context.Context, txHash utxo.TxHash) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txRaw, err := r.client.GetRawTransaction(txHash.ChainHash())
	if err != nil {
		return nil, wrapNodeError(err)
	}
	return txRaw.MsgTx(), nil
}

// GetUtxo reads one output of a confirmed or mempool tx.
func (r *RpcClient) GetUtxo(ctx context.Context, txHash utxo.TxHash, vout uint32) (utxo.UTXO, error) {
	tx, err := r.GetRawTransaction(ctx, txHash)
	if err != nil {
		return utxo.UTXO{}, err
	}
	if int(vout) >= len(tx.TxOut) {
		return utxo.UTXO{}, fmt.Errorf("%w: tx %s has no output %d", agreement.ErrNotFound, txHash, vout)
	}
	out := tx.TxOut[vout]
	return utxo.UTXO{
		TxHash:    txHash,
		Vout:      vout,
		Value:     uint64(out.Value),
		PkScriptT: scriptType(out.PkScript),
		PkScript:  out.PkScript,
	}, nil
}

// Number of blocks on top of (and including) the tx's block.
// 0 for a mempool tx.
func (r *RpcClient) GetTransactionConfirmations(ctx context.Context, txHash utxo.TxHash) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := r.client.GetRawTransactionVerbose(txHash.ChainHash())
	if err != nil {
		return 0, wrapNodeError(err)
	}
	return res.Confirmations, nil
}

// Get the latest block height.
func (r *RpcClient) GetLatestBlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	latestHeight, err := r.client.GetBlockCount()
	if err != nil {
		return 0, wrapNodeError(err)
	}
	return uint64(latestHeight), nil
}

// GetTransactionMerkle finds the tx in the block at blockHeight
// and returns its merkle branch.
func (r *RpcClient) GetTransactionMerkle(ctx context.Context, txHash utxo.TxHash, blockHeight uint64) (*TxMerkle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blockHash, err := r.client.GetBlockHash(int64(blockHeight))
	if err != nil {
		return nil, wrapNodeError(err)
	}
	block, err := r.client.GetBlock(blockHash)
	if err != nil {
		return nil, wrapNodeError(err)
	}

	pos, branch, err := MerkleBranch(block.Transactions, *txHash.ChainHash())
	if err != nil {
		// the tip moved (reorg) between our calls
		return nil, fmt.Errorf("%w: block %d (%s): %v", agreement.ErrTransient, blockHeight, blockHash, err)
	}
	return &TxMerkle{BlockHash: *blockHash, Position: pos, Branch: branch}, nil
}

// GetHeadersChain returns count consecutive serialized headers,
// starting at fromHeight.
func (r *RpcClient) GetHeadersChain(ctx context.Context, fromHeight uint64, count int) ([]byte, error) {
	headers := make([]wire.BlockHeader, count)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(headerFetchLimit)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			h, err := r.headerAt(gCtx, fromHeight+uint64(i))
			if err != nil {
				return err
			}
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for i := range headers {
		if i > 0 && headers[i].PrevBlock != headers[i-1].BlockHash() {
			return nil, fmt.Errorf("%w: header %d does not link to %d", agreement.ErrTransient, fromHeight+uint64(i), fromHeight+uint64(i)-1)
		}
		if err := headers[i].Serialize(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (r *RpcClient) headerAt(ctx context.Context, height uint64) (wire.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return wire.BlockHeader{}, err
	}
	// the hash at a height can change on reorg, so only the header is cached
	hash, err := r.client.GetBlockHash(int64(height))
	if err != nil {
		return wire.BlockHeader{}, wrapNodeError(err)
	}
	if item := r.headers.Get(*hash); item != nil {
		return item.Value(), nil
	}
	h, err := r.client.GetBlockHeader(hash)
	if err != nil {
		return wire.BlockHeader{}, wrapNodeError(err)
	}
	r.headers.Set(*hash, *h, ttlcache.DefaultTTL)
	return *h, nil
}

// Broadcast sends a raw transaction to the bitcoin network.
// It does not wait for the tx to be mined.
func (r *RpcClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Explanation on allowHighFees=true
	// if bitcoin node thinks your fee is too high (maybe due to program mistakes) it can reject you.
	// false = may reject; true = accept it anyway
	txHash, err := r.client.SendRawTransaction(tx, true)
	if err != nil {
		return err
	}
	logger.WithField("txid", txHash.String()).Info("tx broadcast")
	return nil
}

// Get the UTXO(s) of an address.
// Notice: You need to turn on option -txindex on bitcoin node.
// Notice: You fill in either P2PKH or P2WPKH address, the result is specific to that address type.
func (r *RpcClient) GetUtxoList(ctx context.Context, myAddress btcutil.Address, offset int) ([]utxo.UTXO, error) {
	unspentOutputs, err := r.client.ListUnspentMinMaxAddresses(offset, MAX_CONFIRM, []btcutil.Address{myAddress})
	if err != nil {
		return nil, wrapNodeError(err)
	}

	var u []utxo.UTXO
	for _, item := range unspentOutputs {
		h, err := utxo.TxHashFromString(item.TxID)
		if err != nil {
			return nil, err
		}
		out, err := r.GetUtxo(ctx, h, item.Vout)
		if err != nil {
			return nil, err
		}
		u = append(u, out)
	}
	return u, nil
}

// Unfortunately there is no direct "get balance of an address" on btc node.
// Sums up the value of all UTXOs associated with the given address.
func (r *RpcClient) GetBalance(ctx context.Context, myAddress btcutil.Address, offset int) (uint64, error) {
	utxos, err := r.GetUtxoList(ctx, myAddress, offset)
	if err != nil {
		return 0, err
	}
	return utxo.Total(utxos), nil
}

func scriptType(pkScript []byte) utxo.PubKeyScriptType {
	switch {
	case txscript.IsPayToPubKeyHash(pkScript):
		return utxo.P2PKH_SCRIPT_T
	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return utxo.P2WPKH_SCRIPT_T
	default:
		return utxo.ANY_SCRIPT_T
	}
}

// wrapNodeError classifies node replies: unknown objects are NotFound,
// everything else is worth another try.
func wrapNodeError(err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		// -5 covers unknown txs, blocks and addresses, -8 heights out of range
		case btcjson.ErrRPCInvalidAddressOrKey, btcjson.ErrRPCInvalidParameter:
			return fmt.Errorf("%w: %v", agreement.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", agreement.ErrTransient, err)
}

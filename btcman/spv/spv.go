// Package spv assembles simplified payment verification proofs:
// evidence that a bitcoin transaction sits in a block which is buried
// under a given number of blocks.
package spv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/rpc"
	"github.com/TEENet-io/spv-bridge/btcman/utils"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/common"
)

const HeaderSize = 80

var (
	ErrInsufficientConfirmations = agreement.ErrInsufficientConfirmations
	ErrMerkleRootMismatch        = errors.New("merkle root mismatch")
)

// BitcoinClient is the bitcoin data source the assembler reads from.
type BitcoinClient interface {
	GetRawTransaction(ctx context.Context, txHash utxo.TxHash) (*wire.MsgTx, error)
	GetTransactionConfirmations(ctx context.Context, txHash utxo.TxHash) (uint64, error)
	GetLatestBlockHeight(ctx context.Context) (uint64, error)
	GetTransactionMerkle(ctx context.Context, txHash utxo.TxHash, blockHeight uint64) (*rpc.TxMerkle, error)
	GetHeadersChain(ctx context.Context, fromHeight uint64, count int) ([]byte, error)
}

// Proof is everything a proof submission needs.
type Proof struct {
	agreement.SpvProof
	Tx          *wire.MsgTx
	Vectors     agreement.TxVectors
	BlockHeight uint64
}

type Assembler struct {
	client BitcoinClient
}

func NewAssembler(client BitcoinClient) *Assembler {
	return &Assembler{client: client}
}

// Assemble builds the proof of txHash with exactly requiredConfirmations
// headers, starting at the tx's block.
// It fails with ErrInsufficientConfirmations while the tx is not buried
// deep enough, the caller should try again later.
func (a *Assembler) Assemble(ctx context.Context, txHash utxo.TxHash, requiredConfirmations uint64) (*Proof, error) {
	if requiredConfirmations == 0 {
		requiredConfirmations = 1
	}

	tx, err := a.client.GetRawTransaction(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get tx %s: %w", txHash, err)
	}
	if tx.TxHash() != *txHash.ChainHash() {
		return nil, fmt.Errorf("%w: node returned tx %s for %s", agreement.ErrFatal, tx.TxHash(), txHash)
	}

	confirmations, err := a.client.GetTransactionConfirmations(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get confirmations of %s: %w", txHash, err)
	}
	if confirmations < requiredConfirmations {
		return nil, fmt.Errorf("%w: tx %s has %d of %d", ErrInsufficientConfirmations, txHash, confirmations, requiredConfirmations)
	}

	tip, err := a.client.GetLatestBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block height: %w", err)
	}
	if confirmations > tip+1 {
		return nil, fmt.Errorf("%w: %d confirmations above tip %d", agreement.ErrTransient, confirmations, tip)
	}
	blockHeight := tip - confirmations + 1

	merkle, err := a.client.GetTransactionMerkle(ctx, txHash, blockHeight)
	if err != nil {
		return nil, fmt.Errorf("get merkle branch of %s: %w", txHash, err)
	}

	headers, err := a.client.GetHeadersChain(ctx, blockHeight, int(requiredConfirmations))
	if err != nil {
		return nil, fmt.Errorf("get %d headers from %d: %w", requiredConfirmations, blockHeight, err)
	}
	if uint64(len(headers)) != requiredConfirmations*HeaderSize {
		return nil, fmt.Errorf("%w: got %d header bytes, want %d", agreement.ErrTransient, len(headers), requiredConfirmations*HeaderSize)
	}

	if err := checkInclusion(*txHash.ChainHash(), merkle, headers[:HeaderSize]); err != nil {
		return nil, err
	}

	vectors, err := utils.TxVectorsFromMsgTx(tx)
	if err != nil {
		return nil, err
	}

	var branch bytes.Buffer
	for _, h := range merkle.Branch {
		branch.Write(h[:])
	}

	logger.WithFields(logger.Fields{
		"txid":          txHash.String(),
		"blockHeight":   blockHeight,
		"position":      merkle.Position,
		"confirmations": confirmations,
		"headers":       requiredConfirmations,
		"block":         common.Shorten(merkle.BlockHash.String(), 8),
	}).Debug("spv proof assembled")

	return &Proof{
		SpvProof: agreement.SpvProof{
			MerkleProof:    branch.Bytes(),
			TxIndexInBlock: merkle.Position,
			BitcoinHeaders: headers,
		},
		Tx:          tx,
		Vectors:     vectors,
		BlockHeight: blockHeight,
	}, nil
}

// checkInclusion climbs the branch and compares with the first header.
// A mismatch usually means a reorg between two node calls.
func checkInclusion(leaf chainhash.Hash, merkle *rpc.TxMerkle, rawHeader []byte) error {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(rawHeader)); err != nil {
		return err
	}
	if header.BlockHash() != merkle.BlockHash {
		return fmt.Errorf("%w: %w: header %s, merkle from block %s", agreement.ErrTransient, ErrMerkleRootMismatch, header.BlockHash(), merkle.BlockHash)
	}
	root := MerkleRoot(leaf, merkle.Position, merkle.Branch)
	if root != header.MerkleRoot {
		return fmt.Errorf("%w: %w: computed %s, header has %s", agreement.ErrTransient, ErrMerkleRootMismatch, root, header.MerkleRoot)
	}
	return nil
}

// MerkleRoot recomputes the root from a leaf, its position and its branch.
func MerkleRoot(leaf chainhash.Hash, position uint64, branch []chainhash.Hash) chainhash.Hash {
	h := leaf
	for _, sibling := range branch {
		var pair [64]byte
		if position&1 == 0 {
			copy(pair[:32], h[:])
			copy(pair[32:], sibling[:])
		} else {
			copy(pair[:32], sibling[:])
			copy(pair[32:], h[:])
		}
		h = chainhash.DoubleHashH(pair[:])
		position >>= 1
	}
	return h
}

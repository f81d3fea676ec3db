package btctxmanager

/*
	This file focus on the redemption sweep.

	1. Fetches the pending redemption requests of the wallet from the ledger.
	2. Fetches the wallet's main utxo that funds them.
	3. Builds and signs the redemption tx.
	4. Journals it, then sends it out (fire and forget).
	   The proof is submitted later, by chaintxmgr, once the tx is buried.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/assembler"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/common"
	"github.com/TEENet-io/spv-bridge/retry"
)

// Node replies to a tx that was sent before.
var alreadySent = []string{
	"already in block chain",
	"txn-already-in-mempool",
	"txn-already-known",
	"missingorspent",
}

// BitcoinClient is the part of the bitcoin node the sweeper needs.
type BitcoinClient interface {
	GetUtxo(ctx context.Context, txHash utxo.TxHash, vout uint32) (utxo.UTXO, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// RedemptionSource looks up pending requests on the ledger.
type RedemptionSource interface {
	PendingRedemptions(ctx context.Context, walletPubKey []byte, scripts [][]byte) ([]agreement.RedemptionRequest, error)
}

type BtcTxManager struct {
	assembler     *assembler.Assembler      // who builds and signs the txs.
	ledger        RedemptionSource          // where the requests live.
	myBtcClient   BitcoinClient             // send/query btc blockchain.
	journal       chaintxmgrdb.ChainTxMgrDB // tracker of sweeps.
	witnessChange bool                      // change to P2WPKH (true) or P2PKH (false)
}

func NewBtcTxManager(
	ass *assembler.Assembler,
	ledger RedemptionSource,
	btcClient BitcoinClient,
	journal chaintxmgrdb.ChainTxMgrDB,
	witnessChange bool,
) *BtcTxManager {
	return &BtcTxManager{
		assembler:     ass,
		ledger:        ledger,
		myBtcClient:   btcClient,
		journal:       journal,
		witnessChange: witnessChange,
	}
}

// CreateRedemptionTx builds and signs, without journaling or sending,
// the tx that pays every request keyed by scripts out of the main utxo.
func (m *BtcTxManager) CreateRedemptionTx(ctx context.Context, mainTxHash utxo.TxHash, mainVout uint32, scripts [][]byte) (*assembler.RedemptionTx, utxo.UTXO, error) {
	walletPubKey := m.assembler.Op.WalletPubKey()

	requests, err := m.ledger.PendingRedemptions(ctx, walletPubKey, scripts)
	if err != nil {
		return nil, utxo.UTXO{}, err
	}

	funding, err := m.myBtcClient.GetUtxo(ctx, mainTxHash, mainVout)
	if err != nil {
		return nil, utxo.UTXO{}, fmt.Errorf("failed to fetch main utxo %s:%d: %w", mainTxHash, mainVout, err)
	}

	rtx, err := m.assembler.BuildRedemptionTx(funding, requests, m.witnessChange)
	if err != nil {
		return nil, utxo.UTXO{}, err
	}
	return rtx, funding, nil
}

// SweepRedemptions pays out the requests keyed by scripts and
// journals the tx for proving. The same inputs sign to the same tx,
// so a repeated call finds the journal entry and does not send twice.
func (m *BtcTxManager) SweepRedemptions(ctx context.Context, mainTxHash utxo.TxHash, mainVout uint32, scripts [][]byte) (*assembler.RedemptionTx, error) {
	rtx, funding, err := m.CreateRedemptionTx(ctx, mainTxHash, mainVout, scripts)
	if err != nil {
		return nil, err
	}

	txHash := utxo.TxHashFromChainHash(rtx.Tx.TxHash())
	log := logger.WithFields(logger.Fields{
		"txid":     common.Shorten(txHash.String(), 8),
		"requests": len(scripts),
		"fee":      rtx.Fee,
		"change":   rtx.Change,
	})

	entry := &chaintxmgrdb.SweepEntry{
		TxHash:       txHash,
		Kind:         chaintxmgrdb.KindRedemption,
		WalletPubKey: m.assembler.Op.WalletPubKey(),
		MainUtxo:     funding,
		RawTx:        rtx.Hex,
		Status:       chaintxmgrdb.Built,
	}
	err = m.journal.InsertSweep(entry)
	if errors.Is(err, chaintxmgrdb.ErrDuplicateSweep) {
		existing, _, gerr := m.journal.GetSweep(txHash)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil && (existing.Status == chaintxmgrdb.Broadcast || existing.Status == chaintxmgrdb.Proven) {
			log.WithField("status", existing.Status).Info("redemption tx already sent")
			return rtx, nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to journal redemption tx: %w", err)
	}

	// Fire and forget: whatever the node replies, the tx goes to the
	// proving loop, which notices one that never confirms.
	lastError := ""
	if err := m.myBtcClient.Broadcast(ctx, rtx.Tx); err != nil {
		lastError = err.Error()
		if retry.IsExpected(err, alreadySent) {
			log.WithError(err).Info("redemption tx already known to the node")
		} else {
			log.WithError(err).Warn("node rejected redemption tx")
		}
	}

	if err := m.journal.UpdateStatus(txHash, chaintxmgrdb.Broadcast, lastError); err != nil {
		// the tx may be out, the operator must journal it by hand
		log.WithError(err).WithField("raw", rtx.Hex).Error("redemption tx sent but not journaled")
		return rtx, err
	}

	log.Info("redemption tx sent")
	return rtx, nil
}

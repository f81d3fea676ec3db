package chaintxmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/common"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
	"github.com/TEENet-io/spv-bridge/retry"
)

const DefaultIntervalCheckTime = 30 * time.Second

type ChainTxMgrConfig struct {
	// Loop's main interval
	IntervalCheckTime time.Duration

	// Give up on an entry after this many failed proof attempts, 0 = never.
	MaxProofAttempts int
}

type ChainTxMgr struct {
	cfg       *ChainTxMgrConfig
	mgrdb     chaintxmgrdb.ChainTxMgrDB // journal of sent sweeps
	gateway   ProofGateway
	assembler ProofAssembler

	walletLock sync.Map // wallet pub key (hex) -> *sync.Mutex, one proof per wallet at a time
}

func NewChainTxMgr(cfg *ChainTxMgrConfig, mgrdb chaintxmgrdb.ChainTxMgrDB, gateway ProofGateway, assembler ProofAssembler) *ChainTxMgr {
	if cfg.IntervalCheckTime <= 0 {
		cfg.IntervalCheckTime = DefaultIntervalCheckTime
	}
	return &ChainTxMgr{
		cfg:       cfg,
		mgrdb:     mgrdb,
		gateway:   gateway,
		assembler: assembler,
	}
}

func (ctm *ChainTxMgr) lockOf(walletPubKey []byte) *sync.Mutex {
	l, _ := ctm.walletLock.LoadOrStore(common.ByteSliceToPureHexStr(walletPubKey), &sync.Mutex{})
	return l.(*sync.Mutex)
}

// ProveRedemption proves that the redemption tx txHash, which spent
// mainUtxo of the wallet walletPubKey, is buried deep enough.
func (ctm *ChainTxMgr) ProveRedemption(ctx context.Context, txHash utxo.TxHash, mainUtxo utxo.UTXO, walletPubKey []byte) error {
	l := ctm.lockOf(walletPubKey)
	l.Lock()
	defer l.Unlock()

	return ctm.proveRedemption(ctx, txHash, mainUtxo, walletPubKey)
}

func (ctm *ChainTxMgr) proveRedemption(ctx context.Context, txHash utxo.TxHash, mainUtxo utxo.UTXO, walletPubKey []byte) error {
	pkh, err := ledgerkey.WalletPubKeyHash(walletPubKey)
	if err != nil {
		return err
	}

	depth, err := ctm.gateway.ConfirmationDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read confirmation depth: %w", err)
	}

	proof, err := ctm.assembler.Assemble(ctx, txHash, depth)
	if err != nil {
		return err
	}

	return ctm.gateway.SubmitRedemptionProof(ctx, proof.Vectors, proof.SpvProof, mainUtxo, pkh)
}

// ProveDepositSweep proves the deposit sweep tx txHash.
// mainUtxo is the wallet output the sweep spent besides the deposits,
// zero if it had none.
func (ctm *ChainTxMgr) ProveDepositSweep(ctx context.Context, txHash utxo.TxHash, mainUtxo utxo.UTXO, vault agreement.Identifier, walletPubKey []byte) error {
	l := ctm.lockOf(walletPubKey)
	l.Lock()
	defer l.Unlock()

	return ctm.proveDepositSweep(ctx, txHash, mainUtxo, vault)
}

func (ctm *ChainTxMgr) proveDepositSweep(ctx context.Context, txHash utxo.TxHash, mainUtxo utxo.UTXO, vault agreement.Identifier) error {
	depth, err := ctm.gateway.ConfirmationDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read confirmation depth: %w", err)
	}

	proof, err := ctm.assembler.Assemble(ctx, txHash, depth)
	if err != nil {
		return err
	}

	return ctm.gateway.SubmitDepositSweepProof(ctx, proof.Vectors, proof.SpvProof, mainUtxo, vault)
}

// Track journals a sweep sent by someone else, so that the loop proves it.
func (ctm *ChainTxMgr) Track(entry *chaintxmgrdb.SweepEntry) error {
	entry.Status = chaintxmgrdb.Broadcast
	return ctm.mgrdb.InsertSweep(entry)
}

// The Big Loop!
func (ctm *ChainTxMgr) Loop(ctx context.Context) error {
	logger.Debug("starting chain tx manager")
	defer logger.Debug("stopping chain tx manager")

	tickerInterval := time.NewTicker(ctm.cfg.IntervalCheckTime)
	defer tickerInterval.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tickerInterval.C:
			if _, err := ctm.ProcessPending(ctx); err != nil {
				logger.Errorf("failed to process pending sweeps: err=%v", err)
			}
		}
	}
}

// ProcessPending tries once to prove every broadcast sweep.
// Wallets busy with another proof are skipped until the next round.
// Returns how many entries got proven.
func (ctm *ChainTxMgr) ProcessPending(ctx context.Context) (int, error) {
	entries, err := ctm.mgrdb.GetSweepsByStatus(chaintxmgrdb.Broadcast)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		logger.Debug("no sweeps to prove")
		return 0, nil
	}

	proven := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return proven, ctx.Err()
		}

		l := ctm.lockOf(e.WalletPubKey)
		if !l.TryLock() {
			logger.WithField("txid", e.TxHash.String()).Debug("wallet busy, skip")
			continue
		}
		ok, err := ctm.proveEntry(ctx, e)
		l.Unlock()

		if err != nil {
			return proven, err
		}
		if ok {
			proven++
		}
	}
	return proven, nil
}

// proveEntry moves one journal entry forward.
// The error is only about the journal itself.
func (ctm *ChainTxMgr) proveEntry(ctx context.Context, e *chaintxmgrdb.SweepEntry) (bool, error) {
	var err error
	switch e.Kind {
	case chaintxmgrdb.KindRedemption:
		err = ctm.proveRedemption(ctx, e.TxHash, e.MainUtxo, e.WalletPubKey)
	case chaintxmgrdb.KindDepositSweep:
		err = ctm.proveDepositSweep(ctx, e.TxHash, e.MainUtxo, e.Vault)
	default:
		err = fmt.Errorf("%w: unknown sweep kind %q", agreement.ErrFatal, e.Kind)
	}

	log := logger.WithFields(logger.Fields{
		"txid":    common.Shorten(e.TxHash.String(), 8),
		"kind":    e.Kind,
		"attempt": e.Attempts + 1,
	})

	if err == nil {
		log.Info("sweep proven")
		return true, ctm.mgrdb.UpdateStatus(e.TxHash, chaintxmgrdb.Proven, "")
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}

	if isPermanent(err) || (ctm.cfg.MaxProofAttempts > 0 && e.Attempts+1 >= ctm.cfg.MaxProofAttempts) {
		log.WithError(err).Error("giving up on sweep")
		return false, ctm.mgrdb.UpdateStatus(e.TxHash, chaintxmgrdb.Failed, err.Error())
	}

	if errors.Is(err, agreement.ErrInsufficientConfirmations) {
		log.WithError(err).Debug("sweep not buried yet")
	} else {
		log.WithError(err).Warn("failed to prove sweep, will retry")
	}
	return false, ctm.mgrdb.RecordAttempt(e.TxHash, err.Error())
}

// isPermanent tells failures that another round cannot fix.
// Exhausted retries are transient here: the loop is the outer retry.
func isPermanent(err error) bool {
	if errors.Is(err, retry.ErrExhausted) {
		return false
	}
	return errors.Is(err, agreement.ErrFatal) || errors.Is(err, agreement.ErrInvalidRequestList)
}

// Package gateway is the maintainer's single door to the ledger chain.
// It derives ledger keys, retries remote calls and turns "already done"
// rejections of mutations into success.
package gateway

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utils"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
	"github.com/TEENet-io/spv-bridge/retry"
)

// Operation names a remote call, for retry metrics and the expected-error table.
type Operation string

const (
	OpPendingRedemption       Operation = "pendingRedemption"
	OpDeposit                 Operation = "deposit"
	OpDifficultyFactor        Operation = "txProofDifficultyFactor"
	OpLatestBlock             Operation = "latestBlock"
	OpRevealDeposit           Operation = "revealDeposit"
	OpSubmitDepositSweepProof Operation = "submitDepositSweepProof"
	OpSubmitRedemptionProof   Operation = "submitRedemptionProof"
	OpRequestRedemption       Operation = "requestRedemption"
	OpDepositRevealedEvents   Operation = "depositRevealedEvents"
	OpRedemptionRequested     Operation = "redemptionRequestedEvents"
	OpNewWalletRegistered     Operation = "newWalletRegisteredEvents"
)

// ExpectedErrors lists, per mutation, message fragments (case-insensitive)
// meaning the mutation is already in place on the ledger.
type ExpectedErrors map[Operation][]string

// DefaultExpectedErrors covers the bridge's revert reasons on both chains.
func DefaultExpectedErrors() ExpectedErrors {
	return ExpectedErrors{
		OpRevealDeposit:           {"already revealed", "already_revealed", "already known"},
		OpSubmitDepositSweepProof: {"already swept", "already_swept", "already known"},
		OpSubmitRedemptionProof:   {"already proven", "already_proven", "already known"},
		OpRequestRedemption:       {"already requested", "already_requested", "already known"},
	}
}

type Config struct {
	Policy         retry.Policy
	ExpectedErrors ExpectedErrors
	// blocks per event page
	PageSize uint64
}

func DefaultConfig() Config {
	return Config{
		Policy:         retry.DefaultPolicy(),
		ExpectedErrors: DefaultExpectedErrors(),
		PageSize:       agreement.DefaultBlockPageSize,
	}
}

type Gateway struct {
	chain agreement.LedgerChain
	cfg   Config
	log   logger.FieldLogger
}

func NewGateway(chain agreement.LedgerChain, cfg Config) *Gateway {
	if cfg.ExpectedErrors == nil {
		cfg.ExpectedErrors = DefaultExpectedErrors()
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = agreement.DefaultBlockPageSize
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy = retry.DefaultPolicy()
	}

	return &Gateway{
		chain: chain,
		cfg:   cfg,
		log:   logger.WithField("module", "gateway"),
	}
}

// SetLogger replaces the logger, tests use a null logger.
func (g *Gateway) SetLogger(log logger.FieldLogger) {
	g.log = log
}

// PendingRedemption fetches the request that pays script out of the wallet
// holding walletPubKey. A request the ledger does not hold is ErrNotFound.
func (g *Gateway) PendingRedemption(ctx context.Context, walletPubKey []byte, script []byte) (*agreement.RedemptionRequest, error) {
	pkh, err := ledgerkey.WalletPubKeyHash(walletPubKey)
	if err != nil {
		return nil, err
	}
	return g.pendingRedemption(ctx, pkh, script)
}

func (g *Gateway) pendingRedemption(ctx context.Context, pkh [20]byte, script []byte) (*agreement.RedemptionRequest, error) {
	key, err := ledgerkey.RedemptionKey(pkh, script)
	if err != nil {
		return nil, err
	}

	req, err := retry.Do(ctx, g.log, g.cfg.Policy, string(OpPendingRedemption), func(ctx context.Context) (*agreement.RedemptionRequest, error) {
		return g.chain.PendingRedemption(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if req == nil || req.RequestedAt == 0 {
		return nil, fmt.Errorf("%w: no pending redemption under key %x", agreement.ErrNotFound, key)
	}

	req.RedeemerOutputScript = append([]byte(nil), script...)
	return req, nil
}

// PendingRedemptions fetches one request per script, in order.
// The first failure, including ErrNotFound, aborts the batch.
func (g *Gateway) PendingRedemptions(ctx context.Context, walletPubKey []byte, scripts [][]byte) ([]agreement.RedemptionRequest, error) {
	pkh, err := ledgerkey.WalletPubKeyHash(walletPubKey)
	if err != nil {
		return nil, err
	}

	requests := make([]agreement.RedemptionRequest, 0, len(scripts))
	for _, script := range scripts {
		req, err := g.pendingRedemption(ctx, pkh, script)
		if err != nil {
			return nil, fmt.Errorf("script %x: %w", script, err)
		}
		requests = append(requests, *req)
	}
	return requests, nil
}

// Deposit fetches the deposit revealed for output outputIndex of txHash.
func (g *Gateway) Deposit(ctx context.Context, txHash utxo.TxHash, outputIndex uint32) (*agreement.DepositRequest, error) {
	key := ledgerkey.DepositKey(txHash, outputIndex)

	dep, err := retry.Do(ctx, g.log, g.cfg.Policy, string(OpDeposit), func(ctx context.Context) (*agreement.DepositRequest, error) {
		return g.chain.Deposit(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if dep == nil || dep.RevealedAt == 0 {
		return nil, fmt.Errorf("%w: no deposit for %s:%d", agreement.ErrNotFound, txHash, outputIndex)
	}
	return dep, nil
}

// ConfirmationDepth is the number of headers a proof must carry.
// It is read from the ledger on every call, it may change at any time.
func (g *Gateway) ConfirmationDepth(ctx context.Context) (uint64, error) {
	return retry.Do(ctx, g.log, g.cfg.Policy, string(OpDifficultyFactor), g.chain.TxProofDifficultyFactor)
}

func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	return retry.Do(ctx, g.log, g.cfg.Policy, string(OpLatestBlock), g.chain.LatestBlock)
}

func (g *Gateway) mutate(ctx context.Context, op Operation, f func(ctx context.Context) error) error {
	return retry.Mutate(ctx, g.log, g.cfg.Policy, string(op), g.cfg.ExpectedErrors[op], f)
}

// RevealDeposit tells the ledger about a deposit funded by fundingTx.
func (g *Gateway) RevealDeposit(ctx context.Context, fundingTx *wire.MsgTx, reveal agreement.DepositRevealInfo) error {
	vectors, err := utils.TxVectorsFromMsgTx(fundingTx)
	if err != nil {
		return fmt.Errorf("%w: %v", agreement.ErrFatal, err)
	}
	if int(reveal.FundingOutputIndex) >= len(fundingTx.TxOut) {
		return fmt.Errorf("%w: funding output %d out of range", agreement.ErrFatal, reveal.FundingOutputIndex)
	}

	return g.mutate(ctx, OpRevealDeposit, func(ctx context.Context) error {
		return g.chain.RevealDeposit(ctx, vectors, reveal)
	})
}

func (g *Gateway) SubmitDepositSweepProof(ctx context.Context, sweepTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, vault agreement.Identifier) error {
	return g.mutate(ctx, OpSubmitDepositSweepProof, func(ctx context.Context) error {
		return g.chain.SubmitDepositSweepProof(ctx, sweepTx, proof, mainUtxo, vault)
	})
}

func (g *Gateway) SubmitRedemptionProof(ctx context.Context, redemptionTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, walletPubKeyHash [20]byte) error {
	return g.mutate(ctx, OpSubmitRedemptionProof, func(ctx context.Context) error {
		return g.chain.SubmitRedemptionProof(ctx, redemptionTx, proof, mainUtxo, walletPubKeyHash)
	})
}

func (g *Gateway) RequestRedemption(ctx context.Context, walletPubKeyHash [20]byte, mainUtxo utxo.UTXO, script []byte, amount uint64) error {
	if _, err := ledgerkey.RedemptionKey(walletPubKeyHash, script); err != nil {
		return err
	}
	return g.mutate(ctx, OpRequestRedemption, func(ctx context.Context) error {
		return g.chain.RequestRedemption(ctx, walletPubKeyHash, mainUtxo, script, amount)
	})
}

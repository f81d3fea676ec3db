package etherman

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/common"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
)

var (
	ErrTxReverted     = errors.New("transaction reverted")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedEvent = errors.New("malformed event")
)

type ethereumClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)

	bind.DeployBackend
	bind.ContractBackend
}

// Etherman is the bridge contract on an EVM chain.
type Etherman struct {
	ethClient     ethereumClient
	bridgeAddress ethcommon.Address
	bridge        *bind.BoundContract

	key          *ecdsa.PrivateKey
	chainID      *big.Int
	pollInterval time.Duration

	// one transaction in flight at a time, so nonces never collide
	mu sync.Mutex
}

var _ agreement.LedgerChain = (*Etherman)(nil)

func NewEtherman(cfg *Config) (*Etherman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	return newEtherman(context.Background(), ethClient, cfg)
}

func newEtherman(ctx context.Context, client ethereumClient, cfg *Config) (*Etherman, error) {
	etherman := &Etherman{
		ethClient:     client,
		bridgeAddress: cfg.BridgeContractAddress,
		bridge:        bind.NewBoundContract(cfg.BridgeContractAddress, bridgeABI, client, client, client),
		chainID:       cfg.ChainID,
		pollInterval:  cfg.ReceiptPollInterval,
	}
	if etherman.pollInterval <= 0 {
		etherman.pollInterval = defaultReceiptPollInterval
	}

	// read-only use is allowed
	if cfg.SubmitterPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SubmitterPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid submitter key: %w", err)
		}
		etherman.key = key
	}

	if etherman.chainID == nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
		etherman.chainID = chainID
	}

	return etherman, nil
}

// Submitter returns the address transactions are sent from.
func (etherman *Etherman) Submitter() ethcommon.Address {
	if etherman.key == nil {
		return ethcommon.Address{}
	}
	return crypto.PubkeyToAddress(etherman.key.PublicKey)
}

func (etherman *Etherman) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := etherman.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", agreement.ErrTransient, err)
	}
	return n, nil
}

func (etherman *Etherman) PendingRedemption(ctx context.Context, key [32]byte) (*agreement.RedemptionRequest, error) {
	var out []interface{}
	err := etherman.bridge.Call(&bind.CallOpts{Context: ctx}, &out, "pendingRedemptions", keyToBig(key))
	if err != nil {
		return nil, fmt.Errorf("pendingRedemptions: %w", err)
	}

	req := *abi.ConvertType(out[0], new(redemptionRequest)).(*redemptionRequest)
	return req.toAgreement(), nil
}

func (etherman *Etherman) Deposit(ctx context.Context, key [32]byte) (*agreement.DepositRequest, error) {
	var out []interface{}
	err := etherman.bridge.Call(&bind.CallOpts{Context: ctx}, &out, "deposits", keyToBig(key))
	if err != nil {
		return nil, fmt.Errorf("deposits: %w", err)
	}

	dep := *abi.ConvertType(out[0], new(depositRequest)).(*depositRequest)
	return dep.toAgreement(), nil
}

func (etherman *Etherman) TxProofDifficultyFactor(ctx context.Context) (uint64, error) {
	var out []interface{}
	err := etherman.bridge.Call(&bind.CallOpts{Context: ctx}, &out, "txProofDifficultyFactor")
	if err != nil {
		return 0, fmt.Errorf("txProofDifficultyFactor: %w", err)
	}

	factor := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !factor.IsUint64() {
		return 0, fmt.Errorf("%w: difficulty factor %s out of range", agreement.ErrFatal, factor)
	}
	return factor.Uint64(), nil
}

func (etherman *Etherman) RevealDeposit(ctx context.Context, fundingTx agreement.TxVectors, reveal agreement.DepositRevealInfo) error {
	return etherman.transact(ctx, "revealDeposit",
		toBitcoinTxInfo(fundingTx),
		toDepositRevealInfo(reveal),
	)
}

func (etherman *Etherman) SubmitDepositSweepProof(ctx context.Context, sweepTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, vault agreement.Identifier) error {
	return etherman.transact(ctx, "submitDepositSweepProof",
		toBitcoinTxInfo(sweepTx),
		toBitcoinTxProof(proof),
		toBitcoinTxUTXO(mainUtxo),
		toAddress(vault),
	)
}

func (etherman *Etherman) SubmitRedemptionProof(ctx context.Context, redemptionTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, walletPubKeyHash [20]byte) error {
	return etherman.transact(ctx, "submitRedemptionProof",
		toBitcoinTxInfo(redemptionTx),
		toBitcoinTxProof(proof),
		toBitcoinTxUTXO(mainUtxo),
		walletPubKeyHash,
	)
}

func (etherman *Etherman) RequestRedemption(ctx context.Context, walletPubKeyHash [20]byte, mainUtxo utxo.UTXO, script []byte, amount uint64) error {
	prefixed, err := ledgerkey.PrefixScript(script)
	if err != nil {
		return err
	}
	return etherman.transact(ctx, "requestRedemption",
		walletPubKeyHash,
		toBitcoinTxUTXO(mainUtxo),
		prefixed,
		amount,
	)
}

// transact sends a bridge call and waits for it to be mined.
// Reverts caught by gas estimation surface with the node's message,
// which carries the revert reason.
func (etherman *Etherman) transact(ctx context.Context, method string, params ...interface{}) error {
	if etherman.key == nil {
		return fmt.Errorf("%w: %s: no submitter key configured", agreement.ErrFatal, method)
	}

	etherman.mu.Lock()
	defer etherman.mu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(etherman.key, etherman.chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", agreement.ErrFatal, err)
	}
	opts.Context = ctx

	tx, err := etherman.bridge.Transact(opts, method, params...)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	newLogger := logger.WithFields(logger.Fields{
		"method": method,
		"txHash": common.Shorten(tx.Hash().String(), 8),
	})
	newLogger.Debug("sent bridge transaction")

	receipt, err := etherman.waitMined(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		newLogger.Warn("bridge transaction reverted")
		return fmt.Errorf("%s: %w: %s", method, ErrTxReverted, tx.Hash())
	}

	newLogger.WithField("block", receipt.BlockNumber).Debug("bridge transaction mined")
	return nil
}

// waitMined polls the receipt until the transaction is mined or ctx is done.
func (etherman *Etherman) waitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(etherman.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := etherman.ethClient.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil && receipt.BlockNumber != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.WithField("txHash", common.Shorten(txHash.String(), 8)).Debugf("failed to get receipt: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (etherman *Etherman) DepositRevealedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.DepositRevealedEvent, error) {
	topics := [][]ethcommon.Hash{{DepositRevealedSignatureHash}, nil}
	if walletPubKeyHash != nil {
		topics = append(topics, []ethcommon.Hash{bytes20Topic(*walletPubKeyHash)})
	}

	logs, err := etherman.filterLogs(ctx, from, to, topics)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.DepositRevealedEvent, 0, len(logs))
	for _, vlog := range logs {
		if len(vlog.Topics) != 3 {
			return nil, fmt.Errorf("%w: DepositRevealed with %d topics", ErrMalformedEvent, len(vlog.Topics))
		}
		data := new(depositRevealedData)
		if err := bridgeABI.UnpackIntoInterface(data, "DepositRevealed", vlog.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		events = append(events, agreement.DepositRevealedEvent{
			EventMeta:          eventMeta(vlog),
			FundingTxHash:      utxo.TxHashFromLedger(data.FundingTxHash),
			FundingOutputIndex: data.FundingOutputIndex,
			Depositor:          fromAddress(ethcommon.BytesToAddress(vlog.Topics[1].Bytes())),
			Amount:             data.Amount,
			BlindingFactor:     data.BlindingFactor,
			WalletPubKeyHash:   topicToBytes20(vlog.Topics[2]),
			RefundPubKeyHash:   data.RefundPubKeyHash,
			RefundLocktime:     data.RefundLocktime,
			Vault:              fromAddress(data.Vault),
		})
	}
	return events, nil
}

func (etherman *Etherman) RedemptionRequestedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.RedemptionRequestedEvent, error) {
	topics := [][]ethcommon.Hash{{RedemptionRequestedSignatureHash}}
	if walletPubKeyHash != nil {
		topics = append(topics, []ethcommon.Hash{bytes20Topic(*walletPubKeyHash)})
	}

	logs, err := etherman.filterLogs(ctx, from, to, topics)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.RedemptionRequestedEvent, 0, len(logs))
	for _, vlog := range logs {
		if len(vlog.Topics) != 3 {
			return nil, fmt.Errorf("%w: RedemptionRequested with %d topics", ErrMalformedEvent, len(vlog.Topics))
		}
		data := new(redemptionRequestedData)
		if err := bridgeABI.UnpackIntoInterface(data, "RedemptionRequested", vlog.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		script, err := ledgerkey.UnprefixScript(data.RedeemerOutputScript)
		if err != nil {
			return nil, err
		}
		events = append(events, agreement.RedemptionRequestedEvent{
			EventMeta:            eventMeta(vlog),
			WalletPubKeyHash:     topicToBytes20(vlog.Topics[1]),
			RedeemerOutputScript: script,
			Redeemer:             fromAddress(ethcommon.BytesToAddress(vlog.Topics[2].Bytes())),
			RequestedAmount:      data.RequestedAmount,
			TreasuryFee:          data.TreasuryFee,
			TxMaxFee:             data.TxMaxFee,
		})
	}
	return events, nil
}

func (etherman *Etherman) NewWalletRegisteredEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.NewWalletRegisteredEvent, error) {
	topics := [][]ethcommon.Hash{{NewWalletRegisteredSignatureHash}, nil}
	if walletPubKeyHash != nil {
		topics = append(topics, []ethcommon.Hash{bytes20Topic(*walletPubKeyHash)})
	}

	logs, err := etherman.filterLogs(ctx, from, to, topics)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.NewWalletRegisteredEvent, 0, len(logs))
	for _, vlog := range logs {
		if len(vlog.Topics) != 3 {
			return nil, fmt.Errorf("%w: NewWalletRegistered with %d topics", ErrMalformedEvent, len(vlog.Topics))
		}
		events = append(events, agreement.NewWalletRegisteredEvent{
			EventMeta:        eventMeta(vlog),
			EcdsaWalletID:    vlog.Topics[1],
			WalletPubKeyHash: topicToBytes20(vlog.Topics[2]),
		})
	}
	return events, nil
}

func (etherman *Etherman) filterLogs(ctx context.Context, from, to uint64, topics [][]ethcommon.Hash) ([]types.Log, error) {
	logs, err := etherman.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{etherman.bridgeAddress},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs [%d, %d]: %v", agreement.ErrTransient, from, to, err)
	}

	kept := logs[:0]
	for _, vlog := range logs {
		if vlog.Removed {
			continue
		}
		if len(vlog.Topics) == 0 || vlog.Topics[0] != topics[0][0] {
			return nil, fmt.Errorf("%w: %v", ErrUnknownEvent, vlog.Topics)
		}
		kept = append(kept, vlog)
	}
	return kept, nil
}

func eventMeta(vlog types.Log) agreement.EventMeta {
	return agreement.EventMeta{
		BlockNumber: vlog.BlockNumber,
		BlockHash:   vlog.BlockHash,
		TxHash:      vlog.TxHash,
	}
}

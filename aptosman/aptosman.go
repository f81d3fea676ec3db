package aptosman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
)

const (
	defaultEventPageLimit = 100

	depositRevealedField     = "deposit_revealed_events"
	redemptionRequestedField = "redemption_requested_events"
	newWalletRegisteredField = "new_wallet_registered_events"
)

var (
	ErrTxAborted      = errors.New("transaction aborted")
	ErrMalformedView  = errors.New("malformed view result")
	ErrMalformedEvent = errors.New("malformed event")
)

// Aptosman is the bridge module on Aptos.
// Ledger versions play the role of block numbers.
type Aptosman struct {
	node          *nodeReader
	submitter     entrySubmitter // nil when read-only
	moduleAddress aptos.AccountAddress
	moduleName    string
	pageLimit     uint64

	// one transaction in flight at a time, so sequence numbers never collide
	mu sync.Mutex

	// per event handle, the latest event known to be older than some query
	hintsMu sync.Mutex
	hints   map[string]eventHint
}

type eventHint struct {
	seq     uint64
	version uint64
}

var _ agreement.LedgerChain = (*Aptosman)(nil)

// NewAptosman connects to the node of cfg.Network
func NewAptosman(cfg *AptosmanConfig) (*Aptosman, error) {
	aptman, err := newAptosman(cfg, nil)
	if err != nil {
		return nil, err
	}
	if cfg.SubmitterPrivateKey == "" {
		return aptman, nil
	}

	account, err := LoadAccount(cfg.SubmitterPrivateKey)
	if err != nil {
		return nil, err
	}

	_, networkConfig := GetNetworkConfig(cfg.Network)
	networkConfig.NodeUrl = cfg.nodeURL()
	aptosClient, err := aptos.NewClient(networkConfig)
	if err != nil {
		logger.WithField("network", cfg.Network).Errorf("failed to create aptos client: %v", err)
		return nil, err
	}

	aptman.submitter = &sdkSubmitter{
		client:  aptosClient,
		account: account,
		module:  aptman.module(),
	}
	return aptman, nil
}

func newAptosman(cfg *AptosmanConfig, submitter entrySubmitter) (*Aptosman, error) {
	moduleAddress := aptos.AccountAddress{}
	if err := moduleAddress.ParseStringRelaxed(cfg.ModuleAddress); err != nil {
		logger.Errorf("failed to parse module address: %v", err)
		return nil, err
	}

	node, err := newNodeReader(cfg.nodeURL())
	if err != nil {
		return nil, err
	}

	return &Aptosman{
		node:          node,
		submitter:     submitter,
		moduleAddress: moduleAddress,
		moduleName:    cfg.moduleName(),
		pageLimit:     defaultEventPageLimit,
		hints:         map[string]eventHint{},
	}, nil
}

func (aptman *Aptosman) module() aptos.ModuleId {
	return aptos.ModuleId{Address: aptman.moduleAddress, Name: aptman.moduleName}
}

func (aptman *Aptosman) eventHandle() string {
	return fmt.Sprintf("%s::%s::BridgeEvents", aptman.moduleAddress.String(), aptman.moduleName)
}

func (aptman *Aptosman) LatestBlock(ctx context.Context) (uint64, error) {
	return aptman.node.ledgerVersion(ctx)
}

// decodeView unpacks the return values of a view into targets.
// Values come back as decoded JSON, so each goes through the Move value decoders again.
func decodeView(name string, values []any, targets ...interface{}) error {
	if len(values) != len(targets) {
		return fmt.Errorf("%w: %s returned %d values, want %d", ErrMalformedView, name, len(values), len(targets))
	}
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %s value %d: %v", ErrMalformedView, name, i, err)
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return fmt.Errorf("%w: %s value %d: %v", ErrMalformedView, name, i, err)
		}
	}
	return nil
}

func (aptman *Aptosman) PendingRedemption(ctx context.Context, key [32]byte) (*agreement.RedemptionRequest, error) {
	keyArg, err := bcs.SerializeBytes(key[:])
	if err != nil {
		return nil, err
	}
	values, err := aptman.node.view(ctx, aptman.module(), "pending_redemption", keyArg)
	if err != nil {
		return nil, err
	}

	var redeemer moveAddress
	var requestedAmount, treasuryFee, txMaxFee, requestedAt jsonUint
	err = decodeView("pending_redemption", values, &redeemer, &requestedAmount, &treasuryFee, &txMaxFee, &requestedAt)
	if err != nil {
		return nil, err
	}

	return &agreement.RedemptionRequest{
		Redeemer:        redeemer.identifier(),
		RequestedAmount: uint64(requestedAmount),
		TreasuryFee:     uint64(treasuryFee),
		TxMaxFee:        uint64(txMaxFee),
		RequestedAt:     uint32(requestedAt),
	}, nil
}

func (aptman *Aptosman) Deposit(ctx context.Context, key [32]byte) (*agreement.DepositRequest, error) {
	keyArg, err := bcs.SerializeBytes(key[:])
	if err != nil {
		return nil, err
	}
	values, err := aptman.node.view(ctx, aptman.module(), "deposit", keyArg)
	if err != nil {
		return nil, err
	}

	var depositor moveAddress
	var vault optionAddress
	var amount, treasuryFee, revealedAt, sweptAt jsonUint
	err = decodeView("deposit", values, &depositor, &amount, &revealedAt, &vault, &treasuryFee, &sweptAt)
	if err != nil {
		return nil, err
	}

	return &agreement.DepositRequest{
		Depositor:   depositor.identifier(),
		Amount:      uint64(amount),
		Vault:       vault.identifier(),
		RevealedAt:  uint32(revealedAt),
		SweptAt:     uint32(sweptAt),
		TreasuryFee: uint64(treasuryFee),
	}, nil
}

func (aptman *Aptosman) TxProofDifficultyFactor(ctx context.Context) (uint64, error) {
	values, err := aptman.node.view(ctx, aptman.module(), "tx_proof_difficulty_factor")
	if err != nil {
		return 0, err
	}

	var factor jsonUint
	if err := decodeView("tx_proof_difficulty_factor", values, &factor); err != nil {
		return 0, err
	}
	return uint64(factor), nil
}

func (aptman *Aptosman) RevealDeposit(ctx context.Context, fundingTx agreement.TxVectors, reveal agreement.DepositRevealInfo) error {
	args, err := txArgs(new(bcsArgs), fundingTx).
		u32(reveal.FundingOutputIndex).
		bytes(reveal.BlindingFactor[:]).
		bytes(reveal.WalletPubKeyHash[:]).
		bytes(reveal.RefundPubKeyHash[:]).
		bytes(reveal.RefundLocktime[:]).
		address(toAccountAddress(reveal.Vault)).
		result()
	if err != nil {
		return err
	}
	return aptman.submit(ctx, "reveal_deposit", args)
}

func (aptman *Aptosman) SubmitDepositSweepProof(ctx context.Context, sweepTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, vault agreement.Identifier) error {
	a := txArgs(new(bcsArgs), sweepTx)
	args, err := utxoArgs(proofArgs(a, proof), mainUtxo).
		address(toAccountAddress(vault)).
		result()
	if err != nil {
		return err
	}
	return aptman.submit(ctx, "submit_deposit_sweep_proof", args)
}

func (aptman *Aptosman) SubmitRedemptionProof(ctx context.Context, redemptionTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, walletPubKeyHash [20]byte) error {
	a := txArgs(new(bcsArgs), redemptionTx)
	args, err := utxoArgs(proofArgs(a, proof), mainUtxo).
		bytes(walletPubKeyHash[:]).
		result()
	if err != nil {
		return err
	}
	return aptman.submit(ctx, "submit_redemption_proof", args)
}

func (aptman *Aptosman) RequestRedemption(ctx context.Context, walletPubKeyHash [20]byte, mainUtxo utxo.UTXO, script []byte, amount uint64) error {
	prefixed, err := ledgerkey.PrefixScript(script)
	if err != nil {
		return err
	}

	a := new(bcsArgs).bytes(walletPubKeyHash[:])
	args, err := utxoArgs(a, mainUtxo).
		bytes(prefixed).
		u64(amount).
		result()
	if err != nil {
		return err
	}
	return aptman.submit(ctx, "request_redemption", args)
}

func (aptman *Aptosman) submit(ctx context.Context, function string, args [][]byte) error {
	if aptman.submitter == nil {
		return fmt.Errorf("%w: %s: no submitter key configured", agreement.ErrFatal, function)
	}

	aptman.mu.Lock()
	defer aptman.mu.Unlock()

	if _, err := aptman.submitter.Submit(ctx, function, args); err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}
	return nil
}

func txArgs(a *bcsArgs, v agreement.TxVectors) *bcsArgs {
	return a.bytes(v.Version[:]).
		bytes(v.InputVector).
		bytes(v.OutputVector).
		bytes(v.Locktime[:])
}

func proofArgs(a *bcsArgs, p agreement.SpvProof) *bcsArgs {
	return a.bytes(p.MerkleProof).
		u64(p.TxIndexInBlock).
		bytes(p.BitcoinHeaders)
}

// utxoArgs adds a utxo the way the ledger stores it, hash reversed.
func utxoArgs(a *bcsArgs, u utxo.UTXO) *bcsArgs {
	hash := u.TxHash.Reverse()
	return a.bytes(hash[:]).
		u32(u.Vout).
		u64(u.Value)
}

// toAccountAddress maps "no identifier" to 0x0.
func toAccountAddress(id agreement.Identifier) aptos.AccountAddress {
	var addr aptos.AccountAddress
	if !id.IsZero() {
		// right aligned, like a short address
		copy(addr[len(addr)-min(len(id), len(addr)):], id)
	}
	return addr
}

// eventsInRange returns the events of field emitted at ledger versions [from, to].
// The handle endpoint pages by sequence number, so pages are walked from the
// latest hint until the first event past to.
func (aptman *Aptosman) eventsInRange(ctx context.Context, field string, from, to uint64) ([]rawEvent, error) {
	start := aptman.hint(field, from)

	var out []rawEvent
	for {
		page, err := aptman.node.events(ctx, aptman.moduleAddress, aptman.eventHandle(), field, start, aptman.pageLimit)
		if err != nil {
			return nil, err
		}

		for _, ev := range page {
			version := uint64(ev.Version)
			if version < from {
				aptman.remember(field, uint64(ev.SequenceNumber), version)
				continue
			}
			if version > to {
				return out, nil
			}
			out = append(out, ev)
		}

		if uint64(len(page)) < aptman.pageLimit {
			return out, nil
		}
		start = uint64(page[len(page)-1].SequenceNumber) + 1
	}
}

func (aptman *Aptosman) hint(field string, from uint64) uint64 {
	aptman.hintsMu.Lock()
	defer aptman.hintsMu.Unlock()

	if h, ok := aptman.hints[field]; ok && h.version < from {
		return h.seq + 1
	}
	return 0
}

func (aptman *Aptosman) remember(field string, seq, version uint64) {
	aptman.hintsMu.Lock()
	defer aptman.hintsMu.Unlock()

	if h, ok := aptman.hints[field]; !ok || seq > h.seq {
		aptman.hints[field] = eventHint{seq: seq, version: version}
	}
}

func (aptman *Aptosman) DepositRevealedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.DepositRevealedEvent, error) {
	raws, err := aptman.eventsInRange(ctx, depositRevealedField, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.DepositRevealedEvent, 0, len(raws))
	for _, raw := range raws {
		data := new(depositRevealedData)
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		ev := agreement.DepositRevealedEvent{
			FundingOutputIndex: uint32(data.FundingOutputIndex),
			Depositor:          data.Depositor.identifier(),
			Amount:             uint64(data.Amount),
			Vault:              data.Vault.identifier(),
		}
		var fundingTxHash [32]byte
		if err := errors.Join(
			copyFixed(fundingTxHash[:], data.FundingTxHash, "funding_tx_hash"),
			copyFixed(ev.BlindingFactor[:], data.BlindingFactor, "blinding_factor"),
			copyFixed(ev.WalletPubKeyHash[:], data.WalletPubKeyHash, "wallet_pub_key_hash"),
			copyFixed(ev.RefundPubKeyHash[:], data.RefundPubKeyHash, "refund_pub_key_hash"),
			copyFixed(ev.RefundLocktime[:], data.RefundLocktime, "refund_locktime"),
		); err != nil {
			return nil, err
		}
		ev.FundingTxHash = utxo.TxHashFromLedger(fundingTxHash)

		if walletPubKeyHash != nil && ev.WalletPubKeyHash != *walletPubKeyHash {
			continue
		}
		if ev.EventMeta, err = aptman.node.eventMeta(ctx, uint64(raw.Version)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (aptman *Aptosman) RedemptionRequestedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.RedemptionRequestedEvent, error) {
	raws, err := aptman.eventsInRange(ctx, redemptionRequestedField, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.RedemptionRequestedEvent, 0, len(raws))
	for _, raw := range raws {
		data := new(redemptionRequestedData)
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		ev := agreement.RedemptionRequestedEvent{
			Redeemer:        data.Redeemer.identifier(),
			RequestedAmount: uint64(data.RequestedAmount),
			TreasuryFee:     uint64(data.TreasuryFee),
			TxMaxFee:        uint64(data.TxMaxFee),
		}
		if err := copyFixed(ev.WalletPubKeyHash[:], data.WalletPubKeyHash, "wallet_pub_key_hash"); err != nil {
			return nil, err
		}
		if walletPubKeyHash != nil && ev.WalletPubKeyHash != *walletPubKeyHash {
			continue
		}

		ev.RedeemerOutputScript, err = ledgerkey.UnprefixScript(data.RedeemerOutputScript)
		if err != nil {
			return nil, err
		}
		if ev.EventMeta, err = aptman.node.eventMeta(ctx, uint64(raw.Version)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (aptman *Aptosman) NewWalletRegisteredEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]agreement.NewWalletRegisteredEvent, error) {
	raws, err := aptman.eventsInRange(ctx, newWalletRegisteredField, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]agreement.NewWalletRegisteredEvent, 0, len(raws))
	for _, raw := range raws {
		data := new(newWalletRegisteredData)
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		ev := agreement.NewWalletRegisteredEvent{}
		if err := errors.Join(
			copyFixed(ev.EcdsaWalletID[:], data.EcdsaWalletID, "ecdsa_wallet_id"),
			copyFixed(ev.WalletPubKeyHash[:], data.WalletPubKeyHash, "wallet_pub_key_hash"),
		); err != nil {
			return nil, err
		}
		if walletPubKeyHash != nil && ev.WalletPubKeyHash != *walletPubKeyHash {
			continue
		}
		if ev.EventMeta, err = aptman.node.eventMeta(ctx, uint64(raw.Version)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

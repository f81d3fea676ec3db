package agreement

import (
	"context"

	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// LedgerChain is the capability set the bridge contract exposes.
// Each supported chain (ethereum, aptos) implements it once.
//
// Implementations are thin: they encode arguments, talk to the node
// and decode results. They do not retry, they do not derive keys and
// they report absent records as zero-valued structs (RequestedAt == 0,
// RevealedAt == 0) rather than errors.
type LedgerChain interface {
	// Reads
	PendingRedemption(ctx context.Context, key [32]byte) (*RedemptionRequest, error)
	Deposit(ctx context.Context, key [32]byte) (*DepositRequest, error)
	TxProofDifficultyFactor(ctx context.Context) (uint64, error)
	LatestBlock(ctx context.Context) (uint64, error)

	// Writes. They return once the ledger accepted (or rejected) the call.
	RevealDeposit(ctx context.Context, fundingTx TxVectors, reveal DepositRevealInfo) error
	SubmitDepositSweepProof(ctx context.Context, sweepTx TxVectors, proof SpvProof, mainUtxo utxo.UTXO, vault Identifier) error
	SubmitRedemptionProof(ctx context.Context, redemptionTx TxVectors, proof SpvProof, mainUtxo utxo.UTXO, walletPubKeyHash [20]byte) error
	// script is given without the length prefix.
	RequestRedemption(ctx context.Context, walletPubKeyHash [20]byte, mainUtxo utxo.UTXO, script []byte, amount uint64) error

	// Event pages over the inclusive block range [from, to].
	// walletPubKeyHash == nil means any wallet.
	DepositRevealedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]DepositRevealedEvent, error)
	RedemptionRequestedEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]RedemptionRequestedEvent, error)
	NewWalletRegisteredEvents(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]NewWalletRegisteredEvent, error)
}

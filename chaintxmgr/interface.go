// Implement following interfaces to make the proof submission work with your chain.

package chaintxmgr

import (
	"context"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/spv"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// ProofAssembler reads the bitcoin side of a proof.
type ProofAssembler interface {
	// Fails with agreement.ErrInsufficientConfirmations while the tx is
	// buried under fewer than requiredConfirmations blocks.
	Assemble(ctx context.Context, txHash utxo.TxHash, requiredConfirmations uint64) (*spv.Proof, error)
}

// ProofGateway is the ledger side of a proof, retries included.
type ProofGateway interface {
	// How many headers a proof must carry, read fresh every time.
	ConfirmationDepth(ctx context.Context) (uint64, error)

	SubmitRedemptionProof(ctx context.Context, redemptionTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, walletPubKeyHash [20]byte) error
	SubmitDepositSweepProof(ctx context.Context, sweepTx agreement.TxVectors, proof agreement.SpvProof, mainUtxo utxo.UTXO, vault agreement.Identifier) error
}

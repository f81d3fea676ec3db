// Golbal Agreement on types shared by the bitcoin side and the ledger side.

package agreement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// Identifier is an account on the ledger chain.
// [20]byte = ethereum address, [32]byte = aptos address.
// nil means "none" (eg. no vault).
type Identifier []byte

func (id Identifier) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

func (id Identifier) String() string {
	if len(id) == 0 {
		return "<none>"
	}
	return common.Bytes2Hex(id)
}

// RedemptionRequest is a pending redemption as the ledger stores it,
// together with the output script it was looked up by.
type RedemptionRequest struct {
	Redeemer             Identifier
	RedeemerOutputScript []byte // not length-prefixed
	RequestedAmount      uint64 // satoshi
	TreasuryFee          uint64 // satoshi
	TxMaxFee             uint64 // satoshi
	RequestedAt          uint32 // unix seconds, 0 = absent on the ledger
}

// OutputValue is what the redeemer receives on bitcoin.
// Only meaningful when RequestedAmount > TxMaxFee + TreasuryFee.
func (r *RedemptionRequest) OutputValue() uint64 {
	return r.RequestedAmount - r.TxMaxFee - r.TreasuryFee
}

func (r *RedemptionRequest) String() string {
	return fmt.Sprintf("%+v", *r)
}

// DepositRequest is a revealed deposit as the ledger stores it.
type DepositRequest struct {
	Depositor   Identifier
	Amount      uint64 // satoshi
	Vault       Identifier
	RevealedAt  uint32 // unix seconds, 0 = absent on the ledger
	SweptAt     uint32 // unix seconds, 0 = not swept yet
	TreasuryFee uint64
}

func (d *DepositRequest) String() string {
	return fmt.Sprintf("%+v", *d)
}

// DepositRevealInfo carries the parameters of the deposit script
// that the ledger needs to recognise a funding output.
type DepositRevealInfo struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              Identifier
}

// TxVectors is a bitcoin transaction split the way the ledger parses it.
// All parts come from the serialization without witness data.
type TxVectors struct {
	Version      [4]byte
	InputVector  []byte // varint count + inputs
	OutputVector []byte // varint count + outputs
	Locktime     [4]byte
}

// SpvProof proves a transaction is included in a block
// which is buried under enough work.
type SpvProof struct {
	MerkleProof    []byte // concatenated 32-byte siblings, leaf to root, internal byte order
	TxIndexInBlock uint64
	BitcoinHeaders []byte // concatenated 80-byte headers, starting at the tx's block
}

// EventMeta locates an event on the ledger chain.
type EventMeta struct {
	BlockNumber uint64
	BlockHash   [32]byte
	TxHash      [32]byte
}

type DepositRevealedEvent struct {
	EventMeta
	FundingTxHash      utxo.TxHash // display order
	FundingOutputIndex uint32
	Depositor          Identifier
	Amount             uint64
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              Identifier
}

func (ev *DepositRevealedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

type RedemptionRequestedEvent struct {
	EventMeta
	WalletPubKeyHash     [20]byte
	RedeemerOutputScript []byte // length prefix already stripped
	Redeemer             Identifier
	RequestedAmount      uint64
	TreasuryFee          uint64
	TxMaxFee             uint64
}

func (ev *RedemptionRequestedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

type NewWalletRegisteredEvent struct {
	EventMeta
	EcdsaWalletID    [32]byte
	WalletPubKeyHash [20]byte
}

func (ev *NewWalletRegisteredEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

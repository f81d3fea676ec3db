package etherman

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// Go shapes of the bridge's tuple arguments. Field names follow the
// ABI component names so that abi can map them.

type bitcoinTxInfo struct {
	Version      [4]byte
	InputVector  []byte
	OutputVector []byte
	Locktime     [4]byte
}

type bitcoinTxProof struct {
	MerkleProof    []byte
	TxIndexInBlock *big.Int
	BitcoinHeaders []byte
}

type bitcoinTxUTXO struct {
	TxHash        [32]byte // ledger (internal) byte order
	TxOutputIndex uint32
	TxOutputValue uint64
}

type depositRevealInfo struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              ethcommon.Address
}

type redemptionRequest struct {
	Redeemer        ethcommon.Address
	RequestedAmount uint64
	TreasuryFee     uint64
	TxMaxFee        uint64
	RequestedAt     uint32
}

type depositRequest struct {
	Depositor   ethcommon.Address
	Amount      uint64
	RevealedAt  uint32
	Vault       ethcommon.Address
	TreasuryFee uint64
	SweptAt     uint32
}

// Non-indexed event fields.

type depositRevealedData struct {
	FundingTxHash      [32]byte
	FundingOutputIndex uint32
	Amount             uint64
	BlindingFactor     [8]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              ethcommon.Address
}

type redemptionRequestedData struct {
	RedeemerOutputScript []byte
	RequestedAmount      uint64
	TreasuryFee          uint64
	TxMaxFee             uint64
}

func toBitcoinTxInfo(v agreement.TxVectors) bitcoinTxInfo {
	return bitcoinTxInfo{
		Version:      v.Version,
		InputVector:  v.InputVector,
		OutputVector: v.OutputVector,
		Locktime:     v.Locktime,
	}
}

func toBitcoinTxProof(p agreement.SpvProof) bitcoinTxProof {
	return bitcoinTxProof{
		MerkleProof:    p.MerkleProof,
		TxIndexInBlock: new(big.Int).SetUint64(p.TxIndexInBlock),
		BitcoinHeaders: p.BitcoinHeaders,
	}
}

func toBitcoinTxUTXO(u utxo.UTXO) bitcoinTxUTXO {
	return bitcoinTxUTXO{
		TxHash:        u.TxHash.Reverse(),
		TxOutputIndex: u.Vout,
		TxOutputValue: u.Value,
	}
}

func toDepositRevealInfo(r agreement.DepositRevealInfo) depositRevealInfo {
	return depositRevealInfo{
		FundingOutputIndex: r.FundingOutputIndex,
		BlindingFactor:     r.BlindingFactor,
		WalletPubKeyHash:   r.WalletPubKeyHash,
		RefundPubKeyHash:   r.RefundPubKeyHash,
		RefundLocktime:     r.RefundLocktime,
		Vault:              toAddress(r.Vault),
	}
}

func (r *redemptionRequest) toAgreement() *agreement.RedemptionRequest {
	return &agreement.RedemptionRequest{
		Redeemer:        fromAddress(r.Redeemer),
		RequestedAmount: r.RequestedAmount,
		TreasuryFee:     r.TreasuryFee,
		TxMaxFee:        r.TxMaxFee,
		RequestedAt:     r.RequestedAt,
	}
}

func (d *depositRequest) toAgreement() *agreement.DepositRequest {
	return &agreement.DepositRequest{
		Depositor:   fromAddress(d.Depositor),
		Amount:      d.Amount,
		Vault:       fromAddress(d.Vault),
		RevealedAt:  d.RevealedAt,
		SweptAt:     d.SweptAt,
		TreasuryFee: d.TreasuryFee,
	}
}

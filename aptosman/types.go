package aptosman

import (
	"fmt"
)

// Event payloads as the bridge module emits them.

type depositRevealedData struct {
	FundingTxHash      hexBytes      `json:"funding_tx_hash"`
	FundingOutputIndex jsonUint      `json:"funding_output_index"`
	Depositor          moveAddress   `json:"depositor"`
	Amount             jsonUint      `json:"amount"`
	BlindingFactor     hexBytes      `json:"blinding_factor"`
	WalletPubKeyHash   hexBytes      `json:"wallet_pub_key_hash"`
	RefundPubKeyHash   hexBytes      `json:"refund_pub_key_hash"`
	RefundLocktime     hexBytes      `json:"refund_locktime"`
	Vault              optionAddress `json:"vault"`
}

type redemptionRequestedData struct {
	WalletPubKeyHash     hexBytes    `json:"wallet_pub_key_hash"`
	RedeemerOutputScript hexBytes    `json:"redeemer_output_script"`
	Redeemer             moveAddress `json:"redeemer"`
	RequestedAmount      jsonUint    `json:"requested_amount"`
	TreasuryFee          jsonUint    `json:"treasury_fee"`
	TxMaxFee             jsonUint    `json:"tx_max_fee"`
}

type newWalletRegisteredData struct {
	EcdsaWalletID    hexBytes `json:"ecdsa_wallet_id"`
	WalletPubKeyHash hexBytes `json:"wallet_pub_key_hash"`
}

// copyFixed copies a vector<u8> into a fixed size field.
func copyFixed(dst []byte, src hexBytes, name string) error {
	b, err := src.fixed(len(dst))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
	}
	copy(dst, b)
	return nil
}

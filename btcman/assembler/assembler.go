package assembler

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utils"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

var ErrNegativeChange = errors.New("change_amount < 0")

type Assembler struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
	Op          Operator         // can do unlock/locking script on a btc transaction.
}

// RedemptionTx is a signed transaction paying out a batch of redemption requests.
type RedemptionTx struct {
	Tx     *wire.MsgTx
	Hex    string // full serialization (with witness), ready to broadcast
	Fee    uint64 // sum of TxMaxFee over the requests
	Change uint64 // back to the wallet, 0 = no change output
}

// Create a locking script on a Tx, to transfer out money to a single receiver.
// This type of locking sends funds to dst_addr and keep the change to change_addr.
// The change_amount is implied by:
// sum(utxo) = dst_amount + fee_amount + change_amount
func (myAss *Assembler) craftTransferOutOutput(
	tx *wire.MsgTx,
	prevOutputs []utxo.UTXO, // UTXO(s) to spend from.
	dst_addr string, // receiver
	dst_amount uint64, // btc amount to receiver in satoshi
	change_addr string, // receiver to receive the change
	fee_amount uint64, // amount of mining fee in satoshi
) (*wire.MsgTx, error) {
	var sum uint64
	for _, item := range prevOutputs {
		sum += item.Value
	}
	if sum < dst_amount+fee_amount {
		return nil, fmt.Errorf("%w, sum: %d, dst_amount: %d, fee_amount: %d", ErrNegativeChange, sum, dst_amount, fee_amount)
	}
	change_amount := sum - dst_amount - fee_amount

	// 1st output: to the dst receiver
	tx, err := myAss.Op.AppendPayToAddress(tx, myAss.ChainConfig, dst_addr, int64(dst_amount))
	if err != nil {
		return nil, err
	}

	// 2nd output: to the change receiver (if change > 0)
	// if change == 0 no need to add this clause.
	if change_amount > 0 {
		tx, err = myAss.Op.AppendPayToAddress(tx, myAss.ChainConfig, change_addr, int64(change_amount))
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Make a raw tx that transfer some bitcoin to dst_addr.
// It takes care of both locking + unlocking.
// After deduction of mining fee, keep the change to change_addr.
// You need to send the Tx later via PRC.
func (myAss *Assembler) MakeTransferOutTx(
	dst_addr string,
	dst_amount uint64,
	change_addr string,
	fee_amount uint64,
	prevOutputs []utxo.UTXO,
) (*wire.MsgTx, error) {
	// Create a new transaction
	tx := wire.NewMsgTx(wire.TxVersion)

	// Stuff the locking scripts first.
	tx, err := myAss.craftTransferOutOutput(
		tx,
		prevOutputs,
		dst_addr,
		dst_amount,
		change_addr,
		fee_amount,
	)
	if err != nil {
		return nil, err
	}

	// Stuff the unlocking scripts, secondly.
	// Calculate & sign the Tx inputs (by unlocking previous outputs we received)
	return myAss.Op.Unlock(tx, prevOutputs)
}

// checkRedemptions makes sure every request leaves something for the redeemer
// and that the funding utxo can pay for all of them.
// Returns the total paid to redeemers and the total fee.
func checkRedemptions(funding utxo.UTXO, requests []agreement.RedemptionRequest) (uint64, uint64, error) {
	if len(requests) == 0 {
		return 0, 0, fmt.Errorf("%w: no requests", agreement.ErrInvalidRequestList)
	}
	if funding.Value > math.MaxInt64 {
		return 0, 0, fmt.Errorf("%w: funding value %d out of range", agreement.ErrInvalidRequestList, funding.Value)
	}

	var outputs, fee, spent uint64
	for i, r := range requests {
		// RequestedAmount > TxMaxFee + TreasuryFee, written so it cannot overflow
		if r.TreasuryFee > r.RequestedAmount || r.TxMaxFee >= r.RequestedAmount-r.TreasuryFee {
			return 0, 0, fmt.Errorf("%w: request %d: requested %d does not cover tx max fee %d + treasury fee %d",
				agreement.ErrInvalidRequestList, i, r.RequestedAmount, r.TxMaxFee, r.TreasuryFee)
		}
		if len(r.RedeemerOutputScript) == 0 {
			return 0, 0, fmt.Errorf("%w: request %d: empty output script", agreement.ErrInvalidRequestList, i)
		}
		// output plus its share of the fee; spent never exceeds funding.Value
		due := r.RequestedAmount - r.TreasuryFee
		if due > funding.Value-spent {
			return 0, 0, fmt.Errorf("%w: funding %d cannot cover request %d (%d left, %d due)",
				agreement.ErrInvalidRequestList, funding.Value, i, funding.Value-spent, due)
		}
		outputs += r.OutputValue()
		fee += r.TxMaxFee
		spent += due
	}
	return outputs, fee, nil
}

// BuildRedemptionTx spends the wallet's funding utxo to pay every request.
//   - input: funding only
//   - outputs: one per request, in order, RequestedAmount - TxMaxFee - TreasuryFee
//     locked to the redeemer's script as is
//   - a change output back to the wallet, last, if anything is left
//
// The fee is the sum of TxMaxFee. An invalid list is rejected before any signing.
func (myAss *Assembler) BuildRedemptionTx(
	funding utxo.UTXO,
	requests []agreement.RedemptionRequest,
	witnessChange bool, // change to P2WPKH (true) or P2PKH (false)
) (*RedemptionTx, error) {
	outputs, fee, err := checkRedemptions(funding, requests)
	if err != nil {
		return nil, err
	}
	change := funding.Value - outputs - fee

	tx := wire.NewMsgTx(wire.TxVersion)

	// Stuff the locking scripts first.
	for _, r := range requests {
		tx = myAss.Op.AppendPayToScript(tx, r.RedeemerOutputScript, int64(r.OutputValue()))
	}
	if change > 0 {
		tx, err = myAss.Op.AppendPayToAddress(tx, myAss.ChainConfig, myAss.Op.ChangeAddress(witnessChange).EncodeAddress(), int64(change))
		if err != nil {
			return nil, err
		}
	}

	// Then sign the single input.
	tx, err = myAss.Op.Unlock(tx, []utxo.UTXO{funding})
	if err != nil {
		return nil, err
	}

	rawHex, err := utils.EncodeTxHex(tx)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"txid":     tx.TxHash().String(),
		"requests": len(requests),
		"fee":      fee,
		"change":   change,
	}).Debug("redemption tx built")

	return &RedemptionTx{Tx: tx, Hex: rawHex, Fee: fee, Change: change}, nil
}

/*
Locker and Unlocker are the basic interfaces
that a tx assembler shall satisfy.

By imlementing Locker, the tx assembler
can add pay output to P2PKH/P2WPKH receivers or to a raw locking script.

By implementing Unlocker, the tx assembler
can unlock UTXOs (inputs) previously received.

Remember:
Always create the "lock" part firstly on Tx, then create the "unlock" part on Tx.
Otherwise the Tx verfication may fail.
*/
package assembler

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

// Locker defines the actions
// that produce the "locking" part of a Tx.
// Each action below adds an output clause to the outputs of a Tx.
type Locker interface {
	// Add a pay-to-any-type-of-address clause to Tx.
	// amount is in satoshi.
	AppendPayToAddress(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error)
	// Add an output locked to the script exactly as given.
	AppendPayToScript(tx *wire.MsgTx, script []byte, amount int64) *wire.MsgTx
}

// Unlocker defins the actions
// that produce the "unlocking" part of a Tx (aka the inputs).
// Call Unlock() on a list of UTXO to unlock them (produce valid signature to spend each UTXO)
type Unlocker interface {
	// Given a list of UTXO(s), unlock each UTXO and add to unlocking section of MsgTx.
	// P2PKH inputs get a signature script, P2WPKH inputs get a witness.
	Unlock(tx *wire.MsgTx, prevOutputs []utxo.UTXO) (*wire.MsgTx, error)
}

// Operator is a bridge wallet that can both lock and unlock.
type Operator interface {
	Locker
	Unlocker
	// Where the change goes, segwit or legacy.
	ChangeAddress(witness bool) btcutil.Address
	// Compressed SEC1 public key of the wallet.
	WalletPubKey() []byte
}

/*
This file contains low-level custom data structures used accross the program related to bitcoin.
  - TxHash: a transaction hash, in the byte order bitcoind prints.
  - PubKeyScriptType: the locking script type (as part of UTXO)
  - UTXO, the unspend transaction output.
*/
package utxo

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxHash is kept in display order (as shown by explorers and bitcoind).
// The ledger and the wire use the reversed (internal) order,
// call Reverse() or ChainHash() to get it.
type TxHash [32]byte

// TxHashFromString parses a 64-char hex tx id in display order.
func TxHashFromString(s string) (TxHash, error) {
	var h TxHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("tx hash must be 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// TxHashFromChainHash converts btcd's internal order hash.
func TxHashFromChainHash(ch chainhash.Hash) TxHash {
	var h TxHash
	copy(h[:], ch[:])
	return h.Reverse()
}

// TxHashFromLedger converts a hash read from the ledger (internal order).
func TxHashFromLedger(b [32]byte) TxHash {
	return TxHash(b).Reverse()
}

// Reverse flips the byte order. Reverse(Reverse(h)) == h.
func (h TxHash) Reverse() TxHash {
	var r TxHash
	for i := range h {
		r[i] = h[len(h)-1-i]
	}
	return r
}

// ChainHash returns the hash in btcd's internal order.
func (h TxHash) ChainHash() *chainhash.Hash {
	ch := chainhash.Hash(h.Reverse())
	return &ch
}

func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// PubKeyScript (LockingScript) type
type PubKeyScriptType int

// Enumerate of PubKeyScriptType
const (
	ANY_SCRIPT_T = iota
	P2PKH_SCRIPT_T
	P2WPKH_SCRIPT_T
)

// Represents the unspent transaction output (UTXO)
// in our program
type UTXO struct {
	TxHash    TxHash           // display order
	Vout      uint32           // exact index of the Tx's outputs to be spent
	Value     uint64           // in satoshi
	PkScriptT PubKeyScriptType // Type of the locking script
	PkScript  []byte           // Locking Script itself
}

// IsZero reports the "no main utxo yet" value.
func (u *UTXO) IsZero() bool {
	return u.TxHash == TxHash{} && u.Vout == 0 && u.Value == 0
}

// Return a human-readable amount in BTC
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (u *UTXO) AmountHuman() float64 {
	return float64(u.Value) / 1e8
}

func (u *UTXO) String() string {
	return fmt.Sprintf("%s:%d (%d sat)", u.TxHash, u.Vout, u.Value)
}

// Package ledgerkey derives the keys the bridge contract indexes its
// records by. Every function here must stay byte-exact with the ledger:
// a single flipped byte means a lookup that silently finds nothing.
package ledgerkey

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/common"
)

const MaxScriptLength = 255

var ErrScriptTooLong = fmt.Errorf("%w: output script longer than %d bytes", agreement.ErrFatal, MaxScriptLength)

// RedemptionKey = keccak256(keccak256(len(script) || script) || walletPubKeyHash)
func RedemptionKey(walletPubKeyHash [20]byte, script []byte) ([32]byte, error) {
	prefixed, err := PrefixScript(script)
	if err != nil {
		return [32]byte{}, err
	}
	scriptHash := crypto.Keccak256Hash(prefixed)
	return crypto.Keccak256Hash(common.EncodePacked(scriptHash, walletPubKeyHash[:])), nil
}

// PrefixScript returns script preceded by its one-byte length,
// the form the ledger takes and emits output scripts in.
func PrefixScript(script []byte) ([]byte, error) {
	if len(script) > MaxScriptLength {
		return nil, ErrScriptTooLong
	}
	return common.EncodePacked([]byte{byte(len(script))}, script), nil
}

// UnprefixScript is the inverse of PrefixScript.
func UnprefixScript(prefixed []byte) ([]byte, error) {
	if len(prefixed) == 0 || int(prefixed[0]) != len(prefixed)-1 {
		return nil, fmt.Errorf("%w: malformed length-prefixed script %x", agreement.ErrFatal, prefixed)
	}
	return prefixed[1:], nil
}

// DepositKey = keccak256(reversed(txHash) || uint32BE(outputIndex))
func DepositKey(txHash utxo.TxHash, outputIndex uint32) [32]byte {
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, outputIndex)
	return crypto.Keccak256Hash(common.EncodePacked([32]byte(txHash.Reverse()), idx))
}

// UtxoHash = keccak256(reversed(txHash) || uint32BE(vout) || uint64BE(value))
// It is what the ledger stores as a wallet's main utxo.
func UtxoHash(u utxo.UTXO) [32]byte {
	tail := make([]byte, 12)
	binary.BigEndian.PutUint32(tail[:4], u.Vout)
	binary.BigEndian.PutUint64(tail[4:], u.Value)
	return crypto.Keccak256Hash(common.EncodePacked([32]byte(u.TxHash.Reverse()), tail))
}

// WalletPubKeyHash returns HASH160 of the compressed form of a
// SEC1-encoded (compressed or uncompressed) public key.
func WalletPubKeyHash(pubKey []byte) ([20]byte, error) {
	var pkh [20]byte
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return pkh, fmt.Errorf("%w: bad wallet public key: %v", agreement.ErrFatal, err)
	}
	copy(pkh[:], btcutil.Hash160(pk.SerializeCompressed()))
	return pkh, nil
}

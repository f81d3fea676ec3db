package utxo

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
)

const txid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func TestTxHashByteOrder(t *testing.T) {
	h, err := TxHashFromString(txid)
	assert.NoError(t, err)
	assert.Equal(t, txid, h.String())

	// btcd prints internal order hashes in display order
	ch, err := chainhash.NewHashFromStr(txid)
	assert.NoError(t, err)
	assert.Equal(t, *ch, *h.ChainHash())
	assert.Equal(t, h, TxHashFromChainHash(*ch))

	assert.Equal(t, byte(0x4a), h[0])
	assert.Equal(t, byte(0x3b), h.Reverse()[0])
	assert.Equal(t, h, h.Reverse().Reverse())
	assert.Equal(t, h, TxHashFromLedger(h.Reverse()))
}

func TestTxHashFromStringBad(t *testing.T) {
	_, err := TxHashFromString("zz")
	assert.Error(t, err)
	_, err = TxHashFromString("abcd")
	assert.Error(t, err)
}

func TestLargestAndTotal(t *testing.T) {
	inputs := []UTXO{{Vout: 0, Value: 100}, {Vout: 1, Value: 300}, {Vout: 2, Value: 300}}

	got, err := Largest(inputs)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), got.Vout)
	assert.Equal(t, uint64(700), Total(inputs))

	_, err = Largest(nil)
	assert.ErrorIs(t, err, ErrNoUtxo)
	assert.Zero(t, Total(nil))
}

func TestUTXOIsZero(t *testing.T) {
	assert.True(t, (&UTXO{}).IsZero())
	assert.False(t, (&UTXO{Vout: 1}).IsZero())
}

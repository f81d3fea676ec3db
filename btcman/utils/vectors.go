package utils

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/common"
)

// TxVectorsFromMsgTx splits a transaction into the four parts the ledger
// parses: version, input vector, output vector, locktime.
// Witness data is never part of the vectors.
func TxVectorsFromMsgTx(tx *wire.MsgTx) (agreement.TxVectors, error) {
	var v agreement.TxVectors

	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		return v, err
	}
	raw := buf.Bytes()

	inLen := wire.VarIntSerializeSize(uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		// outpoint (32 + 4) + script + sequence
		inLen += 36 + wire.VarIntSerializeSize(uint64(len(in.SignatureScript))) + len(in.SignatureScript) + 4
	}
	outLen := wire.VarIntSerializeSize(uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		outLen += 8 + wire.VarIntSerializeSize(uint64(len(out.PkScript))) + len(out.PkScript)
	}

	if 4+inLen+outLen+4 != len(raw) {
		return v, fmt.Errorf("unexpected serialization length %d, want %d", len(raw), 4+inLen+outLen+4)
	}

	copy(v.Version[:], raw[:4])
	v.InputVector = append([]byte{}, raw[4:4+inLen]...)
	v.OutputVector = append([]byte{}, raw[4+inLen:4+inLen+outLen]...)
	copy(v.Locktime[:], raw[len(raw)-4:])
	return v, nil
}

// DecodeTxHex parses a raw transaction (with or without witness).
func DecodeTxHex(rawHex string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(common.Trim0xPrefix(rawHex))
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

// EncodeTxHex serializes a transaction including witness data,
// ready to be broadcast.
func EncodeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

package assembler

/*
This file implements BTC "Locker" interface.

Since locking scripts do not require any prior knowledge of private keys,
it is universal to all wallet implementations.

So we can do it here.
*/

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func AddP2PKH(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	// Check if dst_addr is really a P2PKH address
	if _, ok := btcDstAddress.(*btcutil.AddressPubKeyHash); !ok {
		return nil, fmt.Errorf("%s is not a P2PKH (legacy) address", dst_addr)
	}
	return addToAddress(tx, btcDstAddress, amount)
}

func AddP2WPKH(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	// Check if dst_addr is really a P2WPKH address
	if _, ok := btcDstAddress.(*btcutil.AddressWitnessPubKeyHash); !ok {
		return nil, fmt.Errorf("%s is not a P2WPKH (SegWit) address", dst_addr)
	}
	return addToAddress(tx, btcDstAddress, amount)
}

// AddPayToAddress accepts any standard address of dst_chain_cfg's network.
func AddPayToAddress(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	if !btcDstAddress.IsForNet(dst_chain_cfg) {
		return nil, fmt.Errorf("%s is not an address on %s", dst_addr, dst_chain_cfg.Name)
	}
	return addToAddress(tx, btcDstAddress, amount)
}

// AddPayToScript locks amount to script verbatim, no address decoding.
// Redemption outputs use it: the redeemer hands us a script, not an address.
func AddPayToScript(tx *wire.MsgTx, script []byte, amount int64) *wire.MsgTx {
	tx.AddTxOut(wire.NewTxOut(amount, script))
	return tx
}

func addToAddress(tx *wire.MsgTx, addr btcutil.Address, amount int64) (*wire.MsgTx, error) {
	txOutScript, err := txscript.PayToAddrScript(addr) // simple
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount, txOutScript))
	return tx, nil
}

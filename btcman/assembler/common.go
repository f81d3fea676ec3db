package assembler

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
)

// DecodeWIF decodes a string private key to *btcutil.WIF
func DecodeWIF(privKeyStr string) (*btcutil.WIF, error) {
	decoded := base58.Decode(privKeyStr)
	if len(decoded) == 0 {
		return nil, errors.New("invalid private key string (cannot pass base58 decode)")
	}

	wif, err := btcutil.DecodeWIF(privKeyStr)
	if err != nil {
		return nil, err
	}

	return wif, nil
}

// ChainParams maps a config name to the btcd network parameters.
func ChainParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin chain %q (mainnet, testnet, regtest)", name)
	}
}

package common

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// EncodePacked concatenates values the way solidity's abi.encodePacked
// does for the types the ledger keys are made of.
// It panics on any other type, a silently skipped value would be a wrong key.
func EncodePacked(values ...interface{}) []byte {
	var res [][]byte
	for _, value := range values {
		switch v := value.(type) {
		case []byte:
			res = append(res, v)
		case [32]byte:
			res = append(res, v[:])
		case [20]byte:
			res = append(res, v[:])
		case common.Hash:
			res = append(res, v[:])
		case common.Address:
			res = append(res, v[:])
		case *big.Int:
			res = append(res, math.U256Bytes(new(big.Int).Set(v)))
		case [][32]byte:
			for _, h := range v {
				res = append(res, h[:])
			}
		default:
			panic(fmt.Sprintf("EncodePacked: unsupported type %T", value))
		}
	}
	return bytes.Join(res, nil)
}

package etherman

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/spv-bridge/agreement"
)

// keyToBig turns a ledger key into the uint256 the mappings are indexed by.
func keyToBig(key [32]byte) *big.Int {
	return new(big.Int).SetBytes(key[:])
}

// toAddress maps "no identifier" to the zero address.
func toAddress(id agreement.Identifier) ethcommon.Address {
	if id.IsZero() {
		return ethcommon.Address{}
	}
	return ethcommon.BytesToAddress(id)
}

// fromAddress maps the zero address to "no identifier".
func fromAddress(addr ethcommon.Address) agreement.Identifier {
	if addr == (ethcommon.Address{}) {
		return nil
	}
	return agreement.Identifier(addr.Bytes())
}

// bytes20Topic is how an indexed bytes20 shows up in a log topic:
// left aligned, zero padded on the right.
func bytes20Topic(b [20]byte) ethcommon.Hash {
	var h ethcommon.Hash
	copy(h[:], b[:])
	return h
}

func topicToBytes20(h ethcommon.Hash) [20]byte {
	var b [20]byte
	copy(b[:], h[:20])
	return b
}

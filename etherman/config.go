package etherman

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultReceiptPollInterval = 2 * time.Second

type Config struct {
	// URL is the URL of the Ethereum node
	URL string

	// BridgeContractAddress is the deployed bridge contract address
	BridgeContractAddress common.Address

	// SubmitterPrivateKey signs every transaction sent to the bridge, hex encoded
	SubmitterPrivateKey string

	// ChainID of the network, queried from the node when nil
	ChainID *big.Int

	// ReceiptPollInterval is how often a sent transaction's receipt is polled
	ReceiptPollInterval time.Duration
}

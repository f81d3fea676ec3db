package aptosman

import (
	"github.com/aptos-labs/aptos-go-sdk"
)

const DefaultModuleName = "bridge"

// AptosmanConfig holds the parameters needed to reach the bridge module
type AptosmanConfig struct {
	// Aptos node REST URL, overrides the network default when set
	URL string

	// Address the bridge module is published under
	ModuleAddress string

	// Name of the bridge module, DefaultModuleName when empty
	ModuleName string

	// Network type: mainnet, testnet, devnet
	Network string

	// Ed25519 key (32-byte seed or 64-byte key, hex) of the submitting account.
	// Empty means read-only.
	SubmitterPrivateKey string
}

// Network types
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkDevnet  = "devnet"
)

// GetNetworkConfig returns the REST URL and SDK network config of a network
func GetNetworkConfig(network string) (string, aptos.NetworkConfig) {
	switch network {
	case NetworkMainnet:
		url := "https://fullnode.mainnet.aptoslabs.com/v1"
		networkConfig := aptos.MainnetConfig
		return url, networkConfig
	case NetworkTestnet:
		url := "https://fullnode.testnet.aptoslabs.com/v1"
		networkConfig := aptos.TestnetConfig
		return url, networkConfig
	case NetworkDevnet:
		url := "https://fullnode.devnet.aptoslabs.com/v1"
		networkConfig := aptos.DevnetConfig
		return url, networkConfig
	default:
		url := "https://fullnode.devnet.aptoslabs.com/v1"
		networkConfig := aptos.DevnetConfig
		return url, networkConfig
	}
}

func (cfg *AptosmanConfig) nodeURL() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	url, _ := GetNetworkConfig(cfg.Network)
	return url
}

func (cfg *AptosmanConfig) moduleName() string {
	if cfg.ModuleName != "" {
		return cfg.ModuleName
	}
	return DefaultModuleName
}

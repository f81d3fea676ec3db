package cmd

import (
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/TEENet-io/spv-bridge/aptosman"
	"github.com/TEENet-io/spv-bridge/btcman/assembler"
)

const (
	LedgerEthereum = "ethereum"
	LedgerAptos    = "aptos"
)

// Deployment picks the ledger chain the bridge contract lives on,
// and how to reach and sign for it.
type Deployment struct {
	LedgerChain string // "ethereum" or "aptos"

	// ethereum
	EthRpcUrl        string // json rpc url
	EthBridgeAddress string // deployed bridge contract, hex
	EthSubmitterPriv string // hex key of the account that pays for submissions

	// aptos
	AptosNetwork       string // mainnet, testnet, devnet
	AptosNodeUrl       string // overrides the network's default REST url
	AptosModuleAddress string // where the bridge module is published
	AptosSubmitterPriv string // ed25519 seed or key, hex
}

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type MaintainerConfig struct {
	Deployment Deployment

	// btc side
	BtcRpcServer     string // btc rpc server info
	BtcRpcPort       string // btc rpc server info
	BtcRpcUsername   string // btc rpc server info
	BtcRpcPwd        string // btc rpc server info
	BtcChainConfig   string // regtest, testnet, mainnet. see btcman/assembler/common.go
	BtcWalletPriv    string // WIF of the bridge wallet that signs sweeps
	BtcWitnessChange bool   // change to the wallet's P2WPKH (true) or P2PKH (false) address

	// journal
	DbFilePath string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	// ledger calls
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	EventPageSize    uint64

	// proof loop
	ProveInterval    time.Duration
	MaxProofAttempts int

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LEDGER_CHAIN", LedgerEthereum)
	v.SetDefault("APTOS_NETWORK", aptosman.NetworkDevnet)
	v.SetDefault("BTC_CHAIN_CONFIG", "regtest")
	v.SetDefault("BTC_WITNESS_CHANGE", true)
	v.SetDefault("DB_FILE_PATH", "spv-bridge.db")
	v.SetDefault("HTTP_IP", "127.0.0.1")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BACKOFF", "1s")
	v.SetDefault("EVENT_PAGE_SIZE", 1000)
	v.SetDefault("PROVE_INTERVAL", "30s")
	v.SetDefault("MAX_PROOF_ATTEMPTS", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// LoadMaintainerConfig reads the configuration variables out of v.
// Environment variables take over the config file when v has AutomaticEnv on.
func LoadMaintainerConfig(v *viper.Viper) *MaintainerConfig {
	setDefaults(v)

	return &MaintainerConfig{
		Deployment: Deployment{
			LedgerChain:        v.GetString("LEDGER_CHAIN"),
			EthRpcUrl:          v.GetString("ETH_RPC_URL"),
			EthBridgeAddress:   v.GetString("ETH_BRIDGE_ADDRESS"),
			EthSubmitterPriv:   v.GetString("ETH_SUBMITTER_PRIV"),
			AptosNetwork:       v.GetString("APTOS_NETWORK"),
			AptosNodeUrl:       v.GetString("APTOS_NODE_URL"),
			AptosModuleAddress: v.GetString("APTOS_MODULE_ADDRESS"),
			AptosSubmitterPriv: v.GetString("APTOS_SUBMITTER_PRIV"),
		},
		// btc side
		BtcRpcServer:     v.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:       v.GetString("BTC_RPC_PORT"),
		BtcRpcUsername:   v.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:        v.GetString("BTC_RPC_PWD"),
		BtcChainConfig:   v.GetString("BTC_CHAIN_CONFIG"),
		BtcWalletPriv:    v.GetString("BTC_WALLET_PRIV"),
		BtcWitnessChange: v.GetBool("BTC_WITNESS_CHANGE"),
		// journal
		DbFilePath: v.GetString("DB_FILE_PATH"),
		// Http side
		HttpIp:   v.GetString("HTTP_IP"),
		HttpPort: v.GetString("HTTP_PORT"),
		// ledger calls
		RetryMaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBackoff:     v.GetDuration("RETRY_BACKOFF"),
		EventPageSize:    v.GetUint64("EVENT_PAGE_SIZE"),
		// proof loop
		ProveInterval:    v.GetDuration("PROVE_INTERVAL"),
		MaxProofAttempts: v.GetInt("MAX_PROOF_ATTEMPTS"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}
}

func (d *Deployment) Validate() error {
	var errs []error

	switch d.LedgerChain {
	case LedgerEthereum:
		if d.EthRpcUrl == "" {
			errs = append(errs, errors.New("ETH_RPC_URL is required"))
		}
		if !ethcommon.IsHexAddress(d.EthBridgeAddress) {
			errs = append(errs, fmt.Errorf("ETH_BRIDGE_ADDRESS %q is not an address", d.EthBridgeAddress))
		}
		if d.EthSubmitterPriv == "" {
			errs = append(errs, errors.New("ETH_SUBMITTER_PRIV is required"))
		}
	case LedgerAptos:
		switch d.AptosNetwork {
		case aptosman.NetworkMainnet, aptosman.NetworkTestnet, aptosman.NetworkDevnet:
		default:
			errs = append(errs, fmt.Errorf("APTOS_NETWORK %q is not one of mainnet, testnet, devnet", d.AptosNetwork))
		}
		if d.AptosModuleAddress == "" {
			errs = append(errs, errors.New("APTOS_MODULE_ADDRESS is required"))
		}
		if d.AptosSubmitterPriv == "" {
			errs = append(errs, errors.New("APTOS_SUBMITTER_PRIV is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_CHAIN %q is not one of %s, %s", d.LedgerChain, LedgerEthereum, LedgerAptos))
	}

	return errors.Join(errs...)
}

// Validate reports every problem at once.
func (mc *MaintainerConfig) Validate() error {
	errs := []error{mc.Deployment.Validate()}

	if mc.BtcRpcServer == "" || mc.BtcRpcPort == "" {
		errs = append(errs, errors.New("BTC_RPC_SERVER and BTC_RPC_PORT are required"))
	}
	if _, err := assembler.ChainParams(mc.BtcChainConfig); err != nil {
		errs = append(errs, fmt.Errorf("BTC_CHAIN_CONFIG: %w", err))
	}
	if _, err := assembler.DecodeWIF(mc.BtcWalletPriv); err != nil {
		errs = append(errs, fmt.Errorf("BTC_WALLET_PRIV: %w", err))
	}
	if mc.DbFilePath == "" {
		errs = append(errs, errors.New("DB_FILE_PATH is required"))
	}
	if mc.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", mc.RetryMaxAttempts))
	}
	if mc.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF must not be negative, got %s", mc.RetryBackoff))
	}
	if mc.EventPageSize == 0 {
		errs = append(errs, errors.New("EVENT_PAGE_SIZE must be positive"))
	}
	if mc.ProveInterval <= 0 {
		errs = append(errs, fmt.Errorf("PROVE_INTERVAL must be positive, got %s", mc.ProveInterval))
	}
	if mc.LogFormat != "text" && mc.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of text, json", mc.LogFormat))
	}

	return errors.Join(errs...)
}

// Maintainer = ledger gateway + btc side components + sweep journal + http reporter.
// All components are configured via environment variables or a config file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/aptosman"
	"github.com/TEENet-io/spv-bridge/btcman/assembler"
	btcrpc "github.com/TEENet-io/spv-bridge/btcman/rpc"
	"github.com/TEENet-io/spv-bridge/btcman/spv"
	"github.com/TEENet-io/spv-bridge/btctxmanager"
	"github.com/TEENet-io/spv-bridge/chaintxmgr"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/etherman"
	"github.com/TEENet-io/spv-bridge/gateway"
	"github.com/TEENet-io/spv-bridge/reporter"
	"github.com/TEENet-io/spv-bridge/retry"
)

// NewLedgerChain connects to the bridge contract of the deployment.
func NewLedgerChain(d *Deployment) (agreement.LedgerChain, error) {
	switch d.LedgerChain {
	case LedgerEthereum:
		e, err := etherman.NewEtherman(&etherman.Config{
			URL:                   d.EthRpcUrl,
			BridgeContractAddress: ethcommon.HexToAddress(d.EthBridgeAddress),
			SubmitterPrivateKey:   d.EthSubmitterPriv,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create etherman: %w", err)
		}
		return e, nil
	case LedgerAptos:
		a, err := aptosman.NewAptosman(&aptosman.AptosmanConfig{
			URL:                 d.AptosNodeUrl,
			ModuleAddress:       d.AptosModuleAddress,
			Network:             d.AptosNetwork,
			SubmitterPrivateKey: d.AptosSubmitterPriv,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create aptosman: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown ledger chain %q", d.LedgerChain)
	}
}

// GatewayConfig turns the retry settings into the gateway's config.
func (mc *MaintainerConfig) GatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.Policy = retry.Policy{
		MaxAttempts: mc.RetryMaxAttempts,
		Backoff:     mc.RetryBackoff,
		Multiplier:  retry.DefaultPolicy().Multiplier,
	}
	cfg.PageSize = mc.EventPageSize
	return cfg
}

// Maintainer holds the objects that make up the maintainer.
type Maintainer struct {
	Config *MaintainerConfig

	// ledger side
	Chain   agreement.LedgerChain
	Gateway *gateway.Gateway

	// btc side
	BtcRpcClient *btcrpc.RpcClient
	Operator     *assembler.NativeOperator
	Assembler    *assembler.Assembler
	BtcTxMgr     *btctxmanager.BtcTxManager

	// proofs
	Journal    *chaintxmgrdb.SQLiteChainTxMgrDB
	ChainTxMgr *chaintxmgr.ChainTxMgr

	Reporter *reporter.HttpReporter
}

// NewMaintainer creates every component, none of them running yet.
func NewMaintainer(mc *MaintainerConfig) (*Maintainer, error) {
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Ledger side

	// 1) connect to the bridge contract
	chain, err := NewLedgerChain(&mc.Deployment)
	if err != nil {
		return nil, err
	}

	// 2) all ledger traffic goes through the gateway
	gw := gateway.NewGateway(chain, mc.GatewayConfig())

	// BTC side

	// 0) connect to btc network
	myBtcRpcClient, err := SetupBtcRpc(mc.BtcRpcServer, mc.BtcRpcPort, mc.BtcRpcUsername, mc.BtcRpcPwd)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to btc rpc server %s:%s: %w", mc.BtcRpcServer, mc.BtcRpcPort, err)
	}

	// 1) the wallet that signs redemption txs
	chainParams, _ := assembler.ChainParams(mc.BtcChainConfig) // checked by Validate()
	walletSigner, err := assembler.NewNativeSigner(mc.BtcWalletPriv, chainParams)
	if err != nil {
		myBtcRpcClient.Close()
		return nil, fmt.Errorf("cannot create wallet from private key: %w", err)
	}
	walletOperator, err := assembler.NewNativeOperator(*walletSigner)
	if err != nil {
		myBtcRpcClient.Close()
		return nil, fmt.Errorf("cannot create wallet operator: %w", err)
	}
	logger.WithFields(logger.Fields{
		"p2pkh":  walletOperator.P2PKH.EncodeAddress(),
		"p2wpkh": walletOperator.P2WPKH.EncodeAddress(),
	}).Info("bridge wallet")

	// 2) journal of sweeps, shared by the tx manager, the proof loop and the reporter
	journal, err := chaintxmgrdb.NewSQLiteChainTxMgrDB(mc.DbFilePath)
	if err != nil {
		myBtcRpcClient.Close()
		return nil, fmt.Errorf("cannot open sweep journal %s: %w", mc.DbFilePath, err)
	}

	// 3) redemption sweeps
	walletAssembler := &assembler.Assembler{ChainConfig: chainParams, Op: walletOperator}
	myBtcTxMgr := btctxmanager.NewBtcTxManager(
		walletAssembler,
		gw,
		myBtcRpcClient,
		journal,
		mc.BtcWitnessChange,
	)

	// 4) proofs of sent sweeps
	myChainTxMgr := chaintxmgr.NewChainTxMgr(
		&chaintxmgr.ChainTxMgrConfig{
			IntervalCheckTime: mc.ProveInterval,
			MaxProofAttempts:  mc.MaxProofAttempts,
		},
		journal,
		gw,
		spv.NewAssembler(myBtcRpcClient),
	)

	// Http side
	httpReporter := reporter.NewHttpReporter(mc.HttpIp, mc.HttpPort, journal)

	return &Maintainer{
		Config:       mc,
		Chain:        chain,
		Gateway:      gw,
		BtcRpcClient: myBtcRpcClient,
		Operator:     walletOperator,
		Assembler:    walletAssembler,
		BtcTxMgr:     myBtcTxMgr,
		Journal:      journal,
		ChainTxMgr:   myChainTxMgr,
		Reporter:     httpReporter,
	}, nil
}

func (m *Maintainer) Close() {
	m.Journal.Close()
	m.BtcRpcClient.Close()
}

// Run starts the proof loop and the http reporter,
// and blocks until ctx is done or the reporter dies.
func (m *Maintainer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.ChainTxMgr.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("chain tx manager stopped: %v", err)
		}
	}()

	// gin has no graceful stop here, the goroutine ends with the process
	go func() {
		if err := m.Reporter.Run(); err != nil {
			errCh <- fmt.Errorf("http reporter: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		cancel()
	}

	wg.Wait()
	return err
}

// Create, then start the maintainer and wait.
// Press Ctrl-C to stop it.
func StartMaintainerAndWait(mc *MaintainerConfig) error {
	m, err := NewMaintainer(mc)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logger.Fields{
		"ledger": mc.Deployment.LedgerChain,
		"http":   mc.HttpIp + ":" + mc.HttpPort,
	}).Info("maintainer started")

	err = m.Run(ctx)
	logger.Info("maintainer stopped")
	return err
}

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/spv-bridge/cmd"
	"github.com/TEENet-io/spv-bridge/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "SPV_BRIDGE_CONFIG"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "configuration file, environment variables override its values",
	EnvVars: []string{ENV_CONFIG_FILE_PATH},
}

func main() {
	app := &cli.App{
		Name:  "spv-maintainer",
		Usage: "sweeps, proves and reveals for the bitcoin bridge",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the proof loop and the http reporter until Ctrl+C",
				Action: serve,
			},
			{
				Name:   "sweep",
				Usage:  "pay out pending redemptions from the main utxo and journal the tx",
				Action: sweep,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "main-txid", Usage: "txid of the wallet's main utxo", Required: true},
					&cli.UintFlag{Name: "main-vout", Usage: "output index of the wallet's main utxo"},
					&cli.StringSliceFlag{Name: "script", Usage: "redeemer output script (hex), repeat for a batch", Required: true},
					&cli.BoolFlag{Name: "dry-run", Usage: "build and print the tx without sending it"},
				},
			},
			{
				Name:   "prove",
				Usage:  "submit the spv proof of a sent sweep",
				Action: prove,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "txid", Usage: "the sweep tx", Required: true},
					&cli.StringFlag{Name: "kind", Usage: "redemption or deposit_sweep", Value: "redemption"},
					&cli.StringFlag{Name: "main-txid", Usage: "main utxo the sweep spent, empty for a wallet's first sweep"},
					&cli.UintFlag{Name: "main-vout", Usage: "output index of the main utxo"},
					&cli.StringFlag{Name: "vault", Usage: "vault of the swept deposits (hex)"},
					&cli.BoolFlag{Name: "track", Usage: "journal the sweep for the proof loop instead of proving now"},
				},
			},
			{
				Name:   "reveal",
				Usage:  "reveal a deposit funding output to the ledger",
				Action: reveal,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "funding-txid", Usage: "tx that pays to the deposit script", Required: true},
					&cli.UintFlag{Name: "output-index", Usage: "deposit output of the funding tx"},
					&cli.StringFlag{Name: "blinding-factor", Usage: "8 bytes (hex)", Required: true},
					&cli.StringFlag{Name: "wallet-pkh", Usage: "20 bytes (hex), defaults to the configured wallet"},
					&cli.StringFlag{Name: "refund-pkh", Usage: "20 bytes (hex)", Required: true},
					&cli.StringFlag{Name: "refund-locktime", Usage: "4 bytes (hex)", Required: true},
					&cli.StringFlag{Name: "vault", Usage: "vault to credit (hex)"},
				},
			},
			{
				Name:   "request",
				Usage:  "request a redemption on the ledger",
				Action: request,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "main-txid", Usage: "txid of the wallet's main utxo", Required: true},
					&cli.UintFlag{Name: "main-vout", Usage: "output index of the wallet's main utxo"},
					&cli.StringFlag{Name: "script", Usage: "redeemer output script (hex)", Required: true},
					&cli.Uint64Flag{Name: "amount", Usage: "satoshi", Required: true},
				},
			},
			{
				Name:   "events",
				Usage:  "list bridge events of the configured wallet",
				Action: events,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "deposit, redemption or wallet", Value: "redemption"},
					&cli.Uint64Flag{Name: "from", Usage: "first block"},
					&cli.Uint64Flag{Name: "to", Usage: "last block, the latest when unset"},
					&cli.BoolFlag{Name: "all-wallets", Usage: "do not filter by the configured wallet"},
				},
			},
			{
				Name:   "transfer",
				Usage:  "move bridge wallet funds, eg. to merge utxos into a new main utxo",
				Action: transfer,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "receiver address", Required: true},
					&cli.Uint64Flag{Name: "amount", Usage: "satoshi to the receiver", Required: true},
					&cli.Uint64Flag{Name: "fee", Usage: "mining fee in satoshi", Value: 1000},
					&cli.StringSliceFlag{Name: "utxo", Usage: "txid:vout to spend, repeatable, all wallet utxos when unset"},
					&cli.BoolFlag{Name: "dry-run", Usage: "build and print the tx without sending it"},
				},
			},
			{
				Name:   "utxos",
				Usage:  "list the bridge wallet's utxos and suggest a main utxo",
				Action: utxos,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "min-conf", Usage: "minimum confirmations", Value: 1},
				},
			},
			{
				Name:   "keys",
				Usage:  "derive the ledger keys of a redemption or a deposit, offline",
				Action: keys,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "wallet-pubkey", Usage: "compressed wallet public key (hex)"},
					&cli.StringFlag{Name: "script", Usage: "redeemer output script (hex)"},
					&cli.StringFlag{Name: "txid", Usage: "deposit funding txid"},
					&cli.UintFlag{Name: "vout", Usage: "deposit funding output index"},
				},
			},
			{
				Name:   "status",
				Usage:  "ask a running maintainer about its sweeps",
				Action: status,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "txid", Usage: "one sweep"},
					&cli.StringFlag{Name: "state", Usage: "built, broadcast, proven or failed"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging by it.
func loadConfig(c *cli.Context) (*cmd.MaintainerConfig, error) {
	v, err := cmd.InitializeViper(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	mc := cmd.LoadMaintainerConfig(v)
	if err := logconfig.Configure(mc.LogLevel, mc.LogFormat); err != nil {
		return nil, err
	}
	return mc, nil
}

func newMaintainer(c *cli.Context) (*cmd.Maintainer, error) {
	mc, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return cmd.NewMaintainer(mc)
}

func serve(c *cli.Context) error {
	mc, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Println("Starting maintainer... press Ctrl+C to stop it")
	return cmd.StartMaintainerAndWait(mc)
}

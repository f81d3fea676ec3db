package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utils"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/cmd"
	"github.com/TEENet-io/spv-bridge/common"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
	"github.com/TEENet-io/spv-bridge/reporter"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func txHashFlag(c *cli.Context, name string) (utxo.TxHash, error) {
	h, err := utxo.TxHashFromString(common.Trim0xPrefix(c.String(name)))
	if err != nil {
		return utxo.TxHash{}, fmt.Errorf("%s: %w", name, err)
	}
	return h, nil
}

func hexFlag(c *cli.Context, name string, n int) ([]byte, error) {
	if !c.IsSet(name) {
		return nil, nil
	}
	return cmd.DecodeHex(name, c.String(name), n)
}

func sweep(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	mainTxHash, err := txHashFlag(c, "main-txid")
	if err != nil {
		return err
	}
	var scripts [][]byte
	for _, s := range c.StringSlice("script") {
		b, err := cmd.DecodeHex("script", s, 0)
		if err != nil {
			return err
		}
		scripts = append(scripts, b)
	}

	if c.Bool("dry-run") {
		rtx, _, err := m.BtcTxMgr.CreateRedemptionTx(c.Context, mainTxHash, uint32(c.Uint("main-vout")), scripts)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"txid": rtx.Tx.TxHash().String(), "fee": rtx.Fee, "change": rtx.Change, "hex": rtx.Hex})
	}

	rtx, err := m.BtcTxMgr.SweepRedemptions(c.Context, mainTxHash, uint32(c.Uint("main-vout")), scripts)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"txid": rtx.Tx.TxHash().String(), "fee": rtx.Fee, "change": rtx.Change})
}

func prove(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	txHash, err := txHashFlag(c, "txid")
	if err != nil {
		return err
	}
	kind := chaintxmgrdb.SweepKind(c.String("kind"))
	if kind != chaintxmgrdb.KindRedemption && kind != chaintxmgrdb.KindDepositSweep {
		return fmt.Errorf("unknown kind %q", kind)
	}
	vault, err := hexFlag(c, "vault", 0)
	if err != nil {
		return err
	}

	// a wallet's first deposit sweep spends no main utxo
	var mainUtxo utxo.UTXO
	if c.IsSet("main-txid") {
		mainTxHash, err := txHashFlag(c, "main-txid")
		if err != nil {
			return err
		}
		if mainUtxo, err = m.BtcRpcClient.GetUtxo(c.Context, mainTxHash, uint32(c.Uint("main-vout"))); err != nil {
			return err
		}
	} else if kind == chaintxmgrdb.KindRedemption {
		return errors.New("a redemption always spends a main utxo, set --main-txid")
	}

	walletPubKey := m.Operator.WalletPubKey()

	if c.Bool("track") {
		tx, err := m.BtcRpcClient.GetRawTransaction(c.Context, txHash)
		if err != nil {
			return err
		}
		raw, err := utils.EncodeTxHex(tx)
		if err != nil {
			return err
		}
		return m.ChainTxMgr.Track(&chaintxmgrdb.SweepEntry{
			TxHash:       txHash,
			Kind:         kind,
			WalletPubKey: walletPubKey,
			MainUtxo:     mainUtxo,
			Vault:        vault,
			RawTx:        raw,
		})
	}

	if kind == chaintxmgrdb.KindRedemption {
		err = m.ChainTxMgr.ProveRedemption(c.Context, txHash, mainUtxo, walletPubKey)
	} else {
		err = m.ChainTxMgr.ProveDepositSweep(c.Context, txHash, mainUtxo, vault, walletPubKey)
	}
	if err != nil {
		return err
	}

	if _, found, _ := m.Journal.GetSweep(txHash); found {
		if err := m.Journal.UpdateStatus(txHash, chaintxmgrdb.Proven, ""); err != nil {
			return err
		}
	}
	fmt.Printf("proof of %s accepted\n", txHash)
	return nil
}

func reveal(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	fundingTxHash, err := txHashFlag(c, "funding-txid")
	if err != nil {
		return err
	}
	fundingTx, err := m.BtcRpcClient.GetRawTransaction(c.Context, fundingTxHash)
	if err != nil {
		return err
	}

	info := agreement.DepositRevealInfo{FundingOutputIndex: uint32(c.Uint("output-index"))}

	blinding, err := hexFlag(c, "blinding-factor", 8)
	if err != nil {
		return err
	}
	copy(info.BlindingFactor[:], blinding)

	if c.IsSet("wallet-pkh") {
		walletPkh, err := hexFlag(c, "wallet-pkh", 20)
		if err != nil {
			return err
		}
		copy(info.WalletPubKeyHash[:], walletPkh)
	} else if info.WalletPubKeyHash, err = ledgerkey.WalletPubKeyHash(m.Operator.WalletPubKey()); err != nil {
		return err
	}

	refundPkh, err := hexFlag(c, "refund-pkh", 20)
	if err != nil {
		return err
	}
	copy(info.RefundPubKeyHash[:], refundPkh)

	locktime, err := hexFlag(c, "refund-locktime", 4)
	if err != nil {
		return err
	}
	copy(info.RefundLocktime[:], locktime)

	if info.Vault, err = hexFlag(c, "vault", 0); err != nil {
		return err
	}

	if err := m.Gateway.RevealDeposit(c.Context, fundingTx, info); err != nil {
		return err
	}

	deposit, err := m.Gateway.Deposit(c.Context, fundingTxHash, info.FundingOutputIndex)
	if err != nil {
		return err
	}
	fmt.Println(deposit)
	return nil
}

func request(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	mainTxHash, err := txHashFlag(c, "main-txid")
	if err != nil {
		return err
	}
	mainUtxo, err := m.BtcRpcClient.GetUtxo(c.Context, mainTxHash, uint32(c.Uint("main-vout")))
	if err != nil {
		return err
	}
	script, err := hexFlag(c, "script", 0)
	if err != nil {
		return err
	}
	walletPubKey := m.Operator.WalletPubKey()
	walletPkh, err := ledgerkey.WalletPubKeyHash(walletPubKey)
	if err != nil {
		return err
	}

	if err := m.Gateway.RequestRedemption(c.Context, walletPkh, mainUtxo, script, c.Uint64("amount")); err != nil {
		return err
	}

	pending, err := m.Gateway.PendingRedemption(c.Context, walletPubKey, script)
	if err != nil {
		return err
	}
	fmt.Println(pending)
	return nil
}

func events(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	var filter agreement.EventFilter
	if c.IsSet("from") {
		filter.From = c.Uint64("from")
	}
	if c.IsSet("to") {
		to := c.Uint64("to")
		filter.To = &to
	}
	if !c.Bool("all-wallets") {
		pkh, err := ledgerkey.WalletPubKeyHash(m.Operator.WalletPubKey())
		if err != nil {
			return err
		}
		filter.WalletPubKeyHash = &pkh
	}

	switch c.String("type") {
	case "deposit":
		it, err := m.Gateway.DepositRevealedEvents(c.Context, filter)
		if err != nil {
			return err
		}
		for it.Next(c.Context) {
			ev := it.Event()
			fmt.Println(ev.String())
		}
		return it.Err()
	case "redemption":
		it, err := m.Gateway.RedemptionRequestedEvents(c.Context, filter)
		if err != nil {
			return err
		}
		for it.Next(c.Context) {
			ev := it.Event()
			fmt.Println(ev.String())
		}
		return it.Err()
	case "wallet":
		it, err := m.Gateway.NewWalletRegisteredEvents(c.Context, filter)
		if err != nil {
			return err
		}
		for it.Next(c.Context) {
			ev := it.Event()
			fmt.Println(ev.String())
		}
		return it.Err()
	default:
		return fmt.Errorf("unknown event type %q", c.String("type"))
	}
}

func utxos(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	all, err := walletUtxos(c, m, c.Int("min-conf"))
	if err != nil {
		return err
	}
	for _, u := range all {
		fmt.Printf("%s  %.8f BTC\n", u.String(), u.AmountHuman())
	}

	fmt.Printf("balance: %d sat\n", utxo.Total(all))
	if best, err := utxo.Largest(all); err == nil {
		fmt.Printf("largest: %s\n", best.String())
	}
	return nil
}

func walletUtxos(c *cli.Context, m *cmd.Maintainer, minConf int) ([]utxo.UTXO, error) {
	var all []utxo.UTXO
	for _, addr := range []btcutil.Address{m.Operator.P2WPKH, m.Operator.P2PKH} {
		list, err := m.BtcRpcClient.GetUtxoList(c.Context, addr, minConf)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	return all, nil
}

func transfer(c *cli.Context) error {
	m, err := newMaintainer(c)
	if err != nil {
		return err
	}
	defer m.Close()

	var inputs []utxo.UTXO
	if c.IsSet("utxo") {
		for _, s := range c.StringSlice("utxo") {
			txid, vout, ok := strings.Cut(s, ":")
			if !ok {
				return fmt.Errorf("utxo %q is not txid:vout", s)
			}
			h, err := utxo.TxHashFromString(common.Trim0xPrefix(txid))
			if err != nil {
				return fmt.Errorf("utxo %q: %w", s, err)
			}
			n, err := strconv.ParseUint(vout, 10, 32)
			if err != nil {
				return fmt.Errorf("utxo %q: %w", s, err)
			}
			u, err := m.BtcRpcClient.GetUtxo(c.Context, h, uint32(n))
			if err != nil {
				return err
			}
			inputs = append(inputs, u)
		}
	} else if inputs, err = walletUtxos(c, m, 1); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return utxo.ErrNoUtxo
	}

	changeAddr := m.Operator.ChangeAddress(m.Config.BtcWitnessChange).EncodeAddress()
	tx, err := m.Assembler.MakeTransferOutTx(c.String("to"), c.Uint64("amount"), changeAddr, c.Uint64("fee"), inputs)
	if err != nil {
		return err
	}
	raw, err := utils.EncodeTxHex(tx)
	if err != nil {
		return err
	}

	if !c.Bool("dry-run") {
		if err := m.BtcRpcClient.Broadcast(c.Context, tx); err != nil {
			return err
		}
	}
	return printJSON(map[string]any{"txid": tx.TxHash().String(), "inputs": len(inputs), "hex": raw, "sent": !c.Bool("dry-run")})
}

// keys needs no configuration.
func keys(c *cli.Context) error {
	out := map[string]string{}

	if c.IsSet("wallet-pubkey") {
		pub, err := hexFlag(c, "wallet-pubkey", 0)
		if err != nil {
			return err
		}
		pkh, err := ledgerkey.WalletPubKeyHash(pub)
		if err != nil {
			return err
		}
		out["wallet_pub_key_hash"] = common.ByteSliceToPureHexStr(pkh[:])

		if c.IsSet("script") {
			script, err := hexFlag(c, "script", 0)
			if err != nil {
				return err
			}
			key, err := ledgerkey.RedemptionKey(pkh, script)
			if err != nil {
				return err
			}
			out["redemption_key"] = common.ByteSliceToPureHexStr(key[:])
		}
	}

	if c.IsSet("txid") {
		txHash, err := txHashFlag(c, "txid")
		if err != nil {
			return err
		}
		key := ledgerkey.DepositKey(txHash, uint32(c.Uint("vout")))
		out["deposit_key"] = common.ByteSliceToPureHexStr(key[:])
	}

	if len(out) == 0 {
		return errors.New("set --wallet-pubkey (and --script), or --txid")
	}
	return printJSON(out)
}

func status(c *cli.Context) error {
	mc, err := loadConfig(c)
	if err != nil {
		return err
	}
	reader := reporter.NewHttpReader(mc.HttpIp, mc.HttpPort)

	var body string
	if c.IsSet("txid") {
		body, err = reader.GetSweep(c.String("txid"))
	} else {
		body, err = reader.GetSweeps(c.String("state"))
	}
	if body != "" {
		fmt.Println(body)
	}
	return err
}

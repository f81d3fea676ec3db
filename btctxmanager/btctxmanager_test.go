package btctxmanager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/assembler"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/logconfig"
)

const (
	walletWIF   = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	redeemerWIF = "cQthTMaKUU9f6br1hMXdGFXHwGaAfFFerNkn632BpGE6KXhTMmGY"
)

type fakeLedger struct {
	requests map[string]agreement.RedemptionRequest
	calls    int
}

func (f *fakeLedger) PendingRedemptions(ctx context.Context, walletPubKey []byte, scripts [][]byte) ([]agreement.RedemptionRequest, error) {
	f.calls++
	out := make([]agreement.RedemptionRequest, 0, len(scripts))
	for _, s := range scripts {
		r, ok := f.requests[string(s)]
		if !ok {
			return nil, agreement.ErrNotFound
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeBtc struct {
	utxos        map[utxo.TxHash]utxo.UTXO
	broadcast    []*wire.MsgTx
	broadcastErr error
}

func (f *fakeBtc) GetUtxo(ctx context.Context, txHash utxo.TxHash, vout uint32) (utxo.UTXO, error) {
	u, ok := f.utxos[txHash]
	if !ok || u.Vout != vout {
		return utxo.UTXO{}, agreement.ErrNotFound
	}
	return u, nil
}

func (f *fakeBtc) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcast = append(f.broadcast, tx)
	return nil
}

type fixture struct {
	mgr     *BtcTxManager
	ledger  *fakeLedger
	btc     *fakeBtc
	journal *chaintxmgrdb.SQLiteChainTxMgrDB
	main    utxo.UTXO
	script  []byte
}

func operator(t *testing.T, wif string) *assembler.NativeOperator {
	signer, err := assembler.NewNativeSigner(wif, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	op, err := assembler.NewNativeOperator(*signer)
	require.NoError(t, err)
	return op
}

func newFixture(t *testing.T) *fixture {
	wallet := operator(t, walletWIF)
	ass := &assembler.Assembler{ChainConfig: &chaincfg.RegressionNetParams, Op: wallet}

	mainScript, err := txscript.PayToAddrScript(wallet.P2WPKH)
	require.NoError(t, err)
	mainHash, err := utxo.TxHashFromString("c580e0e352570d90e303d912a506055ceeb0ee06f97dce6988c69941374f5479")
	require.NoError(t, err)
	main := utxo.UTXO{TxHash: mainHash, Vout: 1, Value: 100_000, PkScript: mainScript}

	script, err := txscript.PayToAddrScript(operator(t, redeemerWIF).P2WPKH)
	require.NoError(t, err)

	journal, err := chaintxmgrdb.NewSQLiteChainTxMgrDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(journal.Close)

	ledger := &fakeLedger{requests: map[string]agreement.RedemptionRequest{
		string(script): {RedeemerOutputScript: script, RequestedAmount: 50_000, TreasuryFee: 100, TxMaxFee: 400, RequestedAt: 1},
	}}
	btc := &fakeBtc{utxos: map[utxo.TxHash]utxo.UTXO{mainHash: main}}

	return &fixture{
		mgr:     NewBtcTxManager(ass, ledger, btc, journal, true),
		ledger:  ledger,
		btc:     btc,
		journal: journal,
		main:    main,
		script:  script,
	}
}

func TestSweepRedemptions(t *testing.T) {
	logconfig.ConfigDebugLogger()

	f := newFixture(t)

	rtx, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)
	assert.Equal(t, uint64(400), rtx.Fee)
	assert.Equal(t, uint64(50_100), rtx.Change)
	require.Len(t, f.btc.broadcast, 1)
	assert.Equal(t, int64(49_500), f.btc.broadcast[0].TxOut[0].Value)

	txHash := utxo.TxHashFromChainHash(rtx.Tx.TxHash())
	entry, found, err := f.journal.GetSweep(txHash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, chaintxmgrdb.Broadcast, entry.Status)
	assert.Equal(t, chaintxmgrdb.KindRedemption, entry.Kind)
	assert.Equal(t, f.main.TxHash, entry.MainUtxo.TxHash)
	assert.Equal(t, uint64(100_000), entry.MainUtxo.Value)
	assert.Equal(t, rtx.Hex, entry.RawTx)
}

func TestSweepRedemptionsDoesNotSendTwice(t *testing.T) {
	f := newFixture(t)

	first, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)
	second, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)

	assert.Equal(t, first.Hex, second.Hex)
	assert.Len(t, f.btc.broadcast, 1)
}

func TestSweepRedemptionsBroadcastRejected(t *testing.T) {
	f := newFixture(t)
	f.btc.broadcastErr = errors.New("-26: insufficient fee")

	rtx, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)
	require.NotNil(t, rtx)

	// left to the proving loop, which gives up once its budget is spent
	entry, found, err := f.journal.GetSweep(utxo.TxHashFromChainHash(rtx.Tx.TxHash()))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, chaintxmgrdb.Broadcast, entry.Status)
	assert.Equal(t, "-26: insufficient fee", entry.LastError)

	failed, err := f.journal.GetSweepsByStatus(chaintxmgrdb.Failed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestSweepRedemptionsResumesBuiltEntry(t *testing.T) {
	tests := []string{
		"-27: transaction already in block chain",
		"-26: txn-already-in-mempool",
		"-25: bad-txns-inputs-missingorspent",
	}

	for _, reply := range tests {
		t.Run(reply, func(t *testing.T) {
			f := newFixture(t)

			// crashed after journaling, the tx itself reached the node
			rtx, funding, err := f.mgr.CreateRedemptionTx(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
			require.NoError(t, err)
			txHash := utxo.TxHashFromChainHash(rtx.Tx.TxHash())
			require.NoError(t, f.journal.InsertSweep(&chaintxmgrdb.SweepEntry{
				TxHash:       txHash,
				Kind:         chaintxmgrdb.KindRedemption,
				WalletPubKey: f.mgr.assembler.Op.WalletPubKey(),
				MainUtxo:     funding,
				RawTx:        rtx.Hex,
				Status:       chaintxmgrdb.Built,
			}))

			f.btc.broadcastErr = errors.New(reply)
			again, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
			require.NoError(t, err)
			assert.Equal(t, rtx.Hex, again.Hex)

			entry, found, err := f.journal.GetSweep(txHash)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, chaintxmgrdb.Broadcast, entry.Status)
			assert.Equal(t, reply, entry.LastError)
		})
	}
}

func TestSweepRedemptionsResendsFailedEntry(t *testing.T) {
	f := newFixture(t)

	rtx, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)
	txHash := utxo.TxHashFromChainHash(rtx.Tx.TxHash())
	require.NoError(t, f.journal.UpdateStatus(txHash, chaintxmgrdb.Failed, "never confirmed"))

	_, err = f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	require.NoError(t, err)
	assert.Len(t, f.btc.broadcast, 2)

	entry, _, err := f.journal.GetSweep(txHash)
	require.NoError(t, err)
	assert.Equal(t, chaintxmgrdb.Broadcast, entry.Status)
	assert.Empty(t, entry.LastError)
}

func TestSweepRedemptionsInvalidList(t *testing.T) {
	f := newFixture(t)
	f.ledger.requests[string(f.script)] = agreement.RedemptionRequest{
		RedeemerOutputScript: f.script, RequestedAmount: 400, TreasuryFee: 100, TxMaxFee: 400, RequestedAt: 1,
	}

	_, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{f.script})
	assert.ErrorIs(t, err, agreement.ErrInvalidRequestList)
	assert.Empty(t, f.btc.broadcast)

	all, err := f.journal.ListSweeps(10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSweepRedemptionsMissingInputs(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, f.main.Vout, [][]byte{{0x51}})
	assert.ErrorIs(t, err, agreement.ErrNotFound)

	_, err = f.mgr.SweepRedemptions(context.Background(), f.main.TxHash, 7, [][]byte{f.script})
	assert.ErrorIs(t, err, agreement.ErrNotFound)
	assert.Empty(t, f.btc.broadcast)
}

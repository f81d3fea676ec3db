package etherman

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/ledgerkey"
	"github.com/TEENet-io/spv-bridge/retry"
)

var (
	testBridge  = ethcommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testChainID = big.NewInt(1337)
)

// fakeBackend plays an ethereum node hosting the bridge contract.
type fakeBackend struct {
	mu sync.Mutex

	block       uint64
	redemptions map[[32]byte]redemptionRequest
	deposits    map[[32]byte]depositRequest
	factor      *big.Int
	logs        []types.Log

	revertReason  string // non-empty makes gas estimation fail
	receiptStatus uint64
	receiptDelay  int // receipt polls answered with NotFound first

	sent    []*types.Transaction
	queries []ethereum.FilterQuery
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		block:         100,
		redemptions:   map[[32]byte]redemptionRequest{},
		deposits:      map[[32]byte]depositRequest{},
		factor:        big.NewInt(6),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) { return f.block, nil }
func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error)   { return testChainID, nil }

func (f *fakeBackend) CodeAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account ethcommon.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := bridgeABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method.Name {
	case "pendingRedemptions":
		var key [32]byte
		args[0].(*big.Int).FillBytes(key[:])
		return method.Outputs.Pack(f.redemptions[key])
	case "deposits":
		var key [32]byte
		args[0].(*big.Int).FillBytes(key[:])
		return method.Outputs.Pack(f.deposits[key])
	case "txProofDifficultyFactor":
		return method.Outputs.Pack(f.factor)
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.block)}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.revertReason != "" {
		return 0, errors.New("execution reverted: " + f.revertReason)
	}
	return 300_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.receiptDelay > 0 {
		f.receiptDelay--
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{
				Status:      f.receiptStatus,
				TxHash:      txHash,
				BlockNumber: new(big.Int).SetUint64(f.block),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, vlog := range f.logs {
		if vlog.BlockNumber < q.FromBlock.Uint64() || vlog.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if matchTopics(vlog.Topics, q.Topics) {
			out = append(out, vlog)
		}
	}
	return out, nil
}

func matchTopics(topics []ethcommon.Hash, filter [][]ethcommon.Hash) bool {
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, alt := range alts {
			if topics[i] == alt {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

// sentCall decodes the i-th transaction sent to the bridge.
func (f *fakeBackend) sentCall(t *testing.T, i int) (string, []interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sent), i)

	data := f.sent[i].Data()
	method, err := bridgeABI.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method.Name, args
}

func newTestEtherman(t *testing.T, backend *fakeBackend) *Etherman {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)

	etherman, err := newEtherman(context.Background(), backend, &Config{
		BridgeContractAddress: testBridge,
		SubmitterPrivateKey:   ethcommon.Bytes2Hex(crypto.FromECDSA(sk)),
		ReceiptPollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, testChainID, etherman.chainID)
	return etherman
}

func testUtxo(t *testing.T) utxo.UTXO {
	h, err := utxo.TxHashFromString("c580e0e352570d90e303d912a506055ceeb0ee06f97dce6988c69941374f5479")
	require.NoError(t, err)
	return utxo.UTXO{TxHash: h, Vout: 1, Value: 100_000}
}

func TestPendingRedemption(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)
	ctx := context.Background()

	redeemer := ethcommon.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	key := [32]byte{0xaa, 0x01}
	backend.redemptions[key] = redemptionRequest{
		Redeemer:        redeemer,
		RequestedAmount: 50_000,
		TreasuryFee:     100,
		TxMaxFee:        400,
		RequestedAt:     1_700_000_000,
	}

	req, err := etherman.PendingRedemption(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, agreement.Identifier(redeemer.Bytes()), req.Redeemer)
	assert.Equal(t, uint64(50_000), req.RequestedAmount)
	assert.Equal(t, uint64(100), req.TreasuryFee)
	assert.Equal(t, uint64(400), req.TxMaxFee)
	assert.Equal(t, uint32(1_700_000_000), req.RequestedAt)

	// absent records come back zeroed
	req, err = etherman.PendingRedemption(ctx, [32]byte{0xbb})
	require.NoError(t, err)
	assert.Zero(t, req.RequestedAt)
	assert.Nil(t, req.Redeemer)
}

func TestDeposit(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	depositor := ethcommon.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	key := ledgerkey.DepositKey(testUtxo(t).TxHash, 1)
	backend.deposits[key] = depositRequest{
		Depositor:   depositor,
		Amount:      250_000,
		RevealedAt:  1_700_000_100,
		TreasuryFee: 50,
	}

	dep, err := etherman.Deposit(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, agreement.Identifier(depositor.Bytes()), dep.Depositor)
	assert.Equal(t, uint64(250_000), dep.Amount)
	assert.Equal(t, uint32(1_700_000_100), dep.RevealedAt)
	assert.Zero(t, dep.SweptAt)
	assert.Nil(t, dep.Vault)
	assert.Equal(t, uint64(50), dep.TreasuryFee)
}

func TestTxProofDifficultyFactorAndLatestBlock(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	factor, err := etherman.TxProofDifficultyFactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), factor)

	backend.factor = new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = etherman.TxProofDifficultyFactor(context.Background())
	assert.ErrorIs(t, err, agreement.ErrFatal)

	n, err := etherman.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
}

func TestRevealDeposit(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptDelay = 2
	etherman := newTestEtherman(t, backend)

	vectors := agreement.TxVectors{
		Version:      [4]byte{1, 0, 0, 0},
		InputVector:  []byte{0x01, 0xaa},
		OutputVector: []byte{0x01, 0xbb},
		Locktime:     [4]byte{},
	}
	reveal := agreement.DepositRevealInfo{
		FundingOutputIndex: 2,
		BlindingFactor:     [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		WalletPubKeyHash:   [20]byte{0x11},
		RefundPubKeyHash:   [20]byte{0x22},
		RefundLocktime:     [4]byte{0x60, 0xbc, 0xea, 0x61},
	}
	require.NoError(t, etherman.RevealDeposit(context.Background(), vectors, reveal))

	name, args := backend.sentCall(t, 0)
	assert.Equal(t, "revealDeposit", name)
	info := *abi.ConvertType(args[0], new(bitcoinTxInfo)).(*bitcoinTxInfo)
	assert.Equal(t, vectors.InputVector, info.InputVector)
	assert.Equal(t, vectors.OutputVector, info.OutputVector)
	assert.Equal(t, vectors.Version, info.Version)
	ri := *abi.ConvertType(args[1], new(depositRevealInfo)).(*depositRevealInfo)
	assert.Equal(t, uint32(2), ri.FundingOutputIndex)
	assert.Equal(t, reveal.BlindingFactor, ri.BlindingFactor)
	assert.Equal(t, reveal.RefundLocktime, ri.RefundLocktime)
	assert.Equal(t, ethcommon.Address{}, ri.Vault)

	signer := types.LatestSignerForChainID(testChainID)
	from, err := types.Sender(signer, backend.sent[0])
	require.NoError(t, err)
	assert.Equal(t, etherman.Submitter(), from)
}

func TestSubmitRedemptionProofReversesUtxoHash(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	main := testUtxo(t)
	proof := agreement.SpvProof{
		MerkleProof:    make([]byte, 64),
		TxIndexInBlock: 3,
		BitcoinHeaders: make([]byte, 80*6),
	}
	pkh := [20]byte{0x8d, 0xb5}
	require.NoError(t, etherman.SubmitRedemptionProof(context.Background(), agreement.TxVectors{}, proof, main, pkh))

	name, args := backend.sentCall(t, 0)
	assert.Equal(t, "submitRedemptionProof", name)
	p := *abi.ConvertType(args[1], new(bitcoinTxProof)).(*bitcoinTxProof)
	assert.Equal(t, uint64(3), p.TxIndexInBlock.Uint64())
	assert.Len(t, p.BitcoinHeaders, 480)
	u := *abi.ConvertType(args[2], new(bitcoinTxUTXO)).(*bitcoinTxUTXO)
	assert.Equal(t, [32]byte(main.TxHash.Reverse()), u.TxHash)
	assert.Equal(t, uint32(1), u.TxOutputIndex)
	assert.Equal(t, uint64(100_000), u.TxOutputValue)
	assert.Equal(t, pkh, args[3].([20]byte))
}

func TestSubmitDepositSweepProof(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	vault := ethcommon.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	err := etherman.SubmitDepositSweepProof(context.Background(), agreement.TxVectors{}, agreement.SpvProof{}, testUtxo(t), vault.Bytes())
	require.NoError(t, err)

	name, args := backend.sentCall(t, 0)
	assert.Equal(t, "submitDepositSweepProof", name)
	assert.Equal(t, vault, args[3].(ethcommon.Address))
}

func TestRequestRedemptionPrefixesScript(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	script := ethcommon.FromHex("0x0014f4eedc8f40d4b8e30771f792b065ebec0abaddef")
	require.NoError(t, etherman.RequestRedemption(context.Background(), [20]byte{1}, testUtxo(t), script, 50_000))

	name, args := backend.sentCall(t, 0)
	assert.Equal(t, "requestRedemption", name)
	assert.Equal(t, append([]byte{byte(len(script))}, script...), args[2].([]byte))
	assert.Equal(t, uint64(50_000), args[3].(uint64))

	err := etherman.RequestRedemption(context.Background(), [20]byte{1}, testUtxo(t), make([]byte, 300), 1)
	assert.ErrorIs(t, err, ledgerkey.ErrScriptTooLong)
}

func TestTransactRevertReasonSurfaces(t *testing.T) {
	backend := newFakeBackend()
	backend.revertReason = "Deposit already revealed"
	etherman := newTestEtherman(t, backend)

	err := etherman.RevealDeposit(context.Background(), agreement.TxVectors{}, agreement.DepositRevealInfo{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deposit already revealed")
	assert.True(t, retry.IsExpected(err, []string{"already revealed"}))
	assert.Empty(t, backend.sent)
}

func TestTransactMinedButReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = types.ReceiptStatusFailed
	etherman := newTestEtherman(t, backend)

	err := etherman.RequestRedemption(context.Background(), [20]byte{1}, testUtxo(t), []byte{0x51}, 1)
	assert.ErrorIs(t, err, ErrTxReverted)
}

func TestTransactWaitHonoursContext(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptDelay = 1 << 30
	etherman := newTestEtherman(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := etherman.RequestRedemption(ctx, [20]byte{1}, testUtxo(t), []byte{0x51}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransactWithoutKey(t *testing.T) {
	backend := newFakeBackend()
	etherman, err := newEtherman(context.Background(), backend, &Config{BridgeContractAddress: testBridge, ChainID: testChainID})
	require.NoError(t, err)

	err = etherman.RequestRedemption(context.Background(), [20]byte{1}, testUtxo(t), []byte{0x51}, 1)
	assert.ErrorIs(t, err, agreement.ErrFatal)
	assert.Equal(t, ethcommon.Address{}, etherman.Submitter())
}

func TestDepositRevealedEvents(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	ev := bridgeABI.Events["DepositRevealed"]
	depositor := ethcommon.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	funding := testUtxo(t).TxHash
	pkhA, pkhB := [20]byte{0xaa}, [20]byte{0xbb}

	mkLog := func(block uint64, pkh [20]byte, amount uint64) types.Log {
		data, err := ev.Inputs.NonIndexed().Pack(
			[32]byte(funding.Reverse()),
			uint32(1),
			amount,
			[8]byte{9},
			[20]byte{0x22},
			[4]byte{1, 2, 3, 4},
			ethcommon.Address{},
		)
		require.NoError(t, err)
		return types.Log{
			Address:     testBridge,
			BlockNumber: block,
			BlockHash:   ethcommon.Hash{byte(block)},
			TxHash:      ethcommon.Hash{0xee, byte(block)},
			Topics: []ethcommon.Hash{
				DepositRevealedSignatureHash,
				ethcommon.BytesToHash(depositor.Bytes()),
				bytes20Topic(pkh),
			},
			Data: data,
		}
	}
	removed := mkLog(12, pkhA, 1)
	removed.Removed = true
	backend.logs = []types.Log{mkLog(10, pkhA, 1000), mkLog(11, pkhB, 2000), removed, mkLog(50, pkhA, 3000)}

	events, err := etherman.DepositRevealedEvents(context.Background(), 0, 20, &pkhA)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, funding, got.FundingTxHash)
	assert.Equal(t, uint32(1), got.FundingOutputIndex)
	assert.Equal(t, agreement.Identifier(depositor.Bytes()), got.Depositor)
	assert.Equal(t, uint64(1000), got.Amount)
	assert.Equal(t, pkhA, got.WalletPubKeyHash)
	assert.Equal(t, [4]byte{1, 2, 3, 4}, got.RefundLocktime)
	assert.Nil(t, got.Vault)
	assert.Equal(t, uint64(10), got.BlockNumber)
	assert.Equal(t, [32]byte{0xee, 10}, got.TxHash)

	events, err = etherman.DepositRevealedEvents(context.Background(), 0, 100, nil)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	q := backend.queries[0]
	assert.Equal(t, []ethcommon.Address{testBridge}, q.Addresses)
	assert.Equal(t, uint64(0), q.FromBlock.Uint64())
	assert.Equal(t, uint64(20), q.ToBlock.Uint64())
}

func TestRedemptionRequestedEventsStripPrefix(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	ev := bridgeABI.Events["RedemptionRequested"]
	script := ethcommon.FromHex("0x76a9144130879211c54df460e484ddf9aac009cb38ee7488ac")
	prefixed, err := ledgerkey.PrefixScript(script)
	require.NoError(t, err)
	data, err := ev.Inputs.NonIndexed().Pack(prefixed, uint64(50_000), uint64(100), uint64(400))
	require.NoError(t, err)

	redeemer := ethcommon.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	pkh := [20]byte{0x8d}
	backend.logs = []types.Log{{
		Address:     testBridge,
		BlockNumber: 7,
		Topics: []ethcommon.Hash{
			RedemptionRequestedSignatureHash,
			bytes20Topic(pkh),
			ethcommon.BytesToHash(redeemer.Bytes()),
		},
		Data: data,
	}}

	events, err := etherman.RedemptionRequestedEvents(context.Background(), 0, 10, &pkh)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, script, events[0].RedeemerOutputScript)
	assert.Equal(t, agreement.Identifier(redeemer.Bytes()), events[0].Redeemer)
	assert.Equal(t, pkh, events[0].WalletPubKeyHash)
	assert.Equal(t, uint64(50_000), events[0].RequestedAmount)
	assert.Equal(t, uint64(100), events[0].TreasuryFee)
	assert.Equal(t, uint64(400), events[0].TxMaxFee)

	other := [20]byte{0x01}
	events, err = etherman.RedemptionRequestedEvents(context.Background(), 0, 10, &other)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewWalletRegisteredEvents(t *testing.T) {
	backend := newFakeBackend()
	etherman := newTestEtherman(t, backend)

	walletID := ethcommon.Hash{0x42}
	pkh := [20]byte{0x8d}
	backend.logs = []types.Log{{
		Address:     testBridge,
		BlockNumber: 3,
		Topics:      []ethcommon.Hash{NewWalletRegisteredSignatureHash, walletID, bytes20Topic(pkh)},
	}}

	events, err := etherman.NewWalletRegisteredEvents(context.Background(), 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, [32]byte(walletID), events[0].EcdsaWalletID)
	assert.Equal(t, pkh, events[0].WalletPubKeyHash)
}

func TestEventSignatures(t *testing.T) {
	assert.Equal(t, bridgeABI.Events["DepositRevealed"].ID, DepositRevealedSignatureHash)
	assert.Equal(t, bridgeABI.Events["RedemptionRequested"].ID, RedemptionRequestedSignatureHash)
	assert.Equal(t, bridgeABI.Events["NewWalletRegistered"].ID, NewWalletRegisteredSignatureHash)
}

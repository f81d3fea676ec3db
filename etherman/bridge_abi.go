package etherman

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// BridgeABI is the subset of the bridge contract the maintainer talks to.
const BridgeABI = `[
{"type":"function","name":"pendingRedemptions","stateMutability":"view",
 "inputs":[{"name":"redemptionKey","type":"uint256"}],
 "outputs":[{"name":"","type":"tuple","components":[
   {"name":"redeemer","type":"address"},
   {"name":"requestedAmount","type":"uint64"},
   {"name":"treasuryFee","type":"uint64"},
   {"name":"txMaxFee","type":"uint64"},
   {"name":"requestedAt","type":"uint32"}]}]},
{"type":"function","name":"deposits","stateMutability":"view",
 "inputs":[{"name":"depositKey","type":"uint256"}],
 "outputs":[{"name":"","type":"tuple","components":[
   {"name":"depositor","type":"address"},
   {"name":"amount","type":"uint64"},
   {"name":"revealedAt","type":"uint32"},
   {"name":"vault","type":"address"},
   {"name":"treasuryFee","type":"uint64"},
   {"name":"sweptAt","type":"uint32"}]}]},
{"type":"function","name":"txProofDifficultyFactor","stateMutability":"view",
 "inputs":[],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"revealDeposit","stateMutability":"nonpayable",
 "inputs":[
   {"name":"fundingTx","type":"tuple","components":[
     {"name":"version","type":"bytes4"},
     {"name":"inputVector","type":"bytes"},
     {"name":"outputVector","type":"bytes"},
     {"name":"locktime","type":"bytes4"}]},
   {"name":"reveal","type":"tuple","components":[
     {"name":"fundingOutputIndex","type":"uint32"},
     {"name":"blindingFactor","type":"bytes8"},
     {"name":"walletPubKeyHash","type":"bytes20"},
     {"name":"refundPubKeyHash","type":"bytes20"},
     {"name":"refundLocktime","type":"bytes4"},
     {"name":"vault","type":"address"}]}],
 "outputs":[]},
{"type":"function","name":"submitDepositSweepProof","stateMutability":"nonpayable",
 "inputs":[
   {"name":"sweepTx","type":"tuple","components":[
     {"name":"version","type":"bytes4"},
     {"name":"inputVector","type":"bytes"},
     {"name":"outputVector","type":"bytes"},
     {"name":"locktime","type":"bytes4"}]},
   {"name":"sweepProof","type":"tuple","components":[
     {"name":"merkleProof","type":"bytes"},
     {"name":"txIndexInBlock","type":"uint256"},
     {"name":"bitcoinHeaders","type":"bytes"}]},
   {"name":"mainUtxo","type":"tuple","components":[
     {"name":"txHash","type":"bytes32"},
     {"name":"txOutputIndex","type":"uint32"},
     {"name":"txOutputValue","type":"uint64"}]},
   {"name":"vault","type":"address"}],
 "outputs":[]},
{"type":"function","name":"submitRedemptionProof","stateMutability":"nonpayable",
 "inputs":[
   {"name":"redemptionTx","type":"tuple","components":[
     {"name":"version","type":"bytes4"},
     {"name":"inputVector","type":"bytes"},
     {"name":"outputVector","type":"bytes"},
     {"name":"locktime","type":"bytes4"}]},
   {"name":"redemptionProof","type":"tuple","components":[
     {"name":"merkleProof","type":"bytes"},
     {"name":"txIndexInBlock","type":"uint256"},
     {"name":"bitcoinHeaders","type":"bytes"}]},
   {"name":"mainUtxo","type":"tuple","components":[
     {"name":"txHash","type":"bytes32"},
     {"name":"txOutputIndex","type":"uint32"},
     {"name":"txOutputValue","type":"uint64"}]},
   {"name":"walletPubKeyHash","type":"bytes20"}],
 "outputs":[]},
{"type":"function","name":"requestRedemption","stateMutability":"nonpayable",
 "inputs":[
   {"name":"walletPubKeyHash","type":"bytes20"},
   {"name":"mainUtxo","type":"tuple","components":[
     {"name":"txHash","type":"bytes32"},
     {"name":"txOutputIndex","type":"uint32"},
     {"name":"txOutputValue","type":"uint64"}]},
   {"name":"redeemerOutputScript","type":"bytes"},
   {"name":"amount","type":"uint64"}],
 "outputs":[]},
{"type":"event","name":"DepositRevealed","anonymous":false,
 "inputs":[
   {"name":"fundingTxHash","type":"bytes32","indexed":false},
   {"name":"fundingOutputIndex","type":"uint32","indexed":false},
   {"name":"depositor","type":"address","indexed":true},
   {"name":"amount","type":"uint64","indexed":false},
   {"name":"blindingFactor","type":"bytes8","indexed":false},
   {"name":"walletPubKeyHash","type":"bytes20","indexed":true},
   {"name":"refundPubKeyHash","type":"bytes20","indexed":false},
   {"name":"refundLocktime","type":"bytes4","indexed":false},
   {"name":"vault","type":"address","indexed":false}]},
{"type":"event","name":"RedemptionRequested","anonymous":false,
 "inputs":[
   {"name":"walletPubKeyHash","type":"bytes20","indexed":true},
   {"name":"redeemerOutputScript","type":"bytes","indexed":false},
   {"name":"redeemer","type":"address","indexed":true},
   {"name":"requestedAmount","type":"uint64","indexed":false},
   {"name":"treasuryFee","type":"uint64","indexed":false},
   {"name":"txMaxFee","type":"uint64","indexed":false}]},
{"type":"event","name":"NewWalletRegistered","anonymous":false,
 "inputs":[
   {"name":"ecdsaWalletID","type":"bytes32","indexed":true},
   {"name":"walletPubKeyHash","type":"bytes20","indexed":true}]}
]`

var (
	bridgeABI = mustParseABI(BridgeABI)

	// Events
	DepositRevealedSignatureHash     = crypto.Keccak256Hash([]byte("DepositRevealed(bytes32,uint32,address,uint64,bytes8,bytes20,bytes20,bytes4,address)"))
	RedemptionRequestedSignatureHash = crypto.Keccak256Hash([]byte("RedemptionRequested(bytes20,bytes,address,uint64,uint64,uint64)"))
	NewWalletRegisteredSignatureHash = crypto.Keccak256Hash([]byte("NewWalletRegistered(bytes32,bytes20)"))
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

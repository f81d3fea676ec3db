package chaintxmgrdb

import (
	"errors"
	"time"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
)

var (
	ErrDuplicateSweep = errors.New("sweep already journaled")
	ErrUnknownSweep   = errors.New("sweep not in journal")
)

// SweepKind tells which proof a journaled bitcoin tx needs.
type SweepKind string

const (
	KindRedemption   SweepKind = "redemption"    // pays out redemption requests
	KindDepositSweep SweepKind = "deposit_sweep" // moves revealed deposits into the wallet
)

// Enum for the life cycle of a journaled sweep.
type SweepStatus string

const (
	Built     SweepStatus = "built"     // signed, not sent yet
	Broadcast SweepStatus = "broadcast" // handed to the bitcoin node, proof pending
	Proven    SweepStatus = "proven"    // the ledger accepted the proof
	Failed    SweepStatus = "failed"    // cannot be sent or proven, needs an operator
)

// SweepEntry is one bitcoin tx the maintainer sent and must prove.
type SweepEntry struct {
	TxHash       utxo.TxHash // display order, primary key
	Kind         SweepKind
	WalletPubKey []byte               // compressed SEC1 key of the wallet that signed
	MainUtxo     utxo.UTXO            // wallet output the tx spent, zero if none
	Vault        agreement.Identifier // deposit sweeps only, nil = none
	RawTx        string               // hex, with witness
	Status       SweepStatus
	LastError    string
	Attempts     int // proof attempts so far
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Defines what the journal should do
// Regardless of the underlying implmentation
type ChainTxMgrDB interface {
	// Release the resource that db occupies, no error returned.
	Close()

	// error = ErrDuplicateSweep when the tx hash is already there.
	InsertSweep(e *SweepEntry) error

	// Get one entry, found == false if absent.
	GetSweep(txHash utxo.TxHash) (*SweepEntry, bool, error)

	// Entries in any of the given statuses, oldest first.
	GetSweepsByStatus(statuses ...SweepStatus) ([]*SweepEntry, error)

	// Latest entries first, at most limit of them.
	ListSweeps(limit int) ([]*SweepEntry, error)

	// error = ErrUnknownSweep when the tx hash is not there.
	UpdateStatus(txHash utxo.TxHash, status SweepStatus, lastError string) error

	// Bump the attempt counter and keep the failure message.
	RecordAttempt(txHash utxo.TxHash, lastError string) error
}

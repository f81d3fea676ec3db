/*
SQLiteChainTxMgrDB implements ChainTxMgrDB.
Table is sweep_journal

Internally,

1) Hashes and keys are stored as hex without 0x.
2) A vault of "" means no vault.
3) Times are unix seconds.
*/
package chaintxmgrdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/common"
	"github.com/TEENet-io/spv-bridge/database"
)

var journalTable = `CREATE TABLE IF NOT EXISTS sweep_journal (
	txHash CHAR(64) PRIMARY KEY NOT NULL,
	kind VARCHAR(16) NOT NULL,
	walletPubKey VARCHAR(130) NOT NULL,
	mainTxHash CHAR(64) NOT NULL,
	mainVout INTEGER NOT NULL,
	mainValue BIGINT UNSIGNED NOT NULL,
	vault VARCHAR(64) NOT NULL,
	rawTx TEXT NOT NULL,
	status VARCHAR(10) NOT NULL,
	lastError TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	createdAt BIGINT NOT NULL,
	updatedAt BIGINT NOT NULL,
	CONSTRAINT chk_kind CHECK (kind IN ('redemption', 'deposit_sweep')),
	CONSTRAINT chk_status CHECK (status IN ('built', 'broadcast', 'proven', 'failed'))
);
CREATE INDEX IF NOT EXISTS idx_sweep_status ON sweep_journal (status);`

const sweepColumns = `txHash, kind, walletPubKey, mainTxHash, mainVout, mainValue, vault, rawTx, status, lastError, attempts, createdAt, updatedAt`

type SQLiteChainTxMgrDB struct {
	db        *sql.DB
	stmtCache *database.StmtCache
	now       func() time.Time
}

// NewSQLiteChainTxMgrDB opens (or creates) the journal in the sqlite file dbPath.
func NewSQLiteChainTxMgrDB(dbPath string) (*SQLiteChainTxMgrDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalTable); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteChainTxMgrDB{
		db:        db,
		stmtCache: database.NewStmtCache(db),
		now:       time.Now,
	}, nil
}

func (s *SQLiteChainTxMgrDB) Close() {
	s.stmtCache.Clear()
	s.db.Close()
}

type sqlSweep struct {
	TxHash       string
	Kind         string
	WalletPubKey string
	MainTxHash   string
	MainVout     uint32
	MainValue    uint64
	Vault        string
	RawTx        string
	Status       string
	LastError    string
	Attempts     int
	CreatedAt    int64
	UpdatedAt    int64
}

func (q *sqlSweep) encode(e *SweepEntry) *sqlSweep {
	q.TxHash = e.TxHash.String()
	q.Kind = string(e.Kind)
	q.WalletPubKey = common.ByteSliceToPureHexStr(e.WalletPubKey)
	q.MainTxHash = e.MainUtxo.TxHash.String()
	q.MainVout = e.MainUtxo.Vout
	q.MainValue = e.MainUtxo.Value
	q.Vault = common.ByteSliceToPureHexStr(e.Vault)
	q.RawTx = e.RawTx
	q.Status = string(e.Status)
	q.LastError = e.LastError
	q.Attempts = e.Attempts
	q.CreatedAt = e.CreatedAt.Unix()
	q.UpdatedAt = e.UpdatedAt.Unix()
	return q
}

func (q *sqlSweep) decode() (*SweepEntry, error) {
	txHash, err := utxo.TxHashFromString(q.TxHash)
	if err != nil {
		return nil, fmt.Errorf("bad txHash %q: %v", q.TxHash, err)
	}
	mainTxHash, err := utxo.TxHashFromString(q.MainTxHash)
	if err != nil {
		return nil, fmt.Errorf("bad mainTxHash %q: %v", q.MainTxHash, err)
	}

	var vault agreement.Identifier
	if q.Vault != "" {
		vault = common.HexStrToByteSlice(q.Vault)
	}

	return &SweepEntry{
		TxHash:       txHash,
		Kind:         SweepKind(q.Kind),
		WalletPubKey: common.HexStrToByteSlice(q.WalletPubKey),
		MainUtxo: utxo.UTXO{
			TxHash: mainTxHash,
			Vout:   q.MainVout,
			Value:  q.MainValue,
		},
		Vault:     vault,
		RawTx:     q.RawTx,
		Status:    SweepStatus(q.Status),
		LastError: q.LastError,
		Attempts:  q.Attempts,
		CreatedAt: time.Unix(q.CreatedAt, 0),
		UpdatedAt: time.Unix(q.UpdatedAt, 0),
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSweep(row scanner) (*SweepEntry, error) {
	var q sqlSweep
	if err := row.Scan(&q.TxHash, &q.Kind, &q.WalletPubKey, &q.MainTxHash, &q.MainVout, &q.MainValue,
		&q.Vault, &q.RawTx, &q.Status, &q.LastError, &q.Attempts, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	return q.decode()
}

func (s *SQLiteChainTxMgrDB) InsertSweep(e *SweepEntry) error {
	query := `INSERT INTO sweep_journal (` + sweepColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	q := (&sqlSweep{}).encode(e)
	_, err = stmt.Exec(q.TxHash, q.Kind, q.WalletPubKey, q.MainTxHash, q.MainVout, q.MainValue,
		q.Vault, q.RawTx, q.Status, q.LastError, q.Attempts, q.CreatedAt, q.UpdatedAt)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", ErrDuplicateSweep, q.TxHash)
	}
	return err
}

func (s *SQLiteChainTxMgrDB) GetSweep(txHash utxo.TxHash) (*SweepEntry, bool, error) {
	query := `SELECT ` + sweepColumns + ` FROM sweep_journal WHERE txHash = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	e, err := scanSweep(stmt.QueryRow(txHash.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return e, true, nil
}

func (s *SQLiteChainTxMgrDB) GetSweepsByStatus(statuses ...SweepStatus) ([]*SweepEntry, error) {
	if len(statuses) == 0 {
		return []*SweepEntry{}, nil
	}

	query := `SELECT ` + sweepColumns + ` FROM sweep_journal WHERE status IN (?` +
		strings.Repeat(", ?", len(statuses)-1) + `) ORDER BY createdAt ASC, txHash ASC`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *SQLiteChainTxMgrDB) ListSweeps(limit int) ([]*SweepEntry, error) {
	query := `SELECT ` + sweepColumns + ` FROM sweep_journal ORDER BY createdAt DESC, txHash ASC LIMIT ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*SweepEntry, error) {
	defer rows.Close()

	entries := []*SweepEntry{}
	for rows.Next() {
		e, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteChainTxMgrDB) UpdateStatus(txHash utxo.TxHash, status SweepStatus, lastError string) error {
	query := `UPDATE sweep_journal SET status = ?, lastError = ?, updatedAt = ? WHERE txHash = ?`
	return s.update(query, txHash, string(status), lastError, s.now().Unix(), txHash.String())
}

func (s *SQLiteChainTxMgrDB) RecordAttempt(txHash utxo.TxHash, lastError string) error {
	query := `UPDATE sweep_journal SET attempts = attempts + 1, lastError = ?, updatedAt = ? WHERE txHash = ?`
	return s.update(query, txHash, lastError, s.now().Unix(), txHash.String())
}

func (s *SQLiteChainTxMgrDB) update(query string, txHash utxo.TxHash, args ...interface{}) error {
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSweep, txHash)
	}
	return nil
}

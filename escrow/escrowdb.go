package escrow

import (
	"database/sql"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/common"
	"github.com/sharebridge/vault-go/database"
)

// EscrowDB persists deposit lifecycle records, the per-depositor id
// counters and the operator resolution round.
type EscrowDB struct {
	stmtCache *database.StmtCache
}

func NewEscrowDB(db *sql.DB) (*EscrowDB, error) {
	if _, err := db.Exec(depositTable + counterTable + roundTable); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO escrow_round (id, round) VALUES (0, 0)`); err != nil {
		return nil, err
	}
	return &EscrowDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (e *EscrowDB) Close() {
	e.stmtCache.Clear()
}

func (e *EscrowDB) Begin() (*sql.Tx, error) {
	return e.stmtCache.Begin()
}

// The amount column is a signed 64-bit integer so sqlite's SUM stays
// exact; RequestDeposit rejects amounts outside the int64 range.
type sqlDeposit struct {
	ID              string
	Depositor       string // hex, no 0x prefix
	Recipient       string
	Amount          int64
	CreatedAt       int64
	ExpirationTime  int64
	State           string
	RoundAtCreation uint64
}

func (s *sqlDeposit) encode(d *PendingDeposit) *sqlDeposit {
	s.ID = d.ID.String()[2:]
	s.Depositor = common.ByteSliceToPureHexStr(d.Depositor.Bytes())
	s.Recipient = common.ByteSliceToPureHexStr(d.Recipient.Bytes())
	s.Amount = d.AssetAmount.Int64()
	s.CreatedAt = d.CreatedAt
	s.ExpirationTime = d.ExpirationTime
	s.State = string(d.State)
	s.RoundAtCreation = d.RoundAtCreation
	return s
}

func (s *sqlDeposit) decode() *PendingDeposit {
	return &PendingDeposit{
		ID:              ethcommon.Hash(common.HexStrToBytes32(s.ID)),
		Depositor:       ethcommon.HexToAddress(s.Depositor),
		Recipient:       ethcommon.HexToAddress(s.Recipient),
		AssetAmount:     big.NewInt(s.Amount),
		CreatedAt:       s.CreatedAt,
		ExpirationTime:  s.ExpirationTime,
		State:           DepositState(s.State),
		RoundAtCreation: s.RoundAtCreation,
	}
}

// InsertPending stores a new deposit in state pending.
func (e *EscrowDB) InsertPending(tx *sql.Tx, d *PendingDeposit) error {
	query := `INSERT INTO escrow_deposit (` + depositParamList + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := e.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return err
	}

	s := new(sqlDeposit).encode(d)
	_, err = stmt.Exec(s.ID, s.Depositor, s.Recipient, s.Amount, s.CreatedAt, s.ExpirationTime, s.State, s.RoundAtCreation)
	return err
}

// GetDeposit fetches one deposit by id.
func (e *EscrowDB) GetDeposit(id ethcommon.Hash) (*PendingDeposit, bool, error) {
	query := `SELECT` + depositParamList + `FROM escrow_deposit WHERE id = ?`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var s sqlDeposit
	err = stmt.QueryRow(id.String()[2:]).Scan(
		&s.ID, &s.Depositor, &s.Recipient, &s.Amount, &s.CreatedAt, &s.ExpirationTime, &s.State, &s.RoundAtCreation,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s.decode(), true, nil
}

// getDepositTx is the in-transaction variant of GetDeposit.
func (e *EscrowDB) getDepositTx(tx *sql.Tx, id ethcommon.Hash) (*PendingDeposit, bool, error) {
	query := `SELECT` + depositParamList + `FROM escrow_deposit WHERE id = ?`
	stmt, err := e.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return nil, false, err
	}

	var s sqlDeposit
	err = stmt.QueryRow(id.String()[2:]).Scan(
		&s.ID, &s.Depositor, &s.Recipient, &s.Amount, &s.CreatedAt, &s.ExpirationTime, &s.State, &s.RoundAtCreation,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s.decode(), true, nil
}

// GetDepositsByDepositor returns every deposit a depositor ever made,
// oldest first.
func (e *EscrowDB) GetDepositsByDepositor(depositor ethcommon.Address) ([]*PendingDeposit, error) {
	query := `SELECT` + depositParamList + `FROM escrow_deposit WHERE depositor = ? ORDER BY createdAt ASC`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(common.ByteSliceToPureHexStr(depositor.Bytes()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingDeposit
	for rows.Next() {
		var s sqlDeposit
		if err := rows.Scan(&s.ID, &s.Depositor, &s.Recipient, &s.Amount, &s.CreatedAt, &s.ExpirationTime, &s.State, &s.RoundAtCreation); err != nil {
			return nil, err
		}
		out = append(out, s.decode())
	}
	return out, rows.Err()
}

// transitionState flips a deposit from one state to another. The WHERE
// clause enforces the precondition, so a lost race or a repeated call
// yields zero affected rows.
func (e *EscrowDB) transitionState(tx *sql.Tx, id ethcommon.Hash, from, to DepositState) (bool, error) {
	query := `UPDATE escrow_deposit SET state = ? WHERE id = ? AND state = ?`
	stmt, err := e.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return false, err
	}

	res, err := stmt.Exec(string(to), id.String()[2:], string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TotalPendingAssets sums the amounts of all pending deposits.
func (e *EscrowDB) TotalPendingAssets() (*big.Int, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM escrow_deposit WHERE state = 'pending'`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := stmt.QueryRow().Scan(&total); err != nil {
		return nil, err
	}
	return big.NewInt(total), nil
}

// UserPendingAssets sums the pending amounts of one depositor.
func (e *EscrowDB) UserPendingAssets(depositor ethcommon.Address) (*big.Int, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM escrow_deposit WHERE state = 'pending' AND depositor = ?`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := stmt.QueryRow(common.ByteSliceToPureHexStr(depositor.Bytes())).Scan(&total); err != nil {
		return nil, err
	}
	return big.NewInt(total), nil
}

// PendingByDepositor returns the per-depositor pending aggregates.
func (e *EscrowDB) PendingByDepositor() (map[ethcommon.Address]*big.Int, error) {
	query := `SELECT depositor, SUM(amount) FROM escrow_deposit WHERE state = 'pending' GROUP BY depositor`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[ethcommon.Address]*big.Int)
	for rows.Next() {
		var depositor string
		var total int64
		if err := rows.Scan(&depositor, &total); err != nil {
			return nil, err
		}
		out[ethcommon.HexToAddress(depositor)] = big.NewInt(total)
	}
	return out, rows.Err()
}

// GetRound reads the current operator resolution round.
func (e *EscrowDB) GetRound() (uint64, error) {
	query := `SELECT round FROM escrow_round WHERE id = 0`
	stmt, err := e.stmtCache.Prepare(query)
	if err != nil {
		return 0, err
	}

	var round uint64
	if err := stmt.QueryRow().Scan(&round); err != nil {
		return 0, err
	}
	return round, nil
}

func (e *EscrowDB) setRound(tx *sql.Tx, round uint64) error {
	query := `UPDATE escrow_round SET round = ? WHERE id = 0`
	stmt, err := e.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(round)
	return err
}

// nextCounter bumps and returns the depositor's id counter.
func (e *EscrowDB) nextCounter(tx *sql.Tx, depositor ethcommon.Address) (uint64, error) {
	depositorHex := common.ByteSliceToPureHexStr(depositor.Bytes())

	upsert := `INSERT INTO escrow_counter (depositor, counter) VALUES (?, 1)
		ON CONFLICT(depositor) DO UPDATE SET counter = counter + 1`
	stmt, err := e.stmtCache.PrepareTx(tx, upsert)
	if err != nil {
		return 0, err
	}
	if _, err := stmt.Exec(depositorHex); err != nil {
		return 0, err
	}

	read := `SELECT counter FROM escrow_counter WHERE depositor = ?`
	readStmt, err := e.stmtCache.PrepareTx(tx, read)
	if err != nil {
		return 0, err
	}

	var counter uint64
	if err := readStmt.QueryRow(depositorHex).Scan(&counter); err != nil {
		return 0, err
	}
	return counter, nil
}

package oracle

import (
	"database/sql"
	"math/big"

	"github.com/sharebridge/vault-go/common"
	"github.com/sharebridge/vault-go/database"
)

// OracleDB persists the applied-update log and the snapshot row the
// oracle reloads on restart.
type OracleDB struct {
	stmtCache *database.StmtCache
}

func NewOracleDB(db *sql.DB) (*OracleDB, error) {
	if _, err := db.Exec(updateTable + snapshotTable); err != nil {
		return nil, err
	}
	return &OracleDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (o *OracleDB) Close() {
	o.stmtCache.Clear()
}

func (o *OracleDB) Begin() (*sql.Tx, error) {
	return o.stmtCache.Begin()
}

// AppliedUpdate is one row of the update log.
type AppliedUpdate struct {
	Round     uint64
	Target    *big.Int
	Start     *big.Int
	Source    string
	AppliedAt int64
}

// InsertUpdate appends one applied update to the log.
func (o *OracleDB) InsertUpdate(tx *sql.Tx, u *AppliedUpdate) error {
	query := `INSERT INTO oracle_update (` + updateParamList + `) VALUES (?, ?, ?, ?, ?)`
	stmt, err := o.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		u.Round,
		common.Trim0xPrefix(common.BigIntToHexStr(u.Target)),
		common.Trim0xPrefix(common.BigIntToHexStr(u.Start)),
		u.Source,
		u.AppliedAt,
	)
	return err
}

// RecentUpdates returns the latest applied updates, newest first.
func (o *OracleDB) RecentUpdates(limit int) ([]*AppliedUpdate, error) {
	query := `SELECT` + updateParamList + `FROM oracle_update ORDER BY round DESC LIMIT ?`
	stmt, err := o.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AppliedUpdate
	for rows.Next() {
		var u AppliedUpdate
		var target, start string
		if err := rows.Scan(&u.Round, &target, &start, &u.Source, &u.AppliedAt); err != nil {
			return nil, err
		}
		u.Target = common.HexStrToBigInt(target)
		u.Start = common.HexStrToBigInt(start)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// SaveSnapshot upserts the single snapshot row.
func (o *OracleDB) SaveSnapshot(tx *sql.Tx, s *Snapshot) error {
	query := `INSERT INTO oracle_snapshot (id,` + snapshotParamList + `) VALUES (0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		target = excluded.target, start = excluded.start,
		lastUpdateAt = excluded.lastUpdateAt,
		maxDeviationBps = excluded.maxDeviationBps,
		periodSeconds = excluded.periodSeconds,
		appliedBps = excluded.appliedBps, round = excluded.round`
	stmt, err := o.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		common.Trim0xPrefix(common.BigIntToHexStr(s.TargetPrice)),
		common.Trim0xPrefix(common.BigIntToHexStr(s.TransitionStartPrice)),
		s.LastUpdateAt,
		s.MaxDeviationBps,
		s.PeriodSeconds,
		s.AppliedChangeBpsInPeriod,
		s.Round,
	)
	return err
}

// LoadSnapshot reads the persisted snapshot, if any.
func (o *OracleDB) LoadSnapshot() (*Snapshot, bool, error) {
	query := `SELECT` + snapshotParamList + `FROM oracle_snapshot WHERE id = 0`
	stmt, err := o.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var s Snapshot
	var target, start string
	err = stmt.QueryRow().Scan(
		&target, &start, &s.LastUpdateAt, &s.MaxDeviationBps, &s.PeriodSeconds, &s.AppliedChangeBpsInPeriod, &s.Round,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.TargetPrice = common.HexStrToBigInt(target)
	s.TransitionStartPrice = common.HexStrToBigInt(start)
	return &s, true, nil
}

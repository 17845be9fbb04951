package withdrawauth

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/common"
	"github.com/sharebridge/vault-go/database"
)

// NonceDB tracks consumed withdrawal nonces. Rows are never deleted.
type NonceDB struct {
	stmtCache *database.StmtCache
}

func NewNonceDB(db *sql.DB) (*NonceDB, error) {
	if _, err := db.Exec(nonceTable); err != nil {
		return nil, err
	}
	return &NonceDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (n *NonceDB) Close() {
	n.stmtCache.Clear()
}

func (n *NonceDB) Begin() (*sql.Tx, error) {
	return n.stmtCache.Begin()
}

// IsUsed reports whether the owner has already consumed the nonce.
func (n *NonceDB) IsUsed(owner ethcommon.Address, nonce uint64) (bool, error) {
	query := `SELECT COUNT(*) FROM withdraw_nonce WHERE owner = ? AND nonce = ?`
	stmt, err := n.stmtCache.Prepare(query)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRow(common.ByteSliceToPureHexStr(owner.Bytes()), nonce).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// markUsed consumes a nonce. The primary key rejects a double spend
// that slipped past the read check.
func (n *NonceDB) markUsed(tx *sql.Tx, owner ethcommon.Address, nonce uint64, usedAt int64) error {
	query := `INSERT INTO withdraw_nonce (owner, nonce, usedAt) VALUES (?, ?, ?)`
	stmt, err := n.stmtCache.PrepareTx(tx, query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(common.ByteSliceToPureHexStr(owner.Bytes()), nonce, usedAt)
	return err
}

package escrow

import "strings"

var (
	strZeroBytes32 = strings.Repeat("0", 64)
	strZeroBytes20 = strings.Repeat("0", 40)

	// table that stores the life cycle of an escrowed deposit
	depositTable = `CREATE TABLE IF NOT EXISTS escrow_deposit (
		id CHAR(64) PRIMARY KEY NOT NULL,
		depositor CHAR(40) NOT NULL,
		recipient CHAR(40) NOT NULL,
		amount BIGINT UNSIGNED NOT NULL,
		createdAt BIGINT NOT NULL,
		expirationTime BIGINT NOT NULL,
		state VARCHAR(10) NOT NULL,
		roundAtCreation BIGINT UNSIGNED NOT NULL,
		CONSTRAINT chk_state CHECK (state IN ('pending', 'accepted', 'refunded')),
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_id CHECK (id != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_depositor CHECK (depositor != '` + strZeroBytes20 + `'),
		CONSTRAINT chk_recipient CHECK (recipient != '` + strZeroBytes20 + `')
	);`

	// per-depositor monotonic counter mixed into deposit ids
	counterTable = `CREATE TABLE IF NOT EXISTS escrow_counter (
		depositor CHAR(40) PRIMARY KEY NOT NULL,
		counter BIGINT UNSIGNED NOT NULL
	);`

	// single-row table holding the operator resolution round
	roundTable = `CREATE TABLE IF NOT EXISTS escrow_round (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		round BIGINT UNSIGNED NOT NULL
	);`

	depositParamList = " id, depositor, recipient, amount, createdAt, expirationTime, state, roundAtCreation "
)

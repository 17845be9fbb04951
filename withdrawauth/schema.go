package withdrawauth

var (
	// append-only record of consumed nonces, one row per (owner, nonce)
	nonceTable = `CREATE TABLE IF NOT EXISTS withdraw_nonce (
		owner CHAR(40) NOT NULL,
		nonce BIGINT UNSIGNED NOT NULL,
		usedAt BIGINT NOT NULL,
		PRIMARY KEY (owner, nonce)
	);`
)

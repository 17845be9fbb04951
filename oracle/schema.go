package oracle

var (
	// append-only log of every applied price update
	updateTable = `CREATE TABLE IF NOT EXISTS oracle_update (
		round BIGINT UNSIGNED PRIMARY KEY NOT NULL,
		target VARCHAR(64) NOT NULL,
		start VARCHAR(64) NOT NULL,
		source VARCHAR(128) NOT NULL,
		appliedAt BIGINT NOT NULL,
		CONSTRAINT chk_source CHECK (source != '')
	);`

	// single-row snapshot for restart
	snapshotTable = `CREATE TABLE IF NOT EXISTS oracle_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		target VARCHAR(64) NOT NULL,
		start VARCHAR(64) NOT NULL,
		lastUpdateAt BIGINT NOT NULL,
		maxDeviationBps BIGINT UNSIGNED NOT NULL,
		periodSeconds BIGINT UNSIGNED NOT NULL,
		appliedBps BIGINT UNSIGNED NOT NULL,
		round BIGINT UNSIGNED NOT NULL
	);`

	updateParamList = " round, target, start, source, appliedAt "

	snapshotParamList = " target, start, lastUpdateAt, maxDeviationBps, periodSeconds, appliedBps, round "
)

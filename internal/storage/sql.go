package storage

import (
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertSessionSQL = `
INSERT INTO capture_session (id,
                             name,
                             started_at)
VALUES (?, ?, ?)`

	closeSessionSQL = `
UPDATE capture_session
SET closed_at = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT
    id,
    name,
    started_at,
    closed_at
FROM capture_session
LIMIT 1`

	insertGroupSQL = `
INSERT INTO capture_groups (name,
                            direction)
VALUES (?, ?)`

	provisionGroupSQL = `
UPDATE capture_groups
SET antennas = ?
WHERE name = ?`

	updateGroupFramesSQL = `
UPDATE capture_groups
SET frames = ?
WHERE name = ?`

	selectGroupsSQL = `
SELECT
    name,
    direction,
    antennas,
    frames
FROM capture_groups
ORDER BY name`

	createAntennaTableSQL = `
CREATE TABLE %s
(
    timestamp INTEGER NOT NULL,
    count     INTEGER NOT NULL,
    real      INTEGER NOT NULL,
    imaginary INTEGER NOT NULL
)`

	insertRowSQL = `
INSERT INTO %s (timestamp,
                count,
                real,
                imaginary)
VALUES (?, ?, ?, ?)`

	selectRowsSQL = `
SELECT
    timestamp,
    count,
    real,
    imaginary
FROM %s
ORDER BY rowid`

	savepointFrameSQL = `SAVEPOINT frame`
	releaseFrameSQL   = `RELEASE frame`
	rollbackFrameSQL  = `ROLLBACK TO frame; RELEASE frame`

	// timestamps are uint64 bit patterns: the negative ones sort above the others
	selectTableSummarySQL = `
SELECT
    COUNT(*),
    MIN(CASE WHEN timestamp >= 0 THEN timestamp END),
    MAX(CASE WHEN timestamp >= 0 THEN timestamp END),
    MIN(CASE WHEN timestamp < 0 THEN timestamp END),
    MAX(CASE WHEN timestamp < 0 THEN timestamp END)
FROM %s`
)

package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    start_time TIMESTAMP NOT NULL,
    subject    TEXT NOT NULL,
    recording  TEXT NOT NULL,
    recipe     TEXT
);

CREATE TABLE IF NOT EXISTS stage_spectra (
    run_id        TEXT NOT NULL REFERENCES runs (id),
    stage         TEXT NOT NULL,
    stage_index   INTEGER NOT NULL,
    channel       TEXT,
    channel_index INTEGER,
    frequency     REAL,
    power         REAL,
    n_samples     INTEGER NOT NULL,
    fraction      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    run_id     TEXT NOT NULL REFERENCES runs (id),
    kind       TEXT NOT NULL,
    channel    TEXT NOT NULL,
    stage      INTEGER NOT NULL,
    start_sec  REAL NOT NULL,
    end_sec    REAL NOT NULL,
    attributes TEXT
);

CREATE TABLE IF NOT EXISTS sleep_stats (
    run_id TEXT NOT NULL REFERENCES runs (id),
    name   TEXT NOT NULL,
    value  REAL
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_stage_spectra_run ON stage_spectra (run_id, stage_index, stage);
CREATE INDEX IF NOT EXISTS idx_events_run ON events (run_id, kind);
CREATE INDEX IF NOT EXISTS idx_sleep_stats_run ON sleep_stats (run_id);`

	insertRunSQL = `
INSERT INTO runs (id,
                  start_time,
                  subject,
                  recording,
                  recipe)
VALUES (?, ?, ?, ?, ?)`

	selectRunSQL = `
SELECT
    id,
    start_time,
    subject,
    recording,
    recipe
FROM runs
WHERE
    id = ?`

	selectRunsSQL = `
SELECT
    id,
    start_time,
    subject,
    recording,
    recipe
FROM runs
ORDER BY start_time, id`

	insertStageSpectraSQL = `
INSERT INTO stage_spectra (run_id,
                           stage,
                           stage_index,
                           channel,
                           channel_index,
                           frequency,
                           power,
                           n_samples,
                           fraction)
VALUES `

	insertEventsSQL = `
INSERT INTO events (run_id,
                    kind,
                    channel,
                    stage,
                    start_sec,
                    end_sec,
                    attributes)
VALUES `

	insertSleepStatSQL = `
INSERT INTO sleep_stats (run_id,
                         name,
                         value)
VALUES (?, ?, ?)`

	deleteSleepStatsSQL = `
DELETE FROM sleep_stats
WHERE
    run_id = ?`

	selectSleepStatsSQL = `
SELECT
    name,
    value
FROM sleep_stats
WHERE
    run_id = ?
ORDER BY rowid`

	selectEventCountsSQL = `
SELECT
    kind,
    channel,
    stage,
    COUNT(*)
FROM events
WHERE
    run_id = ?
GROUP BY kind, channel, stage
ORDER BY kind, channel, stage`

	selectStageSpectraSQL = `
SELECT
    stage,
    stage_index,
    channel,
    frequency,
    power,
    n_samples,
    fraction
FROM stage_spectra
WHERE
    run_id = ?
    AND (frequency IS NULL OR frequency BETWEEN ? AND ?)`

	stageSpectraOrderSQL = `
ORDER BY stage_index, stage, channel_index, frequency`
)

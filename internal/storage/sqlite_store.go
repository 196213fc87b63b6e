package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

// rowsPerInsert bounds a batch insert below the sqlite host parameter limit.
const rowsPerInsert = 100

// ErrNoData indicates either that no data exists for the given parameters, or that
// all available data has been read from a reader.
var ErrNoData = errors.New("no data available")

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store over the database file at dbPath. Connections are
// opened, and the schema initialised, on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, subject, recording string, recipe any) (runID string, err error) {
	recipeData, err := toNullString(recipe)
	if err != nil {
		err = fmt.Errorf("recipe: %w", err)
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	id := uuid.NewString()
	if _, err = stmt.ExecContext(ctx, id, time.Now().UTC(), subject, recording, recipeData); err != nil {
		err = fmt.Errorf("inserting run: %w", err)
		return
	}
	return id, nil
}

func scanRun(sc interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var recipe sql.NullString
	if err := sc.Scan(&run.ID, &run.StartTime, &run.Subject, &run.Recording, &recipe); err != nil {
		return nil, err
	}
	if recipe.Valid {
		run.Recipe = &recipe.String
	}
	return &run, nil
}

func (s *SqliteStore) Run(ctx context.Context, id string) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	run, err = scanRun(stmt.QueryRowContext(ctx, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = fmt.Errorf("run %s: %w", id, ErrNoData)
	case err != nil:
		err = fmt.Errorf("scanning run: %w", err)
	}
	return
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		err = fmt.Errorf("querying runs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var run *Run
		if run, err = scanRun(rows); err != nil {
			err = fmt.Errorf("scanning run: %w", err)
			return
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	return
}

// batchInsert writes rows of columns values each with multi-row INSERT statements
// inside tx.
func batchInsert(ctx context.Context, tx *sql.Tx, insertSQL string, columns, rows int, values func(i int) []any) error {
	valuesPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", columns), ", ") + ")"

	for from := 0; from < rows; from += rowsPerInsert {
		to := min(from+rowsPerInsert, rows)

		var sb strings.Builder
		sb.WriteString(insertSQL)

		args := make([]any, 0, (to-from)*columns)
		for i := from; i < to; i++ {
			if i > from {
				sb.WriteString(", ")
			}
			sb.WriteString(valuesPlaceholder)
			args = append(args, values(i)...)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqliteStore) StoreStageSpectra(ctx context.Context, runID string, spectra []*spectrum.StageSpectrum) (err error) {
	var data []stageSpectrumData
	for _, sp := range spectra {
		if sp == nil {
			continue
		}
		data = append(data, toStageSpectrumData(runID, sp)...)
	}
	if len(data) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	err = batchInsert(ctx, tx, insertStageSpectraSQL, 9, len(data), func(i int) []any {
		d := data[i]
		return []any{d.RunID, d.Stage, d.StageIndex, d.Channel, d.ChannelIndex, d.Frequency, d.Power, d.NSamples, d.Fraction}
	})
	if err != nil {
		return fmt.Errorf("batch inserting stage spectra: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreEvents(ctx context.Context, runID string, events []EventRecord) (err error) {
	if len(events) == 0 {
		return nil
	}

	attrs := make([]sql.NullString, len(events))
	for i, e := range events {
		if len(e.Attributes) == 0 {
			continue
		}
		p, mErr := json.Marshal(e.Attributes)
		if mErr != nil {
			return fmt.Errorf("marshaling attributes of event %d: %w", i, mErr)
		}
		attrs[i] = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	err = batchInsert(ctx, tx, insertEventsSQL, 7, len(events), func(i int) []any {
		e := events[i]
		return []any{runID, e.Kind, e.Channel, int(e.Stage), e.Start, e.End, attrs[i]}
	})
	if err != nil {
		return fmt.Errorf("batch inserting events: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreSleepStats(ctx context.Context, runID string, stats []hypno.Statistic) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, deleteSleepStatsSQL, runID); err != nil {
		return fmt.Errorf("deleting sleep statistics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSleepStatSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, st := range stats {
		if _, err = stmt.ExecContext(ctx, runID, st.Name, toNullFloat(st.Value)); err != nil {
			return fmt.Errorf("inserting %s: %w", st.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) SleepStats(ctx context.Context, runID string) (stats []hypno.Statistic, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSleepStatsSQL, runID)
	if err != nil {
		err = fmt.Errorf("querying sleep statistics: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var st hypno.Statistic
		var value sql.NullFloat64
		if err = rows.Scan(&st.Name, &value); err != nil {
			err = fmt.Errorf("scanning sleep statistic: %w", err)
			return
		}
		st.Value = nanIfNull(value)
		stats = append(stats, st)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) EventCounts(ctx context.Context, runID string) (counts []EventCount, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventCountsSQL, runID)
	if err != nil {
		err = fmt.Errorf("querying event counts: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var c EventCount
		var stage int
		if err = rows.Scan(&c.Kind, &c.Channel, &stage, &c.Count); err != nil {
			err = fmt.Errorf("scanning event count: %w", err)
			return
		}
		c.Stage = hypno.Stage(stage)
		counts = append(counts, c)
	}
	err = rows.Err()
	return
}

// ReadStageSpectra creates a reader that assembles the stored stage spectra of a run
// back into one spectrum per stage, in stage index order.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - runID: Unique identifier of the run to read from
//   - opts: Optional filters (WithStages, WithChannels, WithFreqRange)
//
// The returned reader must be closed after use to release database resources. Each
// reader instance should only be used from a single goroutine.
//
// Returns ErrNoData when the run has no stored spectra matching the filters.
func (s *SqliteStore) ReadStageSpectra(ctx context.Context, runID string, opts ...ReaderOption) (*SqliteSpectrumReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSpectrumReader(ctx, db, runID, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

// Package storage keeps the results of pipeline runs in a sqlite database: the runs
// themselves, per-stage spectra, detected events and sleep statistics.
package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

// Store provides an interface for persisting and querying pipeline results.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateRun registers a new pipeline run and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - subject: Subject or recording identifier
	//   - recording: Path of the processed recording
	//   - recipe: Optional recipe. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - runID: Unique identifier for the created run
	//   - error: If run creation fails or context is cancelled
	CreateRun(ctx context.Context, subject, recording string, recipe any) (runID string, err error)

	// Run retrieves a run by its ID. A missing run fails with ErrNoData.
	Run(ctx context.Context, id string) (*Run, error)

	// Runs returns all runs ordered by start time.
	Runs(ctx context.Context) ([]*Run, error)

	// StoreStageSpectra saves per-stage spectra of a run in a single transaction.
	// Empty spectra are kept so that the stage and its share of the recording survive.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - runID: ID of the run the spectra belong to
	//   - spectra: Stage spectra, as computed by the spectral stage
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreStageSpectra(ctx context.Context, runID string, spectra []*spectrum.StageSpectrum) error

	// StoreEvents saves detected events of a run in a single transaction.
	StoreEvents(ctx context.Context, runID string, events []EventRecord) error

	// StoreSleepStats saves the sleep statistics of a run, replacing earlier ones.
	StoreSleepStats(ctx context.Context, runID string, stats []hypno.Statistic) error

	// SleepStats returns the sleep statistics of a run in the order they were stored.
	SleepStats(ctx context.Context, runID string) ([]hypno.Statistic, error)

	// EventCounts returns the number of stored events per kind, channel and stage.
	EventCounts(ctx context.Context, runID string) ([]EventCount, error)

	// ReadStageSpectra creates a reader over the stored stage spectra of a run.
	// The returned reader must be closed after use.
	ReadStageSpectra(ctx context.Context, runID string, opts ...ReaderOption) (*SqliteSpectrumReader, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError rolls back unless the transaction was committed.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && rErr != sql.ErrTxDone && *err == nil {
		*err = rErr
	}
}

func toNullString(v any) (sql.NullString, error) {
	switch v := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: v, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(v), Valid: true}, nil
	default:
		p, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

func toNullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// toStageSpectrumData flattens s into one row per channel and frequency. An empty
// spectrum becomes a single row without channel, keeping the stage and its share.
func toStageSpectrumData(runID string, s *spectrum.StageSpectrum) []stageSpectrumData {
	base := stageSpectrumData{
		RunID:      runID,
		Stage:      s.Stage,
		StageIndex: int(s.Index),
		NSamples:   s.NSamples,
		Fraction:   s.Fraction,
	}
	if s.Empty() {
		return []stageSpectrumData{base}
	}

	out := make([]stageSpectrumData, 0, len(s.Channels)*len(s.Freqs))
	for c, ch := range s.Channels {
		for i, f := range s.Freqs {
			row := base
			row.Channel = sql.NullString{String: ch, Valid: true}
			row.ChannelIndex = sql.NullInt64{Int64: int64(c), Valid: true}
			row.Frequency = sql.NullFloat64{Float64: f, Valid: true}
			row.Power = toNullFloat(s.PSD[c][i])
			out = append(out, row)
		}
	}
	return out
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/sleepeeg/internal/detect"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// Run is one execution of a recipe over a recording.
type Run struct {
	ID        string
	StartTime time.Time
	Subject   string
	Recording string
	Recipe    *string // recipe as submitted, nil when not recorded
}

// EventRecord is one detected event in storage form. Attributes hold every column of
// the detector's table keyed by header name.
type EventRecord struct {
	Kind       string // "spindles", "slow_waves" or "rems"
	Channel    string
	Stage      hypno.Stage
	Start      float64
	End        float64
	Attributes map[string]string
}

// EventCount is the number of stored events of one kind in one channel and stage.
type EventCount struct {
	Kind    string
	Channel string
	Stage   hypno.Stage
	Count   int
}

// EventRecords converts detector output into storage records.
func EventRecords[T detect.Event](kind string, events []T) []EventRecord {
	if len(events) == 0 {
		return nil
	}

	var zero T
	header := zero.Header()

	out := make([]EventRecord, len(events))
	for i, e := range events {
		start, end := e.Span()
		attrs := make(map[string]string, len(header))
		for j, v := range e.Record() {
			if j < len(header) {
				attrs[header[j]] = v
			}
		}
		out[i] = EventRecord{
			Kind:       kind,
			Channel:    e.ChannelName(),
			Stage:      e.StageCode(),
			Start:      start,
			End:        end,
			Attributes: attrs,
		}
	}
	return out
}

type stageSpectrumData struct {
	RunID        string
	Stage        string
	StageIndex   int
	Channel      sql.NullString
	ChannelIndex sql.NullInt64
	Frequency    sql.NullFloat64
	Power        sql.NullFloat64
	NSamples     int
	Fraction     float64
}

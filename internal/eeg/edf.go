package eeg

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	openpsg "github.com/OpenPSG/edf"
	"github.com/ishiikurisu/edf"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

const (
	annotationsLabel = "EDF Annotations"
	edfDateLayout    = "02.01.06 15.04.05"

	// Recommended upper bound for a single EDF data record.
	maxRecordBytes = 61440
)

// ReadEDF loads an EDF/EDF+ file. Channels sampled at a different rate than the first
// data channel are dropped; annotation channels are parsed into annotations.
func ReadEDF(path string) (raw *Raw, err error) {
	if err = fsutil.MustExist(path); err != nil {
		return nil, err
	}

	// the reader panics on malformed input
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("reading edf file '%s': %v", path, r)
		}
	}()

	data := edf.ReadFile(path)

	duration := float64(data.GetDuration())
	if duration <= 0 {
		return nil, fmt.Errorf("reading edf file '%s': invalid record duration", path)
	}
	sfreq := float64(data.GetSampling()) / duration

	var labels []string
	var signals [][]float64
	for i, label := range data.GetLabels() {
		label = strings.TrimSpace(label)
		if label == annotationsLabel || i >= len(data.PhysicalRecords) {
			continue
		}
		series := data.PhysicalRecords[i]
		if len(signals) > 0 && len(series) != len(signals[0]) {
			continue
		}
		labels = append(labels, label)
		signals = append(signals, series)
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("reading edf file '%s': no data channels", path)
	}

	raw, err = NewRaw(labels, signals, sfreq)
	if err != nil {
		return nil, fmt.Errorf("reading edf file '%s': %w", path, err)
	}

	start := strings.TrimSpace(data.Header["startdate"]) + " " + strings.TrimSpace(data.Header["starttime"])
	if t, err := time.ParseInLocation(edfDateLayout, start, time.UTC); err == nil {
		raw.Info.MeasDate = t
	}
	raw.Annotations = parseNotes(data.WriteNotes())

	return raw, nil
}

// parseNotes reads "+onset duration description" lines as produced for EDF+ TALs.
func parseNotes(notes string) []Annotation {
	var out []Annotation

	scanner := bufio.NewScanner(strings.NewReader(notes))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		onset, err := strconv.ParseFloat(strings.TrimPrefix(fields[0], "+"), 64)
		if err != nil {
			continue
		}
		duration, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		out = append(out, Annotation{
			Onset:       onset,
			Duration:    duration,
			Description: strings.Join(fields[2:], " "),
		})
	}
	return out
}

// WriteEDF stores the recording as EDF with one-second data records.
func WriteEDF(path string, raw *Raw, overwrite bool) (err error) {
	sfreq := raw.Info.SFreq
	spr := int(sfreq)
	if float64(spr) != sfreq {
		return fmt.Errorf("writing edf: sampling frequency %v Hz is not integral", sfreq)
	}
	if size := spr * raw.NChannels() * 2; size > maxRecordBytes {
		return fmt.Errorf("writing edf: data record of %d bytes exceeds %d bytes", size, maxRecordBytes)
	}

	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	start := raw.Info.MeasDate
	if start.IsZero() {
		start = time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	hdr := openpsg.Header{
		Version:            openpsg.Version0,
		PatientID:          "X X X X",
		RecordingID:        "Startdate X X X X",
		StartTime:          start,
		DataRecordDuration: time.Second,
		SignalCount:        raw.NChannels(),
		Signals:            make([]openpsg.SignalHeader, raw.NChannels()),
	}
	for i, label := range raw.Labels {
		pmin, pmax := physicalRange(raw.Data[i])
		hdr.Signals[i] = openpsg.SignalHeader{
			Label:             label,
			PhysicalDimension: "uV",
			PhysicalMin:       pmin,
			PhysicalMax:       pmax,
			DigitalMin:        math.MinInt16,
			DigitalMax:        math.MaxInt16,
			Prefiltering:      fmt.Sprintf("HP:%gHz LP:%gHz", raw.Info.Highpass, raw.Info.Lowpass),
			SamplesPerRecord:  spr,
		}
	}

	w, err := openpsg.Create(f, hdr)
	if err != nil {
		return fmt.Errorf("writing edf header: %w", err)
	}

	record := make([][]float64, raw.NChannels())
	for offset := 0; offset < raw.NSamples(); offset += spr {
		end := min(offset+spr, raw.NSamples())
		for i, ch := range raw.Data {
			// the last record is zero padded to a full second
			rec := make([]float64, spr)
			copy(rec, ch[offset:end])
			record[i] = rec
		}
		if err = w.WriteRecord(record); err != nil {
			return fmt.Errorf("writing edf record: %w", err)
		}
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("finalizing edf: %w", err)
	}
	return nil
}

// physicalRange widens the data range to something the 8 character header field can hold.
func physicalRange(data []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 0) || hi-lo < 1 {
		mid := 0.0
		if !math.IsInf(lo, 0) {
			mid = (lo + hi) / 2
		}
		lo, hi = mid-1, mid+1
	}
	return math.Floor(lo), math.Ceil(hi)
}

package eeg

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrChannelNotFound = errors.New("channel not found")

// Info carries the recording metadata that the pipeline stages read and update.
type Info struct {
	SFreq    float64   // Sampling frequency in Hz
	Highpass float64   // Current high-pass cutoff in Hz, 0 when unfiltered
	Lowpass  float64   // Current low-pass cutoff in Hz, Nyquist when unfiltered
	Bads     []string  // Channels marked as bad
	MeasDate time.Time // Recording start
}

// Annotation marks a span of the recording, in seconds from the start.
type Annotation struct {
	Onset       float64
	Duration    float64
	Description string
}

// Raw is an in-memory multichannel recording. Samples are stored channel-major in
// microvolts. A *Raw is shared by every stage of a chain and mutated in place.
type Raw struct {
	Labels      []string
	Data        [][]float64
	Info        Info
	Annotations []Annotation
}

// NewRaw validates channel lengths and builds a recording with unfiltered metadata.
func NewRaw(labels []string, data [][]float64, sfreq float64) (*Raw, error) {
	if sfreq <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %v", sfreq)
	}
	if len(labels) != len(data) {
		return nil, fmt.Errorf("got %d labels for %d channels", len(labels), len(data))
	}
	for i := 1; i < len(data); i++ {
		if len(data[i]) != len(data[0]) {
			return nil, fmt.Errorf("channel %s has %d samples, expected %d", labels[i], len(data[i]), len(data[0]))
		}
	}

	return &Raw{
		Labels: labels,
		Data:   data,
		Info: Info{
			SFreq:   sfreq,
			Lowpass: sfreq / 2,
		},
	}, nil
}

// NChannels returns the number of channels.
func (r *Raw) NChannels() int {
	return len(r.Data)
}

// NSamples returns the number of samples per channel.
func (r *Raw) NSamples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the recording length in seconds.
func (r *Raw) Duration() float64 {
	return float64(r.NSamples()) / r.Info.SFreq
}

// Copy returns a deep copy of the recording.
func (r *Raw) Copy() *Raw {
	data := make([][]float64, len(r.Data))
	for i, ch := range r.Data {
		data[i] = slices.Clone(ch)
	}

	info := r.Info
	info.Bads = slices.Clone(r.Info.Bads)

	return &Raw{
		Labels:      slices.Clone(r.Labels),
		Data:        data,
		Info:        info,
		Annotations: slices.Clone(r.Annotations),
	}
}

// Index returns the position of the channel label, or -1.
func (r *Raw) Index(label string) int {
	return slices.Index(r.Labels, label)
}

// Channel returns the samples of the named channel.
func (r *Raw) Channel(label string) ([]float64, error) {
	i := r.Index(label)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, label)
	}
	return r.Data[i], nil
}

// IsBad reports whether the channel is marked bad.
func (r *Raw) IsBad(label string) bool {
	return slices.Contains(r.Info.Bads, label)
}

// SetBads replaces the bad channel list. Every name must be a known channel.
func (r *Raw) SetBads(names []string) error {
	for _, name := range names {
		if r.Index(name) < 0 {
			return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
		}
	}
	r.Info.Bads = slices.Clone(names)
	return nil
}

// Picks resolves channel names to indices. An empty selection means every good channel.
func (r *Raw) Picks(names []string) ([]int, error) {
	if len(names) == 0 {
		picks := make([]int, 0, len(r.Labels))
		for i, label := range r.Labels {
			if !r.IsBad(label) {
				picks = append(picks, i)
			}
		}
		return picks, nil
	}

	picks := make([]int, 0, len(names))
	for _, name := range names {
		i := r.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
		}
		picks = append(picks, i)
	}
	return picks, nil
}

// RejectMask marks every sample covered by an annotation whose description starts with
// "bad" (case-insensitive).
func (r *Raw) RejectMask() []bool {
	mask := make([]bool, r.NSamples())
	for _, a := range r.Annotations {
		if !strings.HasPrefix(strings.ToLower(a.Description), "bad") {
			continue
		}
		start := max(0, int(a.Onset*r.Info.SFreq))
		end := min(len(mask), int((a.Onset+a.Duration)*r.Info.SFreq))
		for i := start; i < end; i++ {
			mask[i] = true
		}
	}
	return mask
}

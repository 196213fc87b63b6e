package eeg

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	openpsg "github.com/OpenPSG/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

func testRaw(t *testing.T) *Raw {
	t.Helper()

	sf := 100.0
	n := 300
	data := make([][]float64, 3)
	for c := range data {
		data[c] = make([]float64, n)
		for i := range data[c] {
			data[c][i] = 50 * math.Sin(2*math.Pi*float64(c+1)*float64(i)/sf)
		}
	}
	raw, err := NewRaw([]string{"Fz", "Cz", "Pz"}, data, sf)
	require.NoError(t, err)
	return raw
}

func TestNewRawValidates(t *testing.T) {
	_, err := NewRaw([]string{"Fz"}, [][]float64{{1}, {2}}, 100)
	assert.Error(t, err)

	_, err = NewRaw([]string{"Fz", "Cz"}, [][]float64{{1, 2}, {2}}, 100)
	assert.Error(t, err)

	_, err = NewRaw([]string{"Fz"}, [][]float64{{1}}, 0)
	assert.Error(t, err)
}

func TestCopyIsDeep(t *testing.T) {
	raw := testRaw(t)
	require.NoError(t, raw.SetBads([]string{"Cz"}))

	cp := raw.Copy()
	cp.Data[0][0] = 1e6
	cp.Info.Highpass = 1
	cp.Info.Bads[0] = "Pz"

	assert.NotEqual(t, 1e6, raw.Data[0][0])
	assert.Equal(t, 0.0, raw.Info.Highpass)
	assert.Equal(t, []string{"Cz"}, raw.Info.Bads)
}

func TestPicks(t *testing.T) {
	raw := testRaw(t)
	require.NoError(t, raw.SetBads([]string{"Cz"}))

	picks, err := raw.Picks(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, picks)

	picks, err = raw.Picks([]string{"Pz", "Cz"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, picks)

	_, err = raw.Picks([]string{"O1"})
	assert.ErrorIs(t, err, ErrChannelNotFound)

	assert.ErrorIs(t, raw.SetBads([]string{"O1"}), ErrChannelNotFound)
}

func TestRejectMask(t *testing.T) {
	raw := testRaw(t)
	raw.Annotations = []Annotation{
		{Onset: 1, Duration: 0.5, Description: "BAD_movement"},
		{Onset: 2, Duration: 1, Description: "arousal"},
	}

	mask := raw.RejectMask()
	require.Len(t, mask, raw.NSamples())

	var n int
	for i, m := range mask {
		if m {
			n++
			assert.True(t, i >= 100 && i < 150, "sample %d", i)
		}
	}
	assert.Equal(t, 50, n)
}

func TestLoaderRegistry(t *testing.T) {
	_, err := LoaderFor("night.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	called := false
	Register(".XYZ", LoaderFunc(func(path string) (*Raw, error) {
		called = true
		return testRaw(t), nil
	}))

	raw, err := Open("night.xyz")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 3, raw.NChannels())
}

func TestBadChannelsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CleaningPipe", "bad_channels.txt")

	require.NoError(t, WriteBadChannels(path, []string{"E1", "E17"}, false))
	assert.ErrorIs(t, WriteBadChannels(path, []string{"E2"}, false), fsutil.ErrFileExists)

	names, err := ReadBadChannels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"E1", "E17"}, names)
}

func TestAnnotationsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.txt")
	in := []Annotation{
		{Onset: 12.5, Duration: 3, Description: "BAD_arousal"},
		{Onset: 120, Duration: 0, Description: "lights, off"},
	}

	require.NoError(t, WriteAnnotations(path, in, false))

	out, err := ReadAnnotations(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseNotes(t *testing.T) {
	notes := "+0 30 Sleep stage W\n+30.5 1.5 Arousal\nbroken\n"

	got := parseNotes(notes)
	require.Len(t, got, 2)
	assert.Equal(t, Annotation{Onset: 0, Duration: 30, Description: "Sleep stage W"}, got[0])
	assert.Equal(t, 30.5, got[1].Onset)
}

func TestWriteEDF(t *testing.T) {
	raw := testRaw(t)
	path := filepath.Join(t.TempDir(), "saved_raw", "resampled_100hz_raw.edf")

	require.NoError(t, WriteEDF(path, raw, false))
	assert.ErrorIs(t, WriteEDF(path, raw, false), fsutil.ErrFileExists)

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	er, err := openpsg.Open(f)
	require.NoError(t, err)

	sr, err := er.Signal(1)
	require.NoError(t, err)

	got := make([]float64, raw.NSamples())
	n, err := sr.Read(got)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, raw.NSamples(), n)
	for i := range got {
		assert.InDelta(t, raw.Data[1][i], got[i], 0.01)
	}
}

func TestWriteEDFRejectsFractionalRate(t *testing.T) {
	raw := testRaw(t)
	raw.Info.SFreq = 99.5
	err := WriteEDF(filepath.Join(t.TempDir(), "x.edf"), raw, false)
	assert.Error(t, err)
}

// Package ica decomposes multichannel recordings into independent components and removes
// selected components from the signal.
package ica

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

// Method names the decomposition algorithm.
type Method string

const FastICA Method = "fastica"

const (
	defaultMaxIter = 200
	defaultTol     = 1e-4
	minEigenvalue  = 1e-12
)

var (
	ErrNotFitted         = errors.New("decomposition is not fitted")
	ErrUnsupportedMethod = errors.New("unsupported decomposition method")
)

// FitParams tunes the FastICA iteration.
type FitParams struct {
	MaxIter int     `json:"maxIter" yaml:"maxIter"`
	Tol     float64 `json:"tol" yaml:"tol"`
	Seed    uint64  `json:"seed" yaml:"seed"`
	Decim   int     `json:"decim" yaml:"decim"` // fit on every Decim-th sample
}

// ICA is a fitted (or loaded) decomposition. Unmixing maps centred channel data to
// component sources, Mixing maps sources back to channels.
type ICA struct {
	Method      Method      `json:"method"`
	NComponents int         `json:"nComponents"`
	Channels    []string    `json:"channels"`
	Mean        []float64   `json:"mean"`
	Unmixing    [][]float64 `json:"unmixing"` // components x channels
	Mixing      [][]float64 `json:"mixing"`   // channels x components
	Exclude     []int       `json:"exclude"`
	NIter       int         `json:"nIter"`

	params FitParams
}

// New returns an unfitted decomposition. nComponents of zero keeps every channel.
func New(method Method, nComponents int, params FitParams) (*ICA, error) {
	if method == "" {
		method = FastICA
	}
	if method != FastICA {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if nComponents < 0 {
		return nil, fmt.Errorf("invalid number of components %d", nComponents)
	}
	if params.MaxIter <= 0 {
		params.MaxIter = defaultMaxIter
	}
	if params.Tol <= 0 {
		params.Tol = defaultTol
	}
	if params.Decim <= 0 {
		params.Decim = 1
	}
	return &ICA{Method: method, NComponents: nComponents, params: params}, nil
}

// Fitted reports whether the decomposition holds unmixing weights.
func (d *ICA) Fitted() bool {
	return len(d.Unmixing) > 0
}

// ChannelNames returns the channels the decomposition was fitted on, in row order.
func (d *ICA) ChannelNames() []string {
	return d.Channels
}

// Excluded returns the components marked for removal.
func (d *ICA) Excluded() []int {
	return d.Exclude
}

// Fit estimates the decomposition from channel-major data.
func (d *ICA) Fit(data [][]float64, channels []string) error {
	nch := len(data)
	if nch == 0 || len(data[0]) == 0 {
		return errors.New("no data to fit")
	}
	if len(channels) != nch {
		return fmt.Errorf("got %d channel names for %d channels", len(channels), nch)
	}

	ncomp := d.NComponents
	if ncomp == 0 {
		ncomp = nch
	}
	if ncomp > nch {
		return fmt.Errorf("%d components requested from %d channels", ncomp, nch)
	}

	x, mean := centred(data, d.params.Decim)
	_, m := x.Dims()

	whitening, dewhitening, err := whiten(x, ncomp)
	if err != nil {
		return fmt.Errorf("whitening: %w", err)
	}

	var xw mat.Dense
	xw.Mul(whitening, x)

	w, iter, err := d.fastICA(&xw, ncomp, m)
	if err != nil {
		return err
	}

	var unmixing, mixing mat.Dense
	unmixing.Mul(w, whitening)
	mixing.Mul(dewhitening, w.T())

	d.NComponents = ncomp
	d.Channels = slices.Clone(channels)
	d.Mean = mean
	d.Unmixing = toRows(&unmixing)
	d.Mixing = toRows(&mixing)
	d.NIter = iter
	return nil
}

func (d *ICA) fastICA(xw *mat.Dense, ncomp, m int) (*mat.Dense, int, error) {
	rng := rand.New(rand.NewPCG(d.params.Seed, d.params.Seed^0x9e3779b97f4a7c15))
	init := make([]float64, ncomp*ncomp)
	for i := range init {
		init[i] = rng.NormFloat64()
	}

	w, err := symmetricDecorrelation(mat.NewDense(ncomp, ncomp, init))
	if err != nil {
		return nil, 0, err
	}

	var y, gx, next mat.Dense
	gPrime := make([]float64, ncomp)

	for iter := 1; iter <= d.params.MaxIter; iter++ {
		y.Mul(w, xw)

		// logcosh contrast: g = tanh, g' = 1 - tanh^2
		gx.Apply(func(i, j int, v float64) float64 { return math.Tanh(v) }, &y)
		for i := range ncomp {
			var s float64
			for _, v := range gx.RawRowView(i) {
				s += 1 - v*v
			}
			gPrime[i] = s / float64(m)
		}

		next.Mul(&gx, xw.T())
		next.Scale(1/float64(m), &next)
		for i := range ncomp {
			row := next.RawRowView(i)
			for j := range row {
				row[j] -= gPrime[i] * w.At(i, j)
			}
		}

		decorrelated, err := symmetricDecorrelation(&next)
		if err != nil {
			return nil, 0, err
		}

		var lim float64
		for i := range ncomp {
			dot := mat.Dot(decorrelated.RowView(i), w.RowView(i))
			lim = math.Max(lim, math.Abs(math.Abs(dot)-1))
		}

		w = decorrelated
		if lim < d.params.Tol {
			return w, iter, nil
		}
	}
	return w, d.params.MaxIter, nil
}

// Sources projects channel data onto the components.
func (d *ICA) Sources(data [][]float64) ([][]float64, error) {
	if !d.Fitted() {
		return nil, ErrNotFitted
	}
	if len(data) != len(d.Channels) {
		return nil, fmt.Errorf("got %d channels, decomposition has %d", len(data), len(d.Channels))
	}

	x, _ := centredWith(data, d.Mean)
	var s mat.Dense
	s.Mul(fromRows(d.Unmixing), x)
	return toRows(&s), nil
}

// Apply removes the excluded components from data in place.
func (d *ICA) Apply(data [][]float64, exclude []int) error {
	if !d.Fitted() {
		return ErrNotFitted
	}
	if len(data) != len(d.Channels) {
		return fmt.Errorf("got %d channels, decomposition has %d", len(data), len(d.Channels))
	}
	for _, k := range exclude {
		if k < 0 || k >= d.NComponents {
			return fmt.Errorf("component %d out of range [0, %d)", k, d.NComponents)
		}
	}
	if len(exclude) == 0 || len(data[0]) == 0 {
		return nil
	}

	unmixing := fromRows(d.Unmixing)
	mixing := fromRows(d.Mixing)

	nch := len(data)
	uEx := mat.NewDense(len(exclude), nch, nil)
	aEx := mat.NewDense(nch, len(exclude), nil)
	for i, k := range exclude {
		uEx.SetRow(i, unmixing.RawRowView(k))
		aEx.SetCol(i, mat.Col(nil, k, mixing))
	}

	x, _ := centredWith(data, d.Mean)

	var sources, artefact mat.Dense
	sources.Mul(uEx, x)
	artefact.Mul(aEx, &sources)

	for c := range data {
		row := artefact.RawRowView(c)
		for i := range data[c] {
			data[c][i] -= row[i]
		}
	}
	return nil
}

// Save writes the decomposition as JSON.
func (d *ICA) Save(path string, overwrite bool) (err error) {
	if !d.Fitted() {
		return ErrNotFitted
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

	enc := json.NewEncoder(f)
	if err = enc.Encode(d); err != nil {
		return fmt.Errorf("encoding decomposition: %w", err)
	}
	return nil
}

// Load reads a decomposition written by Save.
func Load(path string) (*ICA, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading decomposition: %w", err)
	}

	var d ICA
	if err = json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decoding decomposition: %w", err)
	}
	if d.Method != FastICA {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, d.Method)
	}
	if len(d.Unmixing) != d.NComponents || len(d.Mixing) != len(d.Channels) {
		return nil, errors.New("decomposition matrices do not match its shape")
	}

	d.params = FitParams{MaxIter: defaultMaxIter, Tol: defaultTol, Decim: 1}
	return &d, nil
}

// whiten returns the PCA whitening matrix (ncomp x nch) and its pseudo-inverse (nch x ncomp).
func whiten(x *mat.Dense, ncomp int) (*mat.Dense, *mat.Dense, error) {
	nch, m := x.Dims()

	var cov mat.SymDense
	cov.SymOuterK(1/float64(m), x)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return nil, nil, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	whitening := mat.NewDense(ncomp, nch, nil)
	dewhitening := mat.NewDense(nch, ncomp, nil)

	// eigenvalues come in ascending order
	for k := range ncomp {
		idx := nch - 1 - k
		ev := values[idx]
		if ev < minEigenvalue {
			return nil, nil, fmt.Errorf("data rank is below %d components", ncomp)
		}
		scale := 1 / math.Sqrt(ev)
		for c := range nch {
			v := vectors.At(c, idx)
			whitening.Set(k, c, v*scale)
			dewhitening.Set(c, k, v/scale)
		}
	}
	return whitening, dewhitening, nil
}

// symmetricDecorrelation returns (W W^T)^(-1/2) W.
func symmetricDecorrelation(w *mat.Dense) (*mat.Dense, error) {
	n, _ := w.Dims()

	var s mat.SymDense
	s.SymOuterK(1, w)

	var eig mat.EigenSym
	if ok := eig.Factorize(&s, true); !ok {
		return nil, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	inv := make([]float64, n)
	for i, v := range values {
		inv[i] = 1 / math.Sqrt(math.Max(v, minEigenvalue))
	}

	var tmp, isqrt, out mat.Dense
	tmp.Mul(&vectors, mat.NewDiagDense(n, inv))
	isqrt.Mul(&tmp, vectors.T())
	out.Mul(&isqrt, w)
	return &out, nil
}

func centred(data [][]float64, decim int) (*mat.Dense, []float64) {
	nch := len(data)
	m := (len(data[0]) + decim - 1) / decim

	mean := make([]float64, nch)
	x := mat.NewDense(nch, m, nil)
	for c, ch := range data {
		row := x.RawRowView(c)
		for i := range m {
			row[i] = ch[i*decim]
			mean[c] += row[i]
		}
		mean[c] /= float64(m)
		for i := range row {
			row[i] -= mean[c]
		}
	}
	return x, mean
}

func centredWith(data [][]float64, mean []float64) (*mat.Dense, []float64) {
	x := mat.NewDense(len(data), len(data[0]), nil)
	for c, ch := range data {
		row := x.RawRowView(c)
		for i, v := range ch {
			row[i] = v - mean[c]
		}
	}
	return x, mean
}

func toRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = slices.Clone(m.RawRowView(i))
	}
	return out
}

func fromRows(rows [][]float64) *mat.Dense {
	c := len(rows[0])
	m := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m
}

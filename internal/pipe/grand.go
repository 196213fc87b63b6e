package pipe

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

// GrandPipe averages the stage spectra of several recordings. Member layouts are
// assumed comparable; the first member supplies the metadata.
type GrandPipe struct {
	name    string
	members []*SpectralPipe
	psds    *StageAggregator
	dir     string
	logger  *slog.Logger
}

// NewGrandPipe groups members, of which there must be at least one. Results are
// written under the first member's output directory.
func NewGrandPipe(members ...*SpectralPipe) (*GrandPipe, error) {
	if len(members) == 0 {
		return nil, NewConfigError("at least one member is required")
	}
	for i, m := range members {
		if m == nil {
			return nil, NewConfigError(fmt.Sprintf("member %d is nil", i))
		}
	}

	g := &GrandPipe{
		name:    "GrandPipe",
		members: members,
		logger:  members[0].logger,
	}
	g.dir = filepath.Join(members[0].OutputDir(), g.name)
	return g, nil
}

func (g *GrandPipe) Name() string {
	return g.name
}

// Source is the first member's signal source.
func (g *GrandPipe) Source() *Source {
	return g.members[0].Source()
}

func (g *GrandPipe) Members() []*SpectralPipe {
	return g.members
}

func (g *GrandPipe) Dir() string {
	return g.dir
}

// SF is the sampling frequency of the first member.
func (g *GrandPipe) SF() (float64, error) {
	return g.members[0].SF()
}

func (g *GrandPipe) PSDs() *StageAggregator {
	return g.psds
}

// ComputePSDsPerStage averages the members' stage spectra, weighting each member by its
// sample count in the stage. Every member must have computed its spectra; the stages
// of the first member are used.
func (g *GrandPipe) ComputePSDsPerStage() (*StageAggregator, error) {
	for _, m := range g.members {
		if m.PSDs() == nil {
			return nil, fmt.Errorf("member %s of %s: %w", m.Source().Path(), g.name, spectrum.ErrNoSpectra)
		}
	}

	agg, err := NewStageAggregator(g.members[0].PSDs().Stages())
	if err != nil {
		return nil, err
	}
	for _, si := range agg.stages {
		spectra := make([]*spectrum.StageSpectrum, 0, len(g.members))
		for _, m := range g.members {
			spectra = append(spectra, m.PSDs().Spectrum(si.Name))
		}
		combined, err := spectrum.Combine(si.Name, si.Stage, spectra)
		if err != nil {
			return nil, fmt.Errorf("combining %s: %w", si.Name, err)
		}
		if err = agg.Set(combined); err != nil {
			return nil, err
		}
		g.logger.Info("grand stage spectrum",
			slog.String("stage", si.Name),
			slog.Int("samples", combined.NSamples),
			slog.Int("members", len(spectra)),
		)
	}

	g.psds = agg
	return agg, nil
}

// PlotPSDPerStage draws the grand spectra like SpectralPipe.PlotPSDPerStage, writing
// {Dir}/psd.png when saving.
func (g *GrandPipe) PlotPSDPerStage(opts PSDPlotOptions) ([]byte, error) {
	if g.psds == nil {
		return nil, fmt.Errorf("%s: %w", g.name, spectrum.ErrNoSpectra)
	}
	return plotPSDs(g.psds.Spectra(), opts, filepath.Join(g.dir, "psd.png"), g.logger)
}

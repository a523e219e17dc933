package cache

import (
	"fmt"
	"sort"
	"strings"
)

type eqBand struct {
	freq float64 // Hz
	gain float64 // dB
	q    float64
}

var eqFrequencies = []float64{63, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// presetGains lists the gain per band in eqFrequencies order.
var presetGains = map[string][]float64{
	"cinema":    {2.0, 1.5, 0.5, -0.5, 0.0, 1.0, 2.0, 1.5, 0.5},
	"maxwide":   {3.0, 2.0, 0.0, -1.0, -0.5, 1.5, 3.0, 2.5, 1.0},
	"bassboost": {6.0, 4.0, 2.0, 0.0, -0.5, 0.0, 0.5, 0.0, -0.5},
	"vocal":     {-2.0, -1.0, 0.0, 2.0, 3.0, 3.5, 2.0, 0.5, -1.0},
	"neutral":   {0, 0, 0, 0, 0, 0, 0, 0, 0},
	"monitor":   {-1.0, -0.5, 0.0, 0.5, 0.0, -0.5, 0.0, -0.5, -1.0},
	"club":      {4.0, 3.0, 1.0, -2.0, -2.0, 0.0, 3.0, 3.5, 2.0},
}

// Presets returns the names of the available equalizer presets.
func Presets() []string {
	names := make([]string, 0, len(presetGains))
	for name := range presetGains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func presetBands(name string) ([]eqBand, error) {
	gains, ok := presetGains[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown audio preset %q (available: %s)", name, strings.Join(Presets(), ", "))
	}
	bands := make([]eqBand, len(eqFrequencies))
	for i, f := range eqFrequencies {
		bands[i] = eqBand{freq: f, gain: gains[i], q: 0.7}
	}
	return bands, nil
}

// equalizerFilter renders a preset as an ffmpeg filter chain. Flat bands are
// left out; a fully flat preset yields an empty chain.
func equalizerFilter(name string) (string, error) {
	bands, err := presetBands(name)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, b := range bands {
		if b.gain == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("equalizer=f=%g:t=q:w=%g:g=%g", b.freq, b.q, b.gain))
	}
	return strings.Join(parts, ","), nil
}

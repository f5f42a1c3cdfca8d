package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Conditions is a smooth economic-conditions field: one noise track per
// market, sampled over ticks, centred on 1.0.
type Conditions struct {
	noise     opensimplex.Noise
	Amplitude float64
	Frequency float64
}

// NewConditions creates a field seeded for reproducibility.
func NewConditions(seed int64, amplitude float64) *Conditions {
	return &Conditions{
		noise:     opensimplex.NewNormalized(seed),
		Amplitude: amplitude,
		Frequency: 0.02,
	}
}

// At returns the conditions multiplier for track at tick, in
// [1-Amplitude, 1+Amplitude].
func (c *Conditions) At(track int, tick uint64) float64 {
	if c == nil || c.Amplitude == 0 {
		return 1
	}
	n := octaveNoise(c.noise, float64(track)*7.31, float64(tick), 3, c.Frequency, 0.5)
	return 1 + c.Amplitude*(2*n-1)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

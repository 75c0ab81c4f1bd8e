// Package profiler implements the Cortex: it converts a task's primary input
// into a DataProfile describing the data's intrinsic cost posture.
package profiler

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/profile"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/sensors"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// powerEpsilon is the total spectral magnitude below which the signal is
// treated as silent: centroid and entropy are then 0.
const powerEpsilon = 1e-9

// Cortex derives data profiles. Analysis is deterministic with respect to the
// task; the sensor context comes from the oracle or a one-shot override.
type Cortex struct {
	logger    *zap.Logger
	collector *sensors.Collector

	mu       sync.Mutex
	override *profile.SensorContext
}

// New creates a Cortex. collector may be nil, in which case sensor defaults
// are used.
func New(logger *zap.Logger, collector *sensors.Collector) *Cortex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cortex{logger: logger.Named("profiler"), collector: collector}
}

// OverrideNextSensorContext installs a one-shot sensor context consumed by
// the next Analyze call.
func (c *Cortex) OverrideNextSensorContext(sc profile.SensorContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = &sc
}

// Analyze profiles the task's primary input buffer. It never fails: missing
// or degenerate data yields a best-effort zero profile with sparsity 1.
func (c *Cortex) Analyze(ctx context.Context, t *shared.Task) profile.DataProfile {
	var p profile.DataProfile
	p.SparsityRatio = 1.0

	if t != nil && t.InA != nil && t.InA.ByteLen() > 0 {
		p.HammingWeight = kernels.BufferWeight(t.InA)
		totalBits := float64(t.InA.ByteLen()) * 8
		p.SparsityRatio = 1.0 - float64(p.HammingWeight)/totalBits

		samples := t.InA.Samples()
		p.AmplitudeFlux = amplitudeFlux(samples)
		p.FrequencyFlux, p.EntropyFlux = spectralFlux(samples)
	}

	p.Sensors = c.sensorContext(ctx)
	c.logger.Debug("profiled task",
		zap.Float64("amplitudeFlux", p.AmplitudeFlux),
		zap.Float64("frequencyFlux", p.FrequencyFlux),
		zap.Float64("entropyFlux", p.EntropyFlux),
		zap.Uint64("hammingWeight", p.HammingWeight),
		zap.Float64("sparsityRatio", p.SparsityRatio))
	return p
}

func (c *Cortex) sensorContext(ctx context.Context) profile.SensorContext {
	c.mu.Lock()
	if c.override != nil {
		sc := *c.override
		c.override = nil
		c.mu.Unlock()
		return sc
	}
	c.mu.Unlock()

	if c.collector == nil {
		return profile.DefaultSensorContext()
	}
	return c.collector.Gather(ctx)
}

// amplitudeFlux is the mean absolute first difference of the sample sequence.
// Non-finite samples are skipped so corrupt payloads cannot poison the cost
// model.
func amplitudeFlux(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		if !isFinite(d) {
			continue
		}
		sum += math.Abs(d)
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// spectralFlux computes the spectral centroid (normalized so Nyquist is 0.5)
// and the normalized spectral entropy of the magnitude spectrum.
func spectralFlux(samples []float64) (centroid, entropy float64) {
	n := len(samples)
	if n < 2 {
		return 0, 0
	}

	clean := make([]float64, n)
	for i, v := range samples {
		if isFinite(v) {
			clean[i] = v
		}
	}

	coeff := fourier.NewFFT(n).Coefficients(nil, clean)
	mags := make([]float64, len(coeff))
	var total float64
	for i, cv := range coeff {
		mags[i] = math.Hypot(real(cv), imag(cv))
		total += mags[i]
	}
	if total <= powerEpsilon {
		return 0, 0
	}

	var weighted float64
	for i, m := range mags {
		weighted += float64(i) / float64(n) * m
	}
	centroid = weighted / total

	if len(mags) > 1 {
		var h float64
		for _, m := range mags {
			pr := m / total
			if pr > powerEpsilon {
				h -= pr * math.Log2(pr)
			}
		}
		entropy = h / math.Log2(float64(len(mags)))
	}
	return centroid, entropy
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

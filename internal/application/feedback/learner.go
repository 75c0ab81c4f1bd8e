// Package feedback implements the learning loop: comparing predicted and
// observed flux, assigning credit across the belief tables, and driving
// epsilon-greedy exploration.
package feedback

import (
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/belief"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// Config holds the learning knobs.
type Config struct {
	// QuarkThreshold suppresses updates when |deviation| falls below it.
	QuarkThreshold float64
	// TransformRate scales absolute shifts of transform costs.
	TransformRate float64
	// BaseRate scales relative adjustments of base costs.
	BaseRate float64
	// SensitivityRate scales multiplicative adjustments of lambdas.
	SensitivityRate float64
	// ExplorationRate is the Bernoulli probability of choosing the
	// second-best candidate.
	ExplorationRate float64
}

// DefaultConfig returns the canonical learning rates.
func DefaultConfig() Config {
	return Config{
		QuarkThreshold:  0.15,
		TransformRate:   0.10,
		BaseRate:        0.05,
		SensitivityRate: 0.10,
		ExplorationRate: 0.05,
	}
}

// Learner updates the belief store from execution feedback.
type Learner struct {
	beliefs *belief.Store
	logger  *zap.Logger

	mu   sync.Mutex
	cfg  Config
	rand *rand.Rand
}

// NewLearner creates a learner over the belief store. seed fixes the
// exploration stream; pass 0 for an arbitrary seed.
func NewLearner(beliefs *belief.Store, cfg Config, seed int64, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Learner{
		beliefs: beliefs,
		logger:  logger.Named("feedback"),
		cfg:     cfg,
		rand:    rand.New(rand.NewSource(seed)),
	}
}

// SetExplorationRate forces the exploration probability, clamped to [0,1].
func (l *Learner) SetExplorationRate(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	l.cfg.ExplorationRate = rate
}

// ExplorationRate returns the current exploration probability.
func (l *Learner) ExplorationRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.ExplorationRate
}

// ShouldExplore samples the exploration Bernoulli.
func (l *Learner) ShouldExplore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.ExplorationRate <= 0 {
		return false
	}
	if l.cfg.ExplorationRate >= 1 {
		return true
	}
	return l.rand.Float64() < l.cfg.ExplorationRate
}

// Learn performs credit assignment for one executed plan. The pass is
// best-effort: a context whose keys match nothing logs a warning and changes
// no beliefs.
func (l *Learner) Learn(lc shared.LearningContext, predicted float64, rec shared.PerformanceRecord) {
	observed := rec.ObservedHolisticFlux

	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	if predicted == 0 {
		if observed == 0 {
			return
		}
		// Quark of magnitude 1: prediction said free, reality disagreed.
		l.learnFromZeroPrediction(lc, observed, cfg)
		return
	}

	deviation := (observed - predicted) / predicted
	if math.Abs(deviation) < cfg.QuarkThreshold {
		l.logger.Debug("deviation within threshold, beliefs stable",
			zap.String("path", lc.PathName),
			zap.Float64("deviation", deviation))
		return
	}

	l.logger.Info("flux quark detected",
		zap.String("path", lc.PathName),
		zap.Float64("predicted", predicted),
		zap.Float64("observed", observed),
		zap.Float64("deviation", deviation))

	touched := false
	if lc.TransformKey != "" && l.beliefs.HasTransform(lc.TransformKey) {
		l.beliefs.UpdateTransform(lc.TransformKey, (observed-predicted)*cfg.TransformRate)
		touched = true
	}
	if lc.MainOperationName != "" && l.beliefs.HasBase(lc.MainOperationName) {
		l.beliefs.UpdateBase(lc.MainOperationName, deviation*cfg.BaseRate)
		touched = true
	}
	if lc.OperationKey != "" && l.beliefs.HasSensitivity(lc.OperationKey) {
		old := l.beliefs.Sensitivity(lc.OperationKey)
		if old == 0 {
			l.beliefs.SetSensitivity(lc.OperationKey, math.Max(0.01, observed*cfg.SensitivityRate))
		}
		l.beliefs.UpdateSensitivity(lc.OperationKey, 1+deviation*cfg.SensitivityRate)
		touched = true
	}
	if !touched {
		l.logger.Warn("could not assign credit: no learning context key matched",
			zap.String("path", lc.PathName),
			zap.String("transformKey", lc.TransformKey),
			zap.String("mainOperation", lc.MainOperationName),
			zap.String("operationKey", lc.OperationKey))
	}
}

// learnFromZeroPrediction handles the predicted-zero, observed-nonzero case:
// the observed absolute value is the lesson.
func (l *Learner) learnFromZeroPrediction(lc shared.LearningContext, observed float64, cfg Config) {
	l.logger.Info("flux quark detected: predicted zero flux",
		zap.String("path", lc.PathName),
		zap.Float64("observed", observed))

	if lc.TransformKey != "" && l.beliefs.HasTransform(lc.TransformKey) {
		l.beliefs.SetTransformCost(lc.TransformKey, observed)
		return
	}
	if lc.OperationKey != "" && l.beliefs.HasSensitivity(lc.OperationKey) {
		old := l.beliefs.Sensitivity(lc.OperationKey)
		next := math.Max(old, 0.01) + observed*cfg.SensitivityRate
		l.beliefs.SetSensitivity(lc.OperationKey, next)
	}
}

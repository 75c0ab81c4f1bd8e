// Package fusion implements the pattern engine: it mines recent plan history
// for recurring operational step pairs and registers fused super-kernels.
package fusion

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/belief"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/plan"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// FusionDiscount is the prior applied to a fused kernel's seeded base cost,
// reflecting expected savings from elided intermediate buffering.
const FusionDiscount = 0.8

// Engine records executed plans and periodically analyzes the history.
// Registered fused kernels are never de-registered.
type Engine struct {
	history *plan.History
	beliefs *belief.Store
	lib     *kernels.Library
	logger  *zap.Logger

	mu        sync.Mutex
	counter   uint64
	threshold int
	interval  int
}

// NewEngine creates a pattern engine. threshold is the minimum pair count for
// fusion; interval is the number of recorded plans between analysis passes.
func NewEngine(lib *kernels.Library, beliefs *belief.Store, history *plan.History, threshold, interval int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 3
	}
	if interval <= 0 {
		interval = 10
	}
	return &Engine{
		history:   history,
		beliefs:   beliefs,
		lib:       lib,
		logger:    logger.Named("fusion"),
		threshold: threshold,
		interval:  interval,
	}
}

// SetTuning adjusts the fusion threshold and analysis interval.
func (e *Engine) SetTuning(threshold, interval int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if threshold > 0 {
		e.threshold = threshold
	}
	if interval > 0 {
		e.interval = interval
	}
}

// ResetCounter zeroes the analysis trigger counter and clears the history.
func (e *Engine) ResetCounter() {
	e.mu.Lock()
	e.counter = 0
	e.mu.Unlock()
	e.history.Reset()
}

// Record appends an executed plan to the history and triggers analysis every
// interval executions.
func (e *Engine) Record(pl plan.Plan) {
	e.history.Append(pl)

	e.mu.Lock()
	e.counter++
	trigger := e.counter%uint64(e.interval) == 0
	e.mu.Unlock()

	if trigger {
		e.Analyze()
	}
}

// Analyze counts consecutive operational step pairs across the retained
// history and registers a fused kernel for every pair meeting the threshold.
func (e *Engine) Analyze() {
	e.mu.Lock()
	threshold := e.threshold
	e.mu.Unlock()

	counts := e.frequentSequences()
	if len(counts) == 0 {
		return
	}
	for seq, count := range counts {
		e.logger.Debug("observed sequence",
			zap.String("first", seq.first),
			zap.String("second", seq.second),
			zap.Int("count", count))
		if count >= threshold {
			e.registerFused(seq.first, seq.second)
		}
	}
}

type opPair struct {
	first  string
	second string
}

// frequentSequences enumerates consecutive step pairs within each retained
// plan. Pairs touching JIT control steps, ops without a base cost, or a step
// repeated against itself are excluded.
func (e *Engine) frequentSequences() map[opPair]int {
	counts := make(map[opPair]int)
	for _, pl := range e.history.Snapshot() {
		for i := 0; i+1 < len(pl.Steps); i++ {
			a := pl.Steps[i].Op
			b := pl.Steps[i+1].Op
			if a == b {
				continue
			}
			if isJITControl(a) || isJITControl(b) {
				continue
			}
			if !e.beliefs.HasBase(a) || !e.beliefs.HasBase(b) {
				continue
			}
			counts[opPair{a, b}]++
		}
	}
	return counts
}

func isJITControl(op string) bool {
	return strings.HasPrefix(op, shared.JITCompilePrefix) ||
		strings.HasPrefix(op, shared.JITExecutePrefix)
}

// registerFused adds FUSED_A_B to the kernel library as the sequential
// composition of A and B, and seeds its base cost with the discounted sum of
// the component costs. Existing entries are left alone.
func (e *Engine) registerFused(a, b string) {
	name := shared.FusedKernelPrefix + a + "_" + b
	if e.lib.Has(name) {
		return
	}

	e.lib.RegisterNative(name, e.composeKernel(a, b))
	seed := FusionDiscount * (e.beliefs.BaseCost(a) + e.beliefs.BaseCost(b))
	e.beliefs.SetBaseCost(name, seed)

	e.logger.Info("registered fused kernel",
		zap.String("kernel", name),
		zap.Float64("seedCost", seed))
}

// composeKernel builds the fused kernel body: run A then B over the same
// resolved buffers, summing their reports. The second component's input
// Hamming weight is elided, modeling the skipped intermediate buffer read;
// later belief updates refine the overlap.
func (e *Engine) composeKernel(a, b string) kernels.Func {
	return func(args kernels.Args) (shared.FluxReport, error) {
		var total shared.FluxReport

		fa, ok := e.lib.Lookup(a)
		if !ok {
			return total, &shared.UnknownKernelError{Op: a}
		}
		fb, ok := e.lib.Lookup(b)
		if !ok {
			return total, &shared.UnknownKernelError{Op: b}
		}

		ra, err := fa(args)
		if err != nil {
			return total, &shared.KernelFailedError{Op: a, Cause: err}
		}
		rb, err := fb(args)
		if err != nil {
			return total, &shared.KernelFailedError{Op: b, Cause: err}
		}

		total.Add(ra)
		rb.HWInCost = 0
		total.Add(rb)
		return total, nil
	}
}

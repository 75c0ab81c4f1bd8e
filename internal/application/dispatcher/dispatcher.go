// Package dispatcher implements the Cerebellum: step-by-step plan execution
// against the kernel library, including JIT control steps.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/plan"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/jit"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// Cerebellum executes plans. It owns the transient buffers of one execution
// and the JIT artifact staged between a compile step and its execute step;
// neither outlives the Execute call.
type Cerebellum struct {
	lib    *kernels.Library
	spec   *jit.Specializer
	logger *zap.Logger
}

// New creates a dispatcher over the kernel library and JIT specializer.
func New(lib *kernels.Library, spec *jit.Specializer, logger *zap.Logger) *Cerebellum {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cerebellum{lib: lib, spec: spec, logger: logger.Named("dispatcher")}
}

// Execute runs the plan against the task, summing kernel flux reports and
// measuring wall-clock latency around the whole plan. A kernel failure
// abandons the plan; no record is produced.
func (c *Cerebellum) Execute(ctx context.Context, pl plan.Plan, t *shared.Task) (shared.PerformanceRecord, error) {
	start := time.Now()

	// Per-execution symbol table. Intermediate tags resolve to transient
	// buffers owned by this execution only.
	tags := map[string]*shared.Buffer{
		plan.TagInput:  t.InA,
		plan.TagOutput: t.Out,
	}
	resolve := func(tag string) *shared.Buffer {
		if b, ok := tags[tag]; ok {
			return b
		}
		b := &shared.Buffer{Kind: shared.ElemFloat64}
		tags[tag] = b
		return b
	}

	var staged jit.CompiledKernel
	var total shared.FluxReport

	for _, step := range pl.Steps {
		c.logger.Debug("dispatching step", zap.String("op", step.Op))
		var report shared.FluxReport

		switch {
		case strings.HasPrefix(step.Op, shared.JITCompilePrefix):
			target := strings.TrimPrefix(step.Op, shared.JITCompilePrefix)
			if target != "SAXPY" {
				return shared.PerformanceRecord{}, &shared.UnknownKernelError{Op: step.Op}
			}
			compiled, err := c.spec.CompileSAXPY(t)
			if err != nil {
				return shared.PerformanceRecord{}, &shared.KernelFailedError{Op: step.Op, Cause: err}
			}
			staged = compiled
			// The compile contributes no measured flux; its cost is carried
			// by the transform belief, not by arithmetic cycles.

		case strings.HasPrefix(step.Op, shared.JITExecutePrefix):
			if staged == nil {
				return shared.PerformanceRecord{}, shared.ErrMissingJITArtifact
			}
			r, err := staged()
			if err != nil {
				return shared.PerformanceRecord{}, &shared.KernelFailedError{Op: step.Op, Cause: err}
			}
			report = r

		default:
			fn, ok := c.lib.Lookup(step.Op)
			if !ok {
				return shared.PerformanceRecord{}, &shared.UnknownKernelError{Op: step.Op}
			}
			r, err := fn(kernels.Args{Task: t, In: resolve(step.InTag), Out: resolve(step.OutTag)})
			if err != nil {
				return shared.PerformanceRecord{}, &shared.KernelFailedError{Op: step.Op, Cause: err}
			}
			report = r
		}

		total.Add(report)
	}

	rec := shared.RecordFromFlux(total, time.Since(start).Nanoseconds())
	c.logger.Debug("plan executed",
		zap.String("plan", pl.Name),
		zap.Uint64("cycleCost", rec.CycleCost),
		zap.Uint64("hwInCost", rec.HWInCost),
		zap.Uint64("hwOutCost", rec.HWOutCost),
		zap.Int64("latencyNs", rec.LatencyNS))
	return rec, nil
}

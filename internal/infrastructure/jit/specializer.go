// Package jit provides the data-adaptive kernel specializer invoked by the
// dispatcher's JIT_COMPILE_* control steps.
package jit

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// SAXPYFunc updates y in place: y[i] = alpha*x[i] + y[i].
type SAXPYFunc func(alpha float32, x, y []float32)

// CodeGenerator is an optional external generator of specialized kernel
// bodies. A nil function or an error from GenerateSAXPY falls back to the built-in
// deterministic variants.
type CodeGenerator interface {
	GenerateSAXPY(alpha float32, sparse bool) (SAXPYFunc, error)
}

// CompiledKernel is a specialized kernel closed over one task's buffers and
// scalar parameters. Invoking it performs the operation and reports flux.
type CompiledKernel func() (shared.FluxReport, error)

// SparsityCutoff is the zero-element fraction above which the sparse variant
// is selected.
const SparsityCutoff = 0.5

// Specializer inspects task data and selects (or generates) a kernel variant
// matched to it.
type Specializer struct {
	logger *zap.Logger
	gen    CodeGenerator
}

// NewSpecializer creates a specializer. gen may be nil; logger may be nil for
// a no-op logger.
func NewSpecializer(logger *zap.Logger, gen CodeGenerator) *Specializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Specializer{logger: logger.Named("jit"), gen: gen}
}

// CompileSAXPY specializes a SAXPY kernel for the task's input data: inputs
// whose zero fraction exceeds SparsityCutoff get the sparse variant, others
// the dense one. The returned kernel is closed over the task's buffers and
// alpha (default 1.0).
func (s *Specializer) CompileSAXPY(task *shared.Task) (CompiledKernel, error) {
	if task == nil || task.InA == nil || task.Out == nil {
		return nil, errors.New("JIT SAXPY requires input and output buffers")
	}

	x := task.InA.Float32s()
	sparse := zeroFraction(x) > SparsityCutoff
	alpha := task.AlphaOrDefault()

	variant := s.selectVariant(alpha, sparse)
	s.logger.Debug("specialized SAXPY kernel",
		zap.Bool("sparse", sparse),
		zap.Float32("alpha", alpha),
		zap.Int("elems", task.InA.Elems))

	inBuf, outBuf := task.InA, task.Out
	return func() (shared.FluxReport, error) {
		var report shared.FluxReport
		if inBuf.Elems == 0 {
			return report, nil
		}
		xs := inBuf.Float32s()
		ys := outBuf.Float32s()
		if xs == nil || ys == nil {
			return report, errors.New("JIT SAXPY requires float32 buffers")
		}
		report.HWInCost = kernels.BufferWeight(inBuf) + kernels.BufferWeight(outBuf)

		n := len(xs)
		if len(ys) < n {
			n = len(ys)
		}
		variant(alpha, xs[:n], ys[:n])
		outBuf.StoreFloat32s(ys)

		report.HWOutCost = kernels.BufferWeight(outBuf)
		report.CycleCost = uint64(n) * 2
		return report, nil
	}, nil
}

func (s *Specializer) selectVariant(alpha float32, sparse bool) SAXPYFunc {
	if s.gen != nil {
		fn, err := s.gen.GenerateSAXPY(alpha, sparse)
		if err == nil && fn != nil {
			return fn
		}
		if err != nil {
			s.logger.Warn("code generator failed, using built-in variant", zap.Error(err))
		}
	}
	if sparse {
		return saxpySparse
	}
	return saxpyDense
}

func zeroFraction(x []float32) float64 {
	if len(x) == 0 {
		return 1.0
	}
	var zeros int
	for _, v := range x {
		if v == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(x))
}

func saxpyDense(alpha float32, x, y []float32) {
	for i := range x {
		y[i] = alpha*x[i] + y[i]
	}
}

func saxpySparse(alpha float32, x, y []float32) {
	for i, v := range x {
		if v == 0 {
			continue
		}
		y[i] = alpha*v + y[i]
	}
}

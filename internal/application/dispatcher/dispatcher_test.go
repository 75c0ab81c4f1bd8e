package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/plan"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/jit"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

func newCerebellum() *Cerebellum {
	lib := kernels.NewLibrary()
	kernels.InstallNative(lib)
	return New(lib, jit.NewSpecializer(nil, nil), nil)
}

func saxpyPlan() plan.Plan {
	return plan.Plan{Name: "Standard", Steps: []plan.Step{
		{Op: shared.OpSAXPYStandard, InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}
}

func TestExecuteSAXPYPlan(t *testing.T) {
	c := newCerebellum()
	alpha := 2.0
	task := &shared.Task{
		Kind:  shared.TaskSAXPY,
		InA:   shared.FromFloat32s([]float32{1, 2}),
		Out:   shared.FromFloat32s([]float32{1, 1}),
		Alpha: &alpha,
	}

	rec, err := c.Execute(context.Background(), saxpyPlan(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := task.Out.Float32s()
	if got[0] != 3 || got[1] != 5 {
		t.Errorf("expected [3 5], got %v", got)
	}
	want := float64(rec.CycleCost + rec.HWInCost + rec.HWOutCost)
	if rec.ObservedHolisticFlux != want {
		t.Errorf("flux identity violated: %v != %v", rec.ObservedHolisticFlux, want)
	}
	if rec.LatencyNS <= 0 {
		t.Errorf("expected positive latency, got %d", rec.LatencyNS)
	}
}

func TestExecuteEmptyInputProducesZeroFluxRecord(t *testing.T) {
	c := newCerebellum()
	task := &shared.Task{
		Kind: shared.TaskSAXPY,
		InA:  shared.NewFloat32Buffer(0),
		Out:  shared.NewFloat32Buffer(0),
	}

	rec, err := c.Execute(context.Background(), saxpyPlan(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ObservedHolisticFlux != 0 || rec.CycleCost != 0 || rec.HWInCost != 0 || rec.HWOutCost != 0 {
		t.Errorf("expected all-zero flux record, got %+v", rec)
	}
}

func TestUnknownKernel(t *testing.T) {
	c := newCerebellum()
	task := &shared.Task{
		Kind: "CUSTOM",
		InA:  shared.FromFloat32s([]float32{1}),
		Out:  shared.NewFloat32Buffer(1),
	}
	pl := plan.Plan{Name: "Broken", Steps: []plan.Step{
		{Op: "NOT_A_KERNEL", InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}

	_, err := c.Execute(context.Background(), pl, task)
	var unknownErr *shared.UnknownKernelError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownKernelError, got %v", err)
	}
	if unknownErr.Op != "NOT_A_KERNEL" {
		t.Errorf("expected op NOT_A_KERNEL, got %q", unknownErr.Op)
	}
}

func TestExecuteJITWithoutCompile(t *testing.T) {
	c := newCerebellum()
	task := &shared.Task{
		Kind: shared.TaskSAXPY,
		InA:  shared.FromFloat32s([]float32{1}),
		Out:  shared.NewFloat32Buffer(1),
	}
	pl := plan.Plan{Name: "Orphan Execute", Steps: []plan.Step{
		{Op: shared.OpExecuteJITSAXPY, InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}

	_, err := c.Execute(context.Background(), pl, task)
	if !errors.Is(err, shared.ErrMissingJITArtifact) {
		t.Errorf("expected ErrMissingJITArtifact, got %v", err)
	}
}

func TestJITPlanCompilesThenExecutes(t *testing.T) {
	c := newCerebellum()
	alpha := 3.0
	task := &shared.Task{
		Kind:  shared.TaskSAXPY,
		InA:   shared.FromFloat32s([]float32{0, 0, 0, 2}),
		Out:   shared.FromFloat32s([]float32{1, 1, 1, 1}),
		Alpha: &alpha,
	}
	pl := plan.Plan{Name: "JIT Compiled", Steps: []plan.Step{
		{Op: shared.OpJITCompileSAXPY, InTag: plan.TagInput, OutTag: plan.TagOutput},
		{Op: shared.OpExecuteJITSAXPY, InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}

	rec, err := c.Execute(context.Background(), pl, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := task.Out.Float32s()
	want := []float32{1, 1, 1, 7}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("y[%d]: expected %v, got %v", i, v, got[i])
		}
	}
	// The compile step contributes no measured flux; only the execute step's
	// arithmetic shows up.
	if rec.CycleCost != 8 {
		t.Errorf("expected cycle cost 8 from execute step only, got %d", rec.CycleCost)
	}
}

func TestUnsupportedJITTarget(t *testing.T) {
	c := newCerebellum()
	task := &shared.Task{
		Kind: "CUSTOM",
		InA:  shared.FromFloat32s([]float32{1}),
		Out:  shared.NewFloat32Buffer(1),
	}
	pl := plan.Plan{Name: "Bad JIT", Steps: []plan.Step{
		{Op: "JIT_COMPILE_GEMM", InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}

	_, err := c.Execute(context.Background(), pl, task)
	var unknownErr *shared.UnknownKernelError
	if !errors.As(err, &unknownErr) {
		t.Errorf("expected UnknownKernelError for unsupported JIT target, got %v", err)
	}
}

func TestFrequencyPlanAllocatesTransientBuffers(t *testing.T) {
	c := newCerebellum()
	task := &shared.Task{
		Kind: shared.TaskConvolution,
		InA:  shared.FromFloat64s([]float64{1, 2, 3, 4, 5, 6, 7, 8}),
		InB:  shared.FromFloat64s([]float64{1}),
		Out:  shared.NewFloat64Buffer(8),
	}
	pl := plan.Plan{Name: "Frequency (FFT)", Steps: []plan.Step{
		{Op: shared.OpFFTForward, InTag: plan.TagInput, OutTag: "temp_freq"},
		{Op: shared.OpElementWiseMultiply, InTag: "temp_freq", OutTag: "temp_result"},
		{Op: shared.OpFFTInverse, InTag: "temp_result", OutTag: plan.TagOutput},
	}}

	rec, err := c.Execute(context.Background(), pl, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.CycleCost == 0 {
		t.Error("expected nonzero cycle cost from the FFT path")
	}

	// Identity response: output reproduces the input.
	got := task.Out.Float64s()
	for i, v := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		if diff := got[i] - v; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("sample %d: expected %v, got %v", i, v, got[i])
		}
	}
}

func TestKernelFailureAbandonsPlan(t *testing.T) {
	lib := kernels.NewLibrary()
	lib.RegisterNative("BOOM", func(kernels.Args) (shared.FluxReport, error) {
		return shared.FluxReport{}, errors.New("numerical instability")
	})
	c := New(lib, jit.NewSpecializer(nil, nil), nil)

	task := &shared.Task{
		Kind: "CUSTOM",
		InA:  shared.FromFloat32s([]float32{1}),
		Out:  shared.NewFloat32Buffer(1),
	}
	pl := plan.Plan{Name: "Boom", Steps: []plan.Step{
		{Op: "BOOM", InTag: plan.TagInput, OutTag: plan.TagOutput},
	}}

	_, err := c.Execute(context.Background(), pl, task)
	var failed *shared.KernelFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected KernelFailedError, got %v", err)
	}
	if failed.Op != "BOOM" {
		t.Errorf("expected op BOOM, got %q", failed.Op)
	}
}

package jit

import (
	"errors"
	"testing"

	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

func TestZeroFraction(t *testing.T) {
	tests := []struct {
		name string
		x    []float32
		want float64
	}{
		{"empty is fully sparse", nil, 1.0},
		{"dense", []float32{1, 2, 3, 4}, 0},
		{"half", []float32{0, 1, 0, 2}, 0.5},
		{"mostly zero", []float32{0, 0, 0, 1}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := zeroFraction(tt.x); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCompileSAXPYDense(t *testing.T) {
	spec := NewSpecializer(nil, nil)
	alpha := 2.0
	task := &shared.Task{
		Kind:  shared.TaskSAXPY,
		InA:   shared.FromFloat32s([]float32{1, 2, 3, 4}),
		Out:   shared.FromFloat32s([]float32{1, 1, 1, 1}),
		Alpha: &alpha,
	}

	kernel, err := spec.CompileSAXPY(task)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	report, err := kernel()
	if err != nil {
		t.Fatalf("kernel failed: %v", err)
	}

	want := []float32{3, 5, 7, 9}
	got := task.Out.Float32s()
	for i, v := range want {
		if got[i] != v {
			t.Errorf("y[%d]: expected %v, got %v", i, v, got[i])
		}
	}
	if report.CycleCost != 8 {
		t.Errorf("expected cycle cost 8, got %d", report.CycleCost)
	}
	if report.Total() != report.CycleCost+report.HWInCost+report.HWOutCost {
		t.Error("flux identity violated")
	}
}

func TestCompileSAXPYSparseSelection(t *testing.T) {
	spec := NewSpecializer(nil, nil)

	// 3 of 4 elements zero: the sparse variant must be chosen and still
	// produce the same arithmetic result.
	task := &shared.Task{
		Kind: shared.TaskSAXPY,
		InA:  shared.FromFloat32s([]float32{0, 0, 0, 4}),
		Out:  shared.FromFloat32s([]float32{1, 2, 3, 4}),
	}
	kernel, err := spec.CompileSAXPY(task)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := kernel(); err != nil {
		t.Fatalf("kernel failed: %v", err)
	}

	want := []float32{1, 2, 3, 8}
	got := task.Out.Float32s()
	for i, v := range want {
		if got[i] != v {
			t.Errorf("y[%d]: expected %v, got %v", i, v, got[i])
		}
	}
}

func TestCompileSAXPYMissingBuffers(t *testing.T) {
	spec := NewSpecializer(nil, nil)
	if _, err := spec.CompileSAXPY(&shared.Task{Kind: shared.TaskSAXPY}); err == nil {
		t.Error("expected error for missing buffers")
	}
}

type failingGenerator struct{}

func (failingGenerator) GenerateSAXPY(alpha float32, sparse bool) (SAXPYFunc, error) {
	return nil, errors.New("generator offline")
}

func TestGeneratorFailureFallsBack(t *testing.T) {
	spec := NewSpecializer(nil, failingGenerator{})
	task := &shared.Task{
		Kind: shared.TaskSAXPY,
		InA:  shared.FromFloat32s([]float32{1, 2}),
		Out:  shared.FromFloat32s([]float32{0, 0}),
	}

	kernel, err := spec.CompileSAXPY(task)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := kernel(); err != nil {
		t.Fatalf("kernel failed: %v", err)
	}

	got := task.Out.Float32s()
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("fallback variant produced wrong result: %v", got)
	}
}

func TestYaegiGeneratorDense(t *testing.T) {
	gen := NewYaegiGenerator()
	fn, err := gen.GenerateSAXPY(2.0, false)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	x := []float32{1, 2, 3}
	y := []float32{1, 1, 1}
	fn(2.0, x, y)

	want := []float32{3, 5, 7}
	for i, v := range want {
		if y[i] != v {
			t.Errorf("y[%d]: expected %v, got %v", i, v, y[i])
		}
	}
}

func TestYaegiGeneratorSparse(t *testing.T) {
	gen := NewYaegiGenerator()
	fn, err := gen.GenerateSAXPY(3.0, true)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	x := []float32{0, 2, 0}
	y := []float32{5, 5, 5}
	fn(3.0, x, y)

	want := []float32{5, 11, 5}
	for i, v := range want {
		if y[i] != v {
			t.Errorf("y[%d]: expected %v, got %v", i, v, y[i])
		}
	}
}

func TestSpecializerPrefersGenerator(t *testing.T) {
	spec := NewSpecializer(nil, NewYaegiGenerator())
	alpha := 2.0
	task := &shared.Task{
		Kind:  shared.TaskSAXPY,
		InA:   shared.FromFloat32s([]float32{1, 2}),
		Out:   shared.FromFloat32s([]float32{1, 1}),
		Alpha: &alpha,
	}

	kernel, err := spec.CompileSAXPY(task)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := kernel(); err != nil {
		t.Fatalf("kernel failed: %v", err)
	}

	got := task.Out.Float32s()
	if got[0] != 3 || got[1] != 5 {
		t.Errorf("generated kernel produced wrong result: %v", got)
	}
}

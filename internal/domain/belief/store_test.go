package belief

import (
	"testing"

	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

func TestAbsentKeysReadZero(t *testing.T) {
	s := NewStore(0)

	if got := s.BaseCost("NOPE"); got != 0 {
		t.Errorf("expected 0 for absent base cost, got %v", got)
	}
	if got := s.TransformCost("NOPE"); got != 0 {
		t.Errorf("expected 0 for absent transform cost, got %v", got)
	}
	if got := s.Sensitivity("NOPE"); got != 0 {
		t.Errorf("expected 0 for absent sensitivity, got %v", got)
	}
}

func TestInstallDefaults(t *testing.T) {
	s := NewStore(0)
	s.InstallDefaults()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"CONV_DIRECT base", s.BaseCost(shared.OpConvDirect), 200},
		{"GEMM_NAIVE base", s.BaseCost(shared.OpGEMMNaive), 500},
		{"GEMM_FLUX_ADAPTIVE base", s.BaseCost(shared.OpGEMMFluxAdaptive), 450},
		{"SAXPY_STANDARD base", s.BaseCost(shared.OpSAXPYStandard), 100},
		{"EXECUTE_JIT_SAXPY base", s.BaseCost(shared.OpExecuteJITSAXPY), 70},
		{"FFT_FORWARD transform", s.TransformCost(shared.OpFFTForward), 300},
		{"FFT_INVERSE transform", s.TransformCost(shared.OpFFTInverse), 280},
		{"JIT compile transform", s.TransformCost(shared.OpJITCompileSAXPY), 1000},
		{"lambda_Sparsity", s.Sensitivity(LambdaSparsity), 150},
		{"SAXPY hw lambda", s.Sensitivity(HWCombinedKey(shared.OpSAXPYStandard)), 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestCostFloorClamping(t *testing.T) {
	s := NewStore(1.0)
	s.SetBaseCost("OP", 50)
	s.SetTransformCost("TR", 50)

	if !s.UpdateBase("OP", -10.0) {
		t.Fatal("expected base update to apply")
	}
	if got := s.BaseCost("OP"); got != 1.0 {
		t.Errorf("expected base clamped to floor 1.0, got %v", got)
	}

	if !s.UpdateTransform("TR", -1000) {
		t.Fatal("expected transform update to apply")
	}
	if got := s.TransformCost("TR"); got != 1.0 {
		t.Errorf("expected transform clamped to floor 1.0, got %v", got)
	}

	s.SetBaseCost("OP2", -7)
	if got := s.BaseCost("OP2"); got != 1.0 {
		t.Errorf("expected set below floor to clamp, got %v", got)
	}
}

func TestSensitivityNonNegative(t *testing.T) {
	s := NewStore(0)
	s.SetSensitivity("k", 0.5)

	if !s.UpdateSensitivity("k", -3.0) {
		t.Fatal("expected sensitivity update to apply")
	}
	if got := s.Sensitivity("k"); got != 0 {
		t.Errorf("expected sensitivity clamped to 0, got %v", got)
	}

	s.SetSensitivity("neg", -1)
	if got := s.Sensitivity("neg"); got != 0 {
		t.Errorf("expected negative set to clamp to 0, got %v", got)
	}
}

func TestUpdatesIgnoreAbsentEntries(t *testing.T) {
	s := NewStore(0)

	if s.UpdateBase("missing", 0.5) {
		t.Error("expected base update of absent entry to be a no-op")
	}
	if s.UpdateTransform("missing", 10) {
		t.Error("expected transform update of absent entry to be a no-op")
	}
	if s.UpdateSensitivity("missing", 2) {
		t.Error("expected sensitivity update of absent entry to be a no-op")
	}
}

func TestUpdateArithmetic(t *testing.T) {
	s := NewStore(1.0)
	s.SetBaseCost("OP", 100)
	s.SetTransformCost("TR", 300)
	s.SetSensitivity("k", 0.1)

	s.UpdateBase("OP", 0.05)
	if got := s.BaseCost("OP"); got != 105 {
		t.Errorf("expected base 105, got %v", got)
	}
	s.UpdateTransform("TR", 10)
	if got := s.TransformCost("TR"); got != 310 {
		t.Errorf("expected transform 310, got %v", got)
	}
	s.UpdateSensitivity("k", 1.5)
	if got := s.Sensitivity("k"); got < 0.1499 || got > 0.1501 {
		t.Errorf("expected sensitivity ~0.15, got %v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(0)
	s.SetBaseCost("OP", 10)

	snap := s.Snapshot()
	snap.Base["OP"] = 999

	if got := s.BaseCost("OP"); got != 10 {
		t.Errorf("mutating snapshot leaked into store: %v", got)
	}
}

func TestHWCombinedKey(t *testing.T) {
	if got := HWCombinedKey("SAXPY_STANDARD"); got != "SAXPY_STANDARD_lambda_hw_combined" {
		t.Errorf("unexpected key %q", got)
	}
}

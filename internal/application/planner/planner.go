// Package planner implements the Orchestrator: candidate plan generation and
// predictive flux scoring against the belief store.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/belief"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/plan"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/profile"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// Plan names from the canonical rule table.
const (
	PlanConvDirect    = "Direct (Time)"
	PlanConvFrequency = "Frequency (FFT)"
	PlanGEMMNaive     = "Naive"
	PlanGEMMAdaptive  = "Flux-Adaptive"
	PlanSAXPYStandard = "Standard"
	PlanSAXPYJIT      = "JIT Compiled"
	PlanDirect        = "Direct"
)

// Step-name markers flagging plans whose cost depends on network or storage
// paths.
var (
	networkMarkers = []string{"NETWORK_", "REMOTE_"}
	ioMarkers      = []string{"DISK_", "LOAD_"}
)

// Orchestrator generates and scores candidate plans.
type Orchestrator struct {
	beliefs *belief.Store
	lib     *kernels.Library
	logger  *zap.Logger
}

// New creates an orchestrator over the given belief store and kernel library.
func New(beliefs *belief.Store, lib *kernels.Library, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{beliefs: beliefs, lib: lib, logger: logger.Named("planner")}
}

// Candidates returns the scored candidate plans for the task, sorted
// ascending by predicted holistic flux. The sort is stable, so ties keep
// rule-table insertion order. Returns shared.ErrUnroutableTask when no
// candidate exists.
func (o *Orchestrator) Candidates(t *shared.Task, p profile.DataProfile) ([]plan.Plan, error) {
	cands := o.generate(t.Kind)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: kind %q", shared.ErrUnroutableTask, t.Kind)
	}

	for i := range cands {
		cands[i].PredictedHolisticFlux = o.Score(cands[i], p)
		o.logger.Debug("scored candidate",
			zap.String("plan", cands[i].Name),
			zap.Float64("predictedFlux", cands[i].PredictedHolisticFlux))
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].PredictedHolisticFlux < cands[j].PredictedHolisticFlux
	})
	return cands, nil
}

// generate is the rule table keyed on task kind. Kinds without a table entry
// fall back to a single-step plan when a kernel of the same name is
// registered; this is how fused super-kernels become schedulable.
func (o *Orchestrator) generate(kind string) []plan.Plan {
	switch kind {
	case shared.TaskConvolution:
		return []plan.Plan{
			{Name: PlanConvDirect, Steps: []plan.Step{
				{Op: shared.OpConvDirect, InTag: plan.TagInput, OutTag: plan.TagOutput},
			}},
			{Name: PlanConvFrequency, Steps: []plan.Step{
				{Op: shared.OpFFTForward, InTag: plan.TagInput, OutTag: "temp_freq"},
				{Op: shared.OpElementWiseMultiply, InTag: "temp_freq", OutTag: "temp_result"},
				{Op: shared.OpFFTInverse, InTag: "temp_result", OutTag: plan.TagOutput},
			}},
		}
	case shared.TaskGEMM:
		return []plan.Plan{
			{Name: PlanGEMMNaive, Steps: []plan.Step{
				{Op: shared.OpGEMMNaive, InTag: plan.TagInput, OutTag: plan.TagOutput},
			}},
			{Name: PlanGEMMAdaptive, Steps: []plan.Step{
				{Op: shared.OpGEMMFluxAdaptive, InTag: plan.TagInput, OutTag: plan.TagOutput},
			}},
		}
	case shared.TaskSAXPY:
		return []plan.Plan{
			{Name: PlanSAXPYStandard, Steps: []plan.Step{
				{Op: shared.OpSAXPYStandard, InTag: plan.TagInput, OutTag: plan.TagOutput},
			}},
			{Name: PlanSAXPYJIT, Steps: []plan.Step{
				{Op: shared.OpJITCompileSAXPY, InTag: plan.TagInput, OutTag: plan.TagOutput},
				{Op: shared.OpExecuteJITSAXPY, InTag: plan.TagInput, OutTag: plan.TagOutput},
			}},
		}
	default:
		if o.lib != nil && o.lib.Has(kind) {
			return []plan.Plan{
				{Name: PlanDirect, Steps: []plan.Step{
					{Op: kind, InTag: plan.TagInput, OutTag: plan.TagOutput},
				}},
			}
		}
		return nil
	}
}

// Score predicts the holistic flux of one plan under the profile:
// the sum of per-step costs times the sensor modulation multiplier.
func (o *Orchestrator) Score(pl plan.Plan, p profile.DataProfile) float64 {
	var total float64
	for _, step := range pl.Steps {
		total += o.stepCost(step.Op, p)
	}
	return total * Modulation(pl, p.Sensors)
}

// stepCost is C(s, D): transform cost for transforms, base cost plus the
// data-dependent term for operational steps, 0 otherwise.
func (o *Orchestrator) stepCost(op string, p profile.DataProfile) float64 {
	var cost float64
	if o.beliefs.HasTransform(op) {
		cost += o.beliefs.TransformCost(op)
	}
	if o.beliefs.HasBase(op) {
		cost += o.beliefs.BaseCost(op) + o.dynamicCost(op, p)
	}
	return cost
}

// dynamicCost is f(s, D, lambda): the data-dependent cost pairing for the
// known operations, plus the Hamming-weight term for any op with a registered
// hw-combined sensitivity. ELEMENT_WISE_MULTIPLY intentionally has no dynamic
// pairing.
func (o *Orchestrator) dynamicCost(op string, p profile.DataProfile) float64 {
	var dyn float64
	switch {
	case op == shared.OpConvDirect:
		dyn = p.AmplitudeFlux*o.beliefs.Sensitivity(belief.LambdaConvAmp) +
			p.FrequencyFlux*o.beliefs.Sensitivity(belief.LambdaConvFreq)
	case strings.HasPrefix(op, "GEMM_"):
		dyn = (1.0 - p.SparsityRatio) * o.beliefs.Sensitivity(belief.LambdaSparsity)
	case op == shared.OpSAXPYStandard:
		dyn = p.AmplitudeFlux * o.beliefs.Sensitivity(belief.LambdaSAXPYGeneric)
	case op == shared.OpExecuteJITSAXPY:
		// Specialization halves the generic dynamic term.
		dyn = 0.5 * p.AmplitudeFlux * o.beliefs.Sensitivity(belief.LambdaSAXPYGeneric)
	}

	if key := belief.HWCombinedKey(op); o.beliefs.HasSensitivity(key) {
		dyn += float64(p.HammingWeight) * o.beliefs.Sensitivity(key)
	}
	return dyn
}

// Modulation derives the multiplicative sensor adjustment for a plan:
// thermal throttling, power draw overage, congestion on network- or IO-bound
// plans, and division by data quality.
func Modulation(pl plan.Plan, sc profile.SensorContext) float64 {
	mult := 1.0

	if sc.TemperatureCelsius > 85.0 {
		mult *= 1.5
	}
	if sc.PowerDrawWatts > 100.0 {
		mult *= 1.0 + 0.005*(sc.PowerDrawWatts-100.0)
	}
	if planBound(pl, networkMarkers) && sc.NetworkLatencyMS > 100.0 {
		mult *= 1.2
	}
	if planBound(pl, ioMarkers) && sc.IOThroughputMBps < 50.0 {
		mult *= 1.15
	}

	if sc.DataQuality <= 0 {
		mult *= 100.0
	} else {
		mult /= sc.DataQuality
	}
	return mult
}

func planBound(pl plan.Plan, markers []string) bool {
	for _, step := range pl.Steps {
		for _, m := range markers {
			if strings.Contains(step.Op, m) {
				return true
			}
		}
	}
	return false
}

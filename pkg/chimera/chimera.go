// Package chimera provides the public API for the CHIMERA-VPU adaptive
// execution engine.
//
// The engine accepts numeric tasks and decides how to compute each one by
// minimizing predicted holistic flux against a mutable belief model, then
// refines the model from the observed cost.
//
// Example:
//
//	engine, err := chimera.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	task := &shared.Task{
//		Kind: shared.TaskSAXPY,
//		InA:  shared.FromFloat32s(x),
//		Out:  shared.FromFloat32s(y),
//	}
//	report, err := engine.Execute(context.Background(), task)
package chimera

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/application/dispatcher"
	"github.com/Kier73/CHIMERA-VPU/internal/application/feedback"
	"github.com/Kier73/CHIMERA-VPU/internal/application/fusion"
	"github.com/Kier73/CHIMERA-VPU/internal/application/planner"
	"github.com/Kier73/CHIMERA-VPU/internal/application/profiler"
	"github.com/Kier73/CHIMERA-VPU/internal/config"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/belief"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/plan"
	"github.com/Kier73/CHIMERA-VPU/internal/domain/profile"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/jit"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/kernels"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/sensors"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/telemetry"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// Re-exported types for the public API.
type (
	Task            = shared.Task
	Buffer          = shared.Buffer
	GEMMDims        = shared.GEMMDims
	ExecutionReport = shared.ExecutionReport
	SensorContext   = profile.SensorContext
	BeliefSnapshot  = belief.Snapshot
	Config          = config.Config
)

// Engine runs the Perceive-Decide-Act-Learn cycle. One task is taken through
// the full cycle before the next begins; the internal stores are
// mutex-guarded, so concurrent callers get per-key last-writer-wins belief
// updates.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	beliefs      *belief.Store
	lib          *kernels.Library
	cortex       *profiler.Cortex
	orchestrator *planner.Orchestrator
	cerebellum   *dispatcher.Cerebellum
	learner      *feedback.Learner
	patterns     *fusion.Engine
	reports      *telemetry.Store
}

type options struct {
	logger  *zap.Logger
	cfg     *config.Config
	oracle  sensors.Oracle
	gen     jit.CodeGenerator
	dbPath  string
	noOracle bool
}

// Option configures the engine at construction.
type Option func(*options)

// WithLogger installs a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithSensorOracle replaces the HTTP sensor oracle.
func WithSensorOracle(oracle sensors.Oracle) Option {
	return func(o *options) { o.oracle = oracle }
}

// WithoutSensorOracle disables device reads entirely; sensor defaults are
// used for every task.
func WithoutSensorOracle() Option {
	return func(o *options) { o.noOracle = true }
}

// WithCodeGenerator installs an external JIT code generator consulted before
// the built-in kernel variants.
func WithCodeGenerator(gen jit.CodeGenerator) Option {
	return func(o *options) { o.gen = gen }
}

// WithTelemetryPath stores execution reports in a SQLite file instead of
// memory.
func WithTelemetryPath(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// New constructs an engine with seeded default beliefs and the native kernel
// set.
func New(opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.Default()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	beliefs := belief.NewStore(cfg.CostFloor)
	beliefs.InstallDefaults()

	lib := kernels.NewLibrary()
	kernels.InstallNative(lib)

	oracle := o.oracle
	if oracle == nil && !o.noOracle {
		oracle = sensors.NewHTTPOracle(cfg.Sensors.Endpoint, time.Duration(cfg.Sensors.TimeoutMS)*time.Millisecond)
	}
	collector := sensors.NewCollector(oracle, logger)

	dbPath := o.dbPath
	if dbPath == "" {
		dbPath = cfg.Telemetry.DBPath
	}
	reports := telemetry.NewStore(dbPath)
	if err := reports.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing telemetry store: %w", err)
	}

	history := plan.NewHistory(cfg.Fusion.HistoryCap)

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		beliefs:      beliefs,
		lib:          lib,
		cortex:       profiler.New(logger, collector),
		orchestrator: planner.New(beliefs, lib, logger),
		cerebellum:   dispatcher.New(lib, jit.NewSpecializer(logger, o.gen), logger),
		learner: feedback.NewLearner(beliefs, feedback.Config{
			QuarkThreshold:  cfg.Learning.QuarkThreshold,
			TransformRate:   cfg.Learning.TransformRate,
			BaseRate:        cfg.Learning.BaseRate,
			SensitivityRate: cfg.Learning.SensitivityRate,
			ExplorationRate: cfg.Exploration.Rate,
		}, cfg.Exploration.Seed, logger),
		patterns: fusion.NewEngine(lib, beliefs, history, cfg.Fusion.Threshold, cfg.Fusion.Interval, logger),
		reports:  reports,
	}
	logger.Info("engine online",
		zap.Int("kernels", lib.Len()),
		zap.Float64("explorationRate", cfg.Exploration.Rate))
	return e, nil
}

// Execute runs one full cycle for the task and returns its report. Kernel
// and routing failures are surfaced; no learning occurs for failed tasks.
func (e *Engine) Execute(ctx context.Context, t *Task) (*ExecutionReport, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	// Perceive.
	prof := e.cortex.Analyze(ctx, t)

	// Decide.
	candidates, err := e.orchestrator.Candidates(t, prof)
	if err != nil {
		return nil, err
	}
	requested := e.learner.ShouldExplore()
	explored := requested && len(candidates) > 1
	chosen := candidates[0]
	if explored {
		chosen = candidates[1]
		e.logger.Info("exploration: chose suboptimal plan",
			zap.String("chosen", chosen.Name),
			zap.Float64("chosenFlux", chosen.PredictedHolisticFlux),
			zap.String("optimal", candidates[0].Name),
			zap.Float64("optimalFlux", candidates[0].PredictedHolisticFlux))
	} else if requested {
		e.logger.Info("exploration requested but no alternative path available",
			zap.String("plan", chosen.Name))
	}

	// Act.
	record, err := e.cerebellum.Execute(ctx, chosen, t)
	if err != nil {
		e.logger.Warn("plan abandoned, learning skipped",
			zap.String("plan", chosen.Name),
			zap.Error(err))
		return nil, err
	}

	// Learn.
	lc := e.deriveLearningContext(t, chosen, explored)
	e.learner.Learn(lc, chosen.PredictedHolisticFlux, record)

	// Record for pattern mining.
	e.patterns.Record(chosen)

	if err := e.reports.Append(telemetry.Report{
		TaskID:    t.ID.String(),
		Kind:      t.Kind,
		Plan:      chosen.Name,
		Predicted: chosen.PredictedHolisticFlux,
		Observed:  record.ObservedHolisticFlux,
		Explored:  explored,
		LatencyNS: record.LatencyNS,
	}); err != nil {
		e.logger.Warn("telemetry append failed", zap.Error(err))
	}

	return &ExecutionReport{
		TaskID:               t.ID,
		Kind:                 t.Kind,
		ChosenPlan:           chosen.Name,
		PredictedFlux:        chosen.PredictedHolisticFlux,
		Record:               record,
		Explored:             explored,
		ExplorationRequested: requested,
		Learning:             lc,
	}, nil
}

// validate is the intake check. Tasks that fail it never reach the profiler
// and trigger no learning.
func validate(t *Task) error {
	if t == nil {
		return &shared.TaskValidationError{Reason: "nil task"}
	}
	if t.Kind == "" {
		return &shared.TaskValidationError{Reason: "empty task kind"}
	}
	if t.InA == nil {
		return &shared.TaskValidationError{Reason: "missing primary input buffer"}
	}
	if t.Out == nil {
		return &shared.TaskValidationError{Reason: "missing output buffer"}
	}
	switch t.Kind {
	case shared.TaskConvolution:
		if t.InB == nil {
			return &shared.TaskValidationError{Reason: "convolution requires a response buffer"}
		}
	case shared.TaskGEMM:
		if t.InB == nil {
			return &shared.TaskValidationError{Reason: "GEMM requires a second input buffer"}
		}
		if t.Dims == nil {
			return &shared.TaskValidationError{Reason: "GEMM requires dimensions"}
		}
	}
	return nil
}

// deriveLearningContext picks the belief entries blamed for this execution's
// prediction error. The Hamming-combined sensitivity is credited when
// registered for the main operation, otherwise the path's generic lambda.
func (e *Engine) deriveLearningContext(t *Task, chosen plan.Plan, explored bool) shared.LearningContext {
	lc := shared.LearningContext{PathName: chosen.Name}
	if explored {
		lc.PathName += shared.ExploratoryTag
	}

	jitPlan := false
	for _, step := range chosen.Steps {
		if step.Op == shared.OpJITCompileSAXPY {
			jitPlan = true
			break
		}
	}

	switch {
	case jitPlan:
		lc.TransformKey = shared.OpJITCompileSAXPY
		lc.MainOperationName = shared.OpExecuteJITSAXPY
		lc.OperationKey = e.sensitivityKeyFor(shared.OpExecuteJITSAXPY, belief.LambdaSAXPYGeneric)
	case strings.Contains(chosen.Name, "FFT"):
		lc.TransformKey = shared.OpFFTForward
	case t.Kind == shared.TaskConvolution:
		lc.MainOperationName = shared.OpConvDirect
		lc.OperationKey = e.sensitivityKeyFor(shared.OpConvDirect, belief.LambdaConvAmp)
	case t.Kind == shared.TaskGEMM:
		for _, step := range chosen.Steps {
			if strings.HasPrefix(step.Op, "GEMM_") {
				lc.MainOperationName = step.Op
				break
			}
		}
		lc.OperationKey = e.sensitivityKeyFor(lc.MainOperationName, belief.LambdaSparsity)
	case t.Kind == shared.TaskSAXPY:
		lc.MainOperationName = shared.OpSAXPYStandard
		lc.OperationKey = e.sensitivityKeyFor(shared.OpSAXPYStandard, belief.LambdaSAXPYGeneric)
	default:
		// User or fused kinds: credit the first step carrying a base cost.
		for _, step := range chosen.Steps {
			if e.beliefs.HasBase(step.Op) {
				lc.MainOperationName = step.Op
				lc.OperationKey = e.sensitivityKeyFor(step.Op, "")
				break
			}
		}
	}
	return lc
}

func (e *Engine) sensitivityKeyFor(op, fallback string) string {
	if key := belief.HWCombinedKey(op); e.beliefs.HasSensitivity(key) {
		return key
	}
	return fallback
}

// ============================================================================
// Inspection and test hooks
// ============================================================================

// Beliefs returns a read-only copy of the belief tables.
func (e *Engine) Beliefs() BeliefSnapshot {
	return e.beliefs.Snapshot()
}

// HasKernel reports whether op is registered in the kernel library.
func (e *Engine) HasKernel(op string) bool {
	return e.lib.Has(op)
}

// KernelNames returns the registered operation names, sorted.
func (e *Engine) KernelNames() []string {
	return e.lib.Names()
}

// Reports returns up to n recent execution reports, newest first.
func (e *Engine) Reports(n int) ([]telemetry.Report, error) {
	return e.reports.Recent(n)
}

// SetExplorationRate forces the exploration probability (0 and 1 make the
// choice deterministic for tests).
func (e *Engine) SetExplorationRate(rate float64) {
	e.learner.SetExplorationRate(rate)
}

// OverrideNextSensorContext installs a one-shot sensor context for the next
// Execute call.
func (e *Engine) OverrideNextSensorContext(sc SensorContext) {
	e.cortex.OverrideNextSensorContext(sc)
}

// SetFusionTuning adjusts the pattern engine's threshold and analysis
// interval.
func (e *Engine) SetFusionTuning(threshold, interval int) {
	e.patterns.SetTuning(threshold, interval)
}

// ResetCounters clears the pattern engine's history and trigger counter.
func (e *Engine) ResetCounters() {
	e.patterns.ResetCounter()
}

// RecordPlan feeds an externally executed plan into the pattern engine. This
// is the out-of-band path by which composite pipelines become fusion
// candidates.
func (e *Engine) RecordPlan(name string, ops ...string) {
	steps := make([]plan.Step, len(ops))
	for i, op := range ops {
		steps[i] = plan.Step{Op: op, InTag: plan.TagInput, OutTag: plan.TagOutput}
	}
	e.patterns.Record(plan.Plan{Name: name, Steps: steps})
}

// ForceSensitivity overwrites one sensitivity coefficient.
func (e *Engine) ForceSensitivity(key string, lambda float64) {
	e.beliefs.SetSensitivity(key, lambda)
}

// ForceBaseCost overwrites one base operational cost.
func (e *Engine) ForceBaseCost(op string, cost float64) {
	e.beliefs.SetBaseCost(op, cost)
}

// DumpBeliefs writes the belief tables to w, sorted by key.
func (e *Engine) DumpBeliefs(w io.Writer) {
	snap := e.beliefs.Snapshot()
	dumpTable(w, "Base Operational Costs", snap.Base)
	dumpTable(w, "Transform Costs", snap.Transform)
	dumpTable(w, "Flux Sensitivities", snap.Sensitivity)
}

func dumpTable(w io.Writer, title string, table map[string]float64) {
	fmt.Fprintf(w, "%s:\n", title)
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-42s %g\n", k, table[k])
	}
}

// Package shared provides the types used across all modules of the CHIMERA-VPU
// execution engine: tasks, buffers, flux reports, and learning contexts.
package shared

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// ============================================================================
// Task Kinds and Operation Names
// ============================================================================

// Canonical task kinds routed by the planner's rule table. Any other string is
// treated as a user kind and resolved against the kernel library directly.
const (
	TaskConvolution = "CONVOLUTION"
	TaskGEMM        = "GEMM"
	TaskSAXPY       = "SAXPY"
)

// Operation step names known to the default kernel library and belief store.
const (
	OpConvDirect          = "CONV_DIRECT"
	OpFFTForward          = "FFT_FORWARD"
	OpFFTInverse          = "FFT_INVERSE"
	OpElementWiseMultiply = "ELEMENT_WISE_MULTIPLY"
	OpGEMMNaive           = "GEMM_NAIVE"
	OpGEMMFluxAdaptive    = "GEMM_FLUX_ADAPTIVE"
	OpSAXPYStandard       = "SAXPY_STANDARD"
	OpJITCompileSAXPY     = "JIT_COMPILE_SAXPY"
	OpExecuteJITSAXPY     = "EXECUTE_JIT_SAXPY"
)

// JIT control-step prefixes recognized by the dispatcher.
const (
	JITCompilePrefix = "JIT_COMPILE_"
	JITExecutePrefix = "EXECUTE_JIT_"
)

// FusedKernelPrefix marks super-kernels registered by the pattern engine.
const FusedKernelPrefix = "FUSED_"

// ============================================================================
// Buffers
// ============================================================================

// ElemKind describes how a buffer's raw bytes are interpreted.
type ElemKind string

const (
	ElemRaw     ElemKind = "raw"
	ElemFloat32 ElemKind = "float32"
	ElemFloat64 ElemKind = "float64"
)

// Bytes returns the byte width of one element, or 1 for raw buffers.
func (k ElemKind) Bytes() int {
	switch k {
	case ElemFloat32:
		return 4
	case ElemFloat64:
		return 8
	default:
		return 1
	}
}

// Buffer describes one caller-owned data region. The engine reads and writes
// through the typed accessors but never frees or retains the backing slice.
// Transient buffers created by the dispatcher start with a nil Data slice and
// are sized on first store.
type Buffer struct {
	Data  []byte   `json:"-"`
	Kind  ElemKind `json:"kind"`
	Elems int      `json:"elems"`
}

// NewFloat32Buffer allocates a zeroed float32 buffer with n elements.
func NewFloat32Buffer(n int) *Buffer {
	return &Buffer{Data: make([]byte, n*4), Kind: ElemFloat32, Elems: n}
}

// NewFloat64Buffer allocates a zeroed float64 buffer with n elements.
func NewFloat64Buffer(n int) *Buffer {
	return &Buffer{Data: make([]byte, n*8), Kind: ElemFloat64, Elems: n}
}

// FromFloat32s encodes vals into a fresh float32 buffer.
func FromFloat32s(vals []float32) *Buffer {
	b := NewFloat32Buffer(len(vals))
	b.StoreFloat32s(vals)
	return b
}

// FromFloat64s encodes vals into a fresh float64 buffer.
func FromFloat64s(vals []float64) *Buffer {
	b := NewFloat64Buffer(len(vals))
	b.StoreFloat64s(vals)
	return b
}

// RawBuffer wraps caller bytes without interpreting them numerically.
func RawBuffer(data []byte) *Buffer {
	return &Buffer{Data: data, Kind: ElemRaw, Elems: len(data)}
}

// ByteLen returns the length of the backing byte region.
func (b *Buffer) ByteLen() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Float32s decodes the buffer as float32 elements. Returns nil for non-float32
// buffers or when the backing region is shorter than Elems.
func (b *Buffer) Float32s() []float32 {
	if b == nil || b.Kind != ElemFloat32 || len(b.Data) < b.Elems*4 {
		return nil
	}
	out := make([]float32, b.Elems)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
	}
	return out
}

// Float64s decodes the buffer as float64 elements. Returns nil for non-float64
// buffers or when the backing region is shorter than Elems.
func (b *Buffer) Float64s() []float64 {
	if b == nil || b.Kind != ElemFloat64 || len(b.Data) < b.Elems*8 {
		return nil
	}
	out := make([]float64, b.Elems)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b.Data[i*8:]))
	}
	return out
}

// Samples decodes the buffer's numeric payload as float64 regardless of the
// element kind. Raw buffers carry no numeric payload and return nil.
func (b *Buffer) Samples() []float64 {
	if b == nil {
		return nil
	}
	switch b.Kind {
	case ElemFloat64:
		return b.Float64s()
	case ElemFloat32:
		f32 := b.Float32s()
		if f32 == nil {
			return nil
		}
		out := make([]float64, len(f32))
		for i, v := range f32 {
			out[i] = float64(v)
		}
		return out
	default:
		return nil
	}
}

// StoreFloat32s writes vals into the buffer. A nil backing slice (transient
// buffer) is allocated to fit; otherwise writes truncate to the existing
// capacity so caller-owned regions are never resized.
func (b *Buffer) StoreFloat32s(vals []float32) {
	if b == nil {
		return
	}
	b.Kind = ElemFloat32
	if b.Data == nil {
		b.Data = make([]byte, len(vals)*4)
		b.Elems = len(vals)
	}
	n := len(vals)
	if max := len(b.Data) / 4; n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(b.Data[i*4:], math.Float32bits(vals[i]))
	}
}

// StoreFloat64s writes vals into the buffer with the same sizing contract as
// StoreFloat32s.
func (b *Buffer) StoreFloat64s(vals []float64) {
	if b == nil {
		return
	}
	b.Kind = ElemFloat64
	if b.Data == nil {
		b.Data = make([]byte, len(vals)*8)
		b.Elems = len(vals)
	}
	n := len(vals)
	if max := len(b.Data) / 8; n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(b.Data[i*8:], math.Float64bits(vals[i]))
	}
}

// ============================================================================
// Tasks
// ============================================================================

// GEMMDims carries the matrix dimensions for GEMM tasks: A is MxK, B is KxN,
// C is MxN.
type GEMMDims struct {
	M int `json:"m"`
	N int `json:"n"`
	K int `json:"k"`
}

// Task is one unit of work submitted to the engine. Buffers are caller-owned;
// the engine never frees them and never retains references past Execute.
type Task struct {
	ID    uuid.UUID `json:"id"`
	Kind  string    `json:"kind"`
	InA   *Buffer   `json:"inA,omitempty"`
	InB   *Buffer   `json:"inB,omitempty"`
	Out   *Buffer   `json:"out,omitempty"`
	Alpha *float64  `json:"alpha,omitempty"`
	Dims  *GEMMDims `json:"dims,omitempty"`
}

// AlphaOrDefault returns the scalar parameter for SAXPY-family tasks,
// defaulting to 1.0 when absent.
func (t *Task) AlphaOrDefault() float32 {
	if t == nil || t.Alpha == nil {
		return 1.0
	}
	return float32(*t.Alpha)
}

// ============================================================================
// Flux Accounting
// ============================================================================

// FluxReport is the fine-grained cost record returned by one kernel
// invocation. All fields are exact integer counts.
type FluxReport struct {
	CycleCost uint64 `json:"cycleCost"`
	HWInCost  uint64 `json:"hwInCost"`
	HWOutCost uint64 `json:"hwOutCost"`
}

// Add accumulates another report into r.
func (r *FluxReport) Add(o FluxReport) {
	r.CycleCost += o.CycleCost
	r.HWInCost += o.HWInCost
	r.HWOutCost += o.HWOutCost
}

// Total returns the holistic flux of this report.
func (r FluxReport) Total() uint64 {
	return r.CycleCost + r.HWInCost + r.HWOutCost
}

// PerformanceRecord captures the observed cost of one executed plan.
// ObservedHolisticFlux is always exactly CycleCost+HWInCost+HWOutCost.
type PerformanceRecord struct {
	ObservedHolisticFlux float64 `json:"observedHolisticFlux"`
	CycleCost            uint64  `json:"cycleCost"`
	HWInCost             uint64  `json:"hwInCost"`
	HWOutCost            uint64  `json:"hwOutCost"`
	LatencyNS            int64   `json:"latencyNs"`
}

// RecordFromFlux builds a performance record from summed kernel reports.
func RecordFromFlux(total FluxReport, latencyNS int64) PerformanceRecord {
	return PerformanceRecord{
		ObservedHolisticFlux: float64(total.Total()),
		CycleCost:            total.CycleCost,
		HWInCost:             total.HWInCost,
		HWOutCost:            total.HWOutCost,
		LatencyNS:            latencyNS,
	}
}

// ============================================================================
// Learning
// ============================================================================

// LearningContext identifies which belief entries a feedback pass may touch.
type LearningContext struct {
	PathName          string `json:"pathName"`
	TransformKey      string `json:"transformKey,omitempty"`
	MainOperationName string `json:"mainOperationName,omitempty"`
	OperationKey      string `json:"operationKey,omitempty"`
}

// ExploratoryTag is appended to LearningContext.PathName when the executed
// plan was chosen by exploration rather than by lowest predicted flux.
const ExploratoryTag = " (exploratory)"

// ExecutionReport is returned to the caller after one full
// Perceive-Decide-Act-Learn cycle.
type ExecutionReport struct {
	TaskID               uuid.UUID         `json:"taskId"`
	Kind                 string            `json:"kind"`
	ChosenPlan           string            `json:"chosenPlan"`
	PredictedFlux        float64           `json:"predictedFlux"`
	Record               PerformanceRecord `json:"record"`
	Explored             bool              `json:"explored"`
	ExplorationRequested bool              `json:"explorationRequested"`
	Learning             LearningContext   `json:"learning"`
}

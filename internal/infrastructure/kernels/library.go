// Package kernels provides the kernel library: the mapping from operation
// names to flux-reporting callables, plus the native kernel set.
package kernels

import (
	"fmt"
	"sort"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// Args carries the resolved buffers for one kernel invocation. In and Out are
// the step's tag-resolved buffers; Task gives access to secondary inputs and
// scalar or dimensional parameters.
type Args struct {
	Task *shared.Task
	In   *shared.Buffer
	Out  *shared.Buffer
}

// Func executes one operation and reports its flux decomposition.
type Func func(a Args) (shared.FluxReport, error)

// Kernel is the library's sum type: a kernel is either native Go code or a
// portable Go source body interpreted at registration time. Exactly one of
// Native and Portable is set.
type Kernel struct {
	Name     string
	Native   Func
	Portable string

	compiled Func
}

// Library maps operation names to kernels. It is populated at construction
// and augmented at runtime by the pattern engine; entries are never removed.
type Library struct {
	mu      sync.RWMutex
	entries map[string]*Kernel
}

// NewLibrary creates an empty kernel library.
func NewLibrary() *Library {
	return &Library{entries: make(map[string]*Kernel)}
}

// RegisterNative installs a native kernel, replacing any existing entry.
func (l *Library) RegisterNative(name string, fn Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = &Kernel{Name: name, Native: fn}
}

// RegisterPortable installs a portable kernel from Go source. The source must
// declare `func Kernel(in []float64) []float64` in package main; it is
// interpreted once and the resulting function is cached. Portable kernels
// read the step's input buffer as float64 samples and store their result in
// the output buffer; cycle cost is one unit per produced element.
func (l *Library) RegisterPortable(name, src string) error {
	fn, err := compilePortable(src)
	if err != nil {
		return fmt.Errorf("portable kernel %q: %w", name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = &Kernel{Name: name, Portable: src, compiled: fn}
	return nil
}

// Lookup returns the callable for name.
func (l *Library) Lookup(name string) (Func, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	k, ok := l.entries[name]
	if !ok {
		return nil, false
	}
	if k.Native != nil {
		return k.Native, true
	}
	return k.compiled, k.compiled != nil
}

// Has reports whether name is registered.
func (l *Library) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[name]
	return ok
}

// Names returns the registered operation names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for name := range l.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered kernels.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func compilePortable(src string) (Func, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("evaluating source: %w", err)
	}
	v, err := i.Eval("main.Kernel")
	if err != nil {
		return nil, fmt.Errorf("resolving main.Kernel: %w", err)
	}
	body, ok := v.Interface().(func([]float64) []float64)
	if !ok {
		return nil, fmt.Errorf("main.Kernel has wrong signature (want func([]float64) []float64)")
	}
	return func(a Args) (shared.FluxReport, error) {
		var report shared.FluxReport
		in := a.In.Samples()
		report.HWInCost = BufferWeight(a.In)
		out := body(in)
		a.Out.StoreFloat64s(out)
		report.HWOutCost = BufferWeight(a.Out)
		report.CycleCost = uint64(len(out))
		return report, nil
	}, nil
}

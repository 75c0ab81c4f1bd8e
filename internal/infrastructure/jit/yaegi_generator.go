package jit

import (
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// YaegiGenerator emits Go source for a specialized SAXPY body and interprets
// it at runtime. It stands in for a native code generator: the source is
// produced per (alpha, sparsity) shape and evaluated in a fresh interpreter.
type YaegiGenerator struct{}

// NewYaegiGenerator creates an interpreter-backed code generator.
func NewYaegiGenerator() *YaegiGenerator { return &YaegiGenerator{} }

// GenerateSAXPY builds and interprets a specialized SAXPY variant. The alpha
// value is baked into the emitted source so the interpreted body carries no
// parameter plumbing for it.
func (g *YaegiGenerator) GenerateSAXPY(alpha float32, sparse bool) (SAXPYFunc, error) {
	src := generateSAXPYSource(alpha, sparse)

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("evaluating generated source: %w", err)
	}
	v, err := i.Eval("main.SAXPY")
	if err != nil {
		return nil, fmt.Errorf("resolving generated SAXPY: %w", err)
	}
	body, ok := v.Interface().(func([]float32, []float32))
	if !ok {
		return nil, fmt.Errorf("generated SAXPY has wrong signature")
	}
	return func(_ float32, x, y []float32) { body(x, y) }, nil
}

func generateSAXPYSource(alpha float32, sparse bool) string {
	guard := ""
	if sparse {
		guard = `
		if x[i] == 0 {
			continue
		}`
	}
	return fmt.Sprintf(`package main

const alpha = float32(%v)

func SAXPY(x []float32, y []float32) {
	for i := range x {%s
		y[i] = alpha*x[i] + y[i]
	}
}
`, alpha, guard)
}

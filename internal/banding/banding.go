// Package banding derives risk categories from fraud probabilities
// using CEL-Go guard expressions.
package banding

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Bander assigns a risk category to a scored transaction. Bands are
// evaluated in declaration order and the first guard that holds wins,
// so a catch-all band should sit last.
type Bander struct {
	mu    sync.RWMutex
	env   *cel.Env
	bands []compiledBand
}

type compiledBand struct {
	category string
	program  cel.Program
}

// New creates a Bander with the default bands loaded.
func New() (*Bander, error) {
	// CEL environment exposing the scored transaction
	env, err := cel.NewEnv(
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("predicted", cel.BoolType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	b := &Bander{env: env}
	if err := b.Load(domain.DefaultRiskBands()); err != nil {
		return nil, err
	}

	return b, nil
}

// Load compiles the given bands and swaps them in atomically, replacing
// any previously loaded set.
func (b *Bander) Load(bands []domain.RiskBand) error {
	if len(bands) == 0 {
		return fmt.Errorf("at least one band is required")
	}

	compiled := make([]compiledBand, 0, len(bands))
	for _, band := range bands {
		if band.Category == "" {
			return fmt.Errorf("band category is required")
		}

		ast, issues := b.env.Compile(band.Guard)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("failed to compile guard for band %q: %w", band.Category, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("guard for band %q must evaluate to bool, got %s", band.Category, ast.OutputType())
		}

		program, err := b.env.Program(ast)
		if err != nil {
			return fmt.Errorf("failed to build program for band %q: %w", band.Category, err)
		}

		compiled = append(compiled, compiledBand{category: band.Category, program: program})
	}

	b.mu.Lock()
	b.bands = compiled
	b.mu.Unlock()

	return nil
}

// Categorize evaluates the loaded bands against a scored transaction
// and returns the first matching category. Guards that error are
// skipped rather than failing the whole categorization.
func (b *Bander) Categorize(probability float64, predicted bool, amount float64) string {
	b.mu.RLock()
	bands := b.bands
	b.mu.RUnlock()

	activation := map[string]any{
		"probability": probability,
		"predicted":   predicted,
		"amount":      amount,
	}

	for _, band := range bands {
		out, _, err := band.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return band.category
		}
	}

	return ""
}

// Package scoring provides the CEL-Go based risk scorer.
package scoring

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates factor rules against a transaction and sums their weights.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	cfg     domain.ScoringConfig
	factors []*CompiledFactor
}

// CompiledFactor holds a pre-compiled CEL program.
type CompiledFactor struct {
	Rule    domain.FactorRule
	Program cel.Program
}

// Input holds the transaction attributes visible to factor expressions.
type Input struct {
	Amount     float64
	Payee      string
	Reference  string
	Timestamp  time.Time
	PayeeIsNew bool
}

// Result is the outcome of scoring one transaction.
type Result struct {
	Score   float64
	Level   domain.RiskLevel
	Factors []string
}

// NewEngine creates an engine and loads the enabled factors of cfg.
func NewEngine(cfg domain.ScoringConfig) (*Engine, error) {
	// Create CEL environment with transaction variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payee", cel.StringType),
		cel.Variable("reference", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("payee_is_new", cel.BoolType),
		cel.Variable("average_amount", cel.DoubleType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces thresholds and factors. On error the engine is unchanged.
func (e *Engine) Reload(cfg domain.ScoringConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	factors := make([]*CompiledFactor, 0, len(cfg.Factors))
	seen := make(map[string]bool, len(cfg.Factors))
	for _, rule := range cfg.Factors {
		if !rule.Enabled {
			continue
		}
		if seen[rule.Code] {
			return fmt.Errorf("duplicate factor code %s", rule.Code)
		}
		seen[rule.Code] = true

		compiled, err := e.compileFactor(rule)
		if err != nil {
			return err
		}
		factors = append(factors, compiled)
	}

	e.cfg = cfg
	e.factors = factors
	return nil
}

// FactorCount returns the number of loaded factors.
func (e *Engine) FactorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.factors)
}

// Config returns the active scoring configuration.
func (e *Engine) Config() domain.ScoringConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Score evaluates every loaded factor in order. A factor triggers when its
// expression yields true or a positive number; evaluation errors are logged
// and the factor is skipped.
func (e *Engine) Score(in Input) Result {
	e.mu.RLock()
	factors := e.factors
	cfg := e.cfg
	e.mu.RUnlock()

	ts := in.Timestamp.UTC()
	activation := map[string]any{
		"amount":         in.Amount,
		"payee":          in.Payee,
		"reference":      in.Reference,
		"hour":           int64(ts.Hour()),
		"minute":         int64(ts.Minute()),
		"payee_is_new":   in.PayeeIsNew,
		"average_amount": cfg.AverageAmount,
	}

	var sum float64
	triggered := make([]string, 0, len(factors))
	for _, f := range factors {
		out, _, err := f.Program.Eval(activation)
		if err != nil {
			slog.Warn("factor evaluation failed", "factor", f.Rule.Code, "error", err)
			continue
		}
		if toScore(out) > 0 {
			sum += f.Rule.Weight
			triggered = append(triggered, f.Rule.Code)
		}
	}

	score := math.Round(math.Min(sum, 1.0)*100) / 100
	return Result{
		Score:   score,
		Level:   Level(score, cfg),
		Factors: triggered,
	}
}

// Level partitions score into a risk tier using cfg's thresholds.
func Level(score float64, cfg domain.ScoringConfig) domain.RiskLevel {
	switch {
	case score >= cfg.HighThreshold:
		return domain.RiskHigh
	case score >= cfg.MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compileFactor(rule domain.FactorRule) (*CompiledFactor, error) {
	if rule.Code == "" {
		return nil, fmt.Errorf("factor code is required")
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile factor %s: %w", rule.Code, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("factor %s: expression must return bool, int, or double, got %s", rule.Code, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for factor %s: %w", rule.Code, err)
	}

	return &CompiledFactor{
		Rule:    rule,
		Program: program,
	}, nil
}

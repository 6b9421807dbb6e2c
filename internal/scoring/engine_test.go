package scoring

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func businessHours() time.Time {
	return time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t)

	if engine.FactorCount() != 4 {
		t.Errorf("expected 4 factors, got %d", engine.FactorCount())
	}
}

func TestLoadInvalidFactor(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Factors = append(cfg.Factors, domain.FactorRule{
		Code:       "BROKEN",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	})

	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestLoadNonNumericFactor(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Factors = append(cfg.Factors, domain.FactorRule{Code: "STRING", Expression: `"hello"`, Weight: 0.1, Enabled: true})

	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for string-valued expression")
	}
}

func TestDuplicateFactorCode(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Factors = append(cfg.Factors, cfg.Factors[0])

	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for duplicate factor code")
	}
}

func TestDisabledFactorsSkipped(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Factors[0].Enabled = false

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.FactorCount() != 3 {
		t.Errorf("expected 3 factors, got %d", engine.FactorCount())
	}
}

func TestScore(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name    string
		input   Input
		score   float64
		level   domain.RiskLevel
		factors []string
	}{
		{
			name:    "clean transaction",
			input:   Input{Amount: 100, Payee: "Tesco", Reference: "groceries", Timestamp: businessHours()},
			score:   0,
			level:   domain.RiskLow,
			factors: nil,
		},
		{
			name:    "new payee only",
			input:   Input{Amount: 100, Payee: "Acme", Reference: "INV", Timestamp: businessHours(), PayeeIsNew: true},
			score:   0.25,
			level:   domain.RiskLow,
			factors: []string{domain.FactorNewPayee},
		},
		{
			name:    "late and new payee",
			input:   Input{Amount: 100, Payee: "Acme", Reference: "INV", Timestamp: time.Date(2025, 1, 15, 22, 15, 0, 0, time.UTC), PayeeIsNew: true},
			score:   0.5,
			level:   domain.RiskMedium,
			factors: []string{domain.FactorNewPayee, domain.FactorUnusualTiming},
		},
		{
			name:    "early morning boundary",
			input:   Input{Amount: 100, Payee: "A", Reference: "R", Timestamp: time.Date(2025, 1, 15, 8, 59, 0, 0, time.UTC)},
			score:   0.25,
			level:   domain.RiskLow,
			factors: []string{domain.FactorUnusualTiming},
		},
		{
			name:    "six pm boundary",
			input:   Input{Amount: 100, Payee: "A", Reference: "R", Timestamp: time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)},
			score:   0.25,
			level:   domain.RiskLow,
			factors: []string{domain.FactorUnusualTiming},
		},
		{
			name:    "spike threshold is exclusive",
			input:   Input{Amount: 1560, Payee: "A", Reference: "R", Timestamp: businessHours()},
			score:   0,
			level:   domain.RiskLow,
			factors: nil,
		},
		{
			name:    "spike and urgent",
			input:   Input{Amount: 2500, Payee: "A", Reference: "please pay, urgent!", Timestamp: businessHours()},
			score:   0.45,
			level:   domain.RiskMedium,
			factors: []string{domain.FactorAmountSpike, domain.FactorSuspiciousReference},
		},
		{
			name:    "everything",
			input:   Input{Amount: 5000, Payee: "A", Reference: "URGENT", Timestamp: time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC), PayeeIsNew: true},
			score:   0.95,
			level:   domain.RiskHigh,
			factors: []string{domain.FactorNewPayee, domain.FactorUnusualTiming, domain.FactorAmountSpike, domain.FactorSuspiciousReference},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.Score(tt.input)

			if result.Score != tt.score {
				t.Errorf("expected score %v, got %v", tt.score, result.Score)
			}
			if result.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, result.Level)
			}
			if len(result.Factors) != len(tt.factors) {
				t.Fatalf("expected factors %v, got %v", tt.factors, result.Factors)
			}
			for i := range tt.factors {
				if result.Factors[i] != tt.factors[i] {
					t.Errorf("factor %d: expected %s, got %s", i, tt.factors[i], result.Factors[i])
				}
			}
		})
	}
}

func TestScoreCappedAtOne(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	for i := range cfg.Factors {
		cfg.Factors[i].Weight = 0.5
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	result := engine.Score(Input{Amount: 5000, Reference: "URGENT", Timestamp: time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC), PayeeIsNew: true})
	if result.Score != 1.0 {
		t.Errorf("expected score capped at 1.0, got %v", result.Score)
	}
}

func TestLevelThresholds(t *testing.T) {
	cfg := domain.DefaultScoringConfig()

	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.34, domain.RiskLow},
		{0.35, domain.RiskMedium},
		{0.64, domain.RiskMedium},
		{0.65, domain.RiskHigh},
		{1, domain.RiskHigh},
	}

	for _, tt := range tests {
		if got := Level(tt.score, cfg); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestReloadKeepsEngineOnError(t *testing.T) {
	engine := newTestEngine(t)

	bad := domain.DefaultScoringConfig()
	bad.Factors = []domain.FactorRule{{Code: "X", Expression: "amount >", Enabled: true}}

	if err := engine.Reload(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.FactorCount() != 4 {
		t.Errorf("expected engine unchanged with 4 factors, got %d", engine.FactorCount())
	}
}

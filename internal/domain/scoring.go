package domain

// ScoringConfig configures the rule-based risk scorer.
type ScoringConfig struct {
	// HighThreshold and MediumThreshold partition risk_score into tiers:
	// score >= HighThreshold is high, score >= MediumThreshold is medium, else low.
	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`

	// AverageAmount is the reference amount used in spike explanations.
	AverageAmount float64 `mapstructure:"average_amount"`

	// Currency is the symbol used when rendering amounts in explanations.
	Currency string `mapstructure:"currency"`

	Factors []FactorRule `mapstructure:"factors"`
}

// FactorRule is a single fraud indicator evaluated against a transaction.
type FactorRule struct {
	// Code identifies the factor, e.g. "NEW_PAYEE".
	Code string `mapstructure:"code" json:"code"`

	// Expression is a CEL boolean expression over the transaction variables.
	Expression string `mapstructure:"expression" json:"expression"`

	// Weight is added to the risk score when the factor triggers.
	Weight float64 `mapstructure:"weight" json:"weight"`

	// Template renders the explanation line. Placeholders: {hour} {minute}
	// {amount} {currency} {multiplier} {avg}.
	Template string `mapstructure:"template" json:"template"`

	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// Factor codes shipped with the default configuration.
const (
	FactorNewPayee            = "NEW_PAYEE"
	FactorUnusualTiming       = "UNUSUAL_TIMING"
	FactorAmountSpike         = "AMOUNT_SPIKE"
	FactorSuspiciousReference = "SUSPICIOUS_REFERENCE"
)

// DefaultScoringConfig returns the stock factor rules and thresholds.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		HighThreshold:   0.65,
		MediumThreshold: 0.35,
		AverageAmount:   520,
		Currency:        "£",
		Factors: []FactorRule{
			{
				Code:       FactorNewPayee,
				Expression: "payee_is_new",
				Weight:     0.25,
				Template:   "First-ever transfer to this payee - no transaction history",
				Enabled:    true,
			},
			{
				Code:       FactorUnusualTiming,
				Expression: "hour < 9 || hour >= 18",
				Weight:     0.25,
				Template:   "Initiated at {hour}:{minute} - outside normal hours (9am-6pm)",
				Enabled:    true,
			},
			{
				Code:       FactorAmountSpike,
				Expression: "amount > average_amount * 3.0",
				Weight:     0.30,
				Template:   "Amount ({currency}{amount}) is {multiplier}x your average ({currency}{avg})",
				Enabled:    true,
			},
			{
				Code:       FactorSuspiciousReference,
				Expression: `reference.upperAscii().contains("URGENT")`,
				Weight:     0.15,
				Template:   "Reference contains urgency markers often linked to fraud",
				Enabled:    true,
			},
		},
	}
}

package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestExplain_AllFactors(t *testing.T) {
	engine := newTestEngine(t)

	tx := domain.Transaction{
		ID:         "tx-1",
		Amount:     2500,
		Reference:  "URGENT",
		Timestamp:  time.Date(2025, 1, 15, 22, 5, 0, 0, time.UTC),
		PayeeIsNew: true,
		RiskScore:  0.95,
		RiskLevel:  domain.RiskHigh,
		Factors: []string{
			domain.FactorNewPayee,
			domain.FactorUnusualTiming,
			domain.FactorAmountSpike,
			domain.FactorSuspiciousReference,
		},
	}

	d := engine.Explain(tx)

	assert.Equal(t, 99, d.Confidence)
	assert.Equal(t, "This transaction triggered 4 fraud indicator(s).", d.Explanation)
	assert.Equal(t, "Verify payee identity before releasing funds.", d.RecommendedAction)
	require.Len(t, d.RiskFactors, 4)
	assert.Equal(t, "1. New Payee - First-ever transfer to this payee - no transaction history", d.RiskFactors[0])
	assert.Equal(t, "2. Unusual Timing - Initiated at 22:05 - outside normal hours (9am-6pm)", d.RiskFactors[1])
	assert.Equal(t, "3. Amount Spike - Amount (£2500) is 4.8x your average (£520)", d.RiskFactors[2])
	assert.Equal(t, "4. Suspicious Reference - Reference contains urgency markers often linked to fraud", d.RiskFactors[3])
}

func TestExplain_NoFactors(t *testing.T) {
	engine := newTestEngine(t)

	d := engine.Explain(domain.Transaction{ID: "tx-2", RiskLevel: domain.RiskLow})

	assert.Equal(t, 50, d.Confidence)
	assert.Equal(t, "No fraud indicators detected for this transaction.", d.Explanation)
	assert.Equal(t, "Transaction appears normal. No action required.", d.RecommendedAction)
	assert.NotNil(t, d.RiskFactors)
	assert.Empty(t, d.RiskFactors)
}

func TestExplain_MediumAndUnknownFactor(t *testing.T) {
	engine := newTestEngine(t)

	d := engine.Explain(domain.Transaction{
		RiskScore: 0.4,
		Factors:   []string{"CUSTOM_SIGNAL"},
	})

	assert.Equal(t, "Review manually - indicators present but not conclusive.", d.RecommendedAction)
	assert.Equal(t, []string{"1. Custom Signal - CUSTOM_SIGNAL"}, d.RiskFactors)
	assert.Equal(t, 70, d.Confidence)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 50, Confidence(0, 0))
	assert.Equal(t, 67, Confidence(1, 0.25))
	assert.Equal(t, 84, Confidence(2, 0.5))
	assert.Equal(t, 99, Confidence(4, 1))
}

func TestFactorName(t *testing.T) {
	assert.Equal(t, "New Payee", FactorName("NEW_PAYEE"))
	assert.Equal(t, "Suspicious Reference", FactorName("SUSPICIOUS_REFERENCE"))
	assert.Equal(t, "", FactorName(""))
}

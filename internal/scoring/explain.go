package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var recommendedActions = map[domain.RiskLevel]string{
	domain.RiskHigh:   "Verify payee identity before releasing funds.",
	domain.RiskMedium: "Review manually - indicators present but not conclusive.",
	domain.RiskLow:    "Transaction appears normal. No action required.",
}

// Explain builds the reviewer-facing detail for a scored transaction from its
// stored factor codes.
func (e *Engine) Explain(tx domain.Transaction) domain.TransactionDetail {
	cfg := e.Config()

	templates := make(map[string]string, len(cfg.Factors))
	for _, f := range cfg.Factors {
		templates[f.Code] = f.Template
	}

	n := len(tx.Factors)
	riskFactors := make([]string, 0, n)
	for i, code := range tx.Factors {
		tmpl, ok := templates[code]
		if !ok {
			tmpl = code
		}
		riskFactors = append(riskFactors, fmt.Sprintf("%d. %s - %s", i+1, FactorName(code), render(tmpl, tx, cfg)))
	}

	explanation := "No fraud indicators detected for this transaction."
	if n > 0 {
		explanation = fmt.Sprintf("This transaction triggered %d fraud indicator(s).", n)
	}

	level := tx.RiskLevel
	if !level.Valid() {
		level = Level(tx.RiskScore, cfg)
	}

	return domain.TransactionDetail{
		Transaction:       tx,
		Confidence:        Confidence(n, tx.RiskScore),
		Explanation:       explanation,
		RiskFactors:       riskFactors,
		RecommendedAction: recommendedActions[level],
	}
}

// Confidence is 50 plus 12 per factor plus 20 times the score, capped at 99.
func Confidence(factors int, score float64) int {
	c := int(50 + float64(factors*12) + score*20)
	if c > 99 {
		return 99
	}
	return c
}

// FactorName turns a factor code such as NEW_PAYEE into "New Payee".
func FactorName(code string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(code), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func render(tmpl string, tx domain.Transaction, cfg domain.ScoringConfig) string {
	ts := tx.Timestamp.UTC()
	multiplier := 0.0
	if cfg.AverageAmount > 0 {
		multiplier = tx.Amount / cfg.AverageAmount
	}

	r := strings.NewReplacer(
		"{hour}", fmt.Sprintf("%02d", ts.Hour()),
		"{minute}", fmt.Sprintf("%02d", ts.Minute()),
		"{amount}", strconv.FormatInt(int64(tx.Amount), 10),
		"{currency}", cfg.Currency,
		"{multiplier}", strconv.FormatFloat(multiplier, 'f', 1, 64),
		"{avg}", strconv.FormatFloat(cfg.AverageAmount, 'f', -1, 64),
	)
	return r.Replace(tmpl)
}

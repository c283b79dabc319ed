// Package metrics tracks per-agent token usage and cost, and gates
// activations on Hub-reported budget health. Grounded on
// MetricsReporter and BudgetChecker in the reference runner/metrics.py.
package metrics

// ModelPrice is the per-million-token price for a model's input and
// output tokens.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// modelPrices mirrors MODEL_COSTS from the reference implementation.
// "default" is used for any model not listed here.
var modelPrices = map[string]ModelPrice{
	"claude-opus-4-5-20251101": {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-haiku-3-20250515":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gpt-4-turbo":              {InputPerMillion: 10.0, OutputPerMillion: 30.0},
	"gpt-4o":                   {InputPerMillion: 5.0, OutputPerMillion: 15.0},
	"gpt-4o-mini":              {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"default":                  {InputPerMillion: 3.0, OutputPerMillion: 15.0},
}

func priceFor(model string) ModelPrice {
	if p, ok := modelPrices[model]; ok {
		return p
	}
	return modelPrices["default"]
}

// CalculateCost returns the USD cost of tokensInput/tokensOutput tokens
// against model's price, falling back to the default price table entry
// for unrecognized models.
func CalculateCost(model string, tokensInput, tokensOutput int) float64 {
	price := priceFor(model)
	inputCost := (float64(tokensInput) / 1_000_000) * price.InputPerMillion
	outputCost := (float64(tokensOutput) / 1_000_000) * price.OutputPerMillion
	return roundTo(inputCost+outputCost, 6)
}

// EstimateActivationCost estimates the cost of an activation expected to
// consume estimatedTokens total, assuming a 70/30 input/output split.
func EstimateActivationCost(model string, estimatedTokens int) float64 {
	tokensInput := int(float64(estimatedTokens) * 0.7)
	tokensOutput := int(float64(estimatedTokens) * 0.3)
	price := priceFor(model)
	inputCost := (float64(tokensInput) / 1_000_000) * price.InputPerMillion
	outputCost := (float64(tokensOutput) / 1_000_000) * price.OutputPerMillion
	return roundTo(inputCost+outputCost, 4)
}

func roundTo(v float64, places int) float64 {
	pow := 1.0
	for i := 0; i < places; i++ {
		pow *= 10
	}
	return float64(int64(v*pow+0.5)) / pow
}

package engine

// priceTableEntry is the per-million-token USD price for one side of a
// model's traffic.
type priceTableEntry struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable is a static model -> price lookup. Unknown models price to
// zero, per spec.md §4.2's "Token accounting" — the engine never fails a
// Run over a missing price entry.
var priceTable = map[string]priceTableEntry{
	"gpt-4o":                    {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":               {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4-turbo":               {InputPerMillion: 10.00, OutputPerMillion: 30.00},
	"o1":                        {InputPerMillion: 15.00, OutputPerMillion: 60.00},
	"o1-mini":                   {InputPerMillion: 3.00, OutputPerMillion: 12.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022": {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-3-opus-20240229":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"gemini-1.5-pro":            {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	"gemini-1.5-flash":          {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"gemini-2.0-flash":          {InputPerMillion: 0.10, OutputPerMillion: 0.40},
}

// costUSD computes input*p_in + output*p_out per million tokens for model.
// Models absent from priceTable cost zero.
func costUSD(model string, inputTokens, outputTokens int64) float64 {
	entry, ok := priceTable[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1_000_000)*entry.InputPerMillion +
		(float64(outputTokens)/1_000_000)*entry.OutputPerMillion
}

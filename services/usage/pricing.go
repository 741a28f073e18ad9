package usage

import (
	"github.com/upb/rag-gateway/config"
	"github.com/upb/rag-gateway/models"
)

// Price is the list price of one model
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
	PerRequest  float64
}

// PriceTable looks up prices by provider and model
type PriceTable struct {
	prices map[string]Price
}

func priceKey(provider, model string) string {
	return provider + "/" + model
}

// DefaultPriceTable returns list prices in USD
func DefaultPriceTable() *PriceTable {
	return &PriceTable{prices: map[string]Price{
		priceKey("anthropic", "claude-sonnet-4-20250514"):  {InputPer1K: 0.003, OutputPer1K: 0.015},
		priceKey("anthropic", "claude-3-5-haiku-20241022"): {InputPer1K: 0.0008, OutputPer1K: 0.004},
		priceKey("openai", "gpt-4o"):                       {InputPer1K: 0.0025, OutputPer1K: 0.01},
		priceKey("openai", "gpt-4o-mini"):                  {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		priceKey("openai", "o1-mini"):                      {InputPer1K: 0.0011, OutputPer1K: 0.0044},
		priceKey("openai", "text-embedding-3-small"):       {InputPer1K: 0.00002},
		priceKey("voyage", "voyage-multimodal-3"):          {InputPer1K: 0.00012},
		priceKey("cohere", "rerank-v3.5"):                  {PerRequest: 0.002},
	}}
}

// NewPriceTable overlays configured entries on the defaults
func NewPriceTable(entries []config.PriceEntry) *PriceTable {
	table := DefaultPriceTable()
	for _, e := range entries {
		table.prices[priceKey(e.Provider, e.Model)] = Price{
			InputPer1K:  e.InputPer1K,
			OutputPer1K: e.OutputPer1K,
			PerRequest:  e.PerRequest,
		}
	}
	return table
}

// Cost returns the USD cost of a record. Unknown models cost 0.
func (t *PriceTable) Cost(rec *models.UsageRecord) float64 {
	price, ok := t.prices[priceKey(rec.Provider, rec.Model)]
	if !ok {
		return 0
	}
	return float64(rec.InputTokens)/1000*price.InputPer1K +
		float64(rec.OutputTokens)/1000*price.OutputPer1K +
		float64(rec.Units)*price.PerRequest
}

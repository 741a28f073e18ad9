package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// planFile is the on-disk shape of RATE_LIMIT_PLANS_FILE:
//
//	plans:
//	  free: 20
//	  family: 100
type planFile struct {
	Plans map[string]int `yaml:"plans"`
}

// PriceEntry is one row of USAGE_PRICING_FILE
type PriceEntry struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
	PerRequest  float64 `yaml:"per_request"`
}

type pricingFile struct {
	Prices []PriceEntry `yaml:"prices"`
}

// LoadPlanCeilings reads plan ceiling overrides from a YAML file
func LoadPlanCeilings(path string) (map[string]int, error) {
	var f planFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	for plan, ceiling := range f.Plans {
		if ceiling < 0 {
			return nil, fmt.Errorf("plan %q has negative ceiling %d", plan, ceiling)
		}
	}
	return f.Plans, nil
}

// LoadPricing reads price table overrides from a YAML file
func LoadPricing(path string) ([]PriceEntry, error) {
	var f pricingFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	for _, p := range f.Prices {
		if p.Provider == "" || p.Model == "" {
			return nil, fmt.Errorf("price entry requires provider and model")
		}
	}
	return f.Prices, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

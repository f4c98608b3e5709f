package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PriceBandConfig assigns a multiplier to slots starting in [From, To).
type PriceBandConfig struct {
	Name       string  `yaml:"name"`
	From       string  `yaml:"from"` // "12:00"
	To         string  `yaml:"to"`   // "14:00"
	Multiplier float64 `yaml:"multiplier"`
}

// PricingConfig is the root of pricing.yaml.
type PricingConfig struct {
	DefaultMultiplier float64           `yaml:"default_multiplier"`
	Bands             []PriceBandConfig `yaml:"bands"`
}

// DefaultPricing mirrors the demand curve used when no pricing file exists.
func DefaultPricing() *PricingConfig {
	return &PricingConfig{
		DefaultMultiplier: 1.0,
		Bands: []PriceBandConfig{
			{Name: "early_morning", From: "00:00", To: "09:00", Multiplier: 0.9},
			{Name: "morning", From: "09:00", To: "12:00", Multiplier: 1.0},
			{Name: "lunch", From: "12:00", To: "14:00", Multiplier: 1.1},
			{Name: "afternoon", From: "14:00", To: "16:00", Multiplier: 1.0},
			{Name: "late_afternoon", From: "16:00", To: "18:00", Multiplier: 1.2},
			{Name: "evening", From: "18:00", To: "24:00", Multiplier: 1.3},
		},
	}
}

// LoadPricingConfig loads and validates the pricing table from YAML.
func LoadPricingConfig(path string) (*PricingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}

	var cfg PricingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing config: %w", err)
	}
	if cfg.DefaultMultiplier == 0 {
		cfg.DefaultMultiplier = 1.0
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate pricing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks band formats, multipliers and overlaps.
func (c *PricingConfig) Validate() error {
	if c.DefaultMultiplier <= 0 {
		return fmt.Errorf("default_multiplier must be positive")
	}

	type span struct{ from, to string }
	spans := make([]span, 0, len(c.Bands))
	for i, b := range c.Bands {
		if b.Multiplier <= 0 {
			return fmt.Errorf("bands[%d]: multiplier must be positive, got %v", i, b.Multiplier)
		}
		if !isValidTime(b.From) || !isValidTime(b.To) {
			return fmt.Errorf("bands[%d]: invalid time range %s-%s", i, b.From, b.To)
		}
		if b.From >= b.To {
			return fmt.Errorf("bands[%d]: from must be before to", i)
		}
		spans = append(spans, span{b.From, b.To})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
	for i := 1; i < len(spans); i++ {
		if spans[i].from < spans[i-1].to {
			return fmt.Errorf("bands %s-%s and %s-%s overlap",
				spans[i-1].from, spans[i-1].to, spans[i].from, spans[i].to)
		}
	}
	return nil
}

// Fingerprint identifies the table contents. Band names and order do not
// take part, so renaming or reordering bands leaves it unchanged.
func (c *PricingConfig) Fingerprint() string {
	bands := append([]PriceBandConfig(nil), c.Bands...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].From < bands[j].From })

	h := sha1.New()
	fmt.Fprintf(h, "default=%g;", c.DefaultMultiplier)
	for _, b := range bands {
		fmt.Fprintf(h, "%s-%s=%g;", b.From, b.To, b.Multiplier)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// isValidTime accepts zero-padded HH:MM from 00:00 to 24:00.
func isValidTime(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	if s == "24:00" {
		return true
	}
	return s[:2] <= "23" && s[3:] <= "59"
}

// Package pricing turns the configured time-of-day demand curve into slot
// price multipliers and quotes booking totals.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"homestyle/internal/config"
	"homestyle/internal/model"
)

const (
	// ExtraServiceDiscount is taken off for every service beyond the first.
	ExtraServiceDiscount = 5.0
	// MaxMultiServiceDiscount caps the multi-service discount.
	MaxMultiServiceDiscount = 15.0
)

// Band applies Multiplier to slot starts in [From, To) minutes of day.
type Band struct {
	Name       string
	From       int
	To         int
	Multiplier float64
}

// Table is an immutable time-of-day multiplier table.
type Table struct {
	defaultMultiplier float64
	bands             []Band
	fingerprint       string
}

// NewTable builds a table from validated pricing config.
func NewTable(cfg *config.PricingConfig) (*Table, error) {
	if cfg == nil {
		cfg = config.DefaultPricing()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Table{defaultMultiplier: cfg.DefaultMultiplier, fingerprint: cfg.Fingerprint()}
	for _, b := range cfg.Bands {
		from, err := model.ParseMinute(b.From)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", b.Name, err)
		}
		to, err := model.ParseMinute(b.To)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", b.Name, err)
		}
		t.bands = append(t.bands, Band{Name: b.Name, From: from, To: to, Multiplier: b.Multiplier})
	}
	sort.Slice(t.bands, func(i, j int) bool { return t.bands[i].From < t.bands[j].From })

	return t, nil
}

// MustDefaultTable returns the built-in demand curve.
func MustDefaultTable() *Table {
	t, err := NewTable(config.DefaultPricing())
	if err != nil {
		panic(err)
	}
	return t
}

// Multiplier returns the multiplier for a slot starting at minute of day.
func (t *Table) Multiplier(minute int) float64 {
	for _, b := range t.bands {
		if minute >= b.From && minute < b.To {
			return b.Multiplier
		}
	}
	return t.defaultMultiplier
}

// Bands returns a copy of the table's bands ordered by start.
func (t *Table) Bands() []Band {
	return append([]Band(nil), t.bands...)
}

// Fingerprint identifies the table contents; equal tables share it.
func (t *Table) Fingerprint() string {
	return t.fingerprint
}

// Provider holds the current table and lets a config watcher swap it.
type Provider struct {
	current atomic.Pointer[Table]
}

// NewProvider starts with t, or the default table when t is nil.
func NewProvider(t *Table) *Provider {
	if t == nil {
		t = MustDefaultTable()
	}
	p := &Provider{}
	p.current.Store(t)
	return p
}

// Current returns the active table.
func (p *Provider) Current() *Table {
	return p.current.Load()
}

// Update replaces the active table with one built from cfg.
func (p *Provider) Update(cfg *config.PricingConfig) error {
	t, err := NewTable(cfg)
	if err != nil {
		return err
	}
	p.current.Store(t)
	return nil
}

// Quote returns the list price of services and the total after the
// multi-service discount and the slot multiplier.
func Quote(services []model.Service, multiplier float64) (base, total float64) {
	for _, s := range services {
		base += s.Price
	}

	discount := 0.0
	if len(services) > 1 {
		discount = math.Min(float64(len(services)-1)*ExtraServiceDiscount, MaxMultiServiceDiscount)
	}

	total = math.Max(base-discount, 0) * multiplier
	return base, math.Round(total*100) / 100
}

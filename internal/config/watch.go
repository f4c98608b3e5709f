package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// pricingWatcher remembers what was last applied so a touched but unchanged
// file does not churn the live table.
type pricingWatcher struct {
	path        string
	onUpdate    func(*PricingConfig)
	logger      zerolog.Logger
	lastMod     time.Time
	fingerprint string
	lastErr     string
}

// WatchPricing polls the pricing file and calls onUpdate whenever a valid
// table with new contents appears. The first load runs before it returns and
// its error is returned, but polling starts either way, so a file that is
// created or fixed later is still picked up.
func WatchPricing(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*PricingConfig)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w := &pricingWatcher{
		path:     path,
		onUpdate: onUpdate,
		logger:   logger.With().Str("component", "pricing_watch").Str("path", path).Logger(),
	}

	err := w.poll()
	if err != nil {
		w.lastErr = err.Error()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.report(w.poll())
			}
		}
	}()

	return err
}

// poll loads the file when its mtime moved and applies it when its
// fingerprint differs from the table last applied.
func (w *pricingWatcher) poll() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat pricing config: %w", err)
	}
	if !w.lastMod.IsZero() && !info.ModTime().After(w.lastMod) {
		return nil
	}

	cfg, err := LoadPricingConfig(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()

	fp := cfg.Fingerprint()
	if fp == w.fingerprint {
		w.logger.Debug().Str("fingerprint", fp).Msg("pricing file touched, table unchanged")
		return nil
	}
	w.fingerprint = fp
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	return nil
}

// report logs a failure once per distinct error and notes recovery.
func (w *pricingWatcher) report(err error) {
	if err == nil {
		if w.lastErr != "" {
			w.logger.Info().Msg("pricing file readable again")
			w.lastErr = ""
		}
		return
	}
	if err.Error() != w.lastErr {
		w.logger.Warn().Err(err).Msg("pricing reload failed, keeping current table")
		w.lastErr = err.Error()
	}
}

// Package app wires together configuration, the API client, the bitemporal
// store, the indicator registry, and the LLM provider into a single Deps
// struct that commands receive at runtime.
package app

import (
	"fmt"

	"github.com/derickschaefer/reserve/internal/config"
	"github.com/derickschaefer/reserve/internal/fred"
	"github.com/derickschaefer/reserve/internal/llmprovider"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/store"
)

// Deps holds all runtime dependencies injected into command Run functions.
// Store is opened lazily via RequireStore — most read-only metadata
// commands never touch the database.
type Deps struct {
	Config   *config.Config
	Client   *fred.Client
	Provider llmprovider.Provider
	Store    *store.Store

	registrySpecs []model.IndicatorSpec
}

// New builds a Deps from resolved config. The store is not opened here;
// call RequireStore() before any command that reads or writes it.
func New(cfg *config.Config) *Deps {
	client := fred.NewClient(
		cfg.APIKey,
		cfg.BaseURL,
		cfg.Timeout,
		cfg.Rate,
		cfg.Debug,
	)

	provider, err := llmprovider.New(llmprovider.Config{
		Provider:       cfg.LLMProvider,
		APIKey:         cfg.LLMAPIKey,
		OpenRouterKey:  cfg.LLMOpenRouterKey,
		Model:          cfg.LLMModel,
		BaseURL:        cfg.LLMBaseURL,
		RequestTimeout: cfg.LLMTimeout,
		RatePerSec:     cfg.LLMRatePerSec,
		Debug:          cfg.Debug,
	})
	if err != nil {
		// New only errors on a named provider missing its API key; fall
		// back to Mock rather than fail command construction entirely —
		// brief/ask commands surface the real error if they need a live
		// provider and none is configured.
		provider = llmprovider.Mock{}
	}

	return &Deps{
		Config:   cfg,
		Client:   client,
		Provider: provider,
	}
}

// RequireStore opens the bbolt database at Config.DBPath if not already
// open. Safe to call multiple times.
func (d *Deps) RequireStore() error {
	if d.Store != nil {
		return nil
	}
	if d.Config.DBPath == "" {
		return fmt.Errorf("no database path configured; set RESERVE_DB_PATH or db_path in config.json")
	}
	s, err := store.Open(d.Config.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	d.Store = s
	return nil
}

// Close releases the store handle, if open. Safe to call even if the store
// was never opened.
func (d *Deps) Close() error {
	if d.Store == nil {
		return nil
	}
	err := d.Store.Close()
	d.Store = nil
	return err
}

// Registry returns the effective IndicatorSpec table: Config.RegistryPath
// if set (YAML override), else the built-in default. Loaded once and
// cached on Deps for the life of the command invocation.
func (d *Deps) Registry() ([]model.IndicatorSpec, error) {
	if d.registrySpecs != nil {
		return d.registrySpecs, nil
	}
	if d.Config.RegistryPath != "" {
		specs, err := registry.LoadFile(d.Config.RegistryPath)
		if err != nil {
			return nil, err
		}
		d.registrySpecs = specs
		return specs, nil
	}
	d.registrySpecs = registry.Default()
	return d.registrySpecs, nil
}

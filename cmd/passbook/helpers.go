package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/mokuren/passbook-flow/internal/config"
	"github.com/mokuren/passbook-flow/internal/engine"
	"github.com/mokuren/passbook-flow/internal/extract"
	"github.com/mokuren/passbook-flow/internal/kana"
	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/reconcile"
	"github.com/mokuren/passbook-flow/internal/schema"
	"github.com/mokuren/passbook-flow/internal/service"
	"github.com/mokuren/passbook-flow/internal/storage"
)

// initStorage opens the database and brings the schema current.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// pipeline bundles the wired components a command may need.
type pipeline struct {
	store      service.Storage
	normalizer *kana.Normalizer
	registry   *schema.Registry
	ruleset    *learning.Ruleset
	ledger     *learning.Ledger
	engine     *engine.Engine
}

// buildPipeline wires the full processing stack from configuration.
func buildPipeline(ctx context.Context, progress service.ProgressSink) (*pipeline, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	structural, err := extract.NewExtractor(extract.Config{
		Provider: viper.GetString("extraction.structural.provider"),
		APIKey:   viper.GetString("extraction.structural.api_key"),
		Model:    viper.GetString("extraction.structural.model"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create structural leg: %w", err)
	}

	validator, err := extract.NewExtractor(extract.Config{
		Provider: viper.GetString("extraction.validator.provider"),
		APIKey:   viper.GetString("extraction.validator.api_key"),
		Model:    viper.GetString("extraction.validator.model"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create validator leg: %w", err)
	}

	normalizer := kana.NewNormalizer(store)
	registry := schema.NewRegistry(store)
	ruleset := learning.NewRuleset(store,
		viper.GetInt("learning.min_support"),
		viper.GetFloat64("learning.activation"))
	reconciler := reconcile.NewReconciler(normalizer, registry,
		viper.GetFloat64("review.threshold"))
	ledger := learning.NewLedger(store, normalizer, registry, ruleset, learning.Options{
		TextAlpha:  viper.GetFloat64("learning.text_alpha"),
		KanaAlpha:  viper.GetFloat64("learning.kana_alpha"),
		MinSupport: viper.GetInt("learning.min_support"),
		Activation: viper.GetFloat64("learning.activation"),
	})

	eng := engine.New(structural, validator, reconciler, ruleset, registry, store, progress, engine.Options{
		LegTimeout: viper.GetDuration("extraction.leg_timeout"),
	})

	return &pipeline{
		store:      store,
		normalizer: normalizer,
		registry:   registry,
		ruleset:    ruleset,
		ledger:     ledger,
		engine:     eng,
	}, nil
}

func (p *pipeline) Close() {
	_ = p.store.Close()
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/ai"
	"github.com/traylinx/autoheal/internal/ai/providers/mock"
	"github.com/traylinx/autoheal/internal/ai/providers/openaicompat"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/config"
	"github.com/traylinx/autoheal/internal/disambiguate"
	"github.com/traylinx/autoheal/internal/healer"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/strategy"
	"github.com/traylinx/autoheal/internal/types"
	"github.com/traylinx/autoheal/internal/util"
)

// engine is everything one process needs to resolve selectors.
type engine struct {
	stateBox *util.StateBox
	service  *ai.Service
	healer   *healer.Healer
}

func newEngine(cfg *config.Config) (*engine, error) {
	sb, err := cfg.StateBox()
	if err != nil {
		return nil, fmt.Errorf("state directory: %w", err)
	}
	if err := util.HardenPermissions(sb); err != nil {
		log.Warnf("state directory: %v", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	service := ai.NewService(provider,
		resilience.NewCircuitBreaker(cfg.BreakerSettings()),
		resilience.NewRetryPolicy(cfg.RetrySettings()),
		ai.Config{
			RequestTimeout:        cfg.AIRequestTimeout(),
			VisualAnalysisEnabled: cfg.AI.VisualAnalysisEnabled,
			MaxHTMLTokens:         cfg.AI.MaxHTMLTokens,
		})

	mode, err := cfg.ExecutionStrategy()
	if err != nil {
		return nil, err
	}
	narrow := disambiguate.New(service)
	locators := []strategy.Locator{strategy.NewDOMLocator(service, narrow)}
	if cfg.AI.VisualAnalysisEnabled {
		locators = append(locators, strategy.NewVisualLocator(service, narrow))
	} else if mode == types.ExecutionVisualFirst {
		log.Warn("visual analysis is disabled; visual_first runs DOM analysis only")
	}
	sel, err := strategy.NewSelector(mode, locators...)
	if err != nil {
		return nil, err
	}

	cacheCfg := cfg.CacheSettings()
	if cacheCfg.Type == cache.TypeFile && cacheCfg.Directory == "" {
		cacheCfg.Directory = sb.CacheDir()
	}
	if cacheCfg.Type == cache.TypeFile && sb.IsReadOnly() {
		log.Warn("state directory is read-only; falling back to the memory cache")
		cacheCfg.Type = cache.TypeMemory
	}
	selectorCache, err := cache.New(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("selector cache: %w", err)
	}

	h, err := healer.New(healer.Config{
		QuickCheckTimeout: cfg.QuickCheckTimeout(),
		Options:           cfg.LocatorOptions(),
		MaxConcurrent:     cfg.Performance.MaxConcurrentRequests,
	}, healer.Components{
		Cache:         selectorCache,
		Locator:       sel,
		Disambiguator: narrow,
		AI:            service,
	})
	if err != nil {
		_ = selectorCache.Close()
		return nil, err
	}

	log.Infof("engine ready: provider=%s strategy=%s cache=%s", provider.Name(), mode, cacheCfg.Type)
	return &engine{stateBox: sb, service: service, healer: h}, nil
}

func newProvider(cfg *config.Config) (types.Provider, error) {
	switch cfg.AI.Provider {
	case config.ProviderMock:
		return mock.New(), nil
	case config.ProviderOpenAICompatible:
		if cfg.HasAPIKey() {
			log.Debugf("ai: %s at %s with key %s", cfg.AI.Model, cfg.AI.BaseURL, util.HideAPIKey(cfg.AI.APIKey))
		} else {
			log.Warn("ai.api-key is empty; requests are sent unauthenticated")
		}
		return openaicompat.New(openaicompat.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			MaxTokens:   cfg.AI.MaxTokens,
			Temperature: cfg.AI.Temperature,
			Visual:      cfg.AI.VisualAnalysisEnabled,
		})
	default:
		return nil, types.NewConfigurationError("ai.provider", fmt.Sprintf("unknown provider %q", cfg.AI.Provider))
	}
}

func (e *engine) Close() error {
	if e == nil || e.healer == nil {
		return nil
	}
	if err := e.healer.Close(); err != nil && !errors.Is(err, healer.ErrClosed) {
		return err
	}
	return nil
}

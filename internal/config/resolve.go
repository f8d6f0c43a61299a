package config

import (
	"fmt"
	"log/slog"
	"sync"
)

// Plan is the resolved routing chain for one use case: every provider/model
// pairing to try, in order, with inheritance from the environment defaults
// already applied.
type Plan struct {
	// UseCase is the name the plan was resolved for.
	UseCase string

	// Attempts is the flattened fallback chain. Never empty.
	Attempts []PlanAttempt
}

// PlanAttempt is one provider/model pairing of a resolved plan. Nil sampling
// fields mean "not configured anywhere"; the transport then applies the
// vendor's own defaults.
type PlanAttempt struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Resolver resolves use-case names against the active configuration.
// It is safe for concurrent use: [Resolver.Swap] atomically replaces the
// configuration on hot reload, and in-flight resolutions keep the snapshot
// they started with.
type Resolver struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewResolver returns a Resolver serving cfg.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Swap replaces the active configuration.
func (r *Resolver) Swap(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Config returns the active configuration snapshot.
func (r *Resolver) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Resolve returns the routing plan for useCase in the active environment.
// A use case without its own configuration falls back to the environment
// defaults. A plan with no attempts at all is an error: the router would
// have nothing to try.
func (r *Resolver) Resolve(useCase string) (*Plan, error) {
	cfg := r.Config()

	env, ok := cfg.Environments[cfg.Environment]
	if !ok {
		return nil, fmt.Errorf("config: environment %q is not defined", cfg.Environment)
	}

	spec := env.Defaults
	if uc, found := env.UseCases[useCase]; found {
		spec = mergeUseCase(env.Defaults, uc)
	} else {
		slog.Debug("use case not configured; using environment defaults",
			"use_case", useCase,
			"environment", cfg.Environment,
		)
	}

	if len(spec.Attempts) == 0 {
		return nil, fmt.Errorf("config: use case %q resolves to no attempts in environment %q", useCase, cfg.Environment)
	}

	plan := &Plan{UseCase: useCase}
	for _, at := range spec.Attempts {
		for _, model := range at.Models {
			temperature := at.Temperature
			if temperature == nil {
				temperature = spec.Temperature
			}
			maxTokens := at.MaxTokens
			if maxTokens == nil {
				maxTokens = spec.MaxTokens
			}
			plan.Attempts = append(plan.Attempts, PlanAttempt{
				Provider:    at.Provider,
				Model:       model,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
		}
	}
	return plan, nil
}

// mergeUseCase overlays uc on the environment defaults: fields uc sets win,
// unset fields inherit. An empty attempt chain inherits the default chain.
func mergeUseCase(defaults, uc UseCaseSpec) UseCaseSpec {
	merged := uc
	if merged.Temperature == nil {
		merged.Temperature = defaults.Temperature
	}
	if merged.MaxTokens == nil {
		merged.MaxTokens = defaults.MaxTokens
	}
	if len(merged.Attempts) == 0 {
		merged.Attempts = defaults.Attempts
	}
	return merged
}

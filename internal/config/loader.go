package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/pkg/provider/anyllm"
)

// ValidProviderNames lists the provider names a default registry can build
// transports for. Used by [Validate] to warn about unrecognised names.
func ValidProviderNames() []string {
	return anyllm.Supported()
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation; warn for unknown provider names.
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		validateProviderName(name)
	}

	// Active environment
	if cfg.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	} else if _, ok := cfg.Environments[cfg.Environment]; !ok {
		errs = append(errs, fmt.Errorf("environment %q is not defined under environments", cfg.Environment))
	}

	// Environments and their use cases
	for _, envName := range slices.Sorted(maps.Keys(cfg.Environments)) {
		env := cfg.Environments[envName]
		prefix := "environments." + envName

		errs = append(errs, validateUseCase(prefix+".defaults", env.Defaults, cfg.Providers)...)
		if len(env.Defaults.Attempts) == 0 && len(env.UseCases) == 0 {
			errs = append(errs, fmt.Errorf("%s.defaults.attempts is required when no use cases are defined", prefix))
		}

		for _, ucName := range slices.Sorted(maps.Keys(env.UseCases)) {
			ucPrefix := prefix + ".use_cases." + ucName
			uc := env.UseCases[ucName]
			errs = append(errs, validateUseCase(ucPrefix, uc, cfg.Providers)...)
			if len(uc.Attempts) == 0 && len(env.Defaults.Attempts) == 0 {
				errs = append(errs, fmt.Errorf("%s has no attempts and %s.defaults has none to inherit", ucPrefix, prefix))
			}
		}
	}

	// Governor
	if cfg.Governor.MaxAttempts != 0 && (cfg.Governor.MaxAttempts < 3 || cfg.Governor.MaxAttempts > 5) {
		errs = append(errs, fmt.Errorf("governor.max_attempts %d is out of range [3, 5]", cfg.Governor.MaxAttempts))
	}
	if cfg.Governor.BaseDelay < 0 {
		errs = append(errs, errors.New("governor.base_delay must not be negative"))
	}
	if cfg.Governor.CallTimeout < 0 {
		errs = append(errs, errors.New("governor.call_timeout must not be negative"))
	}
	errs = append(errs, validateLimit("governor.default_limit", cfg.Governor.DefaultLimit)...)
	for _, key := range slices.Sorted(maps.Keys(cfg.Governor.Limits)) {
		errs = append(errs, validateLimit("governor.limits."+key, cfg.Governor.Limits[key])...)
	}

	// Session
	if cfg.Session.MaxIterations != 0 && (cfg.Session.MaxIterations < 3 || cfg.Session.MaxIterations > 10) {
		errs = append(errs, fmt.Errorf("session.max_iterations %d is out of range [3, 10]", cfg.Session.MaxIterations))
	}

	// History availability
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversations will not be persisted")
	}

	// MCP servers
	mcpNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateUseCase checks the sampling overrides and attempt chain of one
// [UseCaseSpec]. prefix locates it in the file for error messages.
func validateUseCase(prefix string, uc UseCaseSpec, providers map[string]ProviderConfig) []error {
	var errs []error

	if uc.Temperature != nil && (*uc.Temperature < 0 || *uc.Temperature > 2) {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0.0, 2.0]", prefix, *uc.Temperature))
	}
	if uc.MaxTokens != nil && *uc.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("%s.max_tokens %d must be positive", prefix, *uc.MaxTokens))
	}

	for i, at := range uc.Attempts {
		atPrefix := fmt.Sprintf("%s.attempts[%d]", prefix, i)
		if at.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", atPrefix))
		} else if _, ok := providers[at.Provider]; !ok {
			errs = append(errs, fmt.Errorf("%s.provider %q is not defined under providers", atPrefix, at.Provider))
		}
		if len(at.Models) == 0 {
			errs = append(errs, fmt.Errorf("%s.models must list at least one model", atPrefix))
		}
		for j, model := range at.Models {
			if model == "" {
				errs = append(errs, fmt.Errorf("%s.models[%d] must not be empty", atPrefix, j))
			}
		}
		if at.Temperature != nil && (*at.Temperature < 0 || *at.Temperature > 2) {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0.0, 2.0]", atPrefix, *at.Temperature))
		}
		if at.MaxTokens != nil && *at.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("%s.max_tokens %d must be positive", atPrefix, *at.MaxTokens))
		}
	}
	return errs
}

// validateLimit checks a sliding-window budget for internal consistency.
func validateLimit(prefix string, l LimitConfig) []error {
	var errs []error
	if l.Capacity < 0 {
		errs = append(errs, fmt.Errorf("%s.capacity must not be negative", prefix))
	}
	if l.Window < 0 {
		errs = append(errs, fmt.Errorf("%s.window must not be negative", prefix))
	}
	if l.Capacity > 0 && l.Window == 0 {
		errs = append(errs, fmt.Errorf("%s.window is required when capacity is set", prefix))
	}
	return errs
}

// validateProviderName logs a warning if name is not one of the known vendor
// names. Unknown names are not errors since custom transports may be
// registered at startup, but a near miss on a known vendor is usually a typo,
// so the warning suggests the closest match.
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames(), name) {
		return
	}
	if suggestion := closestVendor(name); suggestion != "" {
		slog.Warn("unknown provider name; may be a typo or a custom transport",
			"name", name,
			"did_you_mean", suggestion,
		)
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom transport",
		"name", name,
		"known", ValidProviderNames(),
	)
}

// closestVendor returns the known vendor most similar to name, or "" when
// nothing scores high enough to be a plausible typo.
func closestVendor(name string) string {
	best, bestScore := "", 0.0
	for _, known := range ValidProviderNames() {
		if score := matchr.JaroWinkler(name, known, false); score > bestScore {
			best, bestScore = known, score
		}
	}
	if bestScore >= 0.85 {
		return best
	}
	return ""
}

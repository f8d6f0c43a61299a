package config_test

import (
	"slices"
	"testing"

	"github.com/crewmatch/coxswain/internal/config"
)

func devRouting(model string) map[string]config.EnvironmentSpec {
	return map[string]config.EnvironmentSpec{
		"dev": {Defaults: config.UseCaseSpec{
			Attempts: []config.AttemptSpec{
				{Provider: "openai", Models: []string{model}},
			},
		}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:       config.ServerConfig{LogLevel: config.LogInfo},
		Environment:  "dev",
		Environments: devRouting("gpt-4o"),
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	prev := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	next := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(prev, next)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_EnvironmentSelectionChanged(t *testing.T) {
	t.Parallel()
	envs := devRouting("gpt-4o")
	envs["staging"] = envs["dev"]
	prev := &config.Config{Environment: "dev", Environments: envs}
	next := &config.Config{Environment: "staging", Environments: envs}

	d := config.Diff(prev, next)
	if !d.RoutingChanged {
		t.Error("expected RoutingChanged=true for environment switch")
	}
	if len(d.EnvChanges) != 0 {
		t.Errorf("no environment spec changed, got %+v", d.EnvChanges)
	}
}

func TestDiff_EnvironmentSpecChanged(t *testing.T) {
	t.Parallel()
	prev := &config.Config{Environment: "dev", Environments: devRouting("gpt-4o")}
	next := &config.Config{Environment: "dev", Environments: devRouting("gpt-4o-mini")}

	d := config.Diff(prev, next)
	if !d.RoutingChanged {
		t.Error("expected RoutingChanged=true")
	}
	if len(d.EnvChanges) != 1 {
		t.Fatalf("expected 1 environment change, got %d", len(d.EnvChanges))
	}
	if d.EnvChanges[0].Name != "dev" || !d.EnvChanges[0].Changed {
		t.Errorf("expected dev Changed=true, got %+v", d.EnvChanges[0])
	}
}

func TestDiff_EnvironmentAddedAndRemoved(t *testing.T) {
	t.Parallel()
	prevEnvs := devRouting("gpt-4o")
	prevEnvs["old"] = prevEnvs["dev"]
	nextEnvs := devRouting("gpt-4o")
	nextEnvs["fresh"] = nextEnvs["dev"]

	d := config.Diff(
		&config.Config{Environment: "dev", Environments: prevEnvs},
		&config.Config{Environment: "dev", Environments: nextEnvs},
	)
	if !d.RoutingChanged {
		t.Error("expected RoutingChanged=true")
	}

	byName := make(map[string]config.EnvDiff)
	for _, ec := range d.EnvChanges {
		byName[ec.Name] = ec
	}
	if !byName["old"].Removed {
		t.Error("expected old Removed=true")
	}
	if !byName["fresh"].Added {
		t.Error("expected fresh Added=true")
	}
	if _, ok := byName["dev"]; ok {
		t.Error("dev did not change and should not appear")
	}
}

func TestDiff_GovernorChanged(t *testing.T) {
	t.Parallel()
	prev := &config.Config{Governor: config.GovernorConfig{MaxAttempts: 3}}
	next := &config.Config{Governor: config.GovernorConfig{MaxAttempts: 5}}

	d := config.Diff(prev, next)
	if !d.GovernorChanged {
		t.Error("expected GovernorChanged=true")
	}
}

func TestDiff_SessionChanged(t *testing.T) {
	t.Parallel()
	prev := &config.Config{Session: config.SessionConfig{MaxIterations: 5}}
	next := &config.Config{Session: config.SessionConfig{MaxIterations: 8}}

	d := config.Diff(prev, next)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
}

func TestDiff_ColdFieldsRequireRestart(t *testing.T) {
	t.Parallel()
	prev := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080"},
		Providers: map[string]config.ProviderConfig{"openai": {APIKey: "a"}},
	}
	next := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":9090"},
		Providers: map[string]config.ProviderConfig{"openai": {APIKey: "b"}},
		History:   config.HistoryConfig{PostgresDSN: "postgres://localhost/crewmatch"},
	}

	d := config.Diff(prev, next)
	for _, want := range []string{"server.listen_addr", "providers", "history"} {
		if !slices.Contains(d.RequiresRestart, want) {
			t.Errorf("RequiresRestart should contain %q, got %v", want, d.RequiresRestart)
		}
	}
	if d.RoutingChanged {
		t.Error("cold changes should not flip RoutingChanged")
	}
}

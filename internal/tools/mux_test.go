package tools_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crewmatch/coxswain/internal/tools"
	toolmock "github.com/crewmatch/coxswain/internal/tools/mock"
	"github.com/crewmatch/coxswain/pkg/types"
)

// staticExecutor builds a FuncExecutor with one operation that always returns
// the given content.
func staticExecutor(name, content string) *tools.FuncExecutor {
	exec := tools.NewFuncExecutor()
	exec.Register(
		types.Operation{Name: name, Description: "static " + name},
		func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, error) {
			return content, nil
		},
	)
	return exec
}

func TestMux_DispatchInInvocationOrder(t *testing.T) {
	t.Parallel()

	mux := tools.NewMux(
		staticExecutor("alpha", "from-a"),
		staticExecutor("beta", "from-b"),
	)

	results, err := mux.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "beta", Arguments: map[string]any{}},
		{ID: "cmd-2", Name: "alpha", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "cmd-1" || results[0].Content != "from-b" {
		t.Errorf("results[0] = %+v, want cmd-1/from-b", results[0])
	}
	if results[1].ID != "cmd-2" || results[1].Content != "from-a" {
		t.Errorf("results[1] = %+v, want cmd-2/from-a", results[1])
	}
}

func TestMux_FirstOwnerKeepsName(t *testing.T) {
	t.Parallel()

	mux := tools.NewMux(
		staticExecutor("dup", "first"),
		staticExecutor("dup", "second"),
	)

	ops := mux.Operations()
	if len(ops) != 1 || ops[0].Name != "dup" {
		t.Fatalf("Operations() = %+v, want a single dup entry", ops)
	}

	results, err := mux.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "dup", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].Content != "first" {
		t.Errorf("Content = %q, want the earlier executor's answer", results[0].Content)
	}
}

func TestMux_UnknownOperation(t *testing.T) {
	t.Parallel()

	mux := tools.NewMux(staticExecutor("alpha", "x"))

	results, err := mux.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "ghost", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(results[0].Error, `unknown operation "ghost"`) {
		t.Errorf("Error = %q", results[0].Error)
	}
}

func TestMux_ChildBatchErrorBecomesResult(t *testing.T) {
	t.Parallel()

	flaky := &toolmock.Executor{
		Ops: []types.Operation{{Name: "flaky"}},
		Err: errors.New("server gone"),
	}
	mux := tools.NewMux(flaky)

	results, err := mux.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "flaky", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute must absorb child failures: %v", err)
	}
	if results[0].Error != "server gone" {
		t.Errorf("Error = %q, want 'server gone'", results[0].Error)
	}
}

func TestMux_EmptyChildResult(t *testing.T) {
	t.Parallel()

	silent := &toolmock.Executor{
		Ops: []types.Operation{{Name: "mute"}},
		ExecuteFunc: func(_ context.Context, _ tools.ExecContext, _ []types.Invocation) ([]types.InvocationResult, error) {
			return nil, nil
		},
	}
	mux := tools.NewMux(silent)

	results, err := mux.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "mute", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].Error != "executor returned no result" {
		t.Errorf("Error = %q", results[0].Error)
	}
}

func TestMux_MergedCatalogSorted(t *testing.T) {
	t.Parallel()

	mux := tools.NewMux(
		staticExecutor("zeta", "z"),
		staticExecutor("alpha", "a"),
		staticExecutor("mid", "m"),
	)

	ops := mux.Operations()
	if len(ops) != 3 {
		t.Fatalf("got %d operations, want 3", len(ops))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if ops[i].Name != want {
			t.Errorf("ops[%d] = %q, want %q", i, ops[i].Name, want)
		}
	}
}

package tools_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/pkg/types"
)

// echoHandler returns the "msg" argument as the result.
func echoHandler(_ context.Context, _ tools.ExecContext, args map[string]any) (string, error) {
	s, _ := args["msg"].(string)
	return s, nil
}

func TestFuncExecutor_Execute(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "echo", Description: "echoes msg"}, echoHandler)

	results, err := e.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "echo", Arguments: map[string]any{"msg": "hello"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.ID != "cmd-1" || res.Name != "echo" {
		t.Errorf("result identity = %q/%q, want cmd-1/echo", res.ID, res.Name)
	}
	if res.Content != "hello" {
		t.Errorf("Content = %q, want %q", res.Content, "hello")
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty", res.Error)
	}
}

func TestFuncExecutor_HandlerErrorBecomesResult(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "boom"}, func(context.Context, tools.ExecContext, map[string]any) (string, error) {
		return "", errors.New("always fails")
	})

	results, err := e.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "boom", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute returned a batch error: %v", err)
	}
	if results[0].Error != "always fails" {
		t.Errorf("Error = %q, want %q", results[0].Error, "always fails")
	}
	if results[0].Content != "" {
		t.Errorf("Content = %q, want empty", results[0].Content)
	}
}

func TestFuncExecutor_UnknownOperation(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()

	results, err := e.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "missing", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute returned a batch error: %v", err)
	}
	if !strings.Contains(results[0].Error, `unknown operation "missing"`) {
		t.Errorf("Error = %q, want unknown-operation message", results[0].Error)
	}
}

func TestFuncExecutor_OrderPreserved(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "a"}, echoHandler)
	e.Register(types.Operation{Name: "b"}, echoHandler)

	results, err := e.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "b", Arguments: map[string]any{}},
		{ID: "cmd-2", Name: "a", Arguments: map[string]any{}},
		{ID: "cmd-3", Name: "b", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"cmd-1", "cmd-2", "cmd-3"}
	for i, res := range results {
		if res.ID != want[i] {
			t.Errorf("results[%d].ID = %q, want %q", i, res.ID, want[i])
		}
	}
}

func TestFuncExecutor_OperationsSorted(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "c"}, echoHandler)
	e.Register(types.Operation{Name: "a"}, echoHandler)
	e.Register(types.Operation{Name: "b"}, echoHandler)

	ops := e.Operations()
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}
	for i, want := range []string{"a", "b", "c"} {
		if ops[i].Name != want {
			t.Errorf("ops[%d].Name = %q, want %q", i, ops[i].Name, want)
		}
	}
}

func TestFuncExecutor_RegisterReplaces(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "op"}, func(context.Context, tools.ExecContext, map[string]any) (string, error) {
		return "old", nil
	})
	e.Register(types.Operation{Name: "op"}, func(context.Context, tools.ExecContext, map[string]any) (string, error) {
		return "new", nil
	})

	results, _ := e.Execute(context.Background(), tools.ExecContext{}, []types.Invocation{
		{ID: "cmd-1", Name: "op", Arguments: map[string]any{}},
	})
	if results[0].Content != "new" {
		t.Errorf("Content = %q, want %q", results[0].Content, "new")
	}
	if len(e.Operations()) != 1 {
		t.Errorf("expected 1 operation after replacement, got %d", len(e.Operations()))
	}
}

func TestFuncExecutor_IgnoresInvalidRegistration(t *testing.T) {
	t.Parallel()

	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: ""}, echoHandler)
	e.Register(types.Operation{Name: "no-handler"}, nil)

	if got := len(e.Operations()); got != 0 {
		t.Errorf("expected 0 operations, got %d", got)
	}
}

func TestFuncExecutor_ExecContextPassedThrough(t *testing.T) {
	t.Parallel()

	var seen tools.ExecContext
	e := tools.NewFuncExecutor()
	e.Register(types.Operation{Name: "capture"}, func(_ context.Context, ec tools.ExecContext, _ map[string]any) (string, error) {
		seen = ec
		return "", nil
	})

	ec := tools.ExecContext{ConversationID: "conv-9", CallerID: "user-3", Roles: []string{"admin"}}
	if _, err := e.Execute(context.Background(), ec, []types.Invocation{
		{ID: "cmd-1", Name: "capture", Arguments: map[string]any{}},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if seen.ConversationID != "conv-9" || seen.CallerID != "user-3" {
		t.Errorf("handler saw %+v, want conv-9/user-3", seen)
	}
	if len(seen.Roles) != 1 || seen.Roles[0] != "admin" {
		t.Errorf("handler saw roles %v, want [admin]", seen.Roles)
	}
}

func TestTransport_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transport tools.Transport
		valid     bool
	}{
		{tools.TransportStdio, true},
		{tools.TransportStreamableHTTP, true},
		{"", false},
		{"websocket", false},
	}

	for _, tt := range tests {
		if got := tt.transport.IsValid(); got != tt.valid {
			t.Errorf("Transport(%q).IsValid() = %v, want %v", tt.transport, got, tt.valid)
		}
	}
}

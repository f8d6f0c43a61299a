package session

import (
	"strings"
	"testing"

	"github.com/crewmatch/coxswain/pkg/types"
)

func TestFlatten(t *testing.T) {
	t.Parallel()

	turns := []types.Turn{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	want := "user: hi\n\nassistant: hello\n\n"
	if got := flatten(turns); got != want {
		t.Errorf("flatten = %q, want %q", got, want)
	}
}

func TestOperationsBlock_Empty(t *testing.T) {
	t.Parallel()

	if got := operationsBlock(nil); got != "" {
		t.Errorf("operationsBlock(nil) = %q, want empty", got)
	}
}

func TestOperationsBlock_ListsCatalogInOrder(t *testing.T) {
	t.Parallel()

	block := operationsBlock([]types.Operation{
		{Name: "get_weather", Description: "Current weather for a city."},
		{Name: "get_time", Description: "Current time in a zone."},
	})

	weather := strings.Index(block, "- get_weather: Current weather for a city.")
	clock := strings.Index(block, "- get_time: Current time in a zone.")
	if weather < 0 || clock < 0 {
		t.Fatalf("block lacks catalog entries:\n%s", block)
	}
	if weather > clock {
		t.Error("catalog entries listed out of order")
	}
	if !strings.Contains(block, "```command") {
		t.Errorf("block lacks the fenced invocation syntax:\n%s", block)
	}
	if !strings.Contains(block, "answer the user directly") {
		t.Errorf("block lacks the stop instruction:\n%s", block)
	}
}

func TestResultsTurn(t *testing.T) {
	t.Parallel()

	turn := resultsTurn([]types.InvocationResult{
		{ID: "cmd-1-1700000000000", Name: "get_weather", Content: "sunny"},
	})
	if turn.Role != types.RoleTool {
		t.Errorf("Role = %q, want %q", turn.Role, types.RoleTool)
	}
	want := `[{"id":"cmd-1-1700000000000","name":"get_weather","content":"sunny"}]`
	if !strings.Contains(turn.Content, want) {
		t.Errorf("Content = %q, want it to embed %s", turn.Content, want)
	}
	if !strings.HasPrefix(turn.Content, "Operation results:\n") {
		t.Errorf("Content = %q, want the results header first", turn.Content)
	}
}

func TestResultsTurn_ErrorOmitsContent(t *testing.T) {
	t.Parallel()

	turn := resultsTurn([]types.InvocationResult{
		{ID: "cmd-2-1700000000000", Name: "lookup", Error: "boom"},
	})
	want := `[{"id":"cmd-2-1700000000000","name":"lookup","error":"boom"}]`
	if !strings.Contains(turn.Content, want) {
		t.Errorf("Content = %q, want it to embed %s", turn.Content, want)
	}
	if strings.Contains(turn.Content, `"content"`) {
		t.Errorf("failed result must not carry a content field: %q", turn.Content)
	}
}

func TestResolveNames(t *testing.T) {
	t.Parallel()

	catalog := []types.Operation{{Name: "get_weather"}, {Name: "get_time"}}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "exact match untouched", in: "get_weather", want: "get_weather"},
		{name: "near miss resolved", in: "get_weathr", want: "get_weather"},
		{name: "missing underscore resolved", in: "getweather", want: "get_weather"},
		{name: "unrelated name kept", in: "launch_rocket", want: "launch_rocket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			invs := []types.Invocation{{ID: "cmd-1", Name: tt.in, Arguments: map[string]any{}}}
			resolveNames(catalog, invs)
			if invs[0].Name != tt.want {
				t.Errorf("resolveNames(%q) = %q, want %q", tt.in, invs[0].Name, tt.want)
			}
		})
	}
}

func TestResolveNames_EmptyCatalog(t *testing.T) {
	t.Parallel()

	invs := []types.Invocation{{ID: "cmd-1", Name: "anything", Arguments: map[string]any{}}}
	resolveNames(nil, invs)
	if invs[0].Name != "anything" {
		t.Errorf("name changed to %q with no catalog", invs[0].Name)
	}
}

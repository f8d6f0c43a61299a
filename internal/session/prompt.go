package session

import (
	"encoding/json"
	"strings"

	"github.com/crewmatch/coxswain/pkg/types"
)

// flatten renders the running conversation as role-labelled text, one blank
// line between turns.
func flatten(turns []types.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// operationsBlock renders the fixed catalog section appended to every prompt:
// each operation's name and description, followed by the expected invocation
// syntax. Returns "" for an empty catalog, omitting the block entirely.
func operationsBlock(catalog []types.Operation) string {
	if len(catalog) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You can invoke the following operations when you need external data or actions:\n\n")
	for _, op := range catalog {
		sb.WriteString("- ")
		sb.WriteString(op.Name)
		if op.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(op.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nTo invoke an operation, emit a fenced block:\n\n")
	sb.WriteString("```command\n{\"name\": \"<operation>\", \"arguments\": {}}\n```\n\n")
	sb.WriteString("Emit one block per operation. When you have everything you need, answer the user directly without invoking anything.\n")
	return sb.String()
}

// resultsTurn serializes one batch's outcomes into the single synthetic turn
// appended to the conversation before the next iteration.
func resultsTurn(results []types.InvocationResult) types.Turn {
	data, _ := json.Marshal(results)
	var sb strings.Builder
	sb.WriteString("Operation results:\n")
	sb.Write(data)
	sb.WriteString("\n\nUse these results to compose your next response. Answer the user directly unless another operation is required.")
	return types.Turn{Role: types.RoleTool, Content: sb.String()}
}

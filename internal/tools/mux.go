package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/crewmatch/coxswain/pkg/types"
)

// CatalogedExecutor is an [Executor] that can enumerate the operations it
// serves. Both [FuncExecutor] and the MCP executor satisfy it.
type CatalogedExecutor interface {
	Executor
	Operations() []types.Operation
}

// Mux fans invocations out to the executor that owns each operation name, so
// built-in operations and remote MCP tools can share one catalog. Ownership
// is fixed at construction: the first executor to claim a name keeps it,
// which means built-ins registered ahead of remote servers cannot be
// shadowed by them.
type Mux struct {
	owners  map[string]Executor
	catalog []types.Operation
}

// Compile-time interface check.
var _ CatalogedExecutor = (*Mux)(nil)

// NewMux builds a Mux over execs in priority order.
func NewMux(execs ...CatalogedExecutor) *Mux {
	m := &Mux{owners: make(map[string]Executor)}
	for _, ex := range execs {
		for _, op := range ex.Operations() {
			if _, taken := m.owners[op.Name]; taken {
				slog.Warn("operation name already claimed; keeping earlier owner",
					"operation", op.Name)
				continue
			}
			m.owners[op.Name] = ex
			m.catalog = append(m.catalog, op)
		}
	}
	sort.Slice(m.catalog, func(i, j int) bool { return m.catalog[i].Name < m.catalog[j].Name })
	return m
}

// Operations returns the merged catalog, sorted by name.
func (m *Mux) Operations() []types.Operation {
	out := make([]types.Operation, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Execute dispatches each invocation to its owning executor and returns the
// results in invocation order. Unknown names and child executor failures
// become error results; Execute itself never fails the batch.
func (m *Mux) Execute(ctx context.Context, ec ExecContext, invs []types.Invocation) ([]types.InvocationResult, error) {
	results := make([]types.InvocationResult, 0, len(invs))
	for _, inv := range invs {
		owner, ok := m.owners[inv.Name]
		if !ok {
			results = append(results, types.InvocationResult{
				ID:    inv.ID,
				Name:  inv.Name,
				Error: fmt.Sprintf("unknown operation %q", inv.Name),
			})
			continue
		}

		rs, err := owner.Execute(ctx, ec, []types.Invocation{inv})
		switch {
		case err != nil:
			results = append(results, types.InvocationResult{
				ID:    inv.ID,
				Name:  inv.Name,
				Error: err.Error(),
			})
		case len(rs) == 0:
			results = append(results, types.InvocationResult{
				ID:    inv.ID,
				Name:  inv.Name,
				Error: "executor returned no result",
			})
		default:
			results = append(results, rs[0])
		}
	}
	return results, nil
}

package session

import (
	"log/slog"

	"github.com/antzucaro/matchr"

	"github.com/crewmatch/coxswain/pkg/types"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for treating an
// extracted name as a typo of a catalog entry.
const fuzzyThreshold = 0.85

// resolveNames maps each invocation's name onto the catalog: an exact match
// wins, otherwise the closest catalog name at or above the similarity
// threshold replaces it. Resolution renames, it never filters; names that
// match nothing are left for the executor to report back to the model.
func resolveNames(catalog []types.Operation, invs []types.Invocation) {
	if len(catalog) == 0 || len(invs) == 0 {
		return
	}

	known := make(map[string]bool, len(catalog))
	for _, op := range catalog {
		known[op.Name] = true
	}

	for i := range invs {
		name := invs[i].Name
		if known[name] {
			continue
		}

		best, score := "", 0.0
		for _, op := range catalog {
			if s := matchr.JaroWinkler(name, op.Name, false); s > score {
				best, score = op.Name, s
			}
		}
		if score >= fuzzyThreshold {
			slog.Debug("resolved operation name", "from", name, "to", best, "score", score)
			invs[i].Name = best
		}
	}
}

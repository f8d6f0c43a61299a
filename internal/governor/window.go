package governor

import (
	"strings"
	"sync"
	"time"
)

// keyTable holds the per-key window state. Lookup creates state lazily so
// the governor needs no advance knowledge of the key space.
type keyTable struct {
	mu   sync.Mutex
	keys map[string]*keyState
	cfg  Config
}

func newKeyTable(cfg Config) *keyTable {
	return &keyTable{
		keys: make(map[string]*keyState),
		cfg:  cfg,
	}
}

// stateFor returns the state for key, creating it on first use.
func (t *keyTable) stateFor(key string) *keyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	ks, ok := t.keys[key]
	if !ok {
		ks = &keyState{limit: t.limitFor(key)}
		t.keys[key] = ks
	}
	return ks
}

// limitFor resolves the admission budget for key: an exact entry wins, then
// the entry for the key's "provider" prefix, then the default.
func (t *keyTable) limitFor(key string) Limit {
	if l, ok := t.cfg.Limits[key]; ok {
		return normalizeLimit(l, t.cfg.DefaultLimit)
	}
	if prov, _, found := strings.Cut(key, ":"); found {
		if l, ok := t.cfg.Limits[prov]; ok {
			return normalizeLimit(l, t.cfg.DefaultLimit)
		}
	}
	return t.cfg.DefaultLimit
}

// normalizeLimit fills zero fields of l from def.
func normalizeLimit(l, def Limit) Limit {
	if l.Capacity <= 0 {
		l.Capacity = def.Capacity
	}
	if l.Window <= 0 {
		l.Window = def.Window
	}
	return l
}

// keyState is one key's sliding window. Its mutex serializes the
// prune-check-record sequence; distinct keys proceed independently.
type keyState struct {
	mu         sync.Mutex
	limit      Limit
	admissions []time.Time
}

// prune drops admissions older than the trailing window ending at now.
// Caller must hold mu.
func (ks *keyState) prune(now time.Time) {
	cutoff := now.Add(-ks.limit.Window)
	i := 0
	for i < len(ks.admissions) && !ks.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ks.admissions = append(ks.admissions[:0], ks.admissions[i:]...)
	}
}

// Package command pulls structured tool invocations out of free-form model
// text. Models are instructed to mark commands with one of five conventions;
// in practice they mix conventions, wrap them in prose, and truncate them
// mid-structure, so every matcher runs on every response and damaged JSON
// goes through a repair pipeline before being believed. What the matchers
// claim is removed from the narrative; everything else is left exactly as
// the model wrote it.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/crewmatch/coxswain/internal/observe"
	"github.com/crewmatch/coxswain/pkg/types"
)

// Extraction is the result of scanning one model response.
type Extraction struct {
	// Narrative is the response text with all extracted command fragments
	// removed and surrounding whitespace tidied.
	Narrative string

	// Invocations holds the extracted commands in source order. Empty when
	// the response was pure prose.
	Invocations []types.Invocation
}

// Extractor scans model responses for command invocations. It is safe for
// concurrent use; the invocation counter is shared across goroutines.
type Extractor struct {
	metrics *observe.Metrics
	now     func() time.Time
	counter atomic.Int64
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMetrics overrides the metrics sink. Mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) {
		e.metrics = m
	}
}

// WithClock overrides the timestamp source for invocation ids.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New returns a ready-to-use Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// matchers in priority order. When two conventions claim overlapping text,
// the earlier one keeps it.
var matchers = []func(string) []span{
	matchFenced,
	matchBlockList,
	matchTaggedObject,
	matchNamedTag,
	matchBareName,
}

// Extract runs every matcher over text and merges their findings by source
// position. Commands that cannot be decoded, even after repair, are left in
// the narrative untouched; silently deleting text the model produced would
// hide it from the user with nothing to show for it.
func (e *Extractor) Extract(text string) Extraction {
	var kept []span
	for _, match := range matchers {
		for _, sp := range match(text) {
			if overlapsAny(kept, sp) {
				continue
			}
			kept = append(kept, sp)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	var ext Extraction
	for _, sp := range kept {
		for _, p := range sp.invs {
			inv := types.Invocation{
				ID:        e.nextID(),
				Name:      p.name,
				Arguments: p.args,
			}
			ext.Invocations = append(ext.Invocations, inv)
			e.metrics.RecordInvocation(context.Background(), sp.convention)
			slog.Debug("extracted command",
				"id", inv.ID, "name", inv.Name, "convention", sp.convention)
		}
	}
	ext.Narrative = stripSpans(text, kept)
	return ext
}

// nextID mints a unique invocation id from a process-wide counter and the
// current wall clock.
func (e *Extractor) nextID() string {
	return fmt.Sprintf("cmd-%d-%d", e.counter.Add(1), e.now().UnixMilli())
}

func overlapsAny(kept []span, sp span) bool {
	for _, k := range kept {
		if sp.start < k.end && k.start < sp.end {
			return true
		}
	}
	return false
}

// stripSpans removes the claimed ranges from text and tidies the remainder.
func stripSpans(text string, spans []span) string {
	var b []byte
	pos := 0
	for _, sp := range spans {
		b = append(b, text[pos:sp.start]...)
		pos = sp.end
	}
	b = append(b, text[pos:]...)
	return tidyNarrative(string(b))
}

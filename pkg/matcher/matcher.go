// Package matcher scores agents against a free-text task. Scoring is lexical:
// trigger phrases weighted by how specific they are, plus a smaller weight
// for focus keyword overlap. It is deterministic and never touches the
// registry it reads from.
package matcher

import (
	"slices"
	"strings"

	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/textnorm"
)

// Default scoring weights
const (
	DefaultTriggerWeight = 1.0
	DefaultFocusWeight   = 0.25
	DefaultMinScore      = 0.5
)

// Matcher ranks agents for a task. Implementations must return the same
// ordering for the same input.
type Matcher interface {
	Match(task string, agents []*registry.Agent) []Candidate
}

// Widener is implemented by matchers whose threshold can be relaxed, as the
// dispatcher does when choosing among a fixed handoff set.
type Widener interface {
	WithMinScore(minScore float64) Matcher
}

// TieBreaker is implemented by matchers that can tell whether two candidates
// are ordered only by name.
type TieBreaker interface {
	Tied(a, b Candidate) bool
}

// Candidate is an agent that cleared the threshold, with the evidence for its score.
type Candidate struct {
	Agent       *registry.Agent
	Score       float64
	TriggerHits []string // Trigger patterns that matched, as authored
	FocusHits   []string // Focus keywords present in the task
}

// Options tunes the TriggerMatcher. Zero weights and an empty priority list
// fall back to the defaults; MinScore is used as given.
type Options struct {
	TriggerWeight    float64
	FocusWeight      float64
	MinScore         float64
	CategoryPriority []registry.Category
}

// DefaultOptions returns the default weights and threshold.
func DefaultOptions() Options {
	return Options{
		TriggerWeight:    DefaultTriggerWeight,
		FocusWeight:      DefaultFocusWeight,
		MinScore:         DefaultMinScore,
		CategoryPriority: registry.Categories,
	}
}

// TriggerMatcher is the default Matcher.
type TriggerMatcher struct {
	opts Options
	rank map[registry.Category]int
}

var (
	_ Matcher    = (*TriggerMatcher)(nil)
	_ Widener    = (*TriggerMatcher)(nil)
	_ TieBreaker = (*TriggerMatcher)(nil)
)

// New creates a TriggerMatcher
func New(opts Options) *TriggerMatcher {
	if opts.TriggerWeight <= 0 {
		opts.TriggerWeight = DefaultTriggerWeight
	}
	if opts.FocusWeight <= 0 {
		opts.FocusWeight = DefaultFocusWeight
	}
	if opts.MinScore < 0 {
		opts.MinScore = 0
	}
	if len(opts.CategoryPriority) == 0 {
		opts.CategoryPriority = registry.Categories
	}

	// categories missing from a custom list rank after it, in default order
	rank := make(map[registry.Category]int, len(registry.Categories))
	for _, c := range opts.CategoryPriority {
		if _, ok := rank[c]; !ok {
			rank[c] = len(rank)
		}
	}
	for _, c := range registry.Categories {
		if _, ok := rank[c]; !ok {
			rank[c] = len(rank)
		}
	}

	return &TriggerMatcher{opts: opts, rank: rank}
}

// Options returns the effective options.
func (m *TriggerMatcher) Options() Options {
	return m.opts
}

// WithMinScore returns a copy of the matcher using a different threshold.
func (m *TriggerMatcher) WithMinScore(minScore float64) Matcher {
	opts := m.opts
	opts.MinScore = minScore
	return New(opts)
}

// CategoryRank is the position of c in the priority order; lower ranks first.
func (m *TriggerMatcher) CategoryRank(c registry.Category) int {
	if r, ok := m.rank[c]; ok {
		return r
	}
	return len(m.rank)
}

// Match scores every agent and returns those at or above MinScore, best first.
// Zero scores are never returned.
func (m *TriggerMatcher) Match(task string, agents []*registry.Agent) []Candidate {
	normalized := textnorm.Normalize(task)
	if normalized == "" {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		tokens[tok] = struct{}{}
	}

	var candidates []Candidate
	for _, agent := range agents {
		c := m.score(normalized, tokens, agent)
		if c.Score <= 0 || c.Score < m.opts.MinScore {
			continue
		}
		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return m.Compare(a, b)
	})
	return candidates
}

// Compare orders candidates by score descending, then category priority,
// then agent name.
func (m *TriggerMatcher) Compare(a, b Candidate) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if ra, rb := m.CategoryRank(a.Agent.Category), m.CategoryRank(b.Agent.Category); ra != rb {
		return ra - rb
	}
	return strings.Compare(a.Agent.Name, b.Agent.Name)
}

// Tied reports whether two candidates cannot be separated by score or category.
func (m *TriggerMatcher) Tied(a, b Candidate) bool {
	return a.Score == b.Score && m.CategoryRank(a.Agent.Category) == m.CategoryRank(b.Agent.Category)
}

func (m *TriggerMatcher) score(normalized string, tokens map[string]struct{}, agent *registry.Agent) Candidate {
	c := Candidate{Agent: agent}

	for _, t := range agent.Triggers {
		if t.Match(normalized) {
			c.Score += m.opts.TriggerWeight * float64(t.Specificity)
			c.TriggerHits = append(c.TriggerHits, t.Pattern)
		}
	}

	seen := make(map[string]bool)
	hit := func(kw string) {
		if seen[kw] {
			return
		}
		seen[kw] = true
		if _, ok := tokens[kw]; ok {
			c.FocusHits = append(c.FocusHits, kw)
		}
	}
	for _, fa := range agent.FocusAreas {
		for _, kw := range fa.Keywords {
			hit(kw)
		}
	}
	for _, kw := range textnorm.Keywords(agent.Description) {
		hit(kw)
	}
	c.Score += m.opts.FocusWeight * float64(len(c.FocusHits))

	return c
}

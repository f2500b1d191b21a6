// Package dedup groups records from every source by canonical identity and
// selects one winner per group.
package dedup

import (
	"slices"
	"sort"

	"github.com/stacklok/toolhive-registry-aggregator/internal/identity"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

// Candidate is one source record with the capabilities attached to it for
// ranking: embedded data when the source delivered it, otherwise the lists of
// a successful introspection outcome, otherwise nil
type Candidate struct {
	Record       *registry.SourceEntityRecord
	Capabilities *registry.Capabilities
}

// CapabilityCount returns the number of attached capability descriptors
func (c *Candidate) CapabilityCount() int {
	return c.Capabilities.Count()
}

// Group is the outcome of deduplicating one canonical identity
type Group struct {
	// Identity is the canonical grouping key
	Identity string

	// Winner is the best ranked member
	Winner *Candidate

	// Members holds every member in rank order, winner first
	Members []*Candidate

	// Capabilities are the winner's lists. A category the winner has no
	// entries for is taken from the best ranked member that has some.
	Capabilities registry.Capabilities

	// ContributingSources is the sorted set of member sources
	ContributingSources []string

	// DuplicateCount is the number of members, winner included
	DuplicateCount int
}

// IsDuplicate reports whether more than one record shared the identity
func (g *Group) IsDuplicate() bool {
	return len(g.Members) > 1
}

// Engine selects one winner per canonical identity
type Engine interface {
	// Dedupe groups the candidates and returns one group per identity, in the
	// order each identity first appears in the input
	Dedupe(candidates []*Candidate) []*Group
}

// Option configures the engine
type Option func(*engine)

// WithSourcePriorities sets the per-source ranking; a higher value wins ties
// on capability count. Sources without an entry rank at zero.
func WithSourcePriorities(priorities map[string]int) Option {
	return func(e *engine) {
		for source, p := range priorities {
			e.priorities[source] = p
		}
	}
}

// WithNormalizer overrides the identity function
func WithNormalizer(normalize func(string) string) Option {
	return func(e *engine) {
		if normalize != nil {
			e.normalize = normalize
		}
	}
}

type engine struct {
	priorities map[string]int
	normalize  func(string) string
}

var _ Engine = (*engine)(nil)

// NewEngine creates a deduplication engine
func NewEngine(opts ...Option) Engine {
	e := &engine{
		priorities: make(map[string]int),
		normalize:  identity.Normalize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dedupe implements Engine
func (e *engine) Dedupe(candidates []*Candidate) []*Group {
	var order []string
	byIdentity := make(map[string][]*Candidate)
	for _, c := range candidates {
		if c == nil || c.Record == nil {
			continue
		}
		id := e.normalize(c.Record.NativeName)
		if _, seen := byIdentity[id]; !seen {
			order = append(order, id)
		}
		byIdentity[id] = append(byIdentity[id], c)
	}

	groups := make([]*Group, 0, len(order))
	for _, id := range order {
		groups = append(groups, e.resolve(id, byIdentity[id]))
	}
	return groups
}

// resolve ranks the members of one group. The sort is stable so members that
// tie on every key keep their input order.
func (e *engine) resolve(id string, members []*Candidate) *Group {
	ranked := slices.Clone(members)
	sort.SliceStable(ranked, func(i, j int) bool {
		return e.outranks(ranked[i], ranked[j])
	})

	g := &Group{
		Identity:       id,
		Winner:         ranked[0],
		Members:        ranked,
		DuplicateCount: len(ranked),
	}
	g.Capabilities = fillCapabilities(ranked)

	sources := make([]string, 0, len(ranked))
	for _, m := range ranked {
		sources = append(sources, m.Record.SourceID)
	}
	slices.Sort(sources)
	g.ContributingSources = slices.Compact(sources)
	return g
}

// outranks orders by capability count, then source priority, then the latest flag
func (e *engine) outranks(a, b *Candidate) bool {
	if ac, bc := a.CapabilityCount(), b.CapabilityCount(); ac != bc {
		return ac > bc
	}
	if ap, bp := e.priorities[a.Record.SourceID], e.priorities[b.Record.SourceID]; ap != bp {
		return ap > bp
	}
	return a.Record.IsLatest() && !b.Record.IsLatest()
}

func fillCapabilities(ranked []*Candidate) registry.Capabilities {
	var out registry.Capabilities
	if w := ranked[0].Capabilities; w != nil {
		out = *w
	}
	pick := func(current []registry.Capability, get func(*registry.Capabilities) []registry.Capability) []registry.Capability {
		if len(current) > 0 {
			return current
		}
		for _, m := range ranked[1:] {
			if m.Capabilities == nil {
				continue
			}
			if list := get(m.Capabilities); len(list) > 0 {
				return list
			}
		}
		return current
	}
	out.Tools = pick(out.Tools, func(c *registry.Capabilities) []registry.Capability { return c.Tools })
	out.Prompts = pick(out.Prompts, func(c *registry.Capabilities) []registry.Capability { return c.Prompts })
	out.Resources = pick(out.Resources, func(c *registry.Capabilities) []registry.Capability { return c.Resources })
	return out
}

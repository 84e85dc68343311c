// Package access implements the ordinal tier policy deciding which
// documents a user may see.
//
// Tiers form a total order. Rank 0 is the most privileged tier and
// ranks grow toward the least privileged one, so for the default tier
// list {high, med, low}: high=0, med=1, low=2.
//
// A document is visible to a user iff rank(document) >= rank(user):
// a user sees documents at their own restrictiveness level or looser
// ones. The direction matters and is easy to invert when reading it as
// English, so it is pinned here once and tested at both boundaries.
package access

import (
	"errors"
	"fmt"
)

// ErrUnknownTier is returned when a tier name is not in the configured order.
var ErrUnknownTier = errors.New("unknown tier")

// Tier is a resolved access tier.
type Tier struct {
	Name string
	Rank int
}

// Policy resolves tier names against a configured total order and
// answers visibility questions. It is immutable after construction.
type Policy struct {
	ranks map[string]int
	names []string
}

// NewPolicy builds a policy from tier names ordered most to least
// privileged. Names must be non-empty and unique.
func NewPolicy(names []string) (*Policy, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one tier is required")
	}
	ranks := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("tier at position %d is empty", i)
		}
		if _, dup := ranks[name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", name)
		}
		ranks[name] = i
	}
	ordered := make([]string, len(names))
	copy(ordered, names)
	return &Policy{ranks: ranks, names: ordered}, nil
}

// Parse resolves a tier name to its rank.
func (p *Policy) Parse(name string) (Tier, error) {
	rank, ok := p.ranks[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return Tier{Name: name, Rank: rank}, nil
}

// Visible reports whether a document at docTier may be seen by a user
// at userTier.
func (p *Policy) Visible(docTier, userTier Tier) bool {
	return docTier.Rank >= userTier.Rank
}

// Tiers returns the tier names ordered most to least privileged.
func (p *Policy) Tiers() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

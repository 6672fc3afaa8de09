// Package pairs loads restraint metadata and draws new targets from each restraint's
// experimental distance distribution.
package pairs

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
)

// Pair is the metadata of one restrained site pair.
type Pair struct {
	Name         string    `json:"name"`
	Sites        []int     `json:"sites"`
	Distribution []float64 `json:"distribution"`
	Bins         []float64 `json:"bins"`
}

// HasPrior reports whether the pair carries a distribution to sample targets from.
func (p Pair) HasPrior() bool {
	return len(p.Bins) > 0
}

func (p Pair) validate() error {
	if len(p.Sites) == 0 {
		return fmt.Errorf("pair %q: no sites", p.Name)
	}
	if len(p.Distribution) != len(p.Bins) {
		return fmt.Errorf("pair %q: %d distribution weights for %d bins", p.Name, len(p.Distribution), len(p.Bins))
	}
	if !p.HasPrior() {
		return nil
	}
	var total float64
	for _, w := range p.Distribution {
		if w < 0 {
			return fmt.Errorf("pair %q: negative distribution weight", p.Name)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("pair %q: distribution sums to zero", p.Name)
	}
	return nil
}

// Set is the full, fixed collection of restraints for a run.
type Set struct {
	pairs []Pair
	index map[string]int
}

// NewSet validates pairs and returns them ordered by name.
func NewSet(pairs []Pair) (*Set, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs defined")
	}
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	s := &Set{pairs: sorted, index: make(map[string]int, len(sorted))}
	for i, p := range sorted {
		if p.Name == "" {
			return nil, fmt.Errorf("pair %d has no name", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate pair %q", p.Name)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		s.index[p.Name] = i
	}
	return s, nil
}

// Load reads a pair metadata file: a JSON object keyed by restraint name.
// A missing "name" field inside an entry is filled from its key.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pair metadata: %w", err)
	}
	var raw map[string]Pair
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pair metadata %s: %w", path, err)
	}
	list := make([]Pair, 0, len(raw))
	for key, p := range raw {
		if p.Name == "" {
			p.Name = key
		}
		if p.Name != key {
			return nil, fmt.Errorf("pair metadata key %q names pair %q", key, p.Name)
		}
		list = append(list, p)
	}
	return NewSet(list)
}

// Names returns the restraint names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		names[i] = p.Name
	}
	return names
}

// Pairs returns the pairs in name order.
func (s *Set) Pairs() []Pair {
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Get returns the pair called name.
func (s *Set) Get(name string) (Pair, bool) {
	i, ok := s.index[name]
	if !ok {
		return Pair{}, false
	}
	return s.pairs[i], true
}

// Sample draws one target per pair from its distribution. Pairs without a prior keep
// fallback.
func (s *Set) Sample(rng *rand.Rand, fallback float64) map[string]float64 {
	out := make(map[string]float64, len(s.pairs))
	for _, p := range s.pairs {
		out[p.Name] = sampleOne(p, rng, fallback)
	}
	return out
}

func sampleOne(p Pair, rng *rand.Rand, fallback float64) float64 {
	if !p.HasPrior() {
		return fallback
	}
	var total float64
	for _, w := range p.Distribution {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range p.Distribution {
		r -= w
		if r < 0 {
			return p.Bins[i]
		}
	}
	// Rounding can leave r at exactly zero past the last weight.
	for i := len(p.Distribution) - 1; i >= 0; i-- {
		if p.Distribution[i] > 0 {
			return p.Bins[i]
		}
	}
	return fallback
}

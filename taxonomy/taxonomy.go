// Package taxonomy is the versioned skill vocabulary: a bundled seed of
// domains and skills, merged with signed custom entries from the store.
// Attestation inserts consult it, so lookups are served from an in-memory
// snapshot that is rebuilt only after a mutation.
package taxonomy

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kredo-protocol/kredo/model"
)

//go:embed seed.yaml
var seedYAML []byte

var idRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidID reports whether s is a well-formed domain or skill identifier.
func ValidID(s string) bool { return idRe.MatchString(s) }

// Domain is one domain with its skills, as served to clients. Skills are
// sorted with seed entries first, custom entries appended in creation order.
type Domain struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Skills []string `json:"skills"`
	Custom bool     `json:"custom"`
}

// Snapshot is an immutable merged view of the taxonomy. Callers must not
// mutate it.
type Snapshot struct {
	Version string
	domains map[string]*Domain
	order   []string
}

// CustomDomain is a store row for a community-added domain.
type CustomDomain struct {
	ID        string
	Label     string
	Pubkey    string
	CreatedAt string
}

// CustomSkill is a store row for a community-added skill.
type CustomSkill struct {
	Domain    string
	ID        string
	Pubkey    string
	CreatedAt string
}

// Source lists the custom entries persisted by the store.
type Source interface {
	ListCustomDomains(ctx context.Context) ([]CustomDomain, error)
	ListCustomSkills(ctx context.Context) ([]CustomSkill, error)
}

type seedFile struct {
	Version string `yaml:"version"`
	Domains []struct {
		ID     string   `yaml:"id"`
		Label  string   `yaml:"label"`
		Skills []string `yaml:"skills"`
	} `yaml:"domains"`
}

func loadSeed() (*Snapshot, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("taxonomy seed: %w", err)
	}
	snap := &Snapshot{Version: f.Version, domains: map[string]*Domain{}}
	for _, d := range f.Domains {
		if !ValidID(d.ID) {
			return nil, fmt.Errorf("taxonomy seed: bad domain id %q", d.ID)
		}
		for _, s := range d.Skills {
			if !ValidID(s) {
				return nil, fmt.Errorf("taxonomy seed: bad skill id %q in %q", s, d.ID)
			}
		}
		snap.domains[d.ID] = &Domain{ID: d.ID, Label: d.Label, Skills: append([]string(nil), d.Skills...)}
		snap.order = append(snap.order, d.ID)
	}
	return snap, nil
}

// Registry serves merged taxonomy snapshots. A snapshot is built lazily on
// first use and after each Invalidate, never in place.
type Registry struct {
	source Source

	mu    sync.Mutex
	seed  *Snapshot
	cache *Snapshot
}

// NewRegistry builds a registry over the bundled seed. source may be nil for
// seed-only operation (tests, offline tools).
func NewRegistry(source Source) (*Registry, error) {
	seed, err := loadSeed()
	if err != nil {
		return nil, err
	}
	return &Registry{source: source, seed: seed}, nil
}

// Invalidate drops the cached snapshot. Call after any custom-entry write.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

// Snapshot returns the current merged taxonomy.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		return r.cache, nil
	}
	snap, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	r.cache = snap
	return snap, nil
}

func (r *Registry) build(ctx context.Context) (*Snapshot, error) {
	merged := &Snapshot{Version: r.seed.Version, domains: map[string]*Domain{}}
	for _, id := range r.seed.order {
		d := r.seed.domains[id]
		merged.domains[id] = &Domain{ID: d.ID, Label: d.Label, Skills: append([]string(nil), d.Skills...)}
		merged.order = append(merged.order, id)
	}
	if r.source == nil {
		return merged, nil
	}

	customDomains, err := r.source.ListCustomDomains(ctx)
	if err != nil {
		return nil, err
	}
	for _, cd := range customDomains {
		if _, exists := merged.domains[cd.ID]; exists {
			continue
		}
		merged.domains[cd.ID] = &Domain{ID: cd.ID, Label: cd.Label, Custom: true}
		merged.order = append(merged.order, cd.ID)
	}

	customSkills, err := r.source.ListCustomSkills(ctx)
	if err != nil {
		return nil, err
	}
	for _, cs := range customSkills {
		d, ok := merged.domains[cs.Domain]
		if !ok {
			continue
		}
		if !containsString(d.Skills, cs.ID) {
			d.Skills = append(d.Skills, cs.ID)
		}
	}
	return merged, nil
}

// ValidateSkill fails with validation_error unless domain exists and
// specific exists under it.
func (r *Registry) ValidateSkill(ctx context.Context, domain, specific string) error {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	d, ok := snap.domains[domain]
	if !ok {
		return model.NewError(model.KindValidation, fmt.Sprintf("unknown skill domain %q", domain)).
			WithDetail("valid_domains", snap.DomainIDs())
	}
	if !containsString(d.Skills, specific) {
		return model.NewError(model.KindValidation, fmt.Sprintf("unknown skill %q in domain %q", specific, domain)).
			WithDetail("valid_skills", append([]string(nil), d.Skills...))
	}
	return nil
}

// Domain returns the domain with the given id, or nil.
func (s *Snapshot) Domain(id string) *Domain {
	return s.domains[id]
}

// Domains lists all domains, seed first, custom after, each in insertion
// order.
func (s *Snapshot) Domains() []*Domain {
	out := make([]*Domain, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.domains[id])
	}
	return out
}

// DomainIDs lists all valid domain identifiers, sorted.
func (s *Snapshot) DomainIDs() []string {
	ids := make([]string, 0, len(s.domains))
	for id := range s.domains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasSkill reports whether specific is a valid skill under domain.
func (s *Snapshot) HasSkill(domain, specific string) bool {
	d, ok := s.domains[domain]
	return ok && containsString(d.Skills, specific)
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

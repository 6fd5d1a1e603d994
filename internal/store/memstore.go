package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"codescribe/internal/facts"
)

// MemStore is an in-memory Store for tests. Aggregates round-trip through
// JSON so callers see the same copy semantics as SQLite.
type MemStore struct {
	mu         sync.Mutex
	projects   map[string]*Project
	manifests  map[string][]ManifestEntry
	aggregates map[string][]byte
	sections   map[string]map[SectionKey]DerivedSection
	overrides  map[string]map[SectionKey]UserOverride
	events     map[string][]Event
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:   make(map[string]*Project),
		manifests:  make(map[string][]ManifestEntry),
		aggregates: make(map[string][]byte),
		sections:   make(map[string]map[SectionKey]DerivedSection),
		overrides:  make(map[string]map[SectionKey]UserOverride),
		events:     make(map[string][]Event),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) CreateProject(p *Project) error {
	if p == nil || p.ID == "" {
		return errors.New("project id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return fmt.Errorf("project %s exists", p.ID)
	}
	if p.CreatedAt == "" {
		p.CreatedAt = nowUTC()
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemStore) GetProject(id string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) GetProjectByName(name string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListProjects() ([]*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Project
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) GetManifest(projectID string) ([]ManifestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ManifestEntry(nil), s.manifests[projectID]...), nil
}

func (s *MemStore) GetAggregate(projectID string) (*facts.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.aggregates[projectID]
	if !ok {
		return nil, nil
	}
	var agg facts.Aggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return &agg, nil
}

func (s *MemStore) GetSections(projectID string) ([]DerivedSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DerivedSection
	for _, key := range AllSectionKeys {
		if d, ok := s.sections[projectID][key]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemStore) GetSection(projectID string, key SectionKey) (*DerivedSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.sections[projectID][key]; ok {
		cp := d
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) GetOverrides(projectID string) ([]UserOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UserOverride
	for _, key := range AllSectionKeys {
		if o, ok := s.overrides[projectID][key]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemStore) PutOverride(projectID string, o *UserOverride) error {
	if o == nil {
		return errors.New("override is nil")
	}
	if o.EditedAt == "" {
		o.EditedAt = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[projectID] == nil {
		s.overrides[projectID] = make(map[SectionKey]UserOverride)
	}
	s.overrides[projectID][o.Key] = *o
	return nil
}

func (s *MemStore) CommitCycle(projectID string, c *Cycle) error {
	if c == nil {
		return errors.New("cycle is nil")
	}
	payload, err := json.Marshal(c.Aggregate)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifests[projectID] = append([]ManifestEntry(nil), c.Manifest...)
	s.aggregates[projectID] = payload

	if s.sections[projectID] == nil {
		s.sections[projectID] = make(map[SectionKey]DerivedSection)
	}
	now := nowUTC()
	for _, d := range c.Sections {
		d.CommitMarker = c.CommitMarker
		d.UpdatedAt = now
		s.sections[projectID][d.Key] = d
	}

	for _, key := range c.StaleOverrides {
		if o, ok := s.overrides[projectID][key]; ok {
			o.Stale = true
			s.overrides[projectID][key] = o
		}
	}
	return nil
}

func (s *MemStore) AppendEvent(projectID string, e Event) error {
	if e.At == "" {
		e.At = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[projectID]
	if len(evs) > 0 {
		e.Seq = evs[len(evs)-1].Seq + 1
	} else {
		e.Seq = 1
	}
	evs = append(evs, e)
	if len(evs) > maxEventsPerProject {
		evs = evs[len(evs)-maxEventsPerProject:]
	}
	s.events[projectID] = evs
	return nil
}

func (s *MemStore) ListEvents(projectID string, sinceSeq int64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events[projectID] {
		if e.Seq <= sinceSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemStore)(nil)

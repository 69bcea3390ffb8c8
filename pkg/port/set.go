package port

import (
	"sort"
	"sync"

	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Set is the Router's ordered collection of Ports, looked up by id for
// outbound dispatch and enumerated by Services for periodic sends
// (Section 4.7, 4.2's "one per Online port").
type Set struct {
	mu   sync.RWMutex
	byID map[rib.PortID]*Port
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byID: make(map[rib.PortID]*Port)}
}

// Add registers a port. It is a no-op if the id is already present.
func (s *Set) Add(p *Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID()]; ok {
		return
	}
	s.byID[p.ID()] = p
}

// Get returns the port with the given id, if any.
func (s *Set) Get(id rib.PortID) (*Port, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// All returns every registered port, ordered by id for deterministic
// iteration (RTMP/ZIP sends, tests).
func (s *Set) All() []*Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Port, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Online returns every port currently in the Online state.
func (s *Set) Online() []*Port {
	all := s.All()
	out := make([]*Port, 0, len(all))
	for _, p := range all {
		if p.State() == Online {
			out = append(out, p)
		}
	}
	return out
}

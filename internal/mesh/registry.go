package mesh

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
)

// Registry maps remote participants to their PeerLink for one channel
// membership. A fresh Registry is created on every join.
type Registry struct {
	mu    sync.RWMutex
	links map[domain.ParticipantID]*PeerLink
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[domain.ParticipantID]*PeerLink)}
}

// GetOrCreate returns the open link for id, or inserts the link returned by
// build. Nothing is inserted when build fails.
func (r *Registry) GetOrCreate(id domain.ParticipantID, build func() (*PeerLink, error)) (*PeerLink, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[id]; ok && !l.Closed() {
		return l, false, nil
	}
	l, err := build()
	if err != nil {
		return nil, false, err
	}
	r.links[id] = l
	return l, true, nil
}

func (r *Registry) Get(id domain.ParticipantID) (*PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[id]
	return l, ok
}

// Remove closes the link for id and forgets it before returning.
func (r *Registry) Remove(id domain.ParticipantID) (*PeerLink, bool) {
	r.mu.Lock()
	l, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()
	if ok {
		l.close()
	}
	return l, ok
}

// List returns the links ordered by participant id.
func (r *Registry) List() []*PeerLink {
	r.mu.RLock()
	out := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *PeerLink) int { return cmp.Compare(a.peer, b.peer) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// CloseAll closes and forgets every link.
func (r *Registry) CloseAll() []domain.ParticipantID {
	r.mu.Lock()
	links := r.links
	r.links = make(map[domain.ParticipantID]*PeerLink)
	r.mu.Unlock()

	ids := make([]domain.ParticipantID, 0, len(links))
	for id, l := range links {
		l.close()
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

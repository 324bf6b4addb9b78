package bulk

import (
	"sort"
	"sync"
	"time"

	"logsift/internal/job"
	apperrors "logsift/pkg/errors"
)

// Entry is one registered bulk job.
type Entry struct {
	Kind   Kind
	Format Format
	// Zone is the zone of the request that created the job. Events pushed
	// to subscribers are rendered in it.
	Zone *time.Location
	Job  *job.Job[Artifact]
}

func (e *Entry) ID() string {
	return e.Job.ID()
}

// Payload renders the entry's current state with instants in zone.
func (e *Entry) Payload(zone *time.Location) Payload {
	return e.payload(e.Job.Progress(), zone)
}

func (e *Entry) payload(p job.Progress, zone *time.Location) Payload {
	if zone == nil {
		zone = e.Zone
	}
	out := Payload{
		Type:     e.Kind,
		Event:    p.Event,
		ID:       e.ID(),
		Start:    formatInstant(e.Job.StartedAt(), zone),
		Finish:   formatInstant(e.Job.FinishedAt(), zone),
		Format:   e.Format,
		Progress: &p,
	}
	if err := e.Job.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

func (e *Entry) removed() Payload {
	return Payload{Type: e.Kind, Event: job.EventRemove, ID: e.ID()}
}

// Registry holds the jobs known to the process. Finished jobs stay listed
// until removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) put(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID()] = e
}

func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithMessage("job %s not found", id)
	}
	return e, nil
}

// List returns the entries oldest first.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Job.StartedAt(), out[j].Job.StartedAt()
		if a.Equal(b) {
			return out[i].ID() < out[j].ID()
		}
		return a.Before(b)
	})
	return out
}

// Remove unregisters a finished job.
func (r *Registry) Remove(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithMessage("job %s not found", id)
	}
	if e.Job.State() != job.StateFinished {
		return nil, apperrors.ErrConflict.WithMessage("job %s is still running", id)
	}
	delete(r.entries, id)
	return e, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

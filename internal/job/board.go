package job

import (
	"sort"
	"sync"
	"time"
)

// Phase is the lifecycle stage of a correlation job.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseExtracting Phase = "extracting"
	PhaseScoring    Phase = "scoring"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Status is a point-in-time view of one job.
type Status struct {
	ID        string    `json:"id"`
	Seed      string    `json:"seed"`
	Phase     Phase     `json:"phase"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Board tracks the status of jobs in flight. Safe for concurrent use.
type Board struct {
	mu   sync.RWMutex
	jobs map[string]*Status
}

// NewBoard creates an empty status board.
func NewBoard() *Board {
	return &Board{jobs: make(map[string]*Status)}
}

func (b *Board) register(id, seed string) {
	now := time.Now().UTC()
	b.mu.Lock()
	b.jobs[id] = &Status{
		ID:        id,
		Seed:      seed,
		Phase:     PhaseConnecting,
		StartedAt: now,
		UpdatedAt: now,
	}
	b.mu.Unlock()
}

func (b *Board) setPhase(id string, phase Phase) {
	b.mu.Lock()
	if s, ok := b.jobs[id]; ok && !s.Phase.Terminal() {
		s.Phase = phase
		s.UpdatedAt = time.Now().UTC()
	}
	b.mu.Unlock()
}

// setProgress updates the counters. Done never decreases and never exceeds
// the total.
func (b *Board) setProgress(id string, done, total int) {
	b.mu.Lock()
	if s, ok := b.jobs[id]; ok {
		if done > total {
			done = total
		}
		if done > s.Done {
			s.Done = done
		}
		s.Total = total
		s.UpdatedAt = time.Now().UTC()
	}
	b.mu.Unlock()
}

func (b *Board) fail(id string, err error) {
	b.mu.Lock()
	if s, ok := b.jobs[id]; ok {
		s.Phase = PhaseFailed
		if err != nil {
			s.Error = err.Error()
		}
		s.UpdatedAt = time.Now().UTC()
	}
	b.mu.Unlock()
}

// Get returns a copy of one job's status.
func (b *Board) Get(id string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.jobs[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// List returns all statuses, newest first.
func (b *Board) List() []Status {
	b.mu.RLock()
	out := make([]Status, 0, len(b.jobs))
	for _, s := range b.jobs {
		out = append(out, *s)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Forget removes a terminal job from the board.
func (b *Board) Forget(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.jobs[id]
	if !ok || !s.Phase.Terminal() {
		return false
	}
	delete(b.jobs, id)
	return true
}

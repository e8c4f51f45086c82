// Package episode owns the in-memory registry of training episodes: their
// environment, learning system, stop flag, and event timeline. Each
// Episode's fields are single-writer (the training loop owns Env/System/
// timeline; only Stop is written from outside, via atomicflag), so no
// locking is needed within an Episode beyond the timeline's own guard; the
// Store's map itself is guarded separately.
package episode

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/miry41/lamarl-playground/internal/agent"
	"github.com/miry41/lamarl-playground/internal/atomicflag"
	"github.com/miry41/lamarl-playground/internal/lamarlerr"
	"github.com/miry41/lamarl-playground/internal/marl"
	"github.com/miry41/lamarl-playground/internal/shapemask"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

// Event is one timeline entry. Data is the JSON-serializable payload for
// the training loop's env_config/tick/episode_end events.
type Event struct {
	Seq  int         `json:"seq"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// maxDelivered/keepAfterTruncate bound timeline memory growth: once the
// timeline holds more than maxDelivered events, AppendEvent truncates it
// back to the most recent keepAfterTruncate (a client re-subscribing after a
// long gap sees a gap, not an ever-growing backlog).
const (
	maxDelivered      = 1000
	keepAfterTruncate = 200
)

// Episode is one training run's environment, learning system, and event
// history.
type Episode struct {
	ID        string
	Config    swarmenv.Config
	CreatedAt time.Time

	Env    *swarmenv.Env
	System *marl.System
	Stop   *atomicflag.Flag

	timelineMu sync.RWMutex
	timeline   []Event
	nextSeq    int
}

// AppendEvent records ev at the end of the timeline, truncating the oldest
// entries once the timeline has grown past maxDelivered.
func (e *Episode) AppendEvent(eventType string, data interface{}) Event {
	e.timelineMu.Lock()
	defer e.timelineMu.Unlock()

	ev := Event{Seq: e.nextSeq, Type: eventType, Data: data}
	e.nextSeq++
	e.timeline = append(e.timeline, ev)

	if len(e.timeline) > maxDelivered {
		keep := e.timeline[len(e.timeline)-keepAfterTruncate:]
		e.timeline = append([]Event{}, keep...)
	}
	return ev
}

// Timeline returns a copy of the events recorded since the last truncation.
func (e *Episode) Timeline() []Event {
	e.timelineMu.RLock()
	defer e.timelineMu.RUnlock()
	out := make([]Event, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// TimelineSince returns the events with Seq > after.
func (e *Episode) TimelineSince(after int) []Event {
	e.timelineMu.RLock()
	defer e.timelineMu.RUnlock()
	var out []Event
	for _, ev := range e.timeline {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Store is the process-wide episode registry.
type Store struct {
	mu       sync.RWMutex
	episodes map[string]*Episode
	idRng    *rand.Rand
	idMu     sync.Mutex
}

// NewStore constructs an empty Store. seed governs only episode-id suffix
// generation, not any learning randomness.
func NewStore(seed int64) *Store {
	return &Store{
		episodes: make(map[string]*Episode),
		idRng:    rand.New(rand.NewSource(seed)),
	}
}

// BufferCapacity is the per-agent replay buffer size every episode is
// constructed with.
const BufferCapacity = 100_000

// Create validates cfg's geometry feasibility, builds the environment and
// learning system using agent.DefaultHyperparams, and registers a new
// Episode under a freshly generated id.
func (s *Store) Create(cfg swarmenv.Config) (*Episode, error) {
	return s.CreateWithHyperparams(cfg, nil)
}

// CreateWithHyperparams is Create, but lets the caller override the
// learning system's hyperparameters (e.g. from config file or request
// overrides); hp == nil falls back to agent.DefaultHyperparams.
func (s *Store) CreateWithHyperparams(cfg swarmenv.Config, hp *agent.Hyperparams) (*Episode, error) {
	if err := checkGeometryFeasible(cfg); err != nil {
		return nil, err
	}

	env, err := swarmenv.New(cfg)
	if err != nil {
		return nil, err
	}

	resolved := agent.DefaultHyperparams(env.ObsDim())
	if hp != nil {
		resolved = *hp
		resolved.ObsDim = env.ObsDim()
	}
	sys, err := marl.New(cfg.NumRobots, resolved, BufferCapacity, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("episode: constructing learning system: %w", err)
	}

	ep := &Episode{
		ID:        s.newID(),
		Config:    cfg,
		CreatedAt: time.Now(),
		Env:       env,
		System:    sys,
		Stop:      atomicflag.New(false),
	}

	s.mu.Lock()
	s.episodes[ep.ID] = ep
	s.mu.Unlock()

	return ep, nil
}

// Get looks up an episode by id.
func (s *Store) Get(id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, fmt.Errorf("episode: %q: %w", id, lamarlerr.ErrNotFound)
	}
	return ep, nil
}

// List returns every registered episode, in no particular order.
func (s *Store) List() []*Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		out = append(out, ep)
	}
	return out
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = idAlphabet[s.idRng.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("ep-%d-%s", time.Now().UnixMilli(), suffix)
}

// checkGeometryFeasible rejects a configuration whose robots cannot
// physically fit within the target shape's rasterized cells: the combined
// footprint of every robot's avoidance radius must not exceed the shape's
// actual cell count, not the client-supplied observation-padding parameter
// n_hc (NumCells), which is shape-independent.
func checkGeometryFeasible(cfg swarmenv.Config) error {
	mask, err := shapemask.New(cfg.Shape, cfg.GridSize)
	if err != nil {
		return err
	}

	shapeCellCount := len(mask.Cells())
	robotFootprint := 4 * float64(cfg.NumRobots) * cfg.RAvoid * cfg.RAvoid
	shapeArea := float64(shapeCellCount) * cfg.LCell * cfg.LCell
	if robotFootprint > shapeArea {
		return fmt.Errorf(
			"episode: %d robots at r_avoid=%.3f cannot fit %d shape cells of size %.3f: %w",
			cfg.NumRobots, cfg.RAvoid, shapeCellCount, cfg.LCell, lamarlerr.ErrGeometryInfeasible)
	}
	return nil
}

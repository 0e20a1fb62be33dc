package runstatus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const DefaultHistoryLimit = 20

// ErrRunActive is returned by Begin while another run has not reached a terminal state.
var ErrRunActive = fmt.Errorf("%w: a pipeline run is already in progress", apperr.ErrConcurrency)

// Listener observes every published snapshot. Calls for one run arrive in mutation order
// and must not call back into that run.
type Listener interface {
	OnUpdate(snap types.PipelineRun)
}

type ListenerFunc func(snap types.PipelineRun)

func (f ListenerFunc) OnUpdate(snap types.PipelineRun) { f(snap) }

// Registry keys run status by id and admits one active run at a time.
type Registry struct {
	log   *logger.Logger
	limit int
	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	active    *Run
	runs      map[string]*Run
	order     []string
	listeners []Listener
}

type RegistryOption func(*Registry)

func WithHistoryLimit(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.limit = n
		}
	}
}

func WithListener(l Listener) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}

func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDFunc(fn func() string) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{
		log:   log.With("service", "RunRegistry"),
		limit: DefaultHistoryLimit,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		runs:  map[string]*Run{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AddListener registers l for runs begun after this call.
func (r *Registry) AddListener(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Begin creates a fresh run in the Idle stage. It never resets a run that is still in flight.
func (r *Registry) Begin(audioPath, model string) (*Run, error) {
	r.mu.Lock()
	if r.active != nil && !r.active.Done() {
		id := r.active.ID()
		r.mu.Unlock()
		r.log.Warn("Rejected concurrent run", "active_run_id", id)
		return nil, ErrRunActive
	}
	run := newRun(r.newID(), audioPath, model, r.now)
	listeners := append([]Listener(nil), r.listeners...)
	run.notify = func(snap types.PipelineRun) {
		for _, l := range listeners {
			l.OnUpdate(snap)
		}
	}
	run.onDone = r.release
	r.active = run
	r.runs[run.rec.ID] = run
	r.order = append(r.order, run.rec.ID)
	r.pruneLocked()
	snap := run.snapshotLocked()
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnUpdate(snap)
	}
	r.log.Info("Run started", "run_id", snap.ID, "model", model)
	return run, nil
}

func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// Latest is the most recently begun run, active or not.
func (r *Registry) Latest() (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.runs[r.order[len(r.order)-1]], true
}

// List snapshots the retained runs, newest first.
func (r *Registry) List() []types.PipelineRun {
	r.mu.Lock()
	runs := make([]*Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if run := r.runs[r.order[i]]; run != nil {
			runs = append(runs, run)
		}
	}
	r.mu.Unlock()
	out := make([]types.PipelineRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Snapshot())
	}
	return out
}

// Active returns the in-flight run, if any.
func (r *Registry) Active() (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.Done() {
		return nil, false
	}
	return r.active, true
}

func (r *Registry) release(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == run {
		r.active = nil
	}
	r.pruneLocked()
}

// pruneLocked drops the oldest finished runs beyond the history limit. The active run is never dropped.
func (r *Registry) pruneLocked() {
	for len(r.order) > r.limit {
		dropped := false
		for i, id := range r.order {
			if run := r.runs[id]; run != nil && run == r.active {
				continue
			}
			delete(r.runs, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			return
		}
	}
}

package runs

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/loadtoy/dashboard/internal/summary"
)

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Running      []RunRecord
	LastFinished map[TestClass]RunRecord
}

// Registry is the single source of truth for run state. A class is occupied
// from TryReserve until the matching record is completed (or the reservation
// is failed).
type Registry struct {
	mu           sync.Mutex
	reserved     map[TestClass]Reservation
	running      map[string]*RunRecord
	lastFinished map[TestClass]RunRecord

	now   func() time.Time
	newID func(TestClass) string
	log   *logrus.Entry
}

func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		reserved:     make(map[TestClass]Reservation),
		running:      make(map[string]*RunRecord),
		lastFinished: make(map[TestClass]RunRecord),
		now:          time.Now,
		newID:        NewRunID,
		log:          log.WithField("component", "registry"),
	}
}

// TryReserve claims the class slot and allocates the run id.
func (r *Registry) TryReserve(class TestClass) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.reserved[class]; ok {
		return Reservation{}, &ConflictError{Class: class, RunningID: res.ID}
	}
	for _, rec := range r.running {
		if rec.Class == class {
			return Reservation{}, &ConflictError{Class: class, RunningID: rec.ID}
		}
	}

	res := Reservation{ID: r.newID(class), Class: class}
	r.reserved[class] = res
	return res, nil
}

// Register turns a held reservation into a running record.
func (r *Registry) Register(res Reservation, cfg RunConfig, handle Terminator, expected time.Duration) (RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeReservation(res); err != nil {
		return RunRecord{}, err
	}

	rec := &RunRecord{
		ID:               res.ID,
		Class:            res.Class,
		Config:           cfg,
		State:            StateRunning,
		StartedAt:        r.now(),
		ExpectedDuration: expected,
		handle:           handle,
	}
	r.running[rec.ID] = rec
	return *rec, nil
}

// Fail records a reservation whose process never started as an immediately
// finished, failed run. The class slot is released.
func (r *Registry) Fail(res Reservation, cfg RunConfig, cause error) (RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeReservation(res); err != nil {
		return RunRecord{}, err
	}

	now := r.now()
	rec := RunRecord{
		ID:         res.ID,
		Class:      res.Class,
		Config:     cfg,
		State:      StateFinished,
		StartedAt:  now,
		FinishedAt: now,
		ExitCode:   -1,
		Status:     StatusFailed,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	r.lastFinished[rec.Class] = rec
	return rec, nil
}

func (r *Registry) takeReservation(res Reservation) error {
	held, ok := r.reserved[res.Class]
	if !ok || held.ID != res.ID {
		return errors.Errorf("reservation %s for %s is not held", res.ID, res.Class)
	}
	delete(r.reserved, res.Class)
	return nil
}

// Complete moves a running record to finished and makes it the last finished
// run of its class. Unknown ids are logged and ignored.
func (r *Registry) Complete(runID string, exitCode int, sum summary.Summary) (RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.running[runID]
	if !ok {
		r.log.WithField("runId", runID).Warn("completion for unknown or already finished run ignored")
		return RunRecord{}, false
	}
	delete(r.running, runID)

	rec.State = StateFinished
	rec.FinishedAt = r.now()
	rec.ExitCode = exitCode
	rec.Status = StatusFromExitCode(exitCode)
	rec.Summary = sum
	rec.handle = nil

	r.lastFinished[rec.Class] = *rec
	return *rec, true
}

// FindRunning returns the running record with the given id.
func (r *Registry) FindRunning(runID string) (RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.running[runID]
	if !ok {
		return RunRecord{}, errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	return *rec, nil
}

// Snapshot copies the running set, ordered by start time, and the last
// finished record per class.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	running := make([]RunRecord, 0, len(r.running))
	for _, rec := range r.running {
		running = append(running, *rec)
	}
	last := make(map[TestClass]RunRecord, len(r.lastFinished))
	for class, rec := range r.lastFinished {
		last[class] = rec
	}
	r.mu.Unlock()

	sort.Slice(running, func(i, j int) bool {
		if running[i].StartedAt.Equal(running[j].StartedAt) {
			return running[i].ID < running[j].ID
		}
		return running[i].StartedAt.Before(running[j].StartedAt)
	})
	return Snapshot{Running: running, LastFinished: last}
}

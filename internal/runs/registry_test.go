package runs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadtoy/dashboard/internal/summary"
)

type nopTerminator struct{ calls int32 }

func (n *nopTerminator) Terminate() error {
	atomic.AddInt32(&n.calls, 1)
	return nil
}

var dbConfig = RunConfig{Scenario: "db", RPS: 10, VUs: 5, DurationMinutes: 5, Script: "dynamic.js"}

func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	var seq int32
	r.newID = func(class TestClass) string {
		n := atomic.AddInt32(&seq, 1)
		return string(class) + "-" + string(rune('a'+n-1))
	}
	return r
}

func start(t *testing.T, r *Registry, class TestClass) RunRecord {
	t.Helper()
	res, err := r.TryReserve(class)
	require.NoError(t, err)
	rec, err := r.Register(res, dbConfig, &nopTerminator{}, 5*time.Minute)
	require.NoError(t, err)
	return rec
}

func TestRegistry_StartAndComplete(t *testing.T) {
	r := newTestRegistry()

	rec := start(t, r, ClassScenario)
	assert.Equal(t, StateRunning, rec.State)
	assert.Equal(t, ClassScenario, rec.Class)
	assert.Equal(t, dbConfig, rec.Config)

	snap := r.Snapshot()
	require.Len(t, snap.Running, 1)
	assert.Equal(t, rec.ID, snap.Running[0].ID)
	assert.Empty(t, snap.LastFinished)

	done, ok := r.Complete(rec.ID, 0, summary.Summary{"http_reqs": {Count: 3}})
	require.True(t, ok)
	assert.Equal(t, StateFinished, done.State)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Nil(t, done.Terminator())

	snap = r.Snapshot()
	assert.Empty(t, snap.Running)
	assert.Equal(t, rec.ID, snap.LastFinished[ClassScenario].ID)
	assert.Equal(t, 3.0, snap.LastFinished[ClassScenario].Summary["http_reqs"].Count)
}

func TestRegistry_NonZeroExitIsFailed(t *testing.T) {
	r := newTestRegistry()
	rec := start(t, r, ClassBaseline)

	done, ok := r.Complete(rec.ID, 7, nil)
	require.True(t, ok)
	assert.Equal(t, 7, done.ExitCode)
	assert.Equal(t, StatusFailed, done.Status)
}

func TestRegistry_ConflictLeavesStateUnchanged(t *testing.T) {
	r := newTestRegistry()
	first := start(t, r, ClassScenario)
	before := r.Snapshot()

	_, err := r.TryReserve(ClassScenario)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ClassScenario, conflict.Class)
	assert.Equal(t, first.ID, conflict.RunningID)

	assert.Equal(t, before, r.Snapshot())
}

func TestRegistry_ReservationBlocksClass(t *testing.T) {
	r := newTestRegistry()
	res, err := r.TryReserve(ClassScenario)
	require.NoError(t, err)

	_, err = r.TryReserve(ClassScenario)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, res.ID, conflict.RunningID)
}

func TestRegistry_ClassesAreIndependent(t *testing.T) {
	r := newTestRegistry()
	start(t, r, ClassBaseline)
	start(t, r, ClassScenario)

	assert.Len(t, r.Snapshot().Running, 2)
}

func TestRegistry_ConcurrentReserveSameClass(t *testing.T) {
	r := NewRegistry(nil)

	const attempts = 32
	var wg sync.WaitGroup
	var successes, conflicts int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.TryReserve(ClassScenario)
			if err != nil {
				var conflict *ConflictError
				if errors.As(err, &conflict) {
					atomic.AddInt32(&conflicts, 1)
				}
				return
			}
			if _, err := r.Register(res, dbConfig, &nopTerminator{}, 0); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(attempts-1), conflicts)
	assert.Len(t, r.Snapshot().Running, 1)
}

func TestRegistry_FailRecordsFinishedAndReleasesClass(t *testing.T) {
	r := newTestRegistry()
	res, err := r.TryReserve(ClassScenario)
	require.NoError(t, err)

	rec, err := r.Fail(res, dbConfig, errors.New("exec: \"docker\": executable file not found in $PATH"))
	require.NoError(t, err)
	assert.Equal(t, StateFinished, rec.State)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, -1, rec.ExitCode)
	assert.Contains(t, rec.Error, "executable file not found")

	snap := r.Snapshot()
	assert.Empty(t, snap.Running)
	assert.Equal(t, rec.ID, snap.LastFinished[ClassScenario].ID)

	_, err = r.TryReserve(ClassScenario)
	assert.NoError(t, err)
}

func TestRegistry_RegisterRequiresHeldReservation(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(Reservation{ID: "scenario-zz", Class: ClassScenario}, dbConfig, nil, 0)
	assert.Error(t, err)

	res, err := r.TryReserve(ClassScenario)
	require.NoError(t, err)
	_, err = r.Register(res, dbConfig, nil, 0)
	require.NoError(t, err)
	_, err = r.Register(res, dbConfig, nil, 0)
	assert.Error(t, err)
}

func TestRegistry_CompleteUnknownIsNoop(t *testing.T) {
	r := newTestRegistry()
	rec := start(t, r, ClassScenario)

	_, ok := r.Complete("scenario-missing", 0, nil)
	assert.False(t, ok)

	_, ok = r.Complete(rec.ID, 0, nil)
	assert.True(t, ok)
	_, ok = r.Complete(rec.ID, 1, nil)
	assert.False(t, ok)
	assert.Equal(t, StatusSuccess, r.Snapshot().LastFinished[ClassScenario].Status)
}

func TestRegistry_OnlyLastFinishedIsKept(t *testing.T) {
	r := newTestRegistry()
	first := start(t, r, ClassScenario)
	r.Complete(first.ID, 0, nil)
	second := start(t, r, ClassScenario)
	r.Complete(second.ID, 1, nil)

	last := r.Snapshot().LastFinished
	assert.Len(t, last, 1)
	assert.Equal(t, second.ID, last[ClassScenario].ID)
	assert.Equal(t, StatusFailed, last[ClassScenario].Status)
}

func TestRegistry_FindRunning(t *testing.T) {
	r := newTestRegistry()
	rec := start(t, r, ClassScenario)

	found, err := r.FindRunning(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.NotNil(t, found.Terminator())

	_, err = r.FindRunning("nope")
	assert.True(t, IsNotFound(err))

	r.Complete(rec.ID, 0, nil)
	_, err = r.FindRunning(rec.ID)
	assert.True(t, IsNotFound(err))
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		class TestClass
		cfg   RunConfig
		field string
	}{
		{"valid", ClassScenario, dbConfig, ""},
		{"zero rps", ClassScenario, RunConfig{Scenario: "db", Script: "dynamic.js", RPS: 0, VUs: 1, DurationMinutes: 1}, "rps"},
		{"zero vus", ClassScenario, RunConfig{Scenario: "db", Script: "dynamic.js", RPS: 1, VUs: 0, DurationMinutes: 1}, "vus"},
		{"zero duration", ClassScenario, RunConfig{Scenario: "db", Script: "dynamic.js", RPS: 1, VUs: 1, DurationMinutes: 0}, "duration"},
		{"open-ended baseline", ClassBaseline, RunConfig{Scenario: "db", Script: "dynamic.js", RPS: 1, VUs: 1, DurationMinutes: OpenEndedDuration}, ""},
		{"open-ended scenario", ClassScenario, RunConfig{Scenario: "db", Script: "dynamic.js", RPS: 1, VUs: 1, DurationMinutes: OpenEndedDuration}, "duration"},
		{"missing scenario", ClassScenario, RunConfig{Script: "dynamic.js", RPS: 1, VUs: 1, DurationMinutes: 1}, "scenario"},
		{"missing script", ClassScenario, RunConfig{Scenario: "db", RPS: 1, VUs: 1, DurationMinutes: 1}, "script"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.class)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("Baseline")
	require.NoError(t, err)
	assert.Equal(t, ClassBaseline, c)

	_, err = ParseClass("soak")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(ClassScenario)
	assert.Regexp(t, `^scenario-[0-9a-f]{8}$`, id)
}

package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadtoy/dashboard/internal/process"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/status"
)

type fakeHandle struct {
	pid int

	mu         sync.Mutex
	terminates int
	exited     bool
	exit       process.Exit
	callbacks  []func(process.Exit)
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminates++
	return nil
}

func (h *fakeHandle) OnExit(cb func(process.Exit)) {
	h.mu.Lock()
	if !h.exited {
		h.callbacks = append(h.callbacks, cb)
		h.mu.Unlock()
		return
	}
	exit := h.exit
	h.mu.Unlock()
	cb(exit)
}

// finish simulates the process exiting with code.
func (h *fakeHandle) finish(code int) {
	h.mu.Lock()
	h.exited = true
	h.exit = process.Exit{Code: code}
	cbs := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()
	for _, cb := range cbs {
		cb(process.Exit{Code: code})
	}
}

func (h *fakeHandle) terminateCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates
}

type fakeSpawner struct {
	mu      sync.Mutex
	err     error
	specs   []process.Spec
	handles []*fakeHandle
}

func (s *fakeSpawner) Spawn(spec process.Spec) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	h := &fakeHandle{pid: 1000 + len(s.handles)}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

func (s *fakeSpawner) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

var testK6 = K6Options{
	Mode:              ModeDocker,
	DockerCommand:     "docker",
	Image:             "grafana/k6:latest",
	Network:           "load-test-net",
	ScriptsPath:       "/srv/k6",
	BaseURL:           "http://app:28080",
	OpenEndedDuration: 24 * time.Hour,
}

func newTestController(t *testing.T, k6 K6Options) (*Controller, *fakeSpawner) {
	t.Helper()
	registry := runs.NewRegistry(nil)
	spawner := &fakeSpawner{}
	c := New(registry, shapes.Builtin(), spawner, status.NewProjector(registry, nil, 0), k6, nil)
	return c, spawner
}

var dbRun = runs.RunConfig{Scenario: "db", RPS: 10, VUs: 5, DurationMinutes: 5, Script: shapes.DynamicScript}

func TestController_RoundTrip(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	ctx := context.Background()

	rec, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)
	assert.Regexp(t, `^scenario-[0-9a-f]{8}$`, rec.ID)
	assert.Equal(t, 5*time.Minute, rec.ExpectedDuration)

	view := c.Status(ctx)
	require.Len(t, view.RunningTests, 1)
	running := view.RunningTests[0]
	assert.Equal(t, rec.ID, running.RunID)
	assert.Equal(t, "scenario", running.TestType)
	assert.Equal(t, "db", running.Scenario)
	assert.Equal(t, 10, running.RPS)
	assert.Equal(t, 5, running.VUs)
	assert.Equal(t, 5, running.Duration)
	assert.Nil(t, view.LastFinishedTests["scenario"])

	spawner.last().finish(0)

	view = c.Status(ctx)
	assert.Empty(t, view.RunningTests)
	finished := view.LastFinishedTests["scenario"]
	require.NotNil(t, finished)
	assert.Equal(t, rec.ID, finished.RunID)
	assert.Equal(t, "success", finished.Status)
	assert.Equal(t, 0, finished.ExitCode)
}

func TestController_ExitCodeSevenIsFailed(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	_, err := c.Start(runs.ClassBaseline, dbRun)
	require.NoError(t, err)

	spawner.last().finish(7)

	finished := c.Status(context.Background()).LastFinishedTests["baseline"]
	require.NotNil(t, finished)
	assert.Equal(t, "failed", finished.Status)
	assert.Equal(t, 7, finished.ExitCode)
}

func TestController_ConflictSameClass(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	first, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)
	before := c.Status(context.Background())

	_, err = c.Start(runs.ClassScenario, dbRun)
	var conflict *runs.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.RunningID)
	assert.Equal(t, 1, spawner.calls())

	after := c.Status(context.Background())
	assert.Equal(t, len(before.RunningTests), len(after.RunningTests))
	assert.Equal(t, before.RunningTests[0].RunID, after.RunningTests[0].RunID)
}

func TestController_ConcurrentStartsSameClass(t *testing.T) {
	c, spawner := newTestController(t, testK6)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Start(runs.ClassScenario, dbRun)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		var conflict *runs.ConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &conflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, spawner.calls())
}

func TestController_IndependentClasses(t *testing.T) {
	c, _ := newTestController(t, testK6)

	_, err := c.Start(runs.ClassBaseline, dbRun)
	require.NoError(t, err)
	_, err = c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)

	assert.Len(t, c.Status(context.Background()).RunningTests, 2)
}

func TestController_Validation(t *testing.T) {
	tests := []struct {
		name  string
		class runs.TestClass
		cfg   runs.RunConfig
		field string
	}{
		{"unknown scenario", runs.ClassScenario, runs.RunConfig{Scenario: "nope", RPS: 1, VUs: 1, DurationMinutes: 1, Script: shapes.DynamicScript}, "scenario"},
		{"unknown script", runs.ClassScenario, runs.RunConfig{Scenario: "db", RPS: 1, VUs: 1, DurationMinutes: 1, Script: "nope.js"}, "script"},
		{"zero rps", runs.ClassScenario, runs.RunConfig{Scenario: "db", RPS: 0, VUs: 1, DurationMinutes: 1, Script: shapes.DynamicScript}, "rps"},
		{"open-ended scenario", runs.ClassScenario, runs.RunConfig{Scenario: "db", RPS: 1, VUs: 1, DurationMinutes: -1, Script: shapes.DynamicScript}, "duration"},
		{"open-ended fixed shape", runs.ClassBaseline, runs.RunConfig{Scenario: "daily_pattern", RPS: 1, VUs: 1, DurationMinutes: -1, Script: shapes.LongScript}, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, spawner := newTestController(t, testK6)
			_, err := c.Start(tt.class, tt.cfg)
			var verr *runs.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 0, spawner.calls())

			view := c.Status(context.Background())
			assert.Empty(t, view.RunningTests)
			assert.Nil(t, view.LastFinishedTests[string(tt.class)])
		})
	}
}

func TestController_OpenEndedBaseline(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	rec, err := c.Start(runs.ClassBaseline, runs.RunConfig{Scenario: "realistic", RPS: 2, VUs: 4, DurationMinutes: runs.OpenEndedDuration, Script: shapes.DynamicScript})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), rec.ExpectedDuration)
	assert.Contains(t, spawner.specs[0].Args, "DURATION=1440m")
	assert.Nil(t, c.Status(context.Background()).RunningTests[0].ExpectedEndTime)
}

func TestController_FixedShapeExpectedDuration(t *testing.T) {
	c, _ := newTestController(t, testK6)
	rec, err := c.Start(runs.ClassScenario, runs.RunConfig{Scenario: "black_friday", RPS: 1, VUs: 1, DurationMinutes: 5, Script: shapes.LongScript})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour+45*time.Minute, rec.ExpectedDuration)
}

func TestController_SpawnFailure(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	spawner.err = errors.New(`exec: "docker": executable file not found in $PATH`)

	rec, err := c.Start(runs.ClassScenario, dbRun)
	var spawnErr *runs.SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, rec.ID, spawnErr.RunID)
	assert.Equal(t, runs.StatusFailed, rec.Status)

	view := c.Status(context.Background())
	assert.Empty(t, view.RunningTests)
	finished := view.LastFinishedTests["scenario"]
	require.NotNil(t, finished)
	assert.Equal(t, "failed", finished.Status)
	assert.Contains(t, finished.Error, "executable file not found")

	spawner.err = nil
	_, err = c.Start(runs.ClassScenario, dbRun)
	assert.NoError(t, err)
}

func TestController_StopUnknown(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	rec, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)

	_, err = c.Stop("scenario-deadbeef")
	assert.True(t, runs.IsNotFound(err))
	assert.Equal(t, 0, spawner.last().terminateCalls())

	view := c.Status(context.Background())
	require.Len(t, view.RunningTests, 1)
	assert.Equal(t, rec.ID, view.RunningTests[0].RunID)
}

func TestController_StopIsAsynchronous(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	rec, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)

	_, err = c.Stop(rec.ID)
	require.NoError(t, err)
	h := spawner.last()
	assert.Equal(t, 1, h.terminateCalls())

	assert.Len(t, c.Status(context.Background()).RunningTests, 1)

	h.finish(143)
	view := c.Status(context.Background())
	assert.Empty(t, view.RunningTests)
	assert.Equal(t, "failed", view.LastFinishedTests["scenario"].Status)

	_, err = c.Stop(rec.ID)
	assert.True(t, runs.IsNotFound(err))
}

func TestController_StopAll(t *testing.T) {
	c, spawner := newTestController(t, testK6)
	assert.Equal(t, 0, c.StopAll())
	assert.Equal(t, 0, spawner.calls())

	_, err := c.Start(runs.ClassBaseline, dbRun)
	require.NoError(t, err)
	_, err = c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)

	assert.Equal(t, 2, c.StopAll())
	for _, h := range spawner.handles {
		assert.Equal(t, 1, h.terminateCalls())
	}
}

func TestController_AttachesSummary(t *testing.T) {
	k6 := testK6
	k6.SummaryDir = t.TempDir()
	c, spawner := newTestController(t, k6)

	rec, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)

	export := `{"metrics": {"http_reqs": {"count": 3000, "rate": 10}, "http_req_duration": {"avg": 12.5, "p(95)": 40}}}`
	require.NoError(t, os.WriteFile(filepath.Join(k6.SummaryDir, rec.ID+".json"), []byte(export), 0o644))
	spawner.last().finish(0)

	finished := c.Status(context.Background()).LastFinishedTests["scenario"]
	require.NotNil(t, finished)
	assert.Equal(t, 3000.0, finished.Summary["http_reqs"].Count)
	assert.Equal(t, 40.0, finished.Summary["http_req_duration"].P95)
}

func TestController_MissingSummaryLeavesItEmpty(t *testing.T) {
	k6 := testK6
	k6.SummaryDir = t.TempDir()
	c, spawner := newTestController(t, k6)

	_, err := c.Start(runs.ClassScenario, dbRun)
	require.NoError(t, err)
	spawner.last().finish(1)

	finished := c.Status(context.Background()).LastFinishedTests["scenario"]
	require.NotNil(t, finished)
	assert.Nil(t, finished.Summary)
}

func TestController_PrepareSummariesPrunesExpired(t *testing.T) {
	k6 := testK6
	k6.SummaryDir = filepath.Join(t.TempDir(), "results")
	k6.SummaryRetention = time.Hour
	c, _ := newTestController(t, k6)

	require.NoError(t, c.PrepareSummaries())
	stale := filepath.Join(k6.SummaryDir, "baseline-stale.json")
	require.NoError(t, os.WriteFile(stale, []byte(`{"metrics": {}}`), 0o644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, c.PrepareSummaries())
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

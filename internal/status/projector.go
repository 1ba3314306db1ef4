// Package status turns registry snapshots into the shape the dashboard polls.
package status

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/loadtoy/dashboard/internal/pool"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/summary"
)

type RunningTest struct {
	RunID           string     `json:"runId"`
	TestType        string     `json:"testType"`
	Scenario        string     `json:"scenario"`
	Script          string     `json:"script"`
	RPS             int        `json:"rps"`
	VUs             int        `json:"vus"`
	Duration        int        `json:"duration"`
	StartTime       time.Time  `json:"startTime"`
	ElapsedSeconds  int64      `json:"elapsedSeconds"`
	ExpectedEndTime *time.Time `json:"expectedEndTime,omitempty"`
}

type FinishedTest struct {
	RunID           string          `json:"runId"`
	TestType        string          `json:"testType"`
	Scenario        string          `json:"scenario"`
	Script          string          `json:"script"`
	RPS             int             `json:"rps"`
	VUs             int             `json:"vus"`
	Duration        int             `json:"duration"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
	DurationSeconds int64           `json:"durationSeconds"`
	ExitCode        int             `json:"exitCode"`
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	Summary         summary.Summary `json:"summary,omitempty"`
}

// Global holds dashboard-wide values. AnyRunning serves callers that still
// think of a single running flag.
type Global struct {
	AnyRunning   bool         `json:"anyRunning"`
	RunningCount int          `json:"runningCount"`
	Pool         *pool.Status `json:"pool,omitempty"`
	PoolError    string       `json:"poolError,omitempty"`
}

type View struct {
	RunningTests      []RunningTest            `json:"runningTests"`
	LastFinishedTests map[string]*FinishedTest `json:"lastFinishedTests"`
	Global            Global                   `json:"global"`
}

type Snapshotter interface {
	Snapshot() runs.Snapshot
}

// Projector reads the registry on every call; it keeps no state of its own.
type Projector struct {
	registry    Snapshotter
	pool        pool.Source
	poolTimeout time.Duration
	now         func() time.Time
}

// NewProjector takes an optional pool source; a nil source leaves the pool
// section out.
func NewProjector(registry Snapshotter, source pool.Source, poolTimeout time.Duration) *Projector {
	if poolTimeout <= 0 {
		poolTimeout = 2 * time.Second
	}
	return &Projector{
		registry:    registry,
		pool:        source,
		poolTimeout: poolTimeout,
		now:         time.Now,
	}
}

func (p *Projector) Project(ctx context.Context) View {
	snap := p.registry.Snapshot()
	now := p.now()

	view := View{
		RunningTests:      make([]RunningTest, 0, len(snap.Running)),
		LastFinishedTests: make(map[string]*FinishedTest, len(runs.Classes)),
	}
	for _, rec := range snap.Running {
		view.RunningTests = append(view.RunningTests, projectRunning(rec, now))
	}
	for _, class := range runs.Classes {
		view.LastFinishedTests[string(class)] = nil
		if rec, ok := snap.LastFinished[class]; ok {
			view.LastFinishedTests[string(class)] = projectFinished(rec)
		}
	}

	view.Global.RunningCount = len(view.RunningTests)
	view.Global.AnyRunning = view.Global.RunningCount > 0
	p.projectPool(ctx, &view.Global)
	return view
}

func (p *Projector) projectPool(ctx context.Context, g *Global) {
	if p.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.poolTimeout)
	defer cancel()

	st, err := p.pool.Status(ctx)
	switch {
	case errors.Is(err, pool.ErrDisabled):
	case err != nil:
		g.PoolError = err.Error()
	default:
		g.Pool = &st
	}
}

func projectRunning(rec runs.RunRecord, now time.Time) RunningTest {
	t := RunningTest{
		RunID:          rec.ID,
		TestType:       string(rec.Class),
		Scenario:       rec.Config.Scenario,
		Script:         rec.Config.Script,
		RPS:            rec.Config.RPS,
		VUs:            rec.Config.VUs,
		Duration:       rec.Config.DurationMinutes,
		StartTime:      rec.StartedAt,
		ElapsedSeconds: int64(now.Sub(rec.StartedAt) / time.Second),
	}
	if rec.ExpectedDuration > 0 {
		end := rec.StartedAt.Add(rec.ExpectedDuration)
		t.ExpectedEndTime = &end
	}
	return t
}

func projectFinished(rec runs.RunRecord) *FinishedTest {
	return &FinishedTest{
		RunID:           rec.ID,
		TestType:        string(rec.Class),
		Scenario:        rec.Config.Scenario,
		Script:          rec.Config.Script,
		RPS:             rec.Config.RPS,
		VUs:             rec.Config.VUs,
		Duration:        rec.Config.DurationMinutes,
		StartTime:       rec.StartedAt,
		EndTime:         rec.FinishedAt,
		DurationSeconds: int64(rec.FinishedAt.Sub(rec.StartedAt) / time.Second),
		ExitCode:        rec.ExitCode,
		Status:          string(rec.Status),
		Error:           rec.Error,
		Summary:         rec.Summary,
	}
}

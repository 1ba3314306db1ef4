package runs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loadtoy/dashboard/internal/summary"
)

// TestClass is the mutual-exclusion bucket of a run. At most one run per
// class may be running at a time.
type TestClass string

const (
	ClassBaseline TestClass = "baseline"
	ClassScenario TestClass = "scenario"
)

// Classes lists every known class in display order.
var Classes = []TestClass{ClassBaseline, ClassScenario}

// ParseClass accepts a class name case-insensitively.
func ParseClass(s string) (TestClass, error) {
	switch TestClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassBaseline:
		return ClassBaseline, nil
	case ClassScenario:
		return ClassScenario, nil
	}
	return "", &ValidationError{Field: "testType", Message: fmt.Sprintf("unknown test type %q (expected baseline or scenario)", s)}
}

// OpenEndedDuration is the duration sentinel for runs that continue until stopped.
const OpenEndedDuration = -1

// RunConfig is the immutable request a run was started with.
type RunConfig struct {
	Scenario        string `json:"scenario"`
	RPS             int    `json:"rps"`
	VUs             int    `json:"vus"`
	DurationMinutes int    `json:"duration"`
	Script          string `json:"script"`
}

func (c RunConfig) OpenEnded() bool {
	return c.DurationMinutes == OpenEndedDuration
}

// Validate checks the numeric bounds of the config. Scenario and script names
// are resolved against the shape registry by the controller.
func (c RunConfig) Validate(class TestClass) error {
	if strings.TrimSpace(c.Scenario) == "" {
		return &ValidationError{Field: "scenario", Message: "scenario is required"}
	}
	if strings.TrimSpace(c.Script) == "" {
		return &ValidationError{Field: "script", Message: "script is required"}
	}
	if c.RPS < 1 {
		return &ValidationError{Field: "rps", Message: fmt.Sprintf("rps must be >= 1, got %d", c.RPS)}
	}
	if c.VUs < 1 {
		return &ValidationError{Field: "vus", Message: fmt.Sprintf("vus must be >= 1, got %d", c.VUs)}
	}
	if c.OpenEnded() {
		if class != ClassBaseline {
			return &ValidationError{Field: "duration", Message: "open-ended duration is only allowed for baseline runs"}
		}
		return nil
	}
	if c.DurationMinutes < 1 {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("duration must be >= 1 minute, got %d", c.DurationMinutes)}
	}
	return nil
}

type State string

const (
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Status is derived from the exit code once a run has finished.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func StatusFromExitCode(code int) Status {
	if code == 0 {
		return StatusSuccess
	}
	return StatusFailed
}

// Terminator is the part of a process handle the registry keeps so that a
// running record can be signalled.
type Terminator interface {
	Terminate() error
}

// RunRecord is one run. Records are owned by the Registry; callers only ever
// see copies.
type RunRecord struct {
	ID               string
	Class            TestClass
	Config           RunConfig
	State            State
	StartedAt        time.Time
	FinishedAt       time.Time
	ExpectedDuration time.Duration // zero for open-ended runs
	ExitCode         int
	Status           Status
	Error            string
	Summary          summary.Summary

	handle Terminator
}

// Terminator returns the handle of a running record, nil once finished or
// for records whose process never started.
func (r RunRecord) Terminator() Terminator {
	return r.handle
}

// Reservation holds the class slot between TryReserve and Register.
type Reservation struct {
	ID    string
	Class TestClass
}

// NewRunID builds ids of the form "<class>-<8 hex chars>".
func NewRunID(class TestClass) string {
	return fmt.Sprintf("%s-%s", class, uuid.NewString()[:8])
}

package controller

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loadtoy/dashboard/internal/process"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/summary"
)

const (
	ModeDocker = "docker"
	ModeLocal  = "local"
)

// K6Options control how a run is turned into a k6 command line.
type K6Options struct {
	Mode          string
	Binary        string
	DockerCommand string
	Image         string
	Network       string
	ScriptsPath   string
	BaseURL       string
	// OpenEndedDuration is passed as DURATION for runs without an end.
	OpenEndedDuration time.Duration
	// SummaryDir enables --summary-export when set.
	SummaryDir string
	// SummaryRetention is how long exports are kept. Zero keeps them forever.
	SummaryRetention time.Duration
}

// ContainerName is the docker container a run executes in.
func ContainerName(runID string) string {
	return "k6-" + runID
}

// Invocation builds the process spec for a run.
func (o K6Options) Invocation(runID string, cfg runs.RunConfig) process.Spec {
	env := []string{
		"SCENARIO=" + cfg.Scenario,
		"RPS=" + strconv.Itoa(cfg.RPS),
		"DURATION=" + o.durationArg(cfg),
		"VUS=" + strconv.Itoa(cfg.VUs),
		"BASE_URL=" + o.BaseURL,
	}

	if o.Mode == ModeLocal {
		args := []string{"run"}
		if o.SummaryDir != "" {
			args = append(args, "--summary-export="+summary.ExportPath(o.SummaryDir, runID))
		}
		args = append(args, filepath.Join(o.ScriptsPath, cfg.Script))
		return process.Spec{Command: o.Binary, Args: args, Env: env}
	}

	args := []string{
		"run", "--rm",
		"--name", ContainerName(runID),
		"--user", "root",
		"--network", o.Network,
		"--add-host", "host.docker.internal:host-gateway",
		"-v", o.ScriptsPath + ":/scripts:ro",
	}
	if o.SummaryDir != "" {
		args = append(args, "-v", o.SummaryDir+":/results")
	}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, o.Image, "run")
	if o.SummaryDir != "" {
		args = append(args, "--summary-export="+path.Join("/results", runID+".json"))
	}
	args = append(args, path.Join("/scripts", cfg.Script))
	return process.Spec{Command: o.DockerCommand, Args: args}
}

func (o K6Options) durationArg(cfg runs.RunConfig) string {
	if !cfg.OpenEnded() {
		return fmt.Sprintf("%dm", cfg.DurationMinutes)
	}
	d := o.OpenEndedDuration
	if d <= 0 {
		d = 24 * time.Hour
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

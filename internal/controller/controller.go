// Package controller starts, stops and reports load-generator runs.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/loadtoy/dashboard/internal/logging"
	"github.com/loadtoy/dashboard/internal/metrics"
	"github.com/loadtoy/dashboard/internal/process"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/status"
	"github.com/loadtoy/dashboard/internal/summary"
)

type Controller struct {
	registry  *runs.Registry
	shapes    *shapes.Registry
	spawner   process.Spawner
	projector *status.Projector
	k6        K6Options
	summaries *summary.Store
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

func New(registry *runs.Registry, shapeRegistry *shapes.Registry, spawner process.Spawner, projector *status.Projector, k6 K6Options, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		registry:  registry,
		shapes:    shapeRegistry,
		spawner:   spawner,
		projector: projector,
		k6:        k6,
		summaries: summary.NewStore(k6.SummaryDir, k6.SummaryRetention),
		metrics:   metrics.Get(),
		log:       log.WithField("component", "controller"),
	}
}

// Start launches a run and returns as soon as the process is spawned.
//
// A failed spawn still produces a finished/failed record; it is returned
// together with a *runs.SpawnError.
func (c *Controller) Start(class runs.TestClass, cfg runs.RunConfig) (runs.RunRecord, error) {
	shape, err := c.resolve(class, cfg)
	if err != nil {
		return runs.RunRecord{}, err
	}

	res, err := c.registry.TryReserve(class)
	if err != nil {
		var conflict *runs.ConflictError
		if errors.As(err, &conflict) {
			c.metrics.RecordConflict(string(class))
		}
		return runs.RunRecord{}, err
	}

	log := c.log.WithFields(logrus.Fields{"runId": res.ID, "class": class})
	spec := c.k6.Invocation(res.ID, cfg)
	output := logging.NewLineWriter(log, logrus.InfoLevel, logging.MaxLineBytes)
	spec.Output = output

	handle, err := c.spawner.Spawn(spec)
	if err != nil {
		output.Close()
		rec, failErr := c.registry.Fail(res, cfg, err)
		if failErr != nil {
			return runs.RunRecord{}, failErr
		}
		c.metrics.RecordSpawnFailure(string(class))
		log.WithError(err).Error("failed to start k6")
		return rec, &runs.SpawnError{RunID: res.ID, Cause: err}
	}

	rec, err := c.registry.Register(res, cfg, handle, shape.Duration(params(cfg)))
	if err != nil {
		output.Close()
		_ = handle.Terminate()
		return runs.RunRecord{}, err
	}
	c.metrics.RecordStarted(string(class))
	log.WithFields(logrus.Fields{
		"pid":      handle.PID(),
		"scenario": cfg.Scenario,
		"script":   cfg.Script,
		"rps":      cfg.RPS,
		"vus":      cfg.VUs,
		"duration": cfg.DurationMinutes,
	}).Infof("started %s", shape)

	handle.OnExit(func(exit process.Exit) {
		output.Close()
		if exit.Err != nil {
			log.WithError(exit.Err).Warn("waiting for k6 failed")
		}
		done, ok := c.registry.Complete(res.ID, exit.Code, c.readSummary(log, res.ID))
		if !ok {
			return
		}
		c.metrics.RecordFinished(string(done.Class), string(done.Status), done.FinishedAt.Sub(done.StartedAt))
		log.WithFields(logrus.Fields{"exitCode": done.ExitCode, "status": done.Status}).Info("run finished")
	})

	return rec, nil
}

func (c *Controller) resolve(class runs.TestClass, cfg runs.RunConfig) (shapes.Shape, error) {
	if err := cfg.Validate(class); err != nil {
		return shapes.Shape{}, err
	}
	shape, err := c.shapes.Lookup(cfg.Script, cfg.Scenario)
	switch {
	case errors.Is(err, shapes.ErrUnknownScript):
		return shapes.Shape{}, &runs.ValidationError{Field: "script", Message: err.Error()}
	case errors.Is(err, shapes.ErrUnknownScenario):
		return shapes.Shape{}, &runs.ValidationError{Field: "scenario", Message: err.Error()}
	case err != nil:
		return shapes.Shape{}, err
	}
	if cfg.OpenEnded() && !shape.ConfigDriven() {
		return shapes.Shape{}, &runs.ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("%s has a fixed length and cannot run open-ended", shape),
		}
	}
	return shape, nil
}

func params(cfg runs.RunConfig) shapes.Params {
	p := shapes.Params{RPS: cfg.RPS, VUs: cfg.VUs}
	if !cfg.OpenEnded() {
		p.Duration = time.Duration(cfg.DurationMinutes) * time.Minute
	}
	return p
}

func (c *Controller) readSummary(log *logrus.Entry, runID string) summary.Summary {
	if !c.summaries.Enabled() {
		return nil
	}
	sum, err := c.summaries.Read(runID)
	if err != nil {
		log.WithError(err).Warn("no usable k6 summary")
		return nil
	}
	if n, err := c.summaries.Prune(time.Now()); err != nil {
		log.WithError(err).Warn("failed to prune k6 summaries")
	} else if n > 0 {
		log.Debugf("pruned %d expired k6 summaries", n)
	}
	return sum
}

// PrepareSummaries creates the summary export directory and drops exports
// past their retention.
func (c *Controller) PrepareSummaries() error {
	if err := c.summaries.Prepare(); err != nil {
		return err
	}
	n, err := c.summaries.Prune(time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Infof("pruned %d expired k6 summaries", n)
	}
	return nil
}

// Stop signals a running run. The record only becomes finished once the
// process exits.
func (c *Controller) Stop(runID string) (runs.RunRecord, error) {
	rec, err := c.registry.FindRunning(runID)
	if err != nil {
		return runs.RunRecord{}, err
	}
	t := rec.Terminator()
	if t == nil {
		return runs.RunRecord{}, errors.Wrapf(runs.ErrNotFound, "run %s", runID)
	}
	if err := t.Terminate(); err != nil {
		return rec, errors.Wrapf(err, "failed to stop run %s", runID)
	}
	c.log.WithField("runId", runID).Info("stop requested")
	return rec, nil
}

// StopAll signals every running run and returns how many were signalled.
func (c *Controller) StopAll() int {
	count := 0
	for _, rec := range c.registry.Snapshot().Running {
		t := rec.Terminator()
		if t == nil {
			continue
		}
		if err := t.Terminate(); err != nil {
			c.log.WithField("runId", rec.ID).WithError(err).Warn("failed to stop run")
			continue
		}
		count++
	}
	if count > 0 {
		c.log.Infof("stop requested for %d runs", count)
	}
	return count
}

func (c *Controller) Status(ctx context.Context) status.View {
	return c.projector.Project(ctx)
}

// Shapes lists the scripts and scenarios a run may use.
func (c *Controller) Shapes() []shapes.Script {
	return c.shapes.Scripts()
}

// Shape resolves one scenario of a script.
func (c *Controller) Shape(script, scenario string) (shapes.Shape, error) {
	return c.shapes.Lookup(script, scenario)
}

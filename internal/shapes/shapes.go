// Package shapes describes the traffic shapes the k6 scripts implement so
// that a start request can be validated and its expected length and load
// profile computed without running k6.
package shapes

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Executor tags which variant a Shape is.
type Executor string

const (
	// ConstantArrivalRate shapes take rate, VUs and duration from the run config.
	ConstantArrivalRate Executor = "constant-arrival-rate"
	// RampingVUs shapes follow fixed VU stages; rate and duration are ignored.
	RampingVUs Executor = "ramping-vus"
	// MultiPhase shapes run several fixed constant-arrival-rate phases with start offsets.
	MultiPhase Executor = "multi-phase"
)

var (
	ErrUnknownScript   = errors.New("unknown script")
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Stage is one ramping-vus step: reach Target VUs over Duration.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// Phase is one fixed constant-arrival-rate scenario inside a multi-phase script.
type Phase struct {
	Name            string        `json:"name"`
	Rate            int           `json:"rate"`
	Duration        time.Duration `json:"duration"`
	StartTime       time.Duration `json:"startTime"`
	PreAllocatedVUs int           `json:"preAllocatedVUs"`
	MaxVUs          int           `json:"maxVUs"`
	Endpoints       []string      `json:"endpoints"`
}

// Shape is a named traffic shape of one script.
type Shape struct {
	Script           string        `json:"script"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Executor         Executor      `json:"executor"`
	StartVUs         int           `json:"startVUs,omitempty"`
	Stages           []Stage       `json:"stages,omitempty"`
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty"`
	Phases           []Phase       `json:"phases,omitempty"`
	Endpoints        []string      `json:"endpoints"`
	Pause            time.Duration `json:"pause"`
}

// Params are the run-config values a shape may consume. A zero Duration
// means open-ended.
type Params struct {
	RPS      int
	VUs      int
	Duration time.Duration
}

// ConfigDriven reports whether rate, VUs and duration come from the run config.
func (s Shape) ConfigDriven() bool {
	return s.Executor == ConstantArrivalRate
}

// Duration is how long a run of this shape is expected to last; zero for an
// open-ended config-driven run. For ramping shapes this is stage time only:
// k6 may overrun it by at most GracefulRampDown while iterations finish.
func (s Shape) Duration(p Params) time.Duration {
	switch s.Executor {
	case ConstantArrivalRate:
		return p.Duration
	case RampingVUs:
		var total time.Duration
		for _, st := range s.Stages {
			total += st.Duration
		}
		return total
	case MultiPhase:
		var end time.Duration
		for _, ph := range s.Phases {
			if e := ph.StartTime + ph.Duration; e > end {
				end = e
			}
		}
		return end
	}
	return 0
}

// Unit names what Profile targets measure.
func (s Shape) Unit() string {
	if s.Executor == RampingVUs {
		return "vus"
	}
	return "rps"
}

// PreAllocatedVUs and MaxVUs mirror what the script passes to k6 for
// config-driven shapes.
func (s Shape) PreAllocatedVUs(p Params) int { return p.VUs }
func (s Shape) MaxVUs(p Params) int          { return p.VUs * 2 }

// Point is one sample of a load profile.
type Point struct {
	Offset time.Duration `json:"offset"`
	Target float64       `json:"target"`
}

// openEndedHorizon bounds the profile of an open-ended run.
const openEndedHorizon = time.Hour

// Profile samples the target load every step from the start of the run to
// its end.
func (s Shape) Profile(p Params, step time.Duration) []Point {
	total := s.Duration(p)
	if total <= 0 {
		total = openEndedHorizon
	}
	if step <= 0 {
		step = total / 60
		if step <= 0 {
			step = time.Second
		}
	}

	var points []Point
	for t := time.Duration(0); ; t += step {
		if t > total {
			t = total
		}
		points = append(points, Point{Offset: t, Target: s.targetAt(p, t)})
		if t == total {
			break
		}
	}
	return points
}

func (s Shape) targetAt(p Params, t time.Duration) float64 {
	switch s.Executor {
	case ConstantArrivalRate:
		return float64(p.RPS)
	case RampingVUs:
		from := float64(s.StartVUs)
		var elapsed time.Duration
		for _, st := range s.Stages {
			if t <= elapsed+st.Duration {
				if st.Duration == 0 {
					return float64(st.Target)
				}
				frac := float64(t-elapsed) / float64(st.Duration)
				return from + (float64(st.Target)-from)*frac
			}
			elapsed += st.Duration
			from = float64(st.Target)
		}
		return from
	case MultiPhase:
		var rate float64
		for _, ph := range s.Phases {
			if t >= ph.StartTime && t < ph.StartTime+ph.Duration {
				rate += float64(ph.Rate)
			}
		}
		return rate
	}
	return 0
}

// Script groups the shapes one k6 script implements.
type Script struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Shapes      []Shape `json:"scenarios"`
}

// Registry resolves script and scenario names to shapes.
type Registry struct {
	scripts map[string]Script
}

func NewRegistry(scripts ...Script) *Registry {
	r := &Registry{scripts: make(map[string]Script, len(scripts))}
	for _, sc := range scripts {
		for i := range sc.Shapes {
			sc.Shapes[i].Script = sc.Name
		}
		r.scripts[sc.Name] = sc
	}
	return r
}

// Lookup returns the shape named scenario in script. The error wraps
// ErrUnknownScript or ErrUnknownScenario.
func (r *Registry) Lookup(script, scenario string) (Shape, error) {
	sc, ok := r.scripts[script]
	if !ok {
		return Shape{}, errors.Wrapf(ErrUnknownScript, "%q", script)
	}
	for _, sh := range sc.Shapes {
		if sh.Name == scenario {
			return sh, nil
		}
	}
	return Shape{}, errors.Wrapf(ErrUnknownScenario, "%q in %s (known: %v)", scenario, script, sc.names())
}

// Scripts lists every script sorted by name.
func (r *Registry) Scripts() []Script {
	out := make([]Script, 0, len(r.scripts))
	for _, sc := range r.scripts {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (sc Script) names() []string {
	names := make([]string, len(sc.Shapes))
	for i, sh := range sc.Shapes {
		names[i] = sh.Name
	}
	return names
}

// String renders the shape as "<script>/<name> (<executor>)".
func (s Shape) String() string {
	return fmt.Sprintf("%s/%s (%s)", s.Script, s.Name, s.Executor)
}

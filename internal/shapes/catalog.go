package shapes

import "time"

const (
	DynamicScript   = "dynamic.js"
	LongScript      = "long-scenarios.js"
	ScenariosScript = "scenarios.js"
)

const (
	endpointCPU        = "/api/workload/cpu"
	endpointMixed      = "/api/workload/mixed"
	endpointRealistic  = "/api/workload/realistic"
	endpointMemory     = "/api/workload/memory"
	endpointOrder      = "/api/workload/process-order"
	endpointDBQuery    = "/api/workload/db/query"
	endpointDBComplex  = "/api/workload/db/complex"
	endpointDBHigh     = "/api/workload/db/high-value"
	endpointDBRange    = "/api/workload/db/date-range"
	endpointDBByStatus = "/api/workload/db/status/{status}"
)

func m(n int) time.Duration { return time.Duration(n) * time.Minute }
func h(n int) time.Duration { return time.Duration(n) * time.Hour }

// longMix is the weighted workload mix every long-running scenario draws from.
var longMix = []string{endpointRealistic, endpointCPU, endpointDBQuery, endpointMixed}

// Builtin returns a registry with the shapes of the bundled k6 scripts.
func Builtin() *Registry {
	return NewRegistry(
		Script{
			Name:        DynamicScript,
			Description: "Constant arrival rate at the requested RPS, VUs and duration",
			Shapes: []Shape{
				{Name: "cpu", Description: "CPU burn at 70% for 1s per request", Executor: ConstantArrivalRate,
					Endpoints: []string{endpointCPU}, Pause: 500 * time.Millisecond},
				{Name: "db", Description: "Random read query against the orders table", Executor: ConstantArrivalRate,
					Endpoints: []string{endpointDBQuery, endpointDBComplex, endpointDBHigh, endpointDBRange}, Pause: time.Second},
				{Name: "realistic", Description: "Realistic DB + CPU request followed by an order update", Executor: ConstantArrivalRate,
					Endpoints: []string{endpointRealistic, endpointOrder}, Pause: 800 * time.Millisecond},
				{Name: "mixed", Description: "Mixed CPU and IO workload", Executor: ConstantArrivalRate,
					Endpoints: []string{endpointMixed}, Pause: 500 * time.Millisecond},
				{Name: "high_burst", Description: "CPU at 80% for 2s plus a complex DB query", Executor: ConstantArrivalRate,
					Endpoints: []string{endpointCPU, endpointDBComplex}, Pause: 300 * time.Millisecond},
			},
		},
		Script{
			Name:        LongScript,
			Description: "Multi-hour ramping-VU patterns",
			Shapes: []Shape{
				{Name: "daily_pattern", Description: "Typical working day (8h)", Executor: RampingVUs, StartVUs: 1,
					Stages: []Stage{
						{m(30), 5}, {h(1), 20}, {h(2), 30}, {h(1), 15}, {h(2), 35}, {h(1), 20}, {m(30), 5},
					},
					GracefulRampDown: m(5), Endpoints: longMix, Pause: time.Second},
				{Name: "gradual_increase", Description: "Stepwise increase to 100 VUs and back (4h)", Executor: RampingVUs, StartVUs: 5,
					Stages: []Stage{
						{m(30), 10}, {m(30), 20}, {m(30), 40}, {m(30), 60}, {m(30), 80}, {m(30), 100}, {m(30), 60}, {m(30), 20},
					},
					GracefulRampDown: m(5), Endpoints: longMix, Pause: time.Second},
				{Name: "spike_pattern", Description: "Three spikes over a steady floor (2h20m)", Executor: RampingVUs, StartVUs: 10,
					Stages: []Stage{
						{m(20), 10}, {m(5), 100}, {m(10), 100}, {m(5), 10},
						{m(20), 10}, {m(5), 80}, {m(10), 80}, {m(5), 10},
						{m(20), 10}, {m(5), 120}, {m(10), 120}, {m(5), 10},
						{m(20), 10},
					},
					GracefulRampDown: m(5), Endpoints: longMix, Pause: time.Second},
				{Name: "black_friday", Description: "Sale event surge to 200 VUs (5h45m)", Executor: RampingVUs, StartVUs: 20,
					Stages: []Stage{
						{m(30), 50}, {m(15), 150}, {h(1), 200}, {h(1), 180}, {h(1), 150}, {h(1), 100}, {m(30), 60}, {m(30), 30},
					},
					GracefulRampDown: m(10), Endpoints: longMix, Pause: time.Second},
				{Name: "night_batch", Description: "Overnight batch window (2h)", Executor: RampingVUs, StartVUs: 5,
					Stages: []Stage{
						{m(10), 5}, {m(20), 30}, {m(40), 50}, {m(20), 30}, {m(20), 10}, {m(10), 5},
					},
					GracefulRampDown: m(5), Endpoints: longMix, Pause: time.Second},
				{Name: "stress_test", Description: "Ramp to 300 VUs and hold (1h50m)", Executor: RampingVUs, StartVUs: 10,
					Stages: []Stage{
						{m(10), 50}, {m(10), 100}, {m(10), 150}, {m(10), 200}, {m(10), 250},
						{m(20), 300}, {m(10), 200}, {m(10), 100}, {m(10), 50}, {m(10), 10},
					},
					GracefulRampDown: m(5), Endpoints: longMix, Pause: time.Second},
			},
		},
		Script{
			Name:        ScenariosScript,
			Description: "Five fixed arrival-rate phases replaying the scheduled production load",
			Shapes: []Shape{
				{Name: "all", Description: "High burst, medium load, background, medium burst and memory hog phases (30m)", Executor: MultiPhase,
					Phases: []Phase{
						{Name: "high_burst", Rate: 20, Duration: m(5), StartTime: 0, PreAllocatedVUs: 30, MaxVUs: 50,
							Endpoints: []string{endpointCPU, endpointDBComplex}},
						{Name: "medium_load", Rate: 10, Duration: m(10), StartTime: m(6), PreAllocatedVUs: 15, MaxVUs: 25,
							Endpoints: []string{endpointRealistic, endpointDBByStatus}},
						{Name: "background_low", Rate: 2, Duration: m(30), StartTime: 0, PreAllocatedVUs: 5, MaxVUs: 10,
							Endpoints: []string{endpointDBQuery, endpointDBHigh}},
						{Name: "medium_burst", Rate: 8, Duration: m(8), StartTime: m(10), PreAllocatedVUs: 12, MaxVUs: 20,
							Endpoints: []string{endpointMixed, endpointDBRange}},
						{Name: "memory_hog", Rate: 2, Duration: m(5), StartTime: m(15), PreAllocatedVUs: 5, MaxVUs: 10,
							Endpoints: []string{endpointMemory}},
					},
					Endpoints: []string{endpointCPU, endpointDBComplex, endpointRealistic, endpointDBByStatus,
						endpointDBQuery, endpointDBHigh, endpointMixed, endpointDBRange, endpointMemory}},
			},
		},
	)
}

package summary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Metric is the aggregate k6 reports for one metric at the end of a run.
// Fields a metric type does not produce are left at zero.
type Metric struct {
	Type   string  `json:"type,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Avg    float64 `json:"avg,omitempty"`
	Med    float64 `json:"med,omitempty"`
	P90    float64 `json:"p90,omitempty"`
	P95    float64 `json:"p95,omitempty"`
	P99    float64 `json:"p99,omitempty"`
	Count  float64 `json:"count,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Passes float64 `json:"passes,omitempty"`
	Fails  float64 `json:"fails,omitempty"`
}

// Summary maps metric names (http_req_duration, http_reqs, ...) to their aggregates.
type Summary map[string]Metric

type values struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Med    float64 `json:"med"`
	P90    float64 `json:"p(90)"`
	P95    float64 `json:"p(95)"`
	P99    float64 `json:"p(99)"`
	Count  float64 `json:"count"`
	Rate   float64 `json:"rate"`
	Value  float64 `json:"value"`
	Passes float64 `json:"passes"`
	Fails  float64 `json:"fails"`
}

// k6 writes two layouts: --summary-export puts the values directly on the
// metric, handleSummary/JSON output nests them under "values" with a "type".
type exported struct {
	Metrics map[string]json.RawMessage `json:"metrics"`
}

type nested struct {
	Type   string  `json:"type"`
	Values *values `json:"values"`
}

// Parse decodes a k6 end-of-test summary.
func Parse(data []byte) (Summary, error) {
	var doc exported
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse k6 summary")
	}
	if doc.Metrics == nil {
		return nil, errors.New("k6 summary has no metrics section")
	}

	out := make(Summary, len(doc.Metrics))
	for name, raw := range doc.Metrics {
		var n nested
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errors.Wrapf(err, "failed to parse metric %s", name)
		}
		v := n.Values
		if v == nil {
			v = &values{}
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, errors.Wrapf(err, "failed to parse metric %s", name)
			}
		}
		out[name] = Metric{
			Type:   n.Type,
			Min:    v.Min,
			Max:    v.Max,
			Avg:    v.Avg,
			Med:    v.Med,
			P90:    v.P90,
			P95:    v.P95,
			P99:    v.P99,
			Count:  v.Count,
			Rate:   v.Rate,
			Value:  v.Value,
			Passes: v.Passes,
			Fails:  v.Fails,
		}
	}
	return out, nil
}

// ReadFile parses the summary export at path.
func ReadFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read k6 summary %s", path)
	}
	return Parse(data)
}

// ExportPath is where a run's summary export is written inside dir.
func ExportPath(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// Names returns the metric names in sorted order.
func (s Summary) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

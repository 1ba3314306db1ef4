package charts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/summary"
)

func TestGenerator_ProfileChart(t *testing.T) {
	sh, err := shapes.Builtin().Lookup(shapes.LongScript, "daily_pattern")
	require.NoError(t, err)

	html, err := NewGenerator().ProfileChart(sh, shapes.Params{})
	require.NoError(t, err)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "daily_pattern")
	assert.Contains(t, html, "8:00")
}

func TestGenerator_LatencyChart(t *testing.T) {
	sum := summary.Summary{"http_req_duration": {Avg: 12, P95: 40, Max: 120}}
	html, err := NewGenerator().LatencyChart("scenario-1a2b3c4d", sum)
	require.NoError(t, err)
	assert.Contains(t, html, "http_req_duration")
	assert.Contains(t, html, "scenario-1a2b3c4d")
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "0:00", formatOffset(0))
	assert.Equal(t, "1:30", formatOffset(90*time.Minute))
	assert.Equal(t, "0:00:30", formatOffset(30*time.Second))
}

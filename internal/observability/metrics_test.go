package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTimelineRecorderCountsMutations(t *testing.T) {
	var rec TimelineRecorder
	before := testutil.ToFloat64(mutationCounter.WithLabelValues("create", "failure"))

	rec.TimelineMutation("create", false)
	rec.TimelineMutation("create", true)

	require.InDelta(t, before+1, testutil.ToFloat64(mutationCounter.WithLabelValues("create", "failure")), 0.0001)
	require.GreaterOrEqual(t, testutil.ToFloat64(mutationCounter.WithLabelValues("create", "success")), 1.0)
}

func TestRecordForecastStored(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	RecordForecastStored(1780.96, ts)

	require.InDelta(t, 1780.96, testutil.ToFloat64(forecastGauge), 0.0001)
	require.InDelta(t, float64(ts.Unix()), testutil.ToFloat64(forecastStoredGauge), 0.5)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPrediction_IncrementsOnce(t *testing.T) {
	before := testutil.ToFloat64(PredictionsTotal.WithLabelValues("m", "1", StatusSuccess))

	RecordPrediction("m", "1", StatusSuccess, 0.012)

	after := testutil.ToFloat64(PredictionsTotal.WithLabelValues("m", "1", StatusSuccess))
	assert.Equal(t, before+1, after)
}

func TestRecordModelLoad_Success(t *testing.T) {
	before := testutil.ToFloat64(ModelLoadsTotal.WithLabelValues("m", "3", "success"))

	RecordModelLoad("m", "3", true, 0.8)

	after := testutil.ToFloat64(ModelLoadsTotal.WithLabelValues("m", "3", "success"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 3.0, testutil.ToFloat64(CurrentModelVersion.WithLabelValues("m")))
}

func TestRecordModelLoad_FailureKeepsGauge(t *testing.T) {
	RecordModelLoad("gauge_keeper", "2", true, 0.1)
	RecordModelLoad("gauge_keeper", "9", false, 0)

	// A failed load never moves the current-version gauge.
	assert.Equal(t, 2.0, testutil.ToFloat64(CurrentModelVersion.WithLabelValues("gauge_keeper")))

	failures := testutil.ToFloat64(ModelLoadsTotal.WithLabelValues("gauge_keeper", "9", "failure"))
	assert.Equal(t, 1.0, failures)
}

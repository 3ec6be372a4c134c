package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeedbackMetrics(t *testing.T) {
	fm, err := NewFeedbackMetrics()
	require.NoError(t, err)
	require.NotNil(t, fm)

	assert.NotNil(t, fm.requestedCounter)
	assert.NotNil(t, fm.completedCounter)
	assert.NotNil(t, fm.failedCounter)
	assert.NotNil(t, fm.durationHistogram)
	assert.NotNil(t, fm.activeGauge)
}

func TestRecordFeedbackLifecycle(t *testing.T) {
	fm, err := NewFeedbackMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	// The default no-op meter accepts recordings without side effects;
	// these must not panic with any attribute combination.
	fm.RecordFeedbackRequested(ctx, "single", "question")
	fm.RecordFeedbackCompleted(ctx, "single", 1, 1200*time.Millisecond)

	fm.RecordFeedbackRequested(ctx, "batch", "")
	fm.RecordFeedbackFailed(ctx, "batch", "EXTERNAL_CALL_FAILURE", 30*time.Second)

	fm.RecordFeedbackFailed(ctx, "single", "", 0)
}

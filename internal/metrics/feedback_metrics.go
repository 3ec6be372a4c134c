package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("feedback-metrics")

// FeedbackMetrics provides metrics collection for reviewer rounds
type FeedbackMetrics struct {
	requestedCounter  metric.Int64Counter
	completedCounter  metric.Int64Counter
	failedCounter     metric.Int64Counter
	durationHistogram metric.Float64Histogram
	activeGauge       metric.Int64UpDownCounter
}

// NewFeedbackMetrics creates a new feedback metrics collector
func NewFeedbackMetrics() (*FeedbackMetrics, error) {
	requestedCounter, err := meter.Int64Counter(
		"planner.feedback.requested",
		metric.WithDescription("Total number of feedback rounds requested"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	completedCounter, err := meter.Int64Counter(
		"planner.feedback.completed",
		metric.WithDescription("Total number of feedback rounds completed successfully"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	failedCounter, err := meter.Int64Counter(
		"planner.feedback.failed",
		metric.WithDescription("Total number of feedback rounds that failed"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"planner.feedback.duration",
		metric.WithDescription("Duration of feedback rounds in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeGauge, err := meter.Int64UpDownCounter(
		"planner.feedback.active",
		metric.WithDescription("Number of feedback rounds currently in flight"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	return &FeedbackMetrics{
		requestedCounter:  requestedCounter,
		completedCounter:  completedCounter,
		failedCounter:     failedCounter,
		durationHistogram: durationHistogram,
		activeGauge:       activeGauge,
	}, nil
}

// RecordFeedbackRequested records the start of a feedback round
func (fm *FeedbackMetrics) RecordFeedbackRequested(ctx context.Context, mode, sectionID string) {
	fm.requestedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
			attribute.String("section.id", sectionID),
		),
	)
	fm.activeGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
		),
	)
}

// RecordFeedbackCompleted records a successful feedback round
func (fm *FeedbackMetrics) RecordFeedbackCompleted(ctx context.Context, mode string, sectionCount int, duration time.Duration) {
	fm.completedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
			attribute.Int("feedback.section_count", sectionCount),
			attribute.String("status", "completed"),
		),
	)
	fm.durationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
			attribute.String("status", "completed"),
		),
	)
	fm.activeGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
		),
	)
}

// RecordFeedbackFailed records a failed feedback round
func (fm *FeedbackMetrics) RecordFeedbackFailed(ctx context.Context, mode, errorType string, duration time.Duration) {
	fm.failedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	fm.durationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
			attribute.String("status", "failed"),
		),
	)
	fm.activeGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("feedback.mode", mode),
		),
	)
}

// Package metrics publishes scheduler counters to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"rollcall/internal/scheduler"
	"rollcall/internal/types"
)

// Metric and dimension names.
const (
	MetricJobsPlanned   = "JobsPlanned"
	MetricFiringAttempt = "FiringAttempt"
	MetricFiringLatency = "FiringLatency"
	DimResult           = "Result"
	DefaultNamespace    = "Rollcall"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch implements scheduler.Metrics.
//
// Metrics emitted:
//   - JobsPlanned: no dims, once per re-plan cycle that created jobs
//   - FiringAttempt: Dims {Result}, on every finished firing
//   - FiringLatency: Dims {Result}, submission duration in milliseconds
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ scheduler.Metrics = (*CloudWatch)(nil)

// NewCloudWatch creates a CloudWatch publisher for namespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

// RecordPlanned emits JobsPlanned. Cycles that planned nothing are skipped.
func (m *CloudWatch) RecordPlanned(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricJobsPlanned),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordFiring emits FiringAttempt and, for firings that reached the
// submitter, FiringLatency.
func (m *CloudWatch) RecordFiring(ctx context.Context, state types.JobState, latency time.Duration) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(DimResult),
			Value: aws.String(string(state)),
		},
	}
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricFiringAttempt),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	}
	if latency > 0 {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricFiringLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		})
	}
	m.put(ctx, data...)
}

func (m *CloudWatch) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			append(types.LogAttrs(ctx), "error", err.Error(), "metric", aws.ToString(data[0].MetricName))...)
	}
}

// Package telemetry publishes pipeline metrics and notifications. Every publisher is best-effort:
// callers log failures and carry on.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Namespace suffixes, joined to the configured prefix.
const (
	NamespaceFindings  = "SecurityFindings"
	NamespaceWorker    = "FargateWorker"
	NamespaceExecution = "PolicyExecution"
	NamespaceScaler    = "ECS"

	DefaultNamespacePrefix = "CloudCustodian"
)

// Unit is a metric unit.
type Unit string

// Units used by the pipeline.
const (
	UnitCount   Unit = "Count"
	UnitSeconds Unit = "Seconds"
)

// Datum is one metric value.
type Datum struct {
	Timestamp  time.Time
	Dimensions map[string]string
	Name       string
	Unit       Unit
	Value      float64
}

// Publisher sends a batch of metrics to a namespace.
type Publisher interface {
	Publish(ctx context.Context, namespace string, data []Datum) error
}

// CloudWatchAPI is the subset of the CloudWatch client the publisher uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher publishes metrics with PutMetricData.
type CloudWatchPublisher struct {
	client CloudWatchAPI
}

// NewCloudWatchPublisher creates a CloudWatch publisher.
func NewCloudWatchPublisher(client CloudWatchAPI) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client}
}

// Publish implements Publisher.
func (p *CloudWatchPublisher) Publish(ctx context.Context, namespace string, data []Datum) error {
	if len(data) == 0 {
		return nil
	}
	metricData := make([]cwtypes.MetricDatum, 0, len(data))
	for _, d := range data {
		datum := cwtypes.MetricDatum{
			MetricName: aws.String(d.Name),
			Value:      aws.Float64(d.Value),
			Unit:       cwtypes.StandardUnit(d.Unit),
			Dimensions: dimensions(d.Dimensions),
		}
		if !d.Timestamp.IsZero() {
			datum.Timestamp = aws.Time(d.Timestamp)
		}
		metricData = append(metricData, datum)
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: metricData,
	})
	if err != nil {
		return fmt.Errorf("put metric data to %s: %w", namespace, err)
	}
	return nil
}

// dimensions converts a map to CloudWatch dimensions in name order.
func dimensions(m map[string]string) []cwtypes.Dimension {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	dims := make([]cwtypes.Dimension, 0, len(names))
	for _, name := range names {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(name), Value: aws.String(m[name])})
	}
	return dims
}

// Batch is one recorded Publish call.
type Batch struct {
	Namespace string
	Data      []Datum
}

// MemoryPublisher records batches in memory. Used by tests and dry runs.
type MemoryPublisher struct {
	Err     error
	batches []Batch
	mu      sync.Mutex
}

// Publish implements Publisher.
func (m *MemoryPublisher) Publish(_ context.Context, namespace string, data []Datum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.batches = append(m.batches, Batch{Namespace: namespace, Data: append([]Datum(nil), data...)})
	return nil
}

// Batches returns a copy of the recorded batches.
func (m *MemoryPublisher) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Batch(nil), m.batches...)
}

// Find returns every recorded datum with the given metric name.
func (m *MemoryPublisher) Find(name string) []Datum {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Datum
	for _, b := range m.batches {
		for _, d := range b.Data {
			if d.Name == name {
				found = append(found, d)
			}
		}
	}
	return found
}

package telemetry

import (
	"context"
	"time"

	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Recorder emits the pipeline's named metrics. Publish failures are logged and dropped.
type Recorder struct {
	publisher Publisher
	logger    logger.Logger
	prefix    string
}

// NewRecorder creates a recorder. A nil publisher disables metrics.
func NewRecorder(publisher Publisher, prefix string, log logger.Logger) *Recorder {
	if prefix == "" {
		prefix = DefaultNamespacePrefix
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Recorder{publisher: publisher, prefix: prefix, logger: log}
}

// Namespace joins the recorder's prefix and suffix.
func (r *Recorder) Namespace(suffix string) string {
	return r.prefix + "/" + suffix
}

func (r *Recorder) publish(ctx context.Context, suffix string, data []Datum) {
	if r == nil || r.publisher == nil {
		return
	}
	namespace := r.Namespace(suffix)
	if err := r.publisher.Publish(ctx, namespace, data); err != nil {
		r.logger.Warn("Failed to publish metrics", "namespace", namespace, "error", err)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// FindingDispatched records a finding queued with policyKey.
func (r *Recorder) FindingDispatched(ctx context.Context, f *models.Finding, policyKey string) {
	source := orUnknown(string(f.Source))
	resourceType := orUnknown(f.ResourceType)
	r.publish(ctx, NamespaceFindings, []Datum{
		{
			Name:  "FindingsReceived",
			Value: 1,
			Unit:  UnitCount,
			Dimensions: map[string]string{
				"Source":       source,
				"Severity":     orUnknown(string(f.Severity)),
				"ResourceType": resourceType,
			},
		},
		{
			Name:       "FindingsQueued",
			Value:      1,
			Unit:       UnitCount,
			Dimensions: map[string]string{"Source": source},
		},
		{
			Name:  "PolicySelected",
			Value: 1,
			Unit:  UnitCount,
			Dimensions: map[string]string{
				"PolicyKey":    policyKey,
				"ResourceType": resourceType,
			},
		},
	})
}

// WorkerBatch records one poll cycle's outcome.
func (r *Recorder) WorkerBatch(ctx context.Context, received, successes, failures int) {
	r.publish(ctx, NamespaceWorker, []Datum{
		{Name: "MessagesReceived", Value: float64(received), Unit: UnitCount},
		{Name: "ProcessingSuccesses", Value: float64(successes), Unit: UnitCount},
		{Name: "ProcessingFailures", Value: float64(failures), Unit: UnitCount},
	})
}

// Execution records one successful engine run.
func (r *Recorder) Execution(ctx context.Context, elapsed time.Duration, resources, actions int, resourceType string) {
	dims := map[string]string{"ResourceType": resourceType}
	r.publish(ctx, NamespaceExecution, []Datum{
		{Name: "ExecutionTime", Value: elapsed.Seconds(), Unit: UnitSeconds, Dimensions: dims},
		{Name: "ResourcesProcessed", Value: float64(resources), Unit: UnitCount, Dimensions: dims},
		{Name: "ActionsTaken", Value: float64(actions), Unit: UnitCount, Dimensions: dims},
	})
}

// ScalerTriggered records a scale-out to desired tasks.
func (r *Recorder) ScalerTriggered(ctx context.Context, desired int) {
	now := time.Now().UTC()
	r.publish(ctx, NamespaceScaler, []Datum{
		{Name: "ECSScalerTriggered", Value: 1, Unit: UnitCount, Timestamp: now},
		{Name: "ECSDesiredCount", Value: float64(desired), Unit: UnitCount, Timestamp: now},
	})
}

// ScalerError records a failed reconcile.
func (r *Recorder) ScalerError(ctx context.Context) {
	r.publish(ctx, NamespaceScaler, []Datum{
		{Name: "ECSScalerErrors", Value: 1, Unit: UnitCount, Timestamp: time.Now().UTC()},
	})
}

package dispatch

import (
	"context"
	"errors"
	"net/http"

	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/internal/normalizer"
	"github.com/joshsymonds/remediator/internal/router"
	"github.com/joshsymonds/remediator/internal/validator"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Outcome is the ingestion result for one raw event.
type Outcome struct {
	Validation   *validator.Result `json:"validation,omitempty"`
	MessageID    string            `json:"message_id,omitempty"`
	FindingID    string            `json:"finding_id,omitempty"`
	PolicyBucket string            `json:"policy_bucket,omitempty"`
	PolicyKey    string            `json:"policy_key,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Error        string            `json:"error,omitempty"`
	StatusCode   int               `json:"status_code"`
	Matched      bool              `json:"matched"`
	Skipped      bool              `json:"skipped"`
}

// Pipeline runs a raw event through normalization, validation, routing and dispatch.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	gate       *validator.Gate
	router     *router.Router
	dispatcher *Dispatcher
	logger     logger.Logger
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(n *normalizer.Normalizer, g *validator.Gate, r *router.Router, d *Dispatcher, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Pipeline{normalizer: n, gate: g, router: r, dispatcher: d, logger: log}
}

type requestIDKey struct{}

// WithRequestID attaches an invocation request id that Ingest records in the finding's enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Ingest processes one raw event. Input errors produce a 400 outcome and no error; only
// queue failures are returned as errors.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) (*Outcome, error) {
	f, err := p.normalizer.Normalize(raw)
	if err != nil {
		if errors.Is(err, models.ErrInvalidFinding) {
			p.logger.Warn("Rejected event", "error", err)
			return &Outcome{StatusCode: http.StatusBadRequest, Error: err.Error()}, nil
		}
		return nil, err
	}

	log := logger.WithFinding(p.logger, f.FindingID, f.ResourceType)
	if f.Enrichment != nil {
		if id, ok := ctx.Value(requestIDKey{}).(string); ok {
			f.Enrichment.RequestID = id
		}
		log = log.With("correlation_id", f.Enrichment.CorrelationID)
	}

	result := p.gate.Validate(ctx, f)
	if !result.Allow {
		log.Info("Remediation not required", "reason", result.Reason)
		return &Outcome{
			StatusCode: http.StatusOK,
			FindingID:  f.FindingID,
			Validation: &result,
			Skipped:    true,
		}, nil
	}

	policyKey, matched := p.router.Route(f)

	messageID, err := p.dispatcher.Enqueue(ctx, f, policyKey)
	if err != nil {
		log.Error("Failed to queue finding", "error", err)
		return &Outcome{
			StatusCode: http.StatusInternalServerError,
			FindingID:  f.FindingID,
			Error:      err.Error(),
		}, err
	}

	return &Outcome{
		StatusCode:   http.StatusOK,
		MessageID:    messageID,
		FindingID:    f.FindingID,
		PolicyBucket: p.dispatcher.PolicyBucket(),
		PolicyKey:    policyKey,
		Priority:     f.Severity.Priority(),
		Validation:   &result,
		Matched:      matched,
	}, nil
}

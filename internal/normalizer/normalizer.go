// Package normalizer converts source-specific security events into canonical Findings.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Event is the EventBridge envelope every detection source delivers.
type Event struct {
	Detail     json.RawMessage `json:"detail"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Account    string          `json:"account"`
	Region     string          `json:"region"`
	Time       string          `json:"time"`
}

// Extractor fills source-specific fields of a Finding from an event detail.
type Extractor interface {
	Extract(detail json.RawMessage, f *models.Finding) error
}

// extractors is the static source dispatch table. The audit-log sources share one strategy.
var extractors = map[models.Source]Extractor{
	models.SourceSecurityHub: securityHubExtractor{},
	models.SourceGuardDuty:   guardDutyExtractor{},
	models.SourceConfig:      configExtractor{},
	models.SourceMacie:       macieExtractor{},
	models.SourceCloudTrail:  auditLogExtractor{},
	models.SourceEC2:         auditLogExtractor{},
	models.SourceS3:          auditLogExtractor{},
	models.SourceIAM:         auditLogExtractor{},
}

// SupportedSources lists the source tags the normalizer understands.
func SupportedSources() []models.Source {
	sources := make([]models.Source, 0, len(extractors))
	for s := range extractors {
		sources = append(sources, s)
	}
	return sources
}

// Normalizer turns raw events into Findings.
type Normalizer struct {
	logger logger.Logger
	now    func() time.Time
	newID  func() string
	enrich bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// WithEnrichment toggles invoker-side enrichment.
func WithEnrichment(enabled bool) Option {
	return func(n *Normalizer) { n.enrich = enabled }
}

// WithClock overrides the time source used for enrichment timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer. Enrichment is on by default.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		logger: logger.GetGlobalLogger(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		enrich: true,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize parses raw and returns a valid Finding, or an *InvalidInputError.
// A Finding is never returned partially populated.
func (n *Normalizer) Normalize(raw []byte) (*models.Finding, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, invalidInput("", "event is not valid JSON", fmt.Errorf("%w: %v", models.ErrInvalidFinding, err))
	}

	source := models.Source(event.Source)
	extractor, ok := extractors[source]
	if !ok {
		return nil, invalidInput(event.Source, "unsupported source", nil)
	}

	f := &models.Finding{
		Source:     source,
		DetailType: event.DetailType,
		Account:    event.Account,
		Region:     event.Region,
		RawEvent:   json.RawMessage(raw),
	}

	if len(event.Detail) == 0 || string(event.Detail) == "null" {
		event.Detail = json.RawMessage("{}")
	}

	if err := extractor.Extract(event.Detail, f); err != nil {
		return nil, invalidInput(event.Source, "malformed detail", fmt.Errorf("%w: %v", models.ErrInvalidFinding, err))
	}

	if f.CreatedAt == "" {
		f.CreatedAt = event.Time
	}

	if err := f.Validate(); err != nil {
		n.logger.Warn("Rejected finding",
			"source", event.Source,
			"finding_id", f.FindingID,
			"resource_type", f.ResourceType)
		return nil, invalidInput(event.Source, "missing required fields", err)
	}

	if n.enrich {
		n.Enrich(f, "")
	}

	n.logger.Debug("Normalized finding",
		"finding_id", f.FindingID,
		"source", f.Source,
		"resource_type", f.ResourceType,
		"resource_id", f.ResourceID,
		"severity", f.Severity)

	return f, nil
}

// Enrich stamps the finding with an invoker timestamp and a fresh correlation id.
func (n *Normalizer) Enrich(f *models.Finding, requestID string) {
	f.Enrichment = &models.Enrichment{
		InvokerTimestamp: n.now().UTC(),
		CorrelationID:    n.newID(),
		RequestID:        requestID,
	}
}

// IsInvalidInput reports whether err is an input rejection.
func IsInvalidInput(err error) bool {
	var inputErr *InvalidInputError
	return errors.As(err, &inputErr)
}

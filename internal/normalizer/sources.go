package normalizer

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/joshsymonds/remediator/internal/models"
)

type securityHubExtractor struct{}

type securityHubFinding struct {
	ID          string   `json:"Id"`
	Title       string   `json:"Title"`
	Description string   `json:"Description"`
	CreatedAt   string   `json:"CreatedAt"`
	Types       []string `json:"Types"`
	Severity    struct {
		Label string `json:"Label"`
	} `json:"Severity"`
	Resources []struct {
		Type string `json:"Type"`
		ID   string `json:"Id"`
	} `json:"Resources"`
}

func (securityHubExtractor) Extract(detail json.RawMessage, f *models.Finding) error {
	var d struct {
		Findings []securityHubFinding `json:"findings"`
	}
	if err := json.Unmarshal(detail, &d); err != nil {
		return fmt.Errorf("security hub detail: %w", err)
	}
	if len(d.Findings) == 0 {
		return nil
	}

	sh := d.Findings[0]
	f.FindingID = sh.ID
	if len(sh.Types) > 0 {
		f.FindingType = sh.Types[0]
	}
	f.Severity = models.NormalizeSeverity(sh.Severity.Label)
	f.Title = sh.Title
	f.Description = sh.Description
	f.CreatedAt = sh.CreatedAt

	if len(sh.Resources) > 0 {
		f.ResourceType = securityHubResourceType(sh.Resources[0].Type)
		f.ResourceID = trailingSegment(sh.Resources[0].ID)
		f.ResourceARN = sh.Resources[0].ID
	}
	return nil
}

// securityHubResourceType reduces "AWS::S3::Bucket" to "S3" and "AwsEc2Instance" to "Ec2Instance".
func securityHubResourceType(t string) string {
	if strings.Contains(t, "::") {
		return strings.Split(t, "::")[1]
	}
	if strings.HasPrefix(t, "Aws") {
		return strings.Split(t[3:], "::")[0]
	}
	return ""
}

// trailingSegment reduces an ARN to the part after its last '/'. Non-ARN ids are returned unchanged.
func trailingSegment(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return id
	}
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}

type guardDutyExtractor struct{}

func (guardDutyExtractor) Extract(detail json.RawMessage, f *models.Finding) error {
	var d struct {
		Severity    *float64 `json:"severity"`
		ID          string   `json:"id"`
		Type        string   `json:"type"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		CreatedAt   string   `json:"createdAt"`
		Resource    struct {
			ResourceType     string           `json:"resourceType"`
			InstanceDetails  map[string]any   `json:"instanceDetails"`
			AccessKeyDetails map[string]any   `json:"accessKeyDetails"`
			S3BucketDetails  []map[string]any `json:"s3BucketDetails"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(detail, &d); err != nil {
		return fmt.Errorf("guardduty detail: %w", err)
	}

	score := 5.0
	if d.Severity != nil {
		score = *d.Severity
	}

	f.FindingID = d.ID
	f.FindingType = d.Type
	f.Severity = models.SeverityFromScore(score)
	f.Title = d.Title
	f.Description = d.Description
	f.ResourceType = d.Resource.ResourceType
	f.CreatedAt = d.CreatedAt

	switch {
	case len(d.Resource.InstanceDetails) > 0:
		f.ResourceID = stringField(d.Resource.InstanceDetails, "instanceId")
	case len(d.Resource.AccessKeyDetails) > 0:
		f.ResourceID = stringField(d.Resource.AccessKeyDetails, "accessKeyId")
	case len(d.Resource.S3BucketDetails) > 0:
		f.ResourceID = stringField(d.Resource.S3BucketDetails[0], "name")
	}
	return nil
}

type configExtractor struct{}

func (configExtractor) Extract(detail json.RawMessage, f *models.Finding) error {
	var d struct {
		ConfigRuleName            string `json:"configRuleName"`
		ConfigRuleID              string `json:"configRuleId"`
		ConfigRuleARN             string `json:"configRuleARN"`
		ResourceType              string `json:"resourceType"`
		ResourceID                string `json:"resourceId"`
		NotificationCreationTime  string `json:"notificationCreationTime"`
		ConfigRuleInvocationEvent struct {
			ConfigRuleID string `json:"configRuleId"`
		} `json:"configRuleInvocationEvent"`
		NewEvaluationResult struct {
			ComplianceType string `json:"complianceType"`
			Annotation     string `json:"annotation"`
		} `json:"newEvaluationResult"`
	}
	if err := json.Unmarshal(detail, &d); err != nil {
		return fmt.Errorf("config detail: %w", err)
	}

	f.FindingID = firstNonEmpty(d.ConfigRuleInvocationEvent.ConfigRuleID, d.ConfigRuleID, d.ConfigRuleARN)
	f.FindingType = d.ConfigRuleName
	f.Severity = models.SeverityLow
	if d.NewEvaluationResult.ComplianceType == "NON_COMPLIANT" {
		f.Severity = models.SeverityHigh
	}
	f.Title = "Config Rule: " + d.ConfigRuleName
	f.Description = d.NewEvaluationResult.Annotation
	f.ResourceType = configResourceType(d.ResourceType)
	f.ResourceID = d.ResourceID
	f.CreatedAt = d.NotificationCreationTime
	return nil
}

// configResourceType reduces "AWS::EC2::SecurityGroup" to "EC2".
func configResourceType(t string) string {
	if strings.Contains(t, "::") {
		return strings.Split(t, "::")[1]
	}
	return t
}

type macieExtractor struct{}

func (macieExtractor) Extract(detail json.RawMessage, f *models.Finding) error {
	var d struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		CreatedAt   string `json:"createdAt"`
		Severity    struct {
			Description string `json:"description"`
		} `json:"severity"`
		ClassificationDetails struct {
			Result struct {
				SensitiveData []struct {
					Category string `json:"category"`
				} `json:"sensitiveData"`
			} `json:"result"`
		} `json:"classificationDetails"`
		ResourcesAffected struct {
			S3Bucket struct {
				Name string `json:"name"`
			} `json:"s3Bucket"`
		} `json:"resourcesAffected"`
	}
	if err := json.Unmarshal(detail, &d); err != nil {
		return fmt.Errorf("macie detail: %w", err)
	}

	f.FindingID = d.ID
	if sensitive := d.ClassificationDetails.Result.SensitiveData; len(sensitive) > 0 {
		f.FindingType = sensitive[0].Category
	}
	f.Severity = models.NormalizeSeverity(d.Severity.Description)
	f.Title = d.Title
	f.Description = d.Description
	f.ResourceType = "S3"
	f.ResourceID = d.ResourcesAffected.S3Bucket.Name
	f.CreatedAt = d.CreatedAt
	return nil
}

type auditLogExtractor struct{}

type auditLogDetail struct {
	RequestParameters map[string]any `json:"requestParameters"`
	EventID           string         `json:"eventID"`
	EventName         string         `json:"eventName"`
	EventSource       string         `json:"eventSource"`
	EventTime         string         `json:"eventTime"`
	ResponseElements  struct {
		InstancesSet struct {
			Items []struct {
				InstanceID string `json:"instanceId"`
			} `json:"items"`
		} `json:"instancesSet"`
	} `json:"responseElements"`
	Resources []struct {
		ARN string `json:"ARN"`
	} `json:"resources"`
}

// bucketEvents are API calls whose target bucket is named in requestParameters.
var bucketEvents = map[string]bool{
	"CreateBucket":                  true,
	"PutBucketPolicy":               true,
	"PutBucketAcl":                  true,
	"DeleteBucketPolicy":            true,
	"PutBucketPublicAccessBlock":    true,
	"DeleteBucketPublicAccessBlock": true,
}

var auditLogResourceTypes = map[string]string{
	"iam":    "IAM",
	"ec2":    "EC2",
	"s3":     "S3",
	"rds":    "RDS",
	"lambda": "Lambda",
}

func (auditLogExtractor) Extract(detail json.RawMessage, f *models.Finding) error {
	var d auditLogDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return fmt.Errorf("audit log detail: %w", err)
	}

	f.FindingID = d.EventID
	if f.FindingID == "" {
		f.FindingID = d.EventName + "-" + detailHash(detail)
	}
	f.FindingType = d.EventName
	f.Severity = models.SeverityHigh
	f.Title = "High-risk API call: " + d.EventName
	f.Description = d.EventSource + " - " + d.EventName
	f.ResourceType = auditLogResourceType(d.EventSource)
	f.ResourceID = auditLogResourceID(&d)
	f.CreatedAt = d.EventTime
	return nil
}

func auditLogResourceType(eventSource string) string {
	service := strings.Split(eventSource, ".")[0]
	if t, ok := auditLogResourceTypes[service]; ok {
		return t
	}
	return "Unknown"
}

func auditLogResourceID(d *auditLogDetail) string {
	if d.EventName == "RunInstances" {
		if items := d.ResponseElements.InstancesSet.Items; len(items) > 0 {
			ids := make([]string, 0, len(items))
			for _, item := range items {
				if item.InstanceID != "" {
					ids = append(ids, item.InstanceID)
				}
			}
			return strings.Join(ids, ",")
		}
	}

	if bucketEvents[d.EventName] {
		if name := stringField(d.RequestParameters, "bucketName"); name != "" {
			return name
		}
		for _, r := range d.Resources {
			if strings.Contains(r.ARN, "arn:aws:s3:::") {
				name := strings.Split(strings.ReplaceAll(r.ARN, "arn:aws:s3:::", ""), "/")[0]
				if name != "" {
					return name
				}
			}
		}
	}

	if len(d.Resources) > 0 {
		arn := d.Resources[0].ARN
		if strings.Contains(arn, "/") {
			parts := strings.Split(arn, "/")
			return parts[len(parts)-1]
		}
		return arn
	}

	if id := stringField(d.RequestParameters, "instanceId"); id != "" {
		return id
	}
	return stringField(d.RequestParameters, "bucketName")
}

// detailHash gives events without an eventID a stable suffix.
func detailHash(detail json.RawMessage) string {
	h := fnv.New64a()
	_, _ = h.Write(detail)
	return fmt.Sprintf("%x", h.Sum64())
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

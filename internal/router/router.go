// Package router selects a remediation policy for a finding from an ordered rule table.
package router

import (
	"strings"

	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rule maps a set of finding predicates to a policy document. An empty predicate list matches anything.
type Rule struct {
	Name         string   `json:"name" yaml:"name"`
	PolicyFile   string   `json:"policy_file" yaml:"policy_file"`
	Source       []string `json:"source,omitempty" yaml:"source,omitempty"`
	ResourceType []string `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	EventName    []string `json:"event_name,omitempty" yaml:"event_name,omitempty"`
	FindingType  []string `json:"finding_type,omitempty" yaml:"finding_type,omitempty"`
}

// RuleTable is the policy mapping document. Rules are evaluated in order.
type RuleTable struct {
	DefaultPolicy string `json:"default_policy,omitempty" yaml:"default_policy,omitempty"`
	Mappings      []Rule `json:"mappings" yaml:"mappings"`
}

// criteria holds a finding's fields folded the way rules compare them.
type criteria struct {
	source       string
	resourceType string
	findingType  string
	eventName    string
}

// Casers keep internal state, so each call gets a fresh one.
func lower(s string) string { return cases.Lower(language.Und).String(s) }
func upper(s string) string { return cases.Upper(language.Und).String(s) }

func normalizeSource(s string) string {
	return strings.ReplaceAll(lower(s), "aws.", "")
}

func criteriaFor(f *models.Finding) criteria {
	return criteria{
		source:       normalizeSource(string(f.Source)),
		resourceType: upper(f.ResourceType),
		findingType:  lower(f.FindingType),
		eventName:    lower(f.EventName()),
	}
}

// Select returns the policy file of the first rule matching f.
func Select(f *models.Finding, table *RuleTable) (string, bool) {
	rule, ok := FirstMatch(f, table)
	if !ok {
		return "", false
	}
	return rule.PolicyFile, true
}

// FirstMatch returns the first rule matching f.
func FirstMatch(f *models.Finding, table *RuleTable) (*Rule, bool) {
	if table == nil {
		return nil, false
	}
	c := criteriaFor(f)
	for i := range table.Mappings {
		if table.Mappings[i].matches(c) {
			return &table.Mappings[i], true
		}
	}
	return nil, false
}

func (r *Rule) matches(c criteria) bool {
	return memberOf(c.source, r.Source, normalizeSource) &&
		memberOf(c.resourceType, r.ResourceType, upper) &&
		memberOf(c.eventName, r.EventName, lower) &&
		matchesAnyPattern(c.findingType, r.FindingType)
}

func memberOf(value string, group []string, fold func(string) string) bool {
	if len(group) == 0 {
		return true
	}
	for _, g := range group {
		if fold(g) == value {
			return true
		}
	}
	return false
}

func matchesAnyPattern(text string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchPattern(text, lower(p)) {
			return true
		}
	}
	return false
}

// MatchPattern matches text against a finding type pattern. "*" matches everything; a pattern
// containing '*' matches when the text contains the pattern with its asterisks removed, anywhere.
// Anything else must be equal.
func MatchPattern(text, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "*") {
		return strings.Contains(text, strings.ReplaceAll(pattern, "*", ""))
	}
	return text == pattern
}

// Router holds one immutable rule table snapshot and the fallback policy.
type Router struct {
	logger        logger.Logger
	table         RuleTable
	defaultPolicy string
}

// New creates a router over a copy of table. fallback is used when neither a rule nor the
// table's default_policy applies.
func New(table *RuleTable, fallback string, log logger.Logger) *Router {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	r := &Router{logger: log, defaultPolicy: fallback}
	if table != nil {
		r.table = RuleTable{
			DefaultPolicy: table.DefaultPolicy,
			Mappings:      append([]Rule(nil), table.Mappings...),
		}
	}
	return r
}

// Table returns the router's snapshot.
func (r *Router) Table() *RuleTable {
	return &r.table
}

// DefaultPolicy is the policy used when no rule matches.
func (r *Router) DefaultPolicy() string {
	if r.table.DefaultPolicy != "" {
		return r.table.DefaultPolicy
	}
	return r.defaultPolicy
}

// Route returns the policy key for f and whether a rule matched.
func (r *Router) Route(f *models.Finding) (string, bool) {
	rule, ok := FirstMatch(f, &r.table)
	if ok {
		r.logger.Info("Policy matched",
			"finding_id", f.FindingID,
			"rule", rule.Name,
			"policy", rule.PolicyFile)
		return rule.PolicyFile, true
	}

	policy := r.DefaultPolicy()
	r.logger.Warn("No policy matched, using default",
		"finding_id", f.FindingID,
		"source", f.Source,
		"resource_type", f.ResourceType,
		"finding_type", f.FindingType,
		"policy", policy)
	return policy, false
}

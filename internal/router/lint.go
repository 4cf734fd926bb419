package router

import "fmt"

// Problem is a rule table defect found by Lint.
type Problem struct {
	Rule    string
	Message string
	Index   int
}

func (p Problem) String() string {
	return fmt.Sprintf("rule %d (%s): %s", p.Index, p.Rule, p.Message)
}

// Lint reports rules that can never route anything useful.
func Lint(table *RuleTable) []Problem {
	var problems []Problem
	seen := map[string]int{}
	catchAll := -1

	for i, rule := range table.Mappings {
		name := rule.Name
		if name == "" {
			name = "unnamed"
		}
		if rule.PolicyFile == "" {
			problems = append(problems, Problem{Index: i, Rule: name, Message: "missing policy_file"})
		}
		if prev, ok := seen[rule.Name]; ok && rule.Name != "" {
			problems = append(problems, Problem{Index: i, Rule: name, Message: fmt.Sprintf("duplicate name, first used by rule %d", prev)})
		} else {
			seen[rule.Name] = i
		}
		if catchAll >= 0 {
			problems = append(problems, Problem{Index: i, Rule: name, Message: fmt.Sprintf("unreachable, rule %d matches everything", catchAll)})
		}
		if catchAll < 0 && rule.isCatchAll() {
			catchAll = i
		}
	}
	return problems
}

func (r *Rule) isCatchAll() bool {
	if len(r.Source) > 0 || len(r.ResourceType) > 0 || len(r.EventName) > 0 {
		return false
	}
	if len(r.FindingType) == 0 {
		return true
	}
	for _, p := range r.FindingType {
		if p == "*" {
			return true
		}
	}
	return false
}

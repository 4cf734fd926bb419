// Package rules implements the rules command for checking and exercising policy mapping tables.
package rules

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/remediator/internal/app"
	"github.com/joshsymonds/remediator/internal/normalizer"
	"github.com/joshsymonds/remediator/internal/router"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#808080"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00FF00")).
		Bold(true)

	problemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// NewCommand returns the rules command.
func NewCommand(opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the policy mapping table",
	}

	var rulesFile string

	check := &cobra.Command{
		Use:   "check",
		Short: "Lint the policy mapping table",
		Long: `Load the policy mapping table (from --file, or POLICY_BUCKET/POLICY_MAPPING_KEY)
and report rules without a policy, duplicate names, and rules shadowed by a catch-all.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, source, err := loadTable(cmd.Context(), opts, rulesFile)
			if err != nil {
				return err
			}
			problems := router.Lint(table)
			fmt.Fprintln(cmd.OutOrStdout(), Render(source, table, problems))
			if len(problems) > 0 {
				return fmt.Errorf("%d problem(s) found in %s", len(problems), source)
			}
			return nil
		},
	}

	route := &cobra.Command{
		Use:   "route <event-file>",
		Short: "Show which policy a detection event would be routed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0]) //nolint:gosec // Path is from trusted source (command line)
			if err != nil {
				return fmt.Errorf("reading event file: %w", err)
			}
			table, source, err := loadTable(cmd.Context(), opts, rulesFile)
			if err != nil {
				return err
			}
			out, err := Explain(table, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("rules: "+source))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	for _, c := range []*cobra.Command{check, route} {
		c.Flags().StringVar(&rulesFile, "file", "", "Local rule table (JSON or YAML) instead of the configured object")
	}
	cmd.AddCommand(check, route)
	return cmd
}

func loadTable(ctx context.Context, opts *app.Options, file string) (*router.RuleTable, string, error) {
	if file != "" {
		data, err := os.ReadFile(file) //nolint:gosec // Path is from trusted source (command line)
		if err != nil {
			return nil, "", fmt.Errorf("reading rule table: %w", err)
		}
		table, err := router.Parse(file, data)
		return table, file, err
	}

	a, err := app.Load(ctx, *opts, os.Getenv)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = a.Close() }()

	bucket, key := a.Config.Policy.Bucket, a.Config.Policy.MappingKey
	if bucket == "" {
		return nil, "", fmt.Errorf("POLICY_BUCKET is required without --file")
	}
	table, err := router.LoadStrict(ctx, a.Store(), bucket, key)
	if err != nil {
		return nil, "", fmt.Errorf("loading rule table: %w", err)
	}
	return table, fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// Render formats a rule table and its lint problems for the terminal.
func Render(source string, table *router.RuleTable, problems []router.Problem) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Policy mappings: " + source))
	b.WriteString("\n")

	for i, rule := range table.Mappings {
		name := rule.Name
		if name == "" {
			name = "unnamed"
		}
		line := fmt.Sprintf("%2d. %s → %s", i, name, rule.PolicyFile)
		b.WriteString(ruleStyle.Render(line))
		if preds := predicates(rule); preds != "" {
			b.WriteString(" " + mutedStyle.Render(preds))
		}
		b.WriteString("\n")
	}

	def := table.DefaultPolicy
	if def == "" {
		def = "(none, configured fallback applies)"
	}
	b.WriteString(labelStyle.Render("default_policy") + def + "\n")

	if len(problems) == 0 {
		b.WriteString(okStyle.Render("✓ No problems found"))
		return b.String()
	}

	lines := make([]string, 0, len(problems))
	for _, p := range problems {
		lines = append(lines, problemStyle.Render("⚠ "+p.String()))
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	return b.String()
}

func predicates(rule router.Rule) string {
	var parts []string
	add := func(label string, values []string) {
		if len(values) > 0 {
			parts = append(parts, label+"="+strings.Join(values, ","))
		}
	}
	add("source", rule.Source)
	add("resource_type", rule.ResourceType)
	add("event_name", rule.EventName)
	add("finding_type", rule.FindingType)
	return strings.Join(parts, " ")
}

// Explain normalizes raw and describes the rule it matches.
func Explain(table *router.RuleTable, raw []byte) (string, error) {
	f, err := normalizer.New(normalizer.WithEnrichment(false)).Normalize(raw)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("finding_id", f.FindingID)
	row("source", string(f.Source))
	row("resource_type", f.ResourceType)
	row("finding_type", f.FindingType)
	if name := f.EventName(); name != "" {
		row("event_name", name)
	}
	row("severity", fmt.Sprintf("%s (priority %s)", f.Severity, f.Severity.Priority()))

	if rule, ok := router.FirstMatch(f, table); ok {
		row("matched rule", rule.Name)
		row("policy", rule.PolicyFile)
	} else {
		row("matched rule", mutedStyle.Render("none"))
		row("policy", table.DefaultPolicy+" (default)")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

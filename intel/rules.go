package intel

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/brain/memerr"
)

// RuleScope names which analysis a rule evaluates against.
type RuleScope string

const (
	// ScopeHotspot rules see one file hotspot at a time.
	ScopeHotspot RuleScope = "hotspot"

	// ScopeVelocity rules see the velocity report once per pass.
	ScopeVelocity RuleScope = "velocity"
)

// IsValid returns true if the RuleScope is one of the defined constants.
func (s RuleScope) IsValid() bool {
	return s == ScopeHotspot || s == ScopeVelocity
}

// Rule is one insight rule: a CEL condition over analysis variables plus
// the insight it emits when the condition holds.
//
// Hotspot rules may reference: path (string), churn (double),
// commits (int), edits (int), stability (string).
// Velocity rules may reference: trend (string), delta_ratio (double),
// first_half (int), second_half (int), total_commits (int).
type Rule struct {
	Name     string      `yaml:"name"`
	Scope    RuleScope   `yaml:"scope"`
	Kind     InsightKind `yaml:"kind"`
	Severity Severity    `yaml:"severity"`
	When     string      `yaml:"when"`
	Message  string      `yaml:"message"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet is a compiled set of insight rules.
type RuleSet struct {
	hotspot  []compiledRule
	velocity []compiledRule
}

// ruleFile is the YAML document shape for LoadRules.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// defaultRulesYAML is the built-in rule set, in the same format LoadRules
// accepts, so a deployment can start from it and override.
const defaultRulesYAML = `
rules:
  - name: hotspot-unstable
    scope: hotspot
    kind: file_hotspot
    severity: warning
    when: 'stability == "unstable"'
    message: "{path} is a hotspot: {churn} edited lines per commit over {commits} commits"
  - name: hotspot-extreme
    scope: hotspot
    kind: file_hotspot
    severity: error
    when: 'stability == "unstable" && churn >= 400.0'
    message: "{path} is rewritten nearly wholesale each touch ({churn} lines per commit)"
  - name: velocity-drop
    scope: velocity
    kind: velocity_drop
    severity: warning
    when: 'trend == "decreasing"'
    message: "commit velocity fell from {first_half} to {second_half} across the window"
  - name: velocity-rise
    scope: velocity
    kind: velocity_rise
    severity: info
    when: 'trend == "increasing"'
    message: "commit velocity rose from {first_half} to {second_half} across the window"
  - name: low-activity
    scope: velocity
    kind: low_activity
    severity: warning
    when: 'total_commits == 0'
    message: "no commits recorded in the window"
`

// DefaultRules compiles the built-in rule set.
func DefaultRules() (*RuleSet, error) {
	return LoadRules(strings.NewReader(defaultRulesYAML))
}

// LoadRules reads a YAML rule document and compiles every rule.
// A rule that does not compile, or whose condition is not boolean, fails
// the whole load; a half-working rule set silently skipping rules would be
// worse than an error at startup.
func LoadRules(r io.Reader) (*RuleSet, error) {
	const op = "intel.LoadRules"

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, memerr.NewValidationError(op, fmt.Errorf("parse rules: %w", err))
	}
	if len(doc.Rules) == 0 {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: rule document holds no rules", memerr.ErrInvalidInput))
	}

	hotspotEnv, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("churn", cel.DoubleType),
		cel.Variable("commits", cel.IntType),
		cel.Variable("edits", cel.IntType),
		cel.Variable("stability", cel.StringType),
	)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	velocityEnv, err := cel.NewEnv(
		cel.Variable("trend", cel.StringType),
		cel.Variable("delta_ratio", cel.DoubleType),
		cel.Variable("first_half", cel.IntType),
		cel.Variable("second_half", cel.IntType),
		cel.Variable("total_commits", cel.IntType),
	)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	rs := &RuleSet{}
	for i, rule := range doc.Rules {
		if rule.Name == "" || rule.When == "" || rule.Message == "" {
			return nil, memerr.NewValidationError(op,
				fmt.Errorf("%w: rule %d needs name, when, and message", memerr.ErrInvalidInput, i))
		}
		if !rule.Scope.IsValid() {
			return nil, memerr.NewValidationError(op,
				fmt.Errorf("%w: rule %q has unknown scope %q", memerr.ErrInvalidInput, rule.Name, rule.Scope))
		}
		if !rule.Kind.IsValid() {
			return nil, memerr.NewValidationError(op,
				fmt.Errorf("%w: rule %q has unknown kind %q", memerr.ErrInvalidInput, rule.Name, rule.Kind))
		}
		if err := rule.Severity.Validate(); err != nil {
			return nil, memerr.NewValidationError(op, fmt.Errorf("rule %q: %w", rule.Name, err))
		}

		env := hotspotEnv
		if rule.Scope == ScopeVelocity {
			env = velocityEnv
		}
		ast, iss := env.Compile(rule.When)
		if iss != nil && iss.Err() != nil {
			return nil, memerr.NewValidationError(op,
				fmt.Errorf("rule %q: compile condition: %w", rule.Name, iss.Err()))
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, memerr.NewValidationError(op,
				fmt.Errorf("%w: rule %q condition must be boolean, got %s",
					memerr.ErrInvalidInput, rule.Name, ast.OutputType()))
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, memerr.NewInternalError(op,
				fmt.Errorf("rule %q: build program: %w", rule.Name, err))
		}

		compiled := compiledRule{Rule: rule, prg: prg}
		if rule.Scope == ScopeHotspot {
			rs.hotspot = append(rs.hotspot, compiled)
		} else {
			rs.velocity = append(rs.velocity, compiled)
		}
	}
	return rs, nil
}

// eval runs one compiled rule against its activation.
func (r *compiledRule) eval(vars map[string]any) (bool, error) {
	out, _, err := r.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T, want bool", r.Name, out.Value())
	}
	return matched, nil
}

// render substitutes {var} placeholders in the rule message.
func (r *compiledRule) render(vars map[string]any) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		val := fmt.Sprintf("%v", v)
		if f, ok := v.(float64); ok {
			val = fmt.Sprintf("%.1f", f)
		}
		pairs = append(pairs, "{"+k+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(r.Message)
}

// sortInsights orders by severity descending, then kind, then path, so
// output is stable across passes.
func sortInsights(insights []Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Path < b.Path
	})
}

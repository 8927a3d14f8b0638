package conflicts

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
)

// Rule is one row of the auto-resolution table.
type Rule struct {
	Type       Type   `yaml:"type" json:"type"`
	Action     Action `yaml:"action" json:"action"`
	Confidence int    `yaml:"confidence" json:"confidence"`
	Reason     string `yaml:"reason" json:"reason"`

	// Severities restricts the rule to conflicts of these severities.
	// Empty means any severity.
	Severities []Severity `yaml:"severities,omitempty" json:"severities,omitempty"`

	// Predicate is an extra condition for rules built in code.
	Predicate func(*Conflict) bool `yaml:"-" json:"-"`
}

// Applies reports whether the rule's type and conditions hold for c.
func (r Rule) Applies(c *Conflict) bool {
	if r.Type != c.Type {
		return false
	}
	if len(r.Severities) > 0 && !slices.Contains(r.Severities, c.Severity) {
		return false
	}
	if r.Predicate != nil && !r.Predicate(c) {
		return false
	}
	return true
}

func (r Rule) validate(i int) error {
	field := func(name string) string { return fmt.Sprintf("rules[%d].%s", i, name) }
	if !r.Type.IsValid() {
		return errors.NewValidationError(field("type"), r.Type, "unknown conflict type")
	}
	if !r.Action.IsValid() || r.Action == ActionIgnored || r.Action == ActionManual {
		return errors.NewValidationError(field("action"), r.Action, "must be MERGED, KEPT_EXISTING or USED_NEW")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return errors.NewValidationError(field("confidence"), r.Confidence, "must be between 0 and 100")
	}
	for _, s := range r.Severities {
		if !s.IsValid() {
			return errors.NewValidationError(field("severities"), s, "unknown severity")
		}
	}
	return nil
}

// RuleSet is an ordered rule table plus the confidence a rule needs to fire.
type RuleSet struct {
	MinConfidence int    `yaml:"min_confidence" json:"min_confidence"`
	Rules         []Rule `yaml:"rules" json:"rules"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() RuleSet {
	return RuleSet{
		MinConfidence: constants.MinAutoResolveConfidence,
		Rules: []Rule{
			{
				Type:       TypeMissingData,
				Action:     ActionKeptExisting,
				Confidence: 80,
				Reason:     "incoming data incomplete",
				Severities: []Severity{SeverityLow, SeverityMedium, SeverityHigh},
			},
			{
				Type:       TypeClassConflict,
				Action:     ActionUsedNew,
				Confidence: 70,
				Reason:     "prefer most recent sync",
			},
			{
				Type:       TypePlatformMismatch,
				Action:     ActionMerged,
				Confidence: 90,
				Reason:     "same person across platforms",
				Severities: []Severity{SeverityLow},
			},
		},
	}
}

// Match returns the rule that auto-resolves c. The first rule that applies
// decides; it fires only if c is not critical and the rule's confidence
// reaches MinConfidence.
func (rs RuleSet) Match(c *Conflict) (Rule, bool) {
	if c.Severity == SeverityCritical {
		return Rule{}, false
	}
	for _, r := range rs.Rules {
		if !r.Applies(c) {
			continue
		}
		return r, r.Confidence >= rs.MinConfidence
	}
	return Rule{}, false
}

// Validate checks every rule.
func (rs RuleSet) Validate() error {
	if rs.MinConfidence < 0 || rs.MinConfidence > 100 {
		return errors.NewValidationError("min_confidence", rs.MinConfidence, "must be between 0 and 100")
	}
	for i, r := range rs.Rules {
		if err := r.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// ParseRules parses a YAML rule table. A missing min_confidence keeps the
// default threshold.
func ParseRules(data []byte) (RuleSet, error) {
	rs := RuleSet{MinConfidence: constants.MinAutoResolveConfidence}
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, errors.WrapParse("yaml", "", err)
	}
	if len(rs.Rules) == 0 {
		return RuleSet{}, errors.NewValidationError("rules", nil, "at least one rule is required")
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return RuleSet{}, fmt.Errorf("reading rules file: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return RuleSet{}, err
	}
	return rs, nil
}

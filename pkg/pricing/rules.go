package pricing

import (
	"fmt"
	"os"

	"github.com/peycheff/crewledger/pkg/canon"
	"gopkg.in/yaml.v3"
)

// Modifier is a conditional multiplier applied, in declared YAML order,
// to a rate or category base. Condition is a CEL expression evaluated
// against the task/expense record (`qty`, `amount`, `rate_code`,
// `category` are bound as CEL variables).
type Modifier struct {
	Key        string   `yaml:"key"`
	AppliesTo  []string `yaml:"applies_to"`
	When       string   `yaml:"when"`
	Multiplier string   `yaml:"multiplier"`
}

// CategoryRule defines an expense category's base amount policy.
type CategoryRule struct {
	Base string `yaml:"base"`
}

// RulesDoc is the on-disk shape of rules/global.yaml.
type RulesDoc struct {
	Version    int                     `yaml:"version"`
	Rates      map[string]string       `yaml:"rates"`
	Piece      map[string]string       `yaml:"piece"`
	Categories map[string]CategoryRule `yaml:"categories"`
	Modifiers  []Modifier              `yaml:"modifiers"`
}

// Rules is the loaded, validated, and hash-pinned in-memory form of the
// pricing rules file. Rules is immutable once constructed; reloads
// build a brand new Rules and publish it via an atomic pointer so
// concurrent readers never observe a torn config.
type Rules struct {
	doc      RulesDoc
	rulesSHA string // first 12 hex chars of sha256(file bytes)
}

// LoadRules reads and parses the YAML rules file at path, computing
// its rules SHA from the raw file bytes (not the parsed form): rules
// SHA always reflects the currently loaded file content, never a
// cached value from a prior load.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read rules file: %w", err)
	}
	var doc RulesDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("pricing: parse rules file: %w", err)
	}
	return &Rules{
		doc:      doc,
		rulesSHA: canon.Short12(canon.SHA256HexBytes(raw)),
	}, nil
}

// RulesSHA returns the pinned rules SHA for this loaded Rules value.
func (r *Rules) RulesSHA() string { return r.rulesSHA }

// RulesVersion returns the declared rules_version integer.
func (r *Rules) RulesVersion() int { return r.doc.Version }

// Package pricing implements CrewLedger's deterministic, rule-pinned
// pricing engine. Rules are loaded from YAML and held
// behind an atomic pointer (see Store); the engine itself is a pure
// function of (Rules, request) so that repeated evaluation against
// the same loaded rules is byte-identical.
package pricing

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/peycheff/crewledger/pkg/canon"
	"github.com/peycheff/crewledger/pkg/money"
)

// ErrUnknownRateCode/ErrUnknownCategory surface as domain errors (422),
// never as a silently zeroed amount
var (
	ErrUnknownRateCode = errors.New("pricing: unknown rate_code")
	ErrUnknownCategory = errors.New("pricing: unknown category")
	ErrInvalidModifier = errors.New("pricing: invalid modifier expression")
)

// Step is one ordered entry in the priced explanation: base, then each
// applicable modifier in declared YAML order, then the final rounding
// step.
type Step struct {
	Step    int          `json:"step"`
	YAMLKey string       `json:"yaml_key"`
	Value   money.Amount `json:"value"`
	Note    string       `json:"note"`
}

// Result is the full priced explanation returned for a task or expense.
type Result struct {
	Steps        []Step       `json:"steps"`
	Total        money.Amount `json:"total"`
	RulesVersion int          `json:"rules_version"`
	RulesSHA     string       `json:"rules_sha"`
	PricingSHA   string       `json:"pricing_sha"`
}

// canonResult is the shape hashed to produce PricingSHA: steps + total
// + rules_sha's exact field list for pricing_sha.
type canonResult struct {
	Steps    []Step `json:"steps"`
	Total    string `json:"total"`
	RulesSHA string `json:"rules_sha"`
}

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("qty", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("rate_code", cel.StringType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("pricing: cel env init: %v", err))
	}
	celEnv = env
}

// PriceTask evaluates a task's (rate_code, qty) against the given
// rules and returns the ordered explanation.
func PriceTask(r *Rules, rateCode string, qty money.Amount) (Result, error) {
	rateStr, ok := r.doc.Rates[rateCode]
	if !ok {
		rateStr, ok = r.doc.Piece[rateCode]
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRateCode, rateCode)
	}
	rate, err := money.Parse(rateStr)
	if err != nil {
		return Result{}, fmt.Errorf("pricing: rate %s: %w", rateCode, err)
	}

	base := rate.Mul(qty)
	qtyFloat, _ := toFloat(qty.Decimal())

	return priceCommon(r, rateCode, base, map[string]any{
		"qty":       qtyFloat,
		"amount":    0.0,
		"rate_code": rateCode,
		"category":  "",
	}, "base_rate")
}

// PriceExpense evaluates an expense's (category, amount) against the
// given rules.
func PriceExpense(r *Rules, category string, amount money.Amount) (Result, error) {
	_, ok := r.doc.Categories[category]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	amtFloat, _ := toFloat(amount.Decimal())

	return priceCommon(r, category, amount, map[string]any{
		"qty":       0.0,
		"amount":    amtFloat,
		"rate_code": "",
		"category":  category,
	}, "base_amount")
}

func priceCommon(r *Rules, key string, base money.Amount, vars map[string]any, baseNote string) (Result, error) {
	steps := []Step{{Step: 1, YAMLKey: key, Value: base, Note: baseNote}}
	running := base

	n := 2
	for _, m := range r.doc.Modifiers {
		if !contains(m.AppliesTo, key) {
			continue
		}
		applies, err := evalModifierCondition(m.When, vars)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrInvalidModifier, m.Key, err)
		}
		if !applies {
			continue
		}
		mult, err := money.Parse(m.Multiplier)
		if err != nil {
			return Result{}, fmt.Errorf("pricing: modifier %s multiplier: %w", m.Key, err)
		}
		adjusted := running.Mul(mult)
		delta := adjusted.Sub(running)
		steps = append(steps, Step{Step: n, YAMLKey: m.Key, Value: delta, Note: "modifier"})
		running = adjusted
		n++
	}

	steps = append(steps, Step{Step: n, YAMLKey: "rounding", Value: money.Zero(), Note: "rounding"})

	result := Result{
		Steps:        steps,
		Total:        running,
		RulesVersion: r.doc.Version,
		RulesSHA:     r.rulesSHA,
	}

	sha, err := canon.SHA256Hex(canonResult{Steps: steps, Total: running.Decimal(), RulesSHA: r.rulesSHA})
	if err != nil {
		return Result{}, fmt.Errorf("pricing: hash result: %w", err)
	}
	result.PricingSHA = canon.Short12(sha)
	return result, nil
}

func evalModifierCondition(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return false, nil
	}
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to bool", expr)
	}
	return b, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// toFloat is used only to bind CEL condition variables (a control-flow
// gate, never a monetary computation); all money arithmetic itself
// stays in pkg/money's exact decimal domain.
func toFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

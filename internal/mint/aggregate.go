package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/roach88/anchor/internal/canon"
)

// RuleKind selects how per-document values are combined.
type RuleKind string

const (
	RuleSum  RuleKind = "sum"
	RuleMode RuleKind = "mode" // most common value
	RuleMin  RuleKind = "min"
	RuleMax  RuleKind = "max"
)

// Rule turns contributing documents into one amount. Expr is evaluated
// against each document's credential subject. Plain field names and
// JSONPath expressions ($.a.b) are both accepted.
type Rule struct {
	Kind RuleKind `json:"kind" yaml:"kind"`
	Expr string   `json:"expr" yaml:"expr"`
}

// ErrInvalidAmount is returned when a rule yields a value that cannot be minted.
var ErrInvalidAmount = errors.New("invalid token amount")

var ruleLanguage = gval.Full(jsonpath.Language())

// Aggregate evaluates rule over docs.
func Aggregate(ctx context.Context, rule Rule, docs []map[string]any) (float64, error) {
	if rule.Expr == "" {
		return 0, errors.New("aggregate: rule has no expression")
	}
	eval, err := ruleLanguage.NewEvaluable(rule.Expr)
	if err != nil {
		return 0, fmt.Errorf("parse rule %q: %w", rule.Expr, err)
	}

	values := make([]float64, 0, len(docs))
	for i, doc := range docs {
		scope, err := subjectScope(doc)
		if err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
		v, err := eval(ctx, scope)
		if err != nil {
			return 0, fmt.Errorf("evaluate rule on document %d: %w", i, err)
		}
		f, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("evaluate rule on document %d: %w", i, err)
		}
		values = append(values, f)
	}

	amount, err := combine(rule.Kind, values)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return amount, nil
}

func combine(kind RuleKind, values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	switch kind {
	case RuleSum, "":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case RuleMin:
		out := values[0]
		for _, v := range values[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	case RuleMax:
		out := values[0]
		for _, v := range values[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	case RuleMode:
		// Ties go to the value that reached the winning count first.
		counts := make(map[float64]int, len(values))
		best, bestCount := values[0], 0
		for _, v := range values {
			counts[v]++
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		return best, nil
	}
	return 0, fmt.Errorf("unknown aggregation rule %q", kind)
}

// subjectScope returns the credential subject of doc with numbers decoded
// as float64 so rule arithmetic works on them directly.
func subjectScope(doc map[string]any) (map[string]any, error) {
	subject := doc
	switch cs := doc["credentialSubject"].(type) {
	case map[string]any:
		subject = cs
	case []any:
		if len(cs) == 0 {
			return nil, errors.New("empty credential subject")
		}
		m, ok := cs[0].(map[string]any)
		if !ok {
			return nil, errors.New("credential subject is not an object")
		}
		subject = m
	}
	raw, err := canon.MarshalCanonical(subject)
	if err != nil {
		return nil, err
	}
	var scope map[string]any
	if err := json.Unmarshal(raw, &scope); err != nil {
		return nil, err
	}
	return scope, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	case []any:
		if len(n) == 1 {
			return toFloat(n[0])
		}
	}
	return 0, fmt.Errorf("rule result %v (%T) is not a number", v, v)
}

// TokenAmount converts a display amount into the token's smallest units,
// rounding half away from zero. It also returns the display form with
// exactly decimals digits.
func TokenAmount(decimals int, amount float64) (int64, string) {
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow10(decimals)
	units := int64(math.Round(amount * scale))
	return units, strconv.FormatFloat(float64(units)/scale, 'f', decimals, 64)
}

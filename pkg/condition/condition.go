package condition

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the variants of a condition tree node.
type Kind string

const (
	KindCompare Kind = "compare"
	KindIn      Kind = "in"
	KindWindow  Kind = "window"
	KindAnd     Kind = "and"
	KindOr      Kind = "or"
	KindNot     Kind = "not"
)

// Comparison operators for numeric snapshot fields.
const (
	OpGTE   = ">="
	OpLTE   = "<="
	OpEQ    = "="
	OpRange = "range"
)

// FactSource is the read-only view a condition evaluates against. A clinical
// snapshot implements it; evaluation never mutates the source.
type FactSource interface {
	// NumericField returns a numeric snapshot field by name.
	NumericField(name string) (float64, bool)
	// CategoricalField returns the values a categorical field holds
	// (e.g. every diagnosis category present on the snapshot).
	CategoricalField(name string) ([]string, bool)
	// EventTimes returns the occurrence times of a dated fact, optionally
	// narrowed to a category.
	EventTimes(fact, category string) []time.Time
}

// Condition is a composable boolean expression over a clinical snapshot.
// It is a tagged variant: Kind selects which fields are meaningful.
type Condition struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// compare
	Field    string  `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string  `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Upper    float64 `json:"upper,omitempty" yaml:"upper,omitempty"` // range upper bound

	// in
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`

	// window
	Fact       string `json:"fact,omitempty" yaml:"fact,omitempty"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	WindowDays int    `json:"window_days,omitempty" yaml:"window_days,omitempty"`
	MinCount   int    `json:"min_count,omitempty" yaml:"min_count,omitempty"`

	// and / or
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// not
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Numeric snapshot fields a compare node may reference.
var numericFields = map[string]bool{
	"age":                      true,
	"visit_count":              true,
	"recent_visit_count":       true,
	"allergy_count":            true,
	"severe_allergy_count":     true,
	"vaccination_count":        true,
	"diagnosis_count":          true,
	"active_diagnosis_count":   true,
	"lab_abnormal_ratio":       true,
	"months_since_vaccination": true,
}

// Categorical snapshot fields an in node may reference.
var categoricalFields = map[string]bool{
	"blood_type":         true,
	"diagnosis_category": true,
	"allergy_severity":   true,
}

// Dated facts a window node may count.
var windowFacts = map[string]bool{
	"visit":        true,
	"diagnosis":    true,
	"allergy":      true,
	"vaccination":  true,
	"abnormal_lab": true,
}

const maxDepth = 16

// Validate statically checks the tree. It runs at pattern-save time so a
// malformed condition never reaches evaluation.
func (c Condition) Validate() error {
	return c.validate(0)
}

func (c Condition) validate(depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("condition tree exceeds maximum depth %d", maxDepth)
	}
	switch c.Kind {
	case KindCompare:
		if !numericFields[c.Field] {
			return fmt.Errorf("unknown numeric field %q", c.Field)
		}
		switch c.Operator {
		case OpGTE, OpLTE, OpEQ:
		case OpRange:
			if c.Upper < c.Value {
				return fmt.Errorf("range upper bound %.2f below lower bound %.2f", c.Upper, c.Value)
			}
		default:
			return fmt.Errorf("unknown operator %q", c.Operator)
		}
	case KindIn:
		if !categoricalFields[c.Field] {
			return fmt.Errorf("unknown categorical field %q", c.Field)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("in condition on %q requires at least one value", c.Field)
		}
	case KindWindow:
		if !windowFacts[c.Fact] {
			return fmt.Errorf("unknown windowed fact %q", c.Fact)
		}
		if c.WindowDays <= 0 {
			return fmt.Errorf("window_days must be positive, got %d", c.WindowDays)
		}
		if c.MinCount <= 0 {
			return fmt.Errorf("min_count must be positive, got %d", c.MinCount)
		}
	case KindAnd, KindOr:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s condition requires at least one child", c.Kind)
		}
		for i, child := range c.Conditions {
			if err := child.validate(depth + 1); err != nil {
				return fmt.Errorf("%s[%d]: %w", c.Kind, i, err)
			}
		}
	case KindNot:
		if c.Condition == nil {
			return fmt.Errorf("not condition requires a child")
		}
		if err := c.Condition.validate(depth + 1); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Evaluate applies the condition to a snapshot as of the given time. It is
// pure: the same source and asOf always yield the same answer.
func (c Condition) Evaluate(src FactSource, asOf time.Time) (bool, error) {
	switch c.Kind {
	case KindCompare:
		value, ok := src.NumericField(c.Field)
		if !ok {
			return false, fmt.Errorf("snapshot has no numeric field %q", c.Field)
		}
		switch c.Operator {
		case OpGTE:
			return value >= c.Value, nil
		case OpLTE:
			return value <= c.Value, nil
		case OpEQ:
			return value == c.Value, nil
		case OpRange:
			return value >= c.Value && value <= c.Upper, nil
		default:
			return false, fmt.Errorf("unknown operator %q", c.Operator)
		}
	case KindIn:
		present, ok := src.CategoricalField(c.Field)
		if !ok {
			return false, fmt.Errorf("snapshot has no categorical field %q", c.Field)
		}
		for _, have := range present {
			for _, want := range c.Values {
				if have == want {
					return true, nil
				}
			}
		}
		return false, nil
	case KindWindow:
		cutoff := asOf.AddDate(0, 0, -c.WindowDays)
		count := 0
		for _, ts := range src.EventTimes(c.Fact, c.Category) {
			if !ts.Before(cutoff) && !ts.After(asOf) {
				count++
			}
		}
		return count >= c.MinCount, nil
	case KindAnd:
		for _, child := range c.Conditions {
			ok, err := child.Evaluate(src, asOf)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindOr:
		for _, child := range c.Conditions {
			ok, err := child.Evaluate(src, asOf)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		if c.Condition == nil {
			return false, fmt.Errorf("not condition has no child")
		}
		ok, err := c.Condition.Evaluate(src, asOf)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// Parse decodes and validates a serialized condition tree.
func Parse(raw []byte) (Condition, error) {
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return Condition{}, fmt.Errorf("decode condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// Helpers for building trees programmatically (seed patterns, tests).

func Compare(field, operator string, value float64) Condition {
	return Condition{Kind: KindCompare, Field: field, Operator: operator, Value: value}
}

func Between(field string, lower, upper float64) Condition {
	return Condition{Kind: KindCompare, Field: field, Operator: OpRange, Value: lower, Upper: upper}
}

func In(field string, values ...string) Condition {
	return Condition{Kind: KindIn, Field: field, Values: values}
}

func WithinDays(fact, category string, windowDays, minCount int) Condition {
	return Condition{Kind: KindWindow, Fact: fact, Category: category, WindowDays: windowDays, MinCount: minCount}
}

func And(children ...Condition) Condition {
	return Condition{Kind: KindAnd, Conditions: children}
}

func Or(children ...Condition) Condition {
	return Condition{Kind: KindOr, Conditions: children}
}

func Not(child Condition) Condition {
	return Condition{Kind: KindNot, Condition: &child}
}

// Package condition models a user-defined price alert and decides whether a quote satisfies it.
package condition

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the comparison a condition performs.
type Kind string

const (
	PriceAbove Kind = "PRICE_ABOVE"
	PriceBelow Kind = "PRICE_BELOW"
	// PineCondition carries a script expression instead of a threshold. It is stored but not evaluated.
	PineCondition Kind = "PINE_CONDITION"
)

// IsThreshold reports whether the kind compares against a numeric threshold.
func (k Kind) IsThreshold() bool {
	return k == PriceAbove || k == PriceBelow
}

// TriggerMode controls what happens after a condition fires.
type TriggerMode string

const (
	Once      TriggerMode = "ONCE"
	Recurring TriggerMode = "RECURRING"
)

// ErrUnsupportedKind is returned by Satisfied for kinds the evaluator cannot run.
var ErrUnsupportedKind = errors.New("unsupported condition kind")

// Condition is one row of the alerts table.
type Condition struct {
	ID         string
	UserID     string
	Symbol     string
	Kind       Kind
	Threshold  decimal.NullDecimal
	Expression string
	Timeframe  string
	WebhookURL string
	Mode       TriggerMode
	Active     bool

	LastTriggered *time.Time
}

// Validate checks the invariants the store does not enforce: exactly one of threshold and
// expression per kind, a symbol, and an http(s) notification target.
func (c *Condition) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("condition id cannot be empty")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("condition %s: symbol cannot be empty", c.ID)
	}

	switch {
	case c.Kind.IsThreshold():
		if !c.Threshold.Valid {
			return fmt.Errorf("condition %s: %s requires a threshold", c.ID, c.Kind)
		}
		if c.Expression != "" {
			return fmt.Errorf("condition %s: %s must not carry an expression", c.ID, c.Kind)
		}
	case c.Kind == PineCondition:
		if c.Expression == "" {
			return fmt.Errorf("condition %s: %s requires an expression", c.ID, c.Kind)
		}
		if c.Threshold.Valid {
			return fmt.Errorf("condition %s: %s must not carry a threshold", c.ID, c.Kind)
		}
	default:
		return fmt.Errorf("condition %s: %w %q", c.ID, ErrUnsupportedKind, c.Kind)
	}

	switch c.Mode {
	case Once, Recurring, "":
	default:
		return fmt.Errorf("condition %s: unknown trigger mode %q", c.ID, c.Mode)
	}

	u, err := url.Parse(c.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("condition %s: webhook url %q is not an absolute http(s) url", c.ID, c.WebhookURL)
	}
	return nil
}

// EffectiveMode returns the trigger mode, treating an empty mode as Once.
func (c *Condition) EffectiveMode() TriggerMode {
	if c.Mode == "" {
		return Once
	}
	return c.Mode
}

// Satisfied compares bid against the threshold. Both comparisons include the boundary.
func (c *Condition) Satisfied(bid decimal.Decimal) (bool, error) {
	switch c.Kind {
	case PriceAbove:
		if !c.Threshold.Valid {
			return false, fmt.Errorf("condition %s has no threshold", c.ID)
		}
		return bid.GreaterThanOrEqual(c.Threshold.Decimal), nil
	case PriceBelow:
		if !c.Threshold.Valid {
			return false, fmt.Errorf("condition %s has no threshold", c.ID)
		}
		return bid.LessThanOrEqual(c.Threshold.Decimal), nil
	default:
		return false, fmt.Errorf("%w %q", ErrUnsupportedKind, c.Kind)
	}
}

// ThresholdString is the threshold as sent in notifications, or nil for expression kinds.
func (c *Condition) ThresholdString() *string {
	if !c.Threshold.Valid {
		return nil
	}
	s := c.Threshold.Decimal.String()
	return &s
}

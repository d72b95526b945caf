// Package stop implements composable stop-condition evaluation over loop
// context snapshots.
package stop

import "fmt"

// Kind discriminates the condition tree variants.
type Kind string

const (
	KindMaxIterations     Kind = "max_iterations"
	KindTestFailureStreak Kind = "test_failure_streak"
	KindOutputPattern     Kind = "output_pattern"
	KindNever             Kind = "never"
	KindAnd               Kind = "and"
	KindOr                Kind = "or"
	KindNot               Kind = "not"
)

// Condition is an immutable tagged tree. Leaf kinds use N or Text; composite
// kinds use Left/Right or Inner. The yaml tags let condition trees be
// declared directly in config files.
type Condition struct {
	Kind  Kind       `yaml:"type"`
	N     int        `yaml:"n,omitempty"`
	Text  string     `yaml:"text,omitempty"`
	Left  *Condition `yaml:"left,omitempty"`
	Right *Condition `yaml:"right,omitempty"`
	Inner *Condition `yaml:"inner,omitempty"`
}

// MaxIterations is met once the iteration counter reaches n.
func MaxIterations(n int) *Condition {
	return &Condition{Kind: KindMaxIterations, N: n}
}

// TestFailureStreak is met once n consecutive iterations had failing tests.
func TestFailureStreak(n int) *Condition {
	return &Condition{Kind: KindTestFailureStreak, N: n}
}

// OutputPattern is met when the most recent output contains text as a
// case-sensitive literal substring.
func OutputPattern(text string) *Condition {
	return &Condition{Kind: KindOutputPattern, Text: text}
}

// Never is never met.
func Never() *Condition {
	return &Condition{Kind: KindNever}
}

func And(left, right *Condition) *Condition {
	return &Condition{Kind: KindAnd, Left: left, Right: right}
}

func Or(left, right *Condition) *Condition {
	return &Condition{Kind: KindOr, Left: left, Right: right}
}

func Not(inner *Condition) *Condition {
	return &Condition{Kind: KindNot, Inner: inner}
}

// Validate checks that the tree is well-formed. Evaluation assumes a
// validated tree.
func (c *Condition) Validate() error {
	if c == nil {
		return fmt.Errorf("nil condition")
	}

	switch c.Kind {
	case KindMaxIterations, KindTestFailureStreak:
		if c.N < 1 {
			return fmt.Errorf("%s: n must be >= 1, got %d", c.Kind, c.N)
		}
	case KindOutputPattern:
		if c.Text == "" {
			return fmt.Errorf("output_pattern: text must not be empty")
		}
	case KindNever:
	case KindAnd, KindOr:
		if c.Left == nil || c.Right == nil {
			return fmt.Errorf("%s: left and right are required", c.Kind)
		}
		if err := c.Left.Validate(); err != nil {
			return fmt.Errorf("%s.left: %w", c.Kind, err)
		}
		if err := c.Right.Validate(); err != nil {
			return fmt.Errorf("%s.right: %w", c.Kind, err)
		}
	case KindNot:
		if c.Inner == nil {
			return fmt.Errorf("not: inner is required")
		}
		if err := c.Inner.Validate(); err != nil {
			return fmt.Errorf("not.inner: %w", err)
		}
	default:
		return fmt.Errorf("unknown condition type: %q", c.Kind)
	}
	return nil
}

func (c *Condition) String() string {
	if c == nil {
		return "<nil>"
	}
	switch c.Kind {
	case KindMaxIterations, KindTestFailureStreak:
		return fmt.Sprintf("%s(%d)", c.Kind, c.N)
	case KindOutputPattern:
		return fmt.Sprintf("%s(%q)", c.Kind, c.Text)
	case KindNever:
		return string(KindNever)
	case KindAnd, KindOr:
		return fmt.Sprintf("%s(%s, %s)", c.Kind, c.Left, c.Right)
	case KindNot:
		return fmt.Sprintf("not(%s)", c.Inner)
	default:
		return fmt.Sprintf("unknown(%q)", string(c.Kind))
	}
}

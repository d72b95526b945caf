package stop

import (
	"math"
	"strings"
)

// Evaluate walks the condition tree against a context snapshot by recursive
// descent. It holds no state and performs no I/O; any number of callers may
// evaluate concurrently without synchronization. Unvalidated trees with an
// unknown kind evaluate as never met.
func Evaluate(c *Condition, ctx *Context) Result {
	if c == nil {
		return Result{}
	}

	switch c.Kind {
	case KindMaxIterations:
		if c.N < 1 {
			p := 1.0
			return Result{Met: true, Progress: &p}
		}
		p := math.Min(1, float64(ctx.Iteration)/float64(c.N))
		return Result{Met: ctx.Iteration >= c.N, Progress: &p}

	case KindTestFailureStreak:
		return Result{Met: ctx.TestFailureStreak >= c.N}

	case KindOutputPattern:
		return Result{Met: strings.Contains(ctx.RecentOutput, c.Text)}

	case KindNever:
		return Result{}

	case KindAnd:
		// Short-circuit on an unmet left branch; an optimization only, the
		// observable result is unchanged.
		if !Evaluate(c.Left, ctx).Met {
			return Result{}
		}
		return Result{Met: Evaluate(c.Right, ctx).Met}

	case KindOr:
		if Evaluate(c.Left, ctx).Met {
			return Result{Met: true}
		}
		return Result{Met: Evaluate(c.Right, ctx).Met}

	case KindNot:
		return Result{Met: !Evaluate(c.Inner, ctx).Met}

	default:
		return Result{}
	}
}

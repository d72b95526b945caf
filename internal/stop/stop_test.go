package stop

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"
)

func TestEvaluate_MaxIterations(t *testing.T) {
	testCases := []struct {
		name           string
		n              int
		iteration      int
		expectMet      bool
		expectProgress float64
	}{
		{name: "below threshold", n: 10, iteration: 5, expectMet: false, expectProgress: 0.5},
		{name: "at threshold", n: 10, iteration: 10, expectMet: true, expectProgress: 1.0},
		{name: "above threshold", n: 10, iteration: 15, expectMet: true, expectProgress: 1.0},
		{name: "zero iteration", n: 10, iteration: 0, expectMet: false, expectProgress: 0.0},
		{name: "threshold one", n: 1, iteration: 1, expectMet: true, expectProgress: 1.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(MaxIterations(tc.n), &Context{Iteration: tc.iteration})
			assert.Equal(t, tc.expectMet, result.Met)
			require.NotNil(t, result.Progress)
			assert.InDelta(t, tc.expectProgress, *result.Progress, 1e-9)
		})
	}
}

func TestEvaluate_MaxIterations_BoundaryExhaustive(t *testing.T) {
	// Met iff iteration >= n, for a spread of n.
	for n := 1; n <= 5; n++ {
		for iteration := 0; iteration <= 7; iteration++ {
			result := Evaluate(MaxIterations(n), &Context{Iteration: iteration})
			assert.Equal(t, iteration >= n, result.Met, "n=%d iteration=%d", n, iteration)
		}
	}
}

func TestEvaluate_TestFailureStreak(t *testing.T) {
	testCases := []struct {
		name      string
		n         int
		streak    int
		expectMet bool
	}{
		{name: "below", n: 5, streak: 4, expectMet: false},
		{name: "at", n: 5, streak: 5, expectMet: true},
		{name: "above", n: 5, streak: 8, expectMet: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(TestFailureStreak(tc.n), &Context{TestFailureStreak: tc.streak})
			assert.Equal(t, tc.expectMet, result.Met)
			assert.Nil(t, result.Progress)
		})
	}
}

func TestEvaluate_OutputPattern(t *testing.T) {
	testCases := []struct {
		name      string
		text      string
		output    string
		expectMet bool
	}{
		{name: "substring present", text: "ALL TESTS PASS", output: "done.\nALL TESTS PASS\n", expectMet: true},
		{name: "substring absent", text: "ALL TESTS PASS", output: "3 failing", expectMet: false},
		{name: "case sensitive", text: "Done", output: "done", expectMet: false},
		{name: "empty output", text: "x", output: "", expectMet: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(OutputPattern(tc.text), &Context{RecentOutput: tc.output})
			assert.Equal(t, tc.expectMet, result.Met)
			assert.Nil(t, result.Progress)
		})
	}
}

func TestEvaluate_NeverAlgebra(t *testing.T) {
	ctx := &Context{Iteration: 100, TestFailureStreak: 100, RecentOutput: "anything"}

	assert.False(t, Evaluate(Never(), ctx).Met)
	assert.False(t, Evaluate(And(Never(), Never()), ctx).Met)
	assert.False(t, Evaluate(Or(Never(), Never()), ctx).Met)
	assert.True(t, Evaluate(Not(Never()), ctx).Met)
}

func TestEvaluate_Composites(t *testing.T) {
	testCases := []struct {
		name      string
		cond      *Condition
		ctx       Context
		expectMet bool
	}{
		{
			name:      "or met via first branch",
			cond:      Or(MaxIterations(3), TestFailureStreak(5)),
			ctx:       Context{Iteration: 5, TestFailureStreak: 0},
			expectMet: true,
		},
		{
			name:      "and unmet when one branch unmet",
			cond:      And(MaxIterations(10), TestFailureStreak(5)),
			ctx:       Context{Iteration: 5, TestFailureStreak: 0},
			expectMet: false,
		},
		{
			name:      "and met when both met",
			cond:      And(MaxIterations(3), TestFailureStreak(2)),
			ctx:       Context{Iteration: 4, TestFailureStreak: 2},
			expectMet: true,
		},
		{
			name:      "not inverts",
			cond:      Not(MaxIterations(3)),
			ctx:       Context{Iteration: 5},
			expectMet: false,
		},
		{
			name:      "nested or of and",
			cond:      Or(And(MaxIterations(3), OutputPattern("done")), TestFailureStreak(2)),
			ctx:       Context{Iteration: 4, RecentOutput: "not yet", TestFailureStreak: 2},
			expectMet: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(tc.cond, &tc.ctx)
			assert.Equal(t, tc.expectMet, result.Met)
			assert.Nil(t, result.Progress, "composite conditions report no progress")
		})
	}
}

func TestEvaluate_DoesNotMutateContext(t *testing.T) {
	ctx := Context{Iteration: 7, RecentOutput: "output", TestFailureStreak: 2}
	snapshot := ctx

	Evaluate(Or(And(MaxIterations(5), OutputPattern("out")), Not(Never())), &ctx)
	assert.Equal(t, snapshot, ctx)
}

func TestEvaluate_ConcurrentCallers(t *testing.T) {
	cond := Or(And(MaxIterations(10), OutputPattern("x")), TestFailureStreak(3))
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(iteration int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				ctx := &Context{Iteration: iteration, RecentOutput: "x", TestFailureStreak: j % 5}
				Evaluate(cond, ctx)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestCondition_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		cond    *Condition
		wantErr string
	}{
		{name: "valid leaf", cond: MaxIterations(1)},
		{name: "valid tree", cond: Or(And(MaxIterations(10), Never()), Not(OutputPattern("x")))},
		{name: "zero n", cond: &Condition{Kind: KindMaxIterations}, wantErr: "n must be >= 1"},
		{name: "negative streak", cond: &Condition{Kind: KindTestFailureStreak, N: -1}, wantErr: "n must be >= 1"},
		{name: "empty pattern", cond: &Condition{Kind: KindOutputPattern}, wantErr: "text must not be empty"},
		{name: "and missing right", cond: &Condition{Kind: KindAnd, Left: Never()}, wantErr: "left and right are required"},
		{name: "not missing inner", cond: &Condition{Kind: KindNot}, wantErr: "inner is required"},
		{name: "unknown kind", cond: &Condition{Kind: "sometimes"}, wantErr: "unknown condition type"},
		{name: "invalid nested", cond: And(Never(), &Condition{Kind: KindOutputPattern}), wantErr: "and.right"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cond.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestCondition_YAMLDecode(t *testing.T) {
	input := `
type: or
left:
  type: max_iterations
  n: 20
right:
  type: and
  left:
    type: test_failure_streak
    n: 3
  right:
    type: not
    inner:
      type: output_pattern
      text: "still working"
`
	var cond Condition
	require.NoError(t, yamlv3.Unmarshal([]byte(input), &cond))
	require.NoError(t, cond.Validate())

	assert.Equal(t, KindOr, cond.Kind)
	assert.Equal(t, 20, cond.Left.N)
	assert.Equal(t, KindAnd, cond.Right.Kind)
	assert.Equal(t, "still working", cond.Right.Right.Inner.Text)

	met := Evaluate(&cond, &Context{Iteration: 2, TestFailureStreak: 3, RecentOutput: "crashed"})
	assert.True(t, met.Met)
}

func TestCondition_String(t *testing.T) {
	cond := Or(MaxIterations(10), Not(OutputPattern("done")))
	assert.Equal(t, `or(max_iterations(10), not(output_pattern("done")))`, cond.String())
	assert.Equal(t, "never", fmt.Sprintf("%s", Never()))
}

package progress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"learnplan/internal/plan"
)

func steps(total, completed int) []plan.Step {
	out := make([]plan.Step, total)
	for i := range out {
		out[i].ID = string(rune('a' + i))
		out[i].Completed = i < completed
	}
	return out
}

func TestPercentRoundsHalfUp(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 6, 17},
		{5, 6, 83},
		{3, 10, 30},
		{1, 8, 13},
		{1, 200, 1},
		{1, 201, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Percent(tc.completed, tc.total), "%d/%d", tc.completed, tc.total)
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(steps(6, 5))
	require.Equal(t, 83, sum.Progress)
	require.Equal(t, 5, sum.CompletedSteps)
	require.Equal(t, 6, sum.TotalSteps)

	empty := Summarize(nil)
	require.Zero(t, empty.Progress)
	require.Zero(t, empty.TotalSteps)
}
